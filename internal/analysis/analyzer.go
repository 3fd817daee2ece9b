package analysis

import (
	"fmt"
	"math"
	"sort"
)

// AnalyzeLeaves computes per-leaf error statistics and rankings. A leaf is out
// of tolerance when its RMS error exceeds toleranceCM.
func AnalyzeLeaves(mlc *MLC, toleranceCM float64) (*LeafReport, error) {
	if mlc == nil {
		return nil, fmt.Errorf("MLC is nil, cannot analyze")
	}

	report := NewLeafReport()
	report.ToleranceCM = toleranceCM

	rms := mlc.rmsAll()
	for i, leaf := range mlc.leaves {
		num := i + 1
		bank := BankA
		idx := num
		if num > mlc.NumPairs() {
			bank = BankB
			idx = num - mlc.NumPairs()
		}
		leafID := fmt.Sprintf("%s%d", bank, idx)

		maxErr := 0.0
		for _, s := range mlc.snapshotIdx {
			maxErr = math.Max(maxErr, math.Abs(leaf.Actual[s]-leaf.Expected[s]))
		}
		if math.IsNaN(rms[i]) {
			report.AnalysisErrors = append(report.AnalysisErrors, fmt.Sprintf("Leaf %s has an undefined RMS error.", leafID))
			continue
		}

		res := LeafErrorResult{
			LeafNum:          num,
			Bank:             bank,
			BankIndex:        idx,
			LeafID:           leafID,
			RMS:              rms[i],
			MaxError:         maxErr,
			Moved:            mlc.leafMoved(num),
			IsOutOfTolerance: rms[i] > toleranceCM,
		}
		report.Results = append(report.Results, res)
		report.RankedByRMS = append(report.RankedByRMS, RankedLeafInfo{LeafID: leafID, Bank: bank, Value: res.RMS})
		report.RankedByMaxError = append(report.RankedByMaxError, RankedLeafInfo{LeafID: leafID, Bank: bank, Value: res.MaxError})
	}

	sort.SliceStable(report.RankedByRMS, func(i, j int) bool {
		return report.RankedByRMS[i].Value > report.RankedByRMS[j].Value // Descending
	})
	sort.SliceStable(report.RankedByMaxError, func(i, j int) bool {
		return report.RankedByMaxError[i].Value > report.RankedByMaxError[j].Value // Descending
	})

	if len(mlc.snapshotIdx) == 0 {
		report.AnalysisErrors = append(report.AnalysisErrors, "No snapshots left after beam-off filtering; all errors are zero.")
	}
	return report, nil
}
