package analysis

// LeafErrorResult holds the error statistics for a single leaf.
type LeafErrorResult struct {
	LeafNum          int    // 1 to NumLeaves
	Bank             Bank   // A or B
	BankIndex        int    // 1 to NumPairs within the bank
	LeafID           string // e.g., "A12", "B60"
	RMS              float64
	MaxError         float64 // largest absolute error over the selected snapshots
	Moved            bool
	IsOutOfTolerance bool
}

// RankedLeafInfo is used for ranking leaves by different criteria.
type RankedLeafInfo struct {
	LeafID string
	Bank   Bank
	Value  float64
}

// LeafReport holds all per-leaf results for one log.
type LeafReport struct {
	Results          []LeafErrorResult
	RankedByRMS      []RankedLeafInfo // descending
	RankedByMaxError []RankedLeafInfo // descending
	ToleranceCM      float64
	AnalysisErrors   []string
}

func NewLeafReport() *LeafReport {
	return &LeafReport{
		Results:          make([]LeafErrorResult, 0),
		RankedByRMS:      make([]RankedLeafInfo, 0),
		RankedByMaxError: make([]RankedLeafInfo, 0),
		AnalysisErrors:   make([]string, 0),
	}
}

// OutOfTolerance returns the results whose RMS exceeds the tolerance.
func (r *LeafReport) OutOfTolerance() []LeafErrorResult {
	var out []LeafErrorResult
	for _, res := range r.Results {
		if res.IsOutOfTolerance {
			out = append(out, res)
		}
	}
	return out
}
