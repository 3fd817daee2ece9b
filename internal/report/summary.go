package report

import (
	"fmt"
	"math"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/user/machinelog_analyzer_go/internal/analysis"
	"github.com/user/machinelog_analyzer_go/internal/fluence"
	"github.com/user/machinelog_analyzer_go/internal/logutil"
	"github.com/user/machinelog_analyzer_go/internal/machinelog"
)

// Plot keys used in LogSummary.Plots.
const (
	PlotFluenceActual   = "fluence_actual"
	PlotFluenceExpected = "fluence_expected"
	PlotGamma           = "gamma_map"
	PlotPassFail        = "gamma_passfail"
	PlotGammaHistogram  = "gamma_histogram"
	PlotLeafRMS         = "leaf_rms"
)

// LogSummary collects everything the PDF report shows for one log.
type LogSummary struct {
	FileName     string
	Format       string
	NumSnapshots int
	NumBeamOn    int
	NumBeamholds int
	NumLeaves    int
	HDMLC        bool
	IMRT         bool

	Params      fluence.Params
	PassPercent float64
	AvgGamma    float64
	Histogram   []float64
	HistBins    []float64

	RMSAvg     map[analysis.Bank]float64
	RMSMax     map[analysis.Bank]float64
	Error95    float64
	Leaves     *analysis.LeafReport
	Clamped    int
	Plots      map[string][]byte
	PlotErrors []string
}

// Summarize runs gamma and leaf analysis on log and renders its plots. Plot
// failures are recorded in PlotErrors rather than returned.
func Summarize(log *machinelog.MachineLog, p fluence.Params, toleranceCM float64) (*LogSummary, error) {
	g, err := log.CalcGamma(p)
	if err != nil {
		return nil, err
	}
	s := &LogSummary{
		FileName:     filepath.Base(log.Path),
		Format:       log.Format.String(),
		NumSnapshots: log.NumSnapshots(),
		NumBeamOn:    len(log.MLC.SnapshotIdx()),
		NumBeamholds: log.NumBeamholds(),
		NumLeaves:    log.MLC.NumLeaves(),
		HDMLC:        log.MLC.HDMLC(),
		IMRT:         log.IsIMRT(),
		Params:       p,
		HistBins:     fluence.DefaultHistogramBins(),
		RMSAvg:       map[analysis.Bank]float64{},
		RMSMax:       map[analysis.Bank]float64{},
		Plots:        map[string][]byte{},
		Clamped:      log.Fluence.Actual.ClampedBins() + log.Fluence.Expected.ClampedBins(),
	}
	if s.PassPercent, err = g.PassPercent(); err != nil {
		return nil, err
	}
	if s.AvgGamma, err = g.AvgGamma(); err != nil {
		return nil, err
	}
	if s.Histogram, err = g.Histogram(s.HistBins); err != nil {
		return nil, err
	}
	for _, bank := range []analysis.Bank{analysis.BankA, analysis.BankB, analysis.BankBoth} {
		s.RMSAvg[bank] = log.MLC.RMSAvg(bank, false)
		s.RMSMax[bank] = log.MLC.RMSMax(bank, false)
	}
	if s.Error95, err = log.MLC.ErrorPercentile(95, analysis.BankBoth, false); err != nil {
		return nil, err
	}
	if s.Leaves, err = log.LeafReport(toleranceCM); err != nil {
		return nil, err
	}

	s.renderPlots(log)
	return s, nil
}

func (s *LogSummary) addPlot(key string, render func() ([]byte, error)) {
	img, err := render()
	if err != nil {
		logutil.GetLogger().Warn("plot not rendered", zap.String("plot", key), zap.Error(err))
		s.PlotErrors = append(s.PlotErrors, fmt.Sprintf("%s: %v", key, err))
		return
	}
	s.Plots[key] = img
}

func (s *LogSummary) renderPlots(log *machinelog.MachineLog) {
	res := s.Params.Resolution
	if actual, err := log.Fluence.Actual.PixelMap(); err == nil {
		s.addPlot(PlotFluenceActual, func() ([]byte, error) {
			return CreateFluenceHeatmap(actual, res, "Actual Fluence")
		})
	}
	if expected, err := log.Fluence.Expected.PixelMap(); err == nil {
		s.addPlot(PlotFluenceExpected, func() ([]byte, error) {
			return CreateFluenceHeatmap(expected, res, "Expected Fluence")
		})
	}
	if gamma, err := log.Fluence.Gamma.PixelMap(); err == nil {
		s.addPlot(PlotGamma, func() ([]byte, error) {
			return CreateGammaHeatmap(gamma, res, fmt.Sprintf("Gamma (%.1f%%/%.1fmm)", s.Params.DoseTA, s.Params.DistTA))
		})
	}
	if passFail, err := log.Fluence.Gamma.PassFailMap(); err == nil {
		s.addPlot(PlotPassFail, func() ([]byte, error) {
			return CreatePassFailHeatmap(passFail, res, "Gamma Pass/Fail")
		})
	}
	s.addPlot(PlotGammaHistogram, func() ([]byte, error) {
		return CreateGammaHistogramPlot(s.Histogram, s.HistBins)
	})
	s.addPlot(PlotLeafRMS, func() ([]byte, error) {
		return CreateLeafRMSPlot(s.Leaves, []analysis.Bank{analysis.BankA, analysis.BankB})
	})
}

// formatGamma prints an average gamma, which is NaN when no pixel is defined.
func formatGamma(v float64) string {
	if math.IsNaN(v) {
		return "undefined"
	}
	return fmt.Sprintf("%.3f", v)
}
