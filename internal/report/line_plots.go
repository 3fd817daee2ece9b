package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/user/machinelog_analyzer_go/internal/analysis"
)

var bankColors = map[analysis.Bank]color.Color{
	analysis.BankA: color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255},
	analysis.BankB: color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
}

// CreateLeafRMSPlot plots the RMS error of every leaf of the given banks
// against its number within the bank, with the tolerance as a dashed line.
func CreateLeafRMSPlot(leafReport *analysis.LeafReport, banks []analysis.Bank) ([]byte, error) {
	if leafReport == nil || len(leafReport.Results) == 0 {
		return nil, fmt.Errorf("no leaf results to plot")
	}

	p := plot.New()
	p.Title.Text = "Leaf RMS Error"
	p.X.Label.Text = "Leaf Number"
	p.Y.Label.Text = "RMS Error (cm)"
	p.Add(plotter.NewGrid())

	maxLeaf := 0
	for _, bank := range banks {
		var pts plotter.XYs
		for _, res := range leafReport.Results {
			if res.Bank != bank {
				continue
			}
			idx := res.BankIndex
			pts = append(pts, plotter.XY{X: float64(idx), Y: res.RMS})
			maxLeaf = max(maxLeaf, idx)
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create line for bank %s: %w", bank, err)
		}
		line.Color = bankColors[bank]
		line.LineStyle.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("Bank %s", bank), line)
	}
	if maxLeaf == 0 {
		return nil, fmt.Errorf("no leaves in banks %v", banks)
	}

	if leafReport.ToleranceCM > 0 {
		tol, err := plotter.NewLine(plotter.XYs{{X: 1, Y: leafReport.ToleranceCM}, {X: float64(maxLeaf), Y: leafReport.ToleranceCM}})
		if err != nil {
			return nil, fmt.Errorf("failed to create tolerance line: %w", err)
		}
		tol.Color = color.RGBA{R: 255, A: 255}
		tol.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
		p.Add(tol)
		p.Legend.Add(fmt.Sprintf("%.2f cm Tolerance", leafReport.ToleranceCM), tol)
	}

	p.X.Min = 0
	p.X.Max = float64(maxLeaf + 1)
	p.Y.Min = 0
	p.Legend.Top = true
	p.Legend.XOffs = vg.Points(10)

	return renderPNG(p, vg.Points(800), vg.Points(400))
}

// CreateGammaHistogramPlot draws gamma counts as bars between the bin edges.
func CreateGammaHistogramPlot(counts, bins []float64) ([]byte, error) {
	if len(counts) == 0 || len(bins) != len(counts)+1 {
		return nil, fmt.Errorf("histogram needs len(bins) == len(counts)+1, got %d and %d", len(bins), len(counts))
	}

	p := plot.New()
	p.Title.Text = "Gamma Histogram"
	p.X.Label.Text = "Gamma Value"
	p.Y.Label.Text = "Pixels"

	bars, err := plotter.NewBarChart(plotter.Values(counts), vg.Points(20))
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram bars: %w", err)
	}
	bars.Color = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)

	ticks := make([]plot.Tick, len(counts))
	for i := range counts {
		ticks[i] = plot.Tick{Value: float64(i), Label: fmt.Sprintf("%.1f-%.1f", bins[i], bins[i+1])}
	}
	p.X.Tick.Marker = plot.ConstantTicks(ticks)

	return renderPNG(p, vg.Points(800), vg.Points(400))
}
