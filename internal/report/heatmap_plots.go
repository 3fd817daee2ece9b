package report

import (
	"bytes"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/user/machinelog_analyzer_go/internal/fluence"
)

var nanColor = color.Gray{Y: 200}

// mapGrid exposes a fluence-shaped matrix (rows = leaf pairs, columns =
// position bins) as a plotter.GridXYZ. X is the bin centre in mm from the
// central axis and Y the leaf pair number.
type mapGrid struct {
	m          mat.Matrix
	resolution float64
}

func (g mapGrid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}

func (g mapGrid) Z(c, r int) float64 { return g.m.At(r, c) }

func (g mapGrid) X(c int) float64 {
	return -fluence.MaxTravelMM/2 + (float64(c)+0.5)*g.resolution
}

func (g mapGrid) Y(r int) float64 { return float64(r + 1) }

// colorMapPalette samples a ColorMap over [0, 1] into n colors.
func colorMapPalette(cm palette.ColorMap, n int) palette.Palette {
	cm.SetMin(0)
	cm.SetMax(1)
	return cm.Palette(n)
}

func renderPNG(p *plot.Plot, width, height vg.Length) ([]byte, error) {
	writer, err := p.WriterTo(width, height, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to create plot writer: %w", err)
	}
	buf := new(bytes.Buffer)
	if _, err := writer.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to write plot to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

func newMapPlot(title string, numPairs int) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Position (mm)"
	p.Y.Label.Text = "Leaf Pair"
	p.X.Min = -fluence.MaxTravelMM / 2
	p.X.Max = fluence.MaxTravelMM / 2
	p.Y.Min = 0.5
	p.Y.Max = float64(numPairs) + 0.5
	return p
}

// newHeatMap colors m with pal between lo and hi. Values outside the range
// take the end colors unless overflow is set; NaN is grey.
func newHeatMap(m mat.Matrix, resolution float64, pal palette.Palette, lo, hi float64, overflow color.Color) *plotter.HeatMap {
	hm := plotter.NewHeatMap(mapGrid{m: m, resolution: resolution}, pal)
	colors := pal.Colors()
	hm.Min = lo
	hm.Max = hi
	hm.Underflow = colors[0]
	hm.Overflow = colors[len(colors)-1]
	if overflow != nil {
		hm.Overflow = overflow
	}
	hm.NaN = nanColor
	hm.Rasterized = true
	return hm
}

// finiteMax is the largest finite value of m, or 0.
func finiteMax(m mat.Matrix) float64 {
	rows, cols := m.Dims()
	hi := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := m.At(i, j); !math.IsInf(v, 0) && v > hi {
				hi = v
			}
		}
	}
	return hi
}

// CreateFluenceHeatmap renders a fluence map. Values run from 0 (closed) to
// 1 (open for the full delivery).
func CreateFluenceHeatmap(m mat.Matrix, resolution float64, title string) ([]byte, error) {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("no fluence data to plot")
	}
	p := newMapPlot(title, rows)
	p.Add(newHeatMap(m, resolution, colorMapPalette(moreland.Kindlmann(), 255), 0, math.Max(finiteMax(m), 1e-9), nil))
	return renderPNG(p, vg.Points(1000), vg.Points(500))
}

// CreateGammaHeatmap renders a gamma map on a blue-red scale from 0 to 2,
// where white marks gamma 1. Undefined pixels are grey.
func CreateGammaHeatmap(m mat.Matrix, resolution float64, title string) ([]byte, error) {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("no gamma data to plot")
	}
	p := newMapPlot(title, rows)
	p.Add(newHeatMap(m, resolution, colorMapPalette(moreland.SmoothBlueRed(), 255), 0, 2, color.RGBA{R: 0xb4, G: 0x04, B: 0x26, A: 255}))
	return renderPNG(p, vg.Points(1000), vg.Points(500))
}

// CreatePassFailHeatmap renders the binary pass/fail map: failing pixels red.
func CreatePassFailHeatmap(m mat.Matrix, resolution float64, title string) ([]byte, error) {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("no pass/fail data to plot")
	}
	p := newMapPlot(title, rows)
	p.Add(newHeatMap(m, resolution, colorMapPalette(moreland.SmoothBlueRed(), 2), 0, 1, nil))
	return renderPNG(p, vg.Points(1000), vg.Points(500))
}
