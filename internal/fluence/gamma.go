package fluence

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/user/machinelog_analyzer_go/internal/parser"
)

// Params are the gamma tolerances.
type Params struct {
	DoseTA     float64 // dose-difference tolerance, % of dose
	DistTA     float64 // distance-to-agreement tolerance, mm
	Threshold  float64 // % of the map maximum below which pixels are zeroed
	Resolution float64 // fluence bin width, mm
}

func DefaultParams() Params {
	return Params{DoseTA: 1, DistTA: 1, Threshold: 10, Resolution: 0.1}
}

func (p Params) Validate() error {
	switch {
	case !(p.DoseTA >= 0):
		return fmt.Errorf("%w: doseTA %v must not be negative", parser.ErrInvalidArgument, p.DoseTA)
	case !(p.DistTA > 0):
		return fmt.Errorf("%w: distTA %v must be positive", parser.ErrInvalidArgument, p.DistTA)
	case !(p.Threshold >= 0 && p.Threshold <= 100):
		return fmt.Errorf("%w: threshold %v outside 0..100", parser.ErrInvalidArgument, p.Threshold)
	}
	_, err := NumBins(p.Resolution)
	return err
}

// DefaultHistogramBins are the bin edges 0, 0.1, ..., 1.1.
func DefaultHistogramBins() []float64 {
	bins := make([]float64, 12)
	for i := range bins {
		bins[i] = float64(i) / 10
	}
	return bins
}

// Gamma is the pixel-wise gamma comparison of an actual and an expected map.
type Gamma struct {
	actual   *Map
	expected *Map

	pixels       *mat.Dense
	params       Params
	computations int
}

func NewGamma(actual, expected *Map) *Gamma {
	return &Gamma{actual: actual, expected: expected}
}

func (g *Gamma) IsCalculated() bool { return g.pixels != nil }

// Params returns the parameters of the last calculation.
func (g *Gamma) Params() Params { return g.params }

// Computations counts full (non-cached) calculations.
func (g *Gamma) Computations() int { return g.computations }

// Calc computes the gamma map, calculating both fluence maps at
// p.Resolution first if needed. A repeated call with equal parameters
// returns the cached map.
func (g *Gamma) Calc(p Params) (*mat.Dense, error) {
	if g.pixels != nil && g.params == p {
		return g.pixels, nil
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if g.actual == nil || g.expected == nil {
		return nil, fmt.Errorf("%w: gamma needs both fluence maps", parser.ErrStateNotReady)
	}
	actual, err := g.actual.Calc(p.Resolution)
	if err != nil {
		return nil, err
	}
	expected, err := g.expected.Calc(p.Resolution)
	if err != nil {
		return nil, err
	}
	pixels, err := ComputeGamma(actual, expected, p)
	if err != nil {
		return nil, err
	}
	g.pixels = pixels
	g.params = p
	g.computations++
	return pixels, nil
}

// ComputeGamma evaluates
//
//	gamma = |actual - expected| / sqrt((doseTA/100)^2 + (distTA/resolution)^2 * grad^2)
//
// where grad is the Sobel gradient of the thresholded actual map along the
// leaf-travel axis. With doseTA 0 and a flat gradient the denominator is
// zero: equal pixels are undefined (NaN) and differing pixels are +Inf.
func ComputeGamma(actual, expected mat.Matrix, p Params) (*mat.Dense, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r, c := actual.Dims()
	if er, ec := expected.Dims(); er != r || ec != c {
		return nil, fmt.Errorf("%w: actual map is %dx%d, expected %dx%d", parser.ErrInvalidArgument, r, c, er, ec)
	}
	act := mat.DenseCopyOf(actual)
	exp := mat.DenseCopyOf(expected)
	applyThreshold(act, p.Threshold/100)
	applyThreshold(exp, p.Threshold/100)

	grad := sobelRows(act)
	doseTerm := math.Pow(p.DoseTA/100, 2)
	distTerm := math.Pow(p.DistTA/p.Resolution, 2)

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			g := grad.At(i, j)
			den := math.Sqrt(doseTerm + distTerm*g*g)
			num := math.Abs(act.At(i, j) - exp.At(i, j))
			switch {
			case den != 0:
				out.Set(i, j, num/den)
			case num == 0:
				out.Set(i, j, math.NaN())
			default:
				out.Set(i, j, math.Inf(1))
			}
		}
	}
	return out, nil
}

// applyThreshold zeroes every pixel below frac times the map maximum.
func applyThreshold(m *mat.Dense, frac float64) {
	cutoff := frac * mat.Max(m)
	m.Apply(func(_, _ int, v float64) float64 {
		if v < cutoff {
			return 0
		}
		return v
	}, m)
}

// PixelMap returns the gamma map. The matrix is shared and must not be modified.
func (g *Gamma) PixelMap() (*mat.Dense, error) {
	if g.pixels == nil {
		return nil, fmt.Errorf("%w: gamma has not been calculated", parser.ErrStateNotReady)
	}
	return g.pixels, nil
}

// PassFailMap holds 1 where gamma >= 1 and 0 elsewhere, undefined pixels included.
func (g *Gamma) PassFailMap() (*mat.Dense, error) {
	pixels, err := g.PixelMap()
	if err != nil {
		return nil, err
	}
	r, c := pixels.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, _ float64) float64 {
		if pixels.At(i, j) >= 1 {
			return 1
		}
		return 0
	}, out)
	return out, nil
}

// PassPercent is the percentage of all pixels with gamma below 1.
func (g *Gamma) PassPercent() (float64, error) {
	pixels, err := g.PixelMap()
	if err != nil {
		return 0, err
	}
	r, c := pixels.Dims()
	passed := 0
	for _, v := range pixels.RawMatrix().Data {
		if v < 1 {
			passed++
		}
	}
	return float64(passed) / float64(r*c) * 100, nil
}

func (g *Gamma) defined() ([]float64, error) {
	pixels, err := g.PixelMap()
	if err != nil {
		return nil, err
	}
	r, c := pixels.Dims()
	vals := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for _, v := range pixels.RawRowView(i) {
			if !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
	}
	return vals, nil
}

// AvgGamma is the mean of all defined gamma values; NaN if none are defined.
func (g *Gamma) AvgGamma() (float64, error) {
	vals, err := g.defined()
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return math.NaN(), nil
	}
	return stat.Mean(vals, nil), nil
}

// Histogram counts defined gamma values per bin. bins are ascending edges;
// nil selects DefaultHistogramBins. The last bin includes its right edge and
// values outside the edges are not counted.
func (g *Gamma) Histogram(bins []float64) ([]float64, error) {
	if bins == nil {
		bins = DefaultHistogramBins()
	}
	if len(bins) < 2 || !sort.Float64sAreSorted(bins) {
		return nil, fmt.Errorf("%w: histogram needs at least two ascending bin edges", parser.ErrInvalidArgument)
	}
	vals, err := g.defined()
	if err != nil {
		return nil, err
	}
	first, last := bins[0], bins[len(bins)-1]
	inside := vals[:0]
	onLastEdge := 0
	for _, v := range vals {
		switch {
		case v == last:
			onLastEdge++
		case v >= first && v < last:
			inside = append(inside, v)
		}
	}
	sort.Float64s(inside)
	counts := stat.Histogram(nil, bins, inside, nil)
	counts[len(counts)-1] += float64(onLastEdge)
	return counts, nil
}
