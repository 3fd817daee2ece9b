// Package fluence reconstructs actual and expected fluence maps from MLC, jaw
// and MU time series and compares them with a gamma index.
package fluence

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/user/machinelog_analyzer_go/internal/analysis"
	"github.com/user/machinelog_analyzer_go/internal/logutil"
	"github.com/user/machinelog_analyzer_go/internal/parser"
)

// Type selects which series (actual or expected) a map is built from.
type Type = parser.Field

const (
	Actual   = parser.FieldActual
	Expected = parser.FieldExpected
)

// MaxTravelMM is the width of the fluence window: the full leaf travel span.
const MaxTravelMM = 400.0

// Map is a fluence map of shape NumPairs x floor(400/resolution). Row p-1
// holds leaf pair p; column 0 is -200 mm on the X1 (bank B) side.
type Map struct {
	kind Type
	mlc  *analysis.MLC
	mu   *parser.Axis

	pixels       *mat.Dense
	resolution   float64
	clamped      int
	computations int
}

func NewMap(kind Type, mlc *analysis.MLC, mu *parser.Axis) *Map {
	return &Map{kind: kind, mlc: mlc, mu: mu}
}

func (m *Map) Type() Type { return m.kind }

func (m *Map) IsCalculated() bool { return m.pixels != nil }

// Resolution is the bin width in mm of the last calculation.
func (m *Map) Resolution() float64 { return m.resolution }

// Computations counts full (non-cached) calculations.
func (m *Map) Computations() int { return m.computations }

// ClampedBins counts snapshot windows of the last calculation that reached
// outside the 400 mm map and were clamped.
func (m *Map) ClampedBins() int { return m.clamped }

// PixelMap returns the calculated map. The matrix is shared and must not be modified.
func (m *Map) PixelMap() (*mat.Dense, error) {
	if m.pixels == nil {
		return nil, fmt.Errorf("%w: %s fluence has not been calculated", parser.ErrStateNotReady, m.kind)
	}
	return m.pixels, nil
}

// NumBins is the number of position bins for a resolution in mm.
func NumBins(resolution float64) (int, error) {
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return 0, fmt.Errorf("%w: resolution %v must be positive", parser.ErrInvalidArgument, resolution)
	}
	n := int(math.Floor(MaxTravelMM/resolution + 1e-9))
	if n < 1 {
		return 0, fmt.Errorf("%w: resolution %v mm leaves no bins", parser.ErrInvalidArgument, resolution)
	}
	return n, nil
}

// muDifferential is the fraction of the total MU delivered at each snapshot.
func muDifferential(mu []float64) []float64 {
	diff := make([]float64, len(mu))
	if len(mu) == 0 {
		return diff
	}
	total := mu[len(mu)-1]
	if total == 0 {
		return diff
	}
	diff[0] = mu[0] / total
	for i := 1; i < len(mu); i++ {
		diff[i] = (mu[i] - mu[i-1]) / total
	}
	return diff
}

// clampWindow converts a bin window to valid slice bounds. clamped is true
// when either edge had to be moved.
func clampWindow(left, right float64, n int) (lo, hi int, clamped bool) {
	lo, hi = int(left), int(right)
	if lo < 0 {
		lo, clamped = 0, true
	}
	if hi > n {
		hi, clamped = n, true
	}
	if lo > n {
		lo, clamped = n, true
	}
	if hi < 0 {
		hi, clamped = 0, true
	}
	return lo, hi, clamped
}

// Calc builds the map at resolution (mm). A repeated call with the same
// resolution returns the cached map.
func (m *Map) Calc(resolution float64) (*mat.Dense, error) {
	if m.pixels != nil && m.resolution == resolution {
		return m.pixels, nil
	}
	nBins, err := NumBins(resolution)
	if err != nil {
		return nil, err
	}
	if m.mlc == nil || m.mu == nil {
		return nil, fmt.Errorf("%w: fluence needs MLC and MU data", parser.ErrStateNotReady)
	}
	muVals, err := m.mu.Values(m.kind)
	if err != nil {
		return nil, err
	}
	muDiff := muDifferential(muVals)

	offset := math.Round(MaxTravelMM / 2 / resolution)
	leftBin := func(pos float64) float64 { return -math.Round(pos*10/resolution) + offset }
	rightBin := func(pos float64) float64 { return math.Round(pos*10/resolution) + offset }

	jaws := m.mlc.Jaws()
	x1, x2 := jaws.X1.Actual, jaws.X2.Actual
	snapshots := m.mlc.SnapshotIdx()
	numPairs := m.mlc.NumPairs()

	pixels := mat.NewDense(numPairs, nBins, nil)
	row := make([]float64, nBins)
	clamped := 0

	for pair := 1; pair <= numPairs; pair++ {
		if m.mlc.LeafUnderYJaw(pair) {
			continue
		}
		for i := range row {
			row[i] = 0
		}
		// bank B closes from the X1 side, bank A from the X2 side
		leftLeaf, _ := m.mlc.Leaf(pair + numPairs)
		rightLeaf, _ := m.mlc.Leaf(pair)
		left, err := leftLeaf.Values(m.kind)
		if err != nil {
			return nil, err
		}
		right, err := rightLeaf.Values(m.kind)
		if err != nil {
			return nil, err
		}

		if m.mlc.PairMoved(pair) {
			for _, s := range snapshots {
				l := math.Max(leftBin(left[s]), leftBin(x1[s]))
				r := math.Min(rightBin(right[s]), rightBin(x2[s]))
				lo, hi, c := clampWindow(l, r, nBins)
				if c {
					clamped++
				}
				for b := lo; b < hi; b++ {
					row[b] += muDiff[s]
				}
			}
		} else if len(snapshots) > 0 {
			// static aperture: the widest jaw opening over the delivery
			jawLeft, jawRight := math.Inf(1), math.Inf(-1)
			for s := range x1 {
				jawLeft = math.Min(jawLeft, leftBin(x1[s]))
				jawRight = math.Max(jawRight, rightBin(x2[s]))
			}
			first := snapshots[0]
			l := math.Max(leftBin(left[first]), jawLeft)
			r := math.Min(rightBin(right[first]), jawRight)
			lo, hi, c := clampWindow(l, r, nBins)
			if c {
				clamped++
			}
			for b := lo; b < hi; b++ {
				row[b] = 1
			}
		}
		pixels.SetRow(pair-1, row)
	}

	if clamped > 0 {
		logutil.GetLogger().Warn("fluence window clamped to map bounds",
			zap.Stringer("type", m.kind),
			zap.Int("windows", clamped),
			zap.Float64("resolution", resolution))
	}

	m.pixels = pixels
	m.resolution = resolution
	m.clamped = clamped
	m.computations++
	return pixels, nil
}

// Fluence owns the actual and expected maps of one log and their gamma comparison.
type Fluence struct {
	Actual   *Map
	Expected *Map
	Gamma    *Gamma
}

func New(mlc *analysis.MLC, mu *parser.Axis) *Fluence {
	actual := NewMap(Actual, mlc, mu)
	expected := NewMap(Expected, mlc, mu)
	return &Fluence{
		Actual:   actual,
		Expected: expected,
		Gamma:    NewGamma(actual, expected),
	}
}
