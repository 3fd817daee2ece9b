package fluence

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/user/machinelog_analyzer_go/internal/analysis"
	"github.com/user/machinelog_analyzer_go/internal/parser"
)

const eps = 1e-9

func axis(t *testing.T, vals ...float64) *parser.Axis {
	t.Helper()
	ax, err := parser.NewAxis(vals, vals)
	if err != nil {
		t.Fatalf("NewAxis failed: %v", err)
	}
	return ax
}

func leaf(t *testing.T, vals ...float64) *parser.LeafAxis {
	t.Helper()
	l, err := parser.NewLeafAxis(vals, vals)
	if err != nil {
		t.Fatalf("NewLeafAxis failed: %v", err)
	}
	return l
}

// twoPairMLC has a static pair 1 (bank A at 2 cm toward X2, bank B at 3 cm
// toward X1) and a pair 2 opening from 1 cm to 2 cm on each side over two
// snapshots. The Y jaws are fully open and the X jaws are at xJaw cm.
func twoPairMLC(t *testing.T, xJaw float64) *analysis.MLC {
	t.Helper()
	leaves := []*parser.LeafAxis{
		leaf(t, 2, 2), leaf(t, 1, 2),
		leaf(t, 3, 3), leaf(t, 1, 2),
	}
	jaws := &parser.JawStruct{
		X1: axis(t, xJaw, xJaw), X2: axis(t, xJaw, xJaw),
		Y1: axis(t, 20, 20), Y2: axis(t, 20, 20),
	}
	m, err := analysis.NewMLC(leaves, jaws, []int{0, 1}, false)
	if err != nil {
		t.Fatalf("NewMLC failed: %v", err)
	}
	return m
}

func TestNumBins(t *testing.T) {
	tests := []struct {
		res  float64
		want int
	}{
		{0.1, 4000},
		{1, 400},
		{3, 133},
		{400, 1},
	}
	for _, tt := range tests {
		got, err := NumBins(tt.res)
		if err != nil || got != tt.want {
			t.Errorf("NumBins(%v) = %d, %v, want %d", tt.res, got, err, tt.want)
		}
	}
	for _, res := range []float64{0, -1, 500, math.NaN(), math.Inf(1)} {
		if _, err := NumBins(res); !errors.Is(err, parser.ErrInvalidArgument) {
			t.Errorf("NumBins(%v) error = %v, want ErrInvalidArgument", res, err)
		}
	}
}

func TestStaticPairRow(t *testing.T) {
	m := NewMap(Actual, twoPairMLC(t, 10), axis(t, 5, 10))
	pixels, err := m.Calc(1)
	if err != nil {
		t.Fatalf("Calc failed: %v", err)
	}
	if r, c := pixels.Dims(); r != 2 || c != 400 {
		t.Fatalf("map is %dx%d, want 2x400", r, c)
	}
	row := mat.Row(nil, 0, pixels)
	if sum := floats.Sum(row); math.Abs(sum-50) > eps {
		t.Errorf("static row sums to %v, want 50", sum)
	}
	for b, v := range row {
		want := 0.0
		if b >= 170 && b < 220 {
			want = 1
		}
		if v != want {
			t.Fatalf("static row bin %d = %v, want %v", b, v, want)
		}
	}
}

func TestMovingPairAccumulatesMU(t *testing.T) {
	m := NewMap(Expected, twoPairMLC(t, 10), axis(t, 5, 10))
	pixels, err := m.Calc(1)
	if err != nil {
		t.Fatalf("Calc failed: %v", err)
	}
	row := mat.Row(nil, 1, pixels)
	if sum := floats.Sum(row); math.Abs(sum-30) > eps {
		t.Errorf("moving row sums to %v, want 30", sum)
	}
	checks := map[int]float64{179: 0, 185: 0.5, 195: 1, 200: 1, 215: 0.5, 220: 0}
	for b, want := range checks {
		if math.Abs(row[b]-want) > eps {
			t.Errorf("moving row bin %d = %v, want %v", b, row[b], want)
		}
	}
}

func TestMapCalcIsMemoized(t *testing.T) {
	m := NewMap(Actual, twoPairMLC(t, 10), axis(t, 5, 10))
	if _, err := m.PixelMap(); !errors.Is(err, parser.ErrStateNotReady) {
		t.Errorf("PixelMap before Calc: error = %v, want ErrStateNotReady", err)
	}
	first, err := m.Calc(1)
	if err != nil {
		t.Fatalf("Calc failed: %v", err)
	}
	second, _ := m.Calc(1)
	if m.Computations() != 1 {
		t.Errorf("Computations = %d after repeated Calc, want 1", m.Computations())
	}
	if !mat.Equal(first, second) {
		t.Error("repeated Calc returned a different map")
	}
	coarse, err := m.Calc(2)
	if err != nil {
		t.Fatalf("Calc(2) failed: %v", err)
	}
	if _, c := coarse.Dims(); c != 200 || m.Computations() != 2 {
		t.Errorf("Calc(2) gave %d columns after %d computations, want 200 and 2", c, m.Computations())
	}
	if m.Resolution() != 2 || !m.IsCalculated() {
		t.Errorf("Resolution = %v, IsCalculated = %v", m.Resolution(), m.IsCalculated())
	}
	if _, err := m.Calc(0); !errors.Is(err, parser.ErrInvalidArgument) {
		t.Errorf("Calc(0) error = %v, want ErrInvalidArgument", err)
	}
}

func TestWindowsAreClamped(t *testing.T) {
	leaves := []*parser.LeafAxis{leaf(t, 25, 25), leaf(t, 25, 25)}
	jaws := &parser.JawStruct{
		X1: axis(t, 25, 25), X2: axis(t, 25, 25),
		Y1: axis(t, 20, 20), Y2: axis(t, 20, 20),
	}
	mlc, err := analysis.NewMLC(leaves, jaws, []int{0, 1}, false)
	if err != nil {
		t.Fatalf("NewMLC failed: %v", err)
	}
	m := NewMap(Actual, mlc, axis(t, 0, 10))
	pixels, err := m.Calc(1)
	if err != nil {
		t.Fatalf("Calc failed: %v", err)
	}
	if sum := floats.Sum(mat.Row(nil, 0, pixels)); sum != 400 {
		t.Errorf("clamped row sums to %v, want 400", sum)
	}
	if m.ClampedBins() != 1 {
		t.Errorf("ClampedBins = %d, want 1", m.ClampedBins())
	}
}

func TestZeroMUGivesEmptyMovingRows(t *testing.T) {
	m := NewMap(Actual, twoPairMLC(t, 10), axis(t, 0, 0))
	pixels, err := m.Calc(1)
	if err != nil {
		t.Fatalf("Calc failed: %v", err)
	}
	if sum := floats.Sum(mat.Row(nil, 1, pixels)); sum != 0 {
		t.Errorf("moving row with zero MU sums to %v, want 0", sum)
	}
	if got := muDifferential([]float64{2, 5, 10}); math.Abs(floats.Sum(got)-1) > eps || got[0] != 0.2 {
		t.Errorf("muDifferential = %v", got)
	}
}

func TestMapWithoutData(t *testing.T) {
	m := NewMap(Actual, nil, nil)
	if _, err := m.Calc(1); !errors.Is(err, parser.ErrStateNotReady) {
		t.Errorf("Calc without data: error = %v, want ErrStateNotReady", err)
	}
}

func TestJawsLimitWindow(t *testing.T) {
	m := NewMap(Actual, twoPairMLC(t, 1.5), axis(t, 5, 10))
	pixels, err := m.Calc(1)
	if err != nil {
		t.Fatalf("Calc failed: %v", err)
	}
	// static pair: bank B at bin 170 but X1 at bin 185, bank A at bin 220 but X2 at bin 215
	if sum := floats.Sum(mat.Row(nil, 0, pixels)); sum != 30 {
		t.Errorf("jaw-limited static row sums to %v, want 30", sum)
	}
}

func TestBanksMeetTheirJaws(t *testing.T) {
	// bank A at 5 cm faces X2 at 1 cm; bank B at 1 cm faces X1 at 5 cm
	leaves := []*parser.LeafAxis{leaf(t, 5, 5), leaf(t, 1, 1)}
	jaws := &parser.JawStruct{
		X1: axis(t, 5, 5), X2: axis(t, 1, 1),
		Y1: axis(t, 20, 20), Y2: axis(t, 20, 20),
	}
	mlc, err := analysis.NewMLC(leaves, jaws, []int{0, 1}, false)
	if err != nil {
		t.Fatalf("NewMLC failed: %v", err)
	}
	pixels, err := NewMap(Actual, mlc, axis(t, 5, 10)).Calc(1)
	if err != nil {
		t.Fatalf("Calc failed: %v", err)
	}
	row := mat.Row(nil, 0, pixels)
	if sum := floats.Sum(row); sum != 20 {
		t.Errorf("open row sums to %v, want 20", sum)
	}
	if row[189] != 0 || row[190] != 1 || row[209] != 1 || row[210] != 0 {
		t.Errorf("window edges at bins 189..210 = %v %v %v %v, want 0 1 1 0", row[189], row[190], row[209], row[210])
	}
}
