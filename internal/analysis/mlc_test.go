package analysis

import (
	"errors"
	"math"
	"testing"

	"github.com/user/machinelog_analyzer_go/internal/parser"
)

const eps = 1e-9

func constAxis(t *testing.T, n int, v float64) *parser.Axis {
	t.Helper()
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = v
	}
	ax, err := parser.NewAxis(vals, vals)
	if err != nil {
		t.Fatalf("NewAxis failed: %v", err)
	}
	return ax
}

func testJaws(t *testing.T, n int, y float64) *parser.JawStruct {
	return &parser.JawStruct{
		X1: constAxis(t, n, 5), X2: constAxis(t, n, 5),
		Y1: constAxis(t, n, y), Y2: constAxis(t, n, y),
	}
}

func allSnapshots(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// newTestMLC builds an MLC whose leaf num at snapshot s has the positions
// returned by pos.
func newTestMLC(t *testing.T, pairs, n int, pos func(num, s int) (actual, expected float64)) *MLC {
	t.Helper()
	leaves := make([]*parser.LeafAxis, 2*pairs)
	for i := range leaves {
		act := make([]float64, n)
		exp := make([]float64, n)
		for s := 0; s < n; s++ {
			act[s], exp[s] = pos(i+1, s)
		}
		leaf, err := parser.NewLeafAxis(act, exp)
		if err != nil {
			t.Fatalf("NewLeafAxis failed: %v", err)
		}
		leaves[i] = leaf
	}
	m, err := NewMLC(leaves, testJaws(t, n, 10), allSnapshots(n), false)
	if err != nil {
		t.Fatalf("NewMLC failed: %v", err)
	}
	return m
}

// onePairMoving moves pair 1 (leaves 1 and 1+pairs) with a fixed lag behind
// the plan and keeps every other leaf static and exact.
func onePairMoving(pairs int) func(num, s int) (float64, float64) {
	return func(num, s int) (float64, float64) {
		switch num {
		case 1:
			return float64(s) + 0.1, float64(s)
		case 1 + pairs:
			return float64(s) + 0.3, float64(s)
		}
		return 2, 2
	}
}

func TestNewMLCValidation(t *testing.T) {
	leaf, _ := parser.NewLeafAxis([]float64{1, 2}, []float64{1, 2})
	short, _ := parser.NewLeafAxis([]float64{1}, []float64{1})
	jaws := testJaws(t, 2, 10)

	tests := []struct {
		name   string
		leaves []*parser.LeafAxis
		jaws   *parser.JawStruct
		idx    []int
	}{
		{"no leaves", nil, jaws, nil},
		{"odd leaf count", []*parser.LeafAxis{leaf}, jaws, nil},
		{"missing jaws", []*parser.LeafAxis{leaf, leaf}, &parser.JawStruct{}, nil},
		{"ragged leaves", []*parser.LeafAxis{leaf, short}, jaws, nil},
		{"index out of range", []*parser.LeafAxis{leaf, leaf}, jaws, []int{0, 2}},
	}
	for _, tt := range tests {
		if _, err := NewMLC(tt.leaves, tt.jaws, tt.idx, false); !errors.Is(err, parser.ErrInvalidArgument) {
			t.Errorf("%s: error = %v, want ErrInvalidArgument", tt.name, err)
		}
	}
}

func TestMovingLeavesAndBanks(t *testing.T) {
	m := newTestMLC(t, 4, 10, onePairMoving(4))

	moving := m.MovingLeaves()
	if len(moving) != 2 || moving[0] != 1 || moving[1] != 5 {
		t.Fatalf("MovingLeaves = %v, want [1 5]", moving)
	}
	if !m.PairMoved(1) || m.PairMoved(2) {
		t.Errorf("PairMoved(1)/PairMoved(2) = %v/%v, want true/false", m.PairMoved(1), m.PairMoved(2))
	}

	if got := m.GetLeaves(BankA, false); len(got) != 4 || got[3] != 4 {
		t.Errorf("GetLeaves(A) = %v", got)
	}
	if got := m.GetLeaves(BankB, false); len(got) != 4 || got[0] != 5 {
		t.Errorf("GetLeaves(B) = %v", got)
	}
	if got := m.GetLeaves(BankBoth, false); len(got) != 8 {
		t.Errorf("GetLeaves(both) = %v", got)
	}
	if got := m.GetLeaves(BankB, true); len(got) != 1 || got[0] != 5 {
		t.Errorf("GetLeaves(B, moving) = %v, want [5]", got)
	}
}

func TestRMSStatistics(t *testing.T) {
	m := newTestMLC(t, 4, 10, onePairMoving(4))

	rms, err := m.RMS([]int{1, 2, 5})
	if err != nil {
		t.Fatalf("RMS failed: %v", err)
	}
	for i, want := range []float64{0.1, 0, 0.3} {
		if math.Abs(rms[i]-want) > eps {
			t.Errorf("RMS[%d] = %v, want %v", i, rms[i], want)
		}
	}
	if _, err := m.RMS([]int{9}); !errors.Is(err, parser.ErrInvalidArgument) {
		t.Errorf("RMS(9) error = %v, want ErrInvalidArgument", err)
	}

	if got := m.RMSAvg(BankA, false); math.Abs(got-0.025) > eps {
		t.Errorf("RMSAvg(A) = %v, want 0.025", got)
	}
	if got := m.RMSAvg(BankBoth, true); math.Abs(got-0.2) > eps {
		t.Errorf("RMSAvg(both, moving) = %v, want 0.2", got)
	}
	if got := m.RMSMax(BankBoth, false); math.Abs(got-0.3) > eps {
		t.Errorf("RMSMax(both) = %v, want 0.3", got)
	}
}

func TestRMSPercentileSingleMovingPair(t *testing.T) {
	m := newTestMLC(t, 60, 20, onePairMoving(60))
	got, err := m.RMSPercentile(95, BankBoth, true)
	if err != nil {
		t.Fatalf("RMSPercentile failed: %v", err)
	}
	if got < 0.1-eps || got > 0.3+eps {
		t.Errorf("RMSPercentile(95) = %v, want within [0.1, 0.3]", got)
	}
	if want := 0.1 + 0.95*0.2; math.Abs(got-want) > eps {
		t.Errorf("RMSPercentile(95) = %v, want %v", got, want)
	}
}

func TestEmptySelectionYieldsZero(t *testing.T) {
	m := newTestMLC(t, 2, 5, func(num, s int) (float64, float64) { return 1, 1 })
	if got := m.RMSAvg(BankBoth, true); got != 0 {
		t.Errorf("RMSAvg over no moving leaves = %v, want 0", got)
	}
	if got := m.RMSMax(BankA, true); got != 0 {
		t.Errorf("RMSMax over no moving leaves = %v, want 0", got)
	}
	if got, err := m.RMSPercentile(50, BankB, true); err != nil || got != 0 {
		t.Errorf("RMSPercentile over no moving leaves = %v, %v, want 0, nil", got, err)
	}
}

func TestErrorPercentilePoolsAbsoluteErrors(t *testing.T) {
	m := newTestMLC(t, 1, 4, func(num, s int) (float64, float64) {
		if num == 1 {
			return float64(s), 0 // errors 0 1 2 3
		}
		return -float64(s + 4), 0 // errors -4 -5 -6 -7
	})
	got, err := m.ErrorPercentile(100, BankBoth, false)
	if err != nil || got != 7 {
		t.Errorf("ErrorPercentile(100) = %v, %v, want 7", got, err)
	}
	got, _ = m.ErrorPercentile(50, BankBoth, false)
	if math.Abs(got-3.5) > eps {
		t.Errorf("ErrorPercentile(50) = %v, want 3.5", got)
	}
	got, _ = m.ErrorPercentile(0, BankB, false)
	if got != 4 {
		t.Errorf("ErrorPercentile(0, B) = %v, want 4", got)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		x    []float64
		p    float64
		want float64
	}{
		{[]float64{3, 1, 2, 4}, 50, 2.5},
		{[]float64{3, 1, 2, 4}, 0, 1},
		{[]float64{3, 1, 2, 4}, 100, 4},
		{[]float64{1, 2, 3, 4, 5}, 90, 4.6},
		{[]float64{7}, 95, 7},
		{nil, 95, 0},
	}
	for _, tt := range tests {
		got, err := Percentile(tt.x, tt.p)
		if err != nil {
			t.Errorf("Percentile(%v, %v) failed: %v", tt.x, tt.p, err)
			continue
		}
		if math.Abs(got-tt.want) > eps {
			t.Errorf("Percentile(%v, %v) = %v, want %v", tt.x, tt.p, got, tt.want)
		}
	}
	for _, p := range []float64{-1, 101, math.NaN()} {
		if _, err := Percentile([]float64{1}, p); !errors.Is(err, parser.ErrInvalidArgument) {
			t.Errorf("Percentile(p=%v) error = %v, want ErrInvalidArgument", p, err)
		}
	}
}

func TestLeafUnderYJaw(t *testing.T) {
	leaves := make([]*parser.LeafAxis, 120)
	for i := range leaves {
		leaves[i], _ = parser.NewLeafAxis([]float64{0, 0}, []float64{0, 0})
	}

	tests := []struct {
		name  string
		hdmlc bool
		y     float64
		under map[int]bool
	}{
		{"standard 20 cm field", false, 10, map[int]bool{1: true, 10: false, 30: false, 50: false, 51: false, 52: true, 60: true}},
		{"standard open field", false, 20, map[int]bool{1: false, 30: false, 60: false}},
		{"hd 10 cm field", true, 5, map[int]bool{1: true, 10: false, 30: false, 50: false, 51: false, 52: true}},
	}
	for _, tt := range tests {
		m, err := NewMLC(leaves, testJaws(t, 2, tt.y), allSnapshots(2), tt.hdmlc)
		if err != nil {
			t.Fatalf("NewMLC failed: %v", err)
		}
		for pair, want := range tt.under {
			if got := m.LeafUnderYJaw(pair); got != want {
				t.Errorf("%s: LeafUnderYJaw(%d) = %v, want %v", tt.name, pair, got, want)
			}
		}
	}
}
