package analysis

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/user/machinelog_analyzer_go/internal/parser"
)

// Bank selects leaves by MLC bank.
type Bank string

const (
	BankA    Bank = "A"
	BankB    Bank = "B"
	BankBoth Bank = "both"
)

// Leaf widths in mm, before halving for HD MLCs.
const (
	outerLeafWidth = 10.0
	innerLeafWidth = 5.0
	hdLeafOffset   = 100.0
)

// MLC aggregates the leaf axes of one log. Leaf numbers are 1-indexed; leaves
// 1..NumPairs form bank A and leaf k pairs with leaf k+NumPairs.
type MLC struct {
	leaves      []*parser.LeafAxis
	jaws        *parser.JawStruct
	snapshotIdx []int
	hdmlc       bool

	moving     []int
	movingSet  map[int]bool
	rmsByLeaf  []float64
	numSamples int
}

// NewMLC validates the leaf set and returns the aggregate.
func NewMLC(leaves []*parser.LeafAxis, jaws *parser.JawStruct, snapshotIdx []int, hdmlc bool) (*MLC, error) {
	if len(leaves) == 0 || len(leaves)%2 != 0 {
		return nil, fmt.Errorf("%w: MLC needs an even, non-zero number of leaves, got %d", parser.ErrInvalidArgument, len(leaves))
	}
	if jaws == nil || jaws.Y1 == nil || jaws.Y2 == nil || jaws.X1 == nil || jaws.X2 == nil {
		return nil, fmt.Errorf("%w: MLC needs all four jaw axes", parser.ErrInvalidArgument)
	}
	n := leaves[0].Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: MLC leaves hold no snapshots", parser.ErrInvalidArgument)
	}
	for _, jaw := range []*parser.Axis{jaws.X1, jaws.Y1, jaws.X2, jaws.Y2} {
		if jaw.Len() != n {
			return nil, fmt.Errorf("%w: jaw axis has %d snapshots, leaves have %d", parser.ErrInvalidArgument, jaw.Len(), n)
		}
	}
	for i, leaf := range leaves {
		if leaf == nil || leaf.Len() != n {
			return nil, fmt.Errorf("%w: leaf %d length differs from leaf 1", parser.ErrInvalidArgument, i+1)
		}
	}
	for _, idx := range snapshotIdx {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("%w: snapshot index %d outside 0..%d", parser.ErrInvalidArgument, idx, n-1)
		}
	}
	return &MLC{
		leaves:      leaves,
		jaws:        jaws,
		snapshotIdx: snapshotIdx,
		hdmlc:       hdmlc,
		numSamples:  n,
	}, nil
}

func (m *MLC) NumLeaves() int { return len(m.leaves) }

func (m *MLC) NumPairs() int { return len(m.leaves) / 2 }

func (m *MLC) HDMLC() bool { return m.hdmlc }

func (m *MLC) Jaws() *parser.JawStruct { return m.jaws }

// SnapshotIdx returns the snapshots used for statistics and fluence.
func (m *MLC) SnapshotIdx() []int { return m.snapshotIdx }

// Leaf returns the 1-indexed leaf axis.
func (m *MLC) Leaf(num int) (*parser.LeafAxis, error) {
	if num < 1 || num > len(m.leaves) {
		return nil, fmt.Errorf("%w: leaf %d outside 1..%d", parser.ErrInvalidArgument, num, len(m.leaves))
	}
	return m.leaves[num-1], nil
}

func (m *MLC) selected(v []float64) []float64 {
	out := make([]float64, len(m.snapshotIdx))
	for i, idx := range m.snapshotIdx {
		out[i] = v[idx]
	}
	return out
}

// MovingLeaves lists leaves whose actual position, over the selected
// snapshots, has a standard deviation above the movement threshold.
func (m *MLC) MovingLeaves() []int {
	if m.movingSet == nil {
		m.movingSet = make(map[int]bool)
		m.moving = []int{}
		if len(m.snapshotIdx) > 0 {
			for i, leaf := range m.leaves {
				if stat.PopStdDev(m.selected(leaf.Actual), nil) > parser.MovementThreshold {
					m.moving = append(m.moving, i+1)
					m.movingSet[i+1] = true
				}
			}
		}
	}
	return m.moving
}

func (m *MLC) leafMoved(num int) bool {
	m.MovingLeaves()
	return m.movingSet[num]
}

// PairMoved reports whether either leaf of the pair moved.
func (m *MLC) PairMoved(pair int) bool {
	return m.leafMoved(pair) || m.leafMoved(pair+m.NumPairs())
}

// GetLeaves returns the leaf numbers of a bank, optionally only the moving ones.
func (m *MLC) GetLeaves(bank Bank, onlyMoving bool) []int {
	var out []int
	for num := 1; num <= len(m.leaves); num++ {
		switch bank {
		case BankA:
			if num > m.NumPairs() {
				continue
			}
		case BankB:
			if num <= m.NumPairs() {
				continue
			}
		}
		if onlyMoving && !m.leafMoved(num) {
			continue
		}
		out = append(out, num)
	}
	return out
}

func (m *MLC) leafRMS(leaf *parser.LeafAxis) float64 {
	if len(m.snapshotIdx) == 0 {
		return 0
	}
	sq := make([]float64, len(m.snapshotIdx))
	for i, idx := range m.snapshotIdx {
		d := leaf.Actual[idx] - leaf.Expected[idx]
		sq[i] = d * d
	}
	return math.Sqrt(stat.Mean(sq, nil))
}

func (m *MLC) rmsAll() []float64 {
	if m.rmsByLeaf == nil {
		m.rmsByLeaf = make([]float64, len(m.leaves))
		for i, leaf := range m.leaves {
			m.rmsByLeaf[i] = m.leafRMS(leaf)
		}
	}
	return m.rmsByLeaf
}

// RMS returns the root-mean-square positional error of each given leaf.
func (m *MLC) RMS(leaves []int) ([]float64, error) {
	all := m.rmsAll()
	out := make([]float64, len(leaves))
	for i, num := range leaves {
		if num < 1 || num > len(all) {
			return nil, fmt.Errorf("%w: leaf %d outside 1..%d", parser.ErrInvalidArgument, num, len(all))
		}
		out[i] = all[num-1]
	}
	return out, nil
}

func (m *MLC) bankRMS(bank Bank, onlyMoving bool) []float64 {
	rms, _ := m.RMS(m.GetLeaves(bank, onlyMoving))
	return rms
}

// RMSAvg is the mean leaf RMS of a bank. An empty selection yields 0.
func (m *MLC) RMSAvg(bank Bank, onlyMoving bool) float64 {
	rms := m.bankRMS(bank, onlyMoving)
	if len(rms) == 0 {
		return 0
	}
	return stat.Mean(rms, nil)
}

// RMSMax is the largest leaf RMS of a bank. An empty selection yields 0.
func (m *MLC) RMSMax(bank Bank, onlyMoving bool) float64 {
	rms := m.bankRMS(bank, onlyMoving)
	if len(rms) == 0 {
		return 0
	}
	return floats.Max(rms)
}

// RMSPercentile is the p-th percentile of leaf RMS values.
func (m *MLC) RMSPercentile(p float64, bank Bank, onlyMoving bool) (float64, error) {
	return Percentile(m.bankRMS(bank, onlyMoving), p)
}

// ErrorPercentile is the p-th percentile of the absolute per-snapshot error
// of the selected leaves, all samples pooled together.
func (m *MLC) ErrorPercentile(p float64, bank Bank, onlyMoving bool) (float64, error) {
	var pooled []float64
	for _, num := range m.GetLeaves(bank, onlyMoving) {
		diff, err := m.leaves[num-1].Difference()
		if err != nil {
			return 0, err
		}
		for _, d := range diff {
			pooled = append(pooled, math.Abs(d))
		}
	}
	return Percentile(pooled, p)
}

// Percentile returns the p-th percentile of x with linear interpolation
// between closest ranks. An empty x yields 0.
func Percentile(x []float64, p float64) (float64, error) {
	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, fmt.Errorf("%w: percentile %v outside 0..100", parser.ErrInvalidArgument, p)
	}
	if len(x) == 0 {
		return 0, nil
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo)), nil
}

func leafWidth(num int) float64 {
	switch {
	case num <= 10 || num >= 110:
		return outerLeafWidth
	case num <= 50 || num >= 70:
		return innerLeafWidth
	default:
		return outerLeafWidth
	}
}

// LeafUnderYJaw reports whether a leaf lies entirely outside the opening of
// the Y jaws over the whole delivery.
func (m *MLC) LeafUnderYJaw(leafNum int) bool {
	scale := 1.0
	position := 0.0
	if m.hdmlc {
		scale = 0.5
		position = hdLeafOffset
	}
	for leaf := 1; leaf <= leafNum; leaf++ {
		position += leafWidth(leaf) * scale
	}
	y2 := floats.Max(m.jaws.Y2.Actual)*10 + 200
	y1 := 200 - floats.Max(m.jaws.Y1.Actual)*10
	return position < y1 || position-leafWidth(leafNum)*scale > y2
}
