package parser

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// MovementThreshold is the standard deviation (cm) above which an axis is
// considered to have moved.
const MovementThreshold = 0.003

// Field selects which series of an Axis is read.
type Field int

const (
	FieldActual Field = iota
	FieldExpected
)

func (f Field) String() string {
	if f == FieldExpected {
		return "expected"
	}
	return "actual"
}

// Beam hold states as logged by the machine.
const (
	BeamHoldNormal        = 0
	BeamHoldFreeze        = 1
	BeamHoldHold          = 2
	BeamHoldDisabledServo = 3
)

// Axis is the time series of one degree of freedom. Expected is nil when the
// log carries no planned values for the axis.
type Axis struct {
	Actual   []float64
	Expected []float64

	moved *bool
}

// NewAxis returns an axis; expected may be nil but otherwise must match actual in length.
func NewAxis(actual, expected []float64) (*Axis, error) {
	if expected != nil && len(expected) != len(actual) {
		return nil, fmt.Errorf("%w: actual has %d samples, expected has %d", ErrInvalidArgument, len(actual), len(expected))
	}
	return &Axis{Actual: actual, Expected: expected}, nil
}

func (a *Axis) Len() int { return len(a.Actual) }

func (a *Axis) HasExpected() bool { return a.Expected != nil }

// Moved reports whether the population standard deviation of the actual
// positions exceeds MovementThreshold.
func (a *Axis) Moved() bool {
	if a.moved == nil {
		m := len(a.Actual) > 0 && stat.PopStdDev(a.Actual, nil) > MovementThreshold
		a.moved = &m
	}
	return *a.moved
}

// Difference returns actual - expected per sample.
func (a *Axis) Difference() ([]float64, error) {
	if a.Expected == nil {
		return nil, fmt.Errorf("%w: axis has no expected values", ErrStateNotReady)
	}
	diff := make([]float64, len(a.Actual))
	for i := range a.Actual {
		diff[i] = a.Actual[i] - a.Expected[i]
	}
	return diff, nil
}

// Values returns the series selected by f.
func (a *Axis) Values(f Field) ([]float64, error) {
	if f == FieldExpected {
		if a.Expected == nil {
			return nil, fmt.Errorf("%w: axis has no expected values", ErrStateNotReady)
		}
		return a.Expected, nil
	}
	return a.Actual, nil
}

// LeafAxis is the position of a single MLC leaf. Expected values are mandatory.
type LeafAxis struct {
	Axis
}

func NewLeafAxis(actual, expected []float64) (*LeafAxis, error) {
	if expected == nil {
		return nil, fmt.Errorf("%w: leaf axis requires expected values", ErrInvalidArgument)
	}
	ax, err := NewAxis(actual, expected)
	if err != nil {
		return nil, err
	}
	return &LeafAxis{Axis: *ax}, nil
}

// JawStruct holds the four jaw positions in cm.
type JawStruct struct {
	X1, Y1, X2, Y2 *Axis
}

// CouchStruct holds the couch axes. Only trajectory logs record the couch.
type CouchStruct struct {
	Vert, Long, Latl, Rotn *Axis
}

// Subbeam is one auto-sequenced segment of a trajectory log.
type Subbeam struct {
	ControlPoint int
	MUDelivered  float64
	RadTime      float64
	SequenceNum  int
	BeamName     string
}

// TlogHeader is the 1024-byte header of a trajectory log.
type TlogHeader struct {
	Signature        string
	Version          float64
	HeaderSize       int
	SamplingInterval int // ms
	NumAxes          int
	AxisEnumeration  []int
	SamplesPerAxis   []int
	NumMLCLeaves     int
	AxisScale        int // 1 = machine scale, 2 = modified IEC 61217
	NumSubbeams      int
	IsTruncated      bool
	NumSnapshots     int
	MLCModel         int // 2 = standard 120-leaf, anything else HD

	versionText string
}

// HDMLC reports whether the header describes a high-definition MLC.
func (h *TlogHeader) HDMLC() bool { return h.MLCModel != 2 }

// DlogHeader is the six-row header of a dynalog file.
type DlogHeader struct {
	Version      string
	PatientName  []string
	PlanFilename []string
	Tolerance    int
	NumMLCLeaves int
	ClinacScale  int // 0 = vendor scale, 1 = IEC scale
}

// AxisData is every axis reconstructed from one log. Fields that only one
// format records are nil for the other.
type AxisData struct {
	NumSnapshots int

	Collimator *Axis
	Gantry     *Axis
	Jaws       JawStruct
	Couch      *CouchStruct
	MU         *Axis
	BeamHold   *Axis
	CarriageA  *Axis
	CarriageB  *Axis

	// trajectory log only
	ControlPoint *Axis

	// dynalog only; the dose indices are kept as read and not used downstream
	BeamOn            *Axis
	PreviousSegment   *Axis
	PreviousDoseIndex *Axis
	NextDoseIndex     *Axis

	// Leaves[i] is leaf number i+1.
	Leaves      []*LeafAxis
	SnapshotIdx []int
	HDMLC       bool
}

// Leaf returns the 1-indexed leaf.
func (d *AxisData) Leaf(num int) (*LeafAxis, error) {
	if num < 1 || num > len(d.Leaves) {
		return nil, fmt.Errorf("%w: leaf %d outside 1..%d", ErrInvalidArgument, num, len(d.Leaves))
	}
	return d.Leaves[num-1], nil
}

// NumBeamholds counts 0 -> 1 transitions of the beam hold state.
func (d *AxisData) NumBeamholds() int {
	if d.BeamHold == nil {
		return 0
	}
	n := 0
	hold := d.BeamHold.Actual
	for i := 1; i < len(hold); i++ {
		if hold[i-1] == BeamHoldNormal && hold[i] == BeamHoldFreeze {
			n++
		}
	}
	return n
}

// Axes lists every populated non-leaf axis under a display name, in export order.
func (d *AxisData) Axes() []NamedAxis {
	candidates := []NamedAxis{
		{"Collimator", d.Collimator},
		{"Gantry", d.Gantry},
		{"Jaw Y1", d.Jaws.Y1},
		{"Jaw Y2", d.Jaws.Y2},
		{"Jaw X1", d.Jaws.X1},
		{"Jaw X2", d.Jaws.X2},
	}
	if d.Couch != nil {
		candidates = append(candidates,
			NamedAxis{"Couch Vert", d.Couch.Vert},
			NamedAxis{"Couch Long", d.Couch.Long},
			NamedAxis{"Couch Lat", d.Couch.Latl},
			NamedAxis{"Couch Rtn", d.Couch.Rotn},
		)
	}
	candidates = append(candidates,
		NamedAxis{"MU", d.MU},
		NamedAxis{"Beam Hold", d.BeamHold},
		NamedAxis{"Control Point", d.ControlPoint},
		NamedAxis{"Beam On", d.BeamOn},
		NamedAxis{"Previous Segment", d.PreviousSegment},
		NamedAxis{"Previous Dose Index", d.PreviousDoseIndex},
		NamedAxis{"Next Dose Index", d.NextDoseIndex},
		NamedAxis{"Carriage A", d.CarriageA},
		NamedAxis{"Carriage B", d.CarriageB},
	)
	out := candidates[:0]
	for _, na := range candidates {
		if na.Axis != nil {
			out = append(out, na)
		}
	}
	return out
}

// NamedAxis pairs an axis with its display name.
type NamedAxis struct {
	Name string
	Axis *Axis
}

func beamOnIndices(n int, on func(i int) bool) []int {
	idx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if on(i) {
			idx = append(idx, i)
		}
	}
	return idx
}
