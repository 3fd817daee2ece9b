package parser

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const (
	// TlogHeaderSize is the fixed size of a trajectory log header in bytes.
	TlogHeaderSize = 1024
	// TlogSignature prefixes the signature of every trajectory log.
	TlogSignature = "VOSTL"

	tlogFixedHeaderBytes = 64
	subbeamReservedBytes = 32
	carriageAxes         = 2
)

// Column offsets into one snapshot row. Each sampled quantity occupies an
// (expected, actual) pair of columns.
const (
	colCollimator   = 0
	colGantry       = 2
	colJawY1        = 4
	colJawY2        = 6
	colJawX1        = 8
	colJawX2        = 10
	colCouchVert    = 12
	colCouchLong    = 14
	colCouchLat     = 16
	colCouchRtn     = 18
	colMU           = 20
	colBeamHold     = 22
	colControlPoint = 24
	colCarriageA    = 26
	colCarriageB    = 28
	colFirstLeaf    = 30
)

// Tlog is a decoded trajectory log.
type Tlog struct {
	Header   *TlogHeader
	Subbeams []Subbeam
	AxisData *AxisData
}

func withPad[T any](f layoutField[T], pad func(*T) int) layoutField[T] {
	f.pad = pad
	return f
}

func numAxes(h *TlogHeader) int { return h.NumAxes }

var tlogHeaderLayout = []layoutField[TlogHeader]{
	stringField("signature", 16,
		func(h *TlogHeader, s string) error { h.Signature = s; return nil },
		func(h *TlogHeader) string { return h.Signature }),
	stringField("version", 16, setTlogVersion, func(h *TlogHeader) string {
		if h.versionText != "" {
			return h.versionText
		}
		return strconv.FormatFloat(h.Version, 'f', -1, 64)
	}),
	intField("header size",
		func(h *TlogHeader, n int) { h.HeaderSize = n },
		func(h *TlogHeader) int { return h.HeaderSize }),
	intField("sampling interval",
		func(h *TlogHeader, n int) { h.SamplingInterval = n },
		func(h *TlogHeader) int { return h.SamplingInterval }),
	{
		name: "number of axes",
		kind: kindInt32,
		set: func(h *TlogHeader, v fieldValue) error {
			n := v.ints[0]
			if n <= 0 || tlogFixedHeaderBytes+8*n > TlogHeaderSize {
				return newFormatError("number of axes %d does not fit a %d-byte header", n, TlogHeaderSize)
			}
			h.NumAxes = n
			return nil
		},
		get: func(h *TlogHeader) fieldValue { return fieldValue{ints: []int{h.NumAxes}} },
	},
	{
		name:  "axis enumeration",
		kind:  kindInt32,
		count: numAxes,
		set: func(h *TlogHeader, v fieldValue) error {
			h.AxisEnumeration = v.ints
			return nil
		},
		get: func(h *TlogHeader) fieldValue { return fieldValue{ints: h.AxisEnumeration} },
	},
	{
		name:  "samples per axis",
		kind:  kindInt32,
		count: numAxes,
		set: func(h *TlogHeader, v fieldValue) error {
			for i, n := range v.ints {
				if n < 0 {
					return newFormatError("axis %d has negative sample count %d", i, n)
				}
			}
			h.SamplesPerAxis = v.ints
			h.NumMLCLeaves = v.ints[len(v.ints)-1] - carriageAxes
			return nil
		},
		get: func(h *TlogHeader) fieldValue { return fieldValue{ints: h.SamplesPerAxis} },
	},
	intField("axis scale",
		func(h *TlogHeader, n int) { h.AxisScale = n },
		func(h *TlogHeader) int { return h.AxisScale }),
	intField("number of subbeams",
		func(h *TlogHeader, n int) { h.NumSubbeams = n },
		func(h *TlogHeader) int { return h.NumSubbeams }),
	intField("truncation flag",
		func(h *TlogHeader, n int) { h.IsTruncated = n != 0 },
		func(h *TlogHeader) int {
			if h.IsTruncated {
				return 1
			}
			return 0
		}),
	intField("number of snapshots",
		func(h *TlogHeader, n int) { h.NumSnapshots = n },
		func(h *TlogHeader) int { return h.NumSnapshots }),
	withPad(intField("mlc model",
		func(h *TlogHeader, n int) { h.MLCModel = n },
		func(h *TlogHeader) int { return h.MLCModel }),
		func(h *TlogHeader) int { return TlogHeaderSize - (tlogFixedHeaderBytes + 8*h.NumAxes) }),
}

func setTlogVersion(h *TlogHeader, s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return &FormatError{Reason: fmt.Sprintf("version %q is not a number", s), Cause: err}
	}
	h.Version = v
	h.versionText = s
	return nil
}

// ReadTlogHeader decodes the header at the start of buf and returns it with
// the offset of the first byte after it.
func ReadTlogHeader(buf []byte) (*TlogHeader, int, error) {
	c := &cursor{buf: buf}
	h := &TlogHeader{}
	if err := decodeLayout(c, tlogHeaderLayout, h); err != nil {
		return nil, 0, err
	}
	return h, c.pos, nil
}

// MarshalBinary encodes the header back into its 1024-byte form.
func (h *TlogHeader) MarshalBinary() ([]byte, error) {
	if h.NumAxes <= 0 || tlogFixedHeaderBytes+8*h.NumAxes > TlogHeaderSize {
		return nil, newFormatError("number of axes %d does not fit a %d-byte header", h.NumAxes, TlogHeaderSize)
	}
	var w bytes.Buffer
	if err := encodeLayout(&w, tlogHeaderLayout, h); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func subbeamNameSize(version float64) int {
	if version >= 3.0 {
		return 512
	}
	return 32
}

func subbeamLayout(version float64) []layoutField[Subbeam] {
	return []layoutField[Subbeam]{
		intField("subbeam control point",
			func(s *Subbeam, n int) { s.ControlPoint = n },
			func(s *Subbeam) int { return s.ControlPoint }),
		floatField("subbeam mu delivered",
			func(s *Subbeam, x float64) { s.MUDelivered = x },
			func(s *Subbeam) float64 { return s.MUDelivered }),
		floatField("subbeam radiation time",
			func(s *Subbeam, x float64) { s.RadTime = x },
			func(s *Subbeam) float64 { return s.RadTime }),
		intField("subbeam sequence number",
			func(s *Subbeam, n int) { s.SequenceNum = n },
			func(s *Subbeam) int { return s.SequenceNum }),
		withPad(stringField("subbeam name", subbeamNameSize(version),
			func(s *Subbeam, name string) error { s.BeamName = name; return nil },
			func(s *Subbeam) string { return s.BeamName }),
			func(*Subbeam) int { return subbeamReservedBytes }),
	}
}

// ReadSubbeams decodes header.NumSubbeams subbeam records starting at pos.
func ReadSubbeams(buf []byte, pos int, h *TlogHeader) ([]Subbeam, int, error) {
	if h.NumSubbeams < 0 {
		return nil, pos, newFormatError("negative subbeam count %d", h.NumSubbeams)
	}
	if h.NumSubbeams > len(buf)-pos {
		return nil, pos, newFormatError("truncated buffer: %d subbeams at offset %d of %d bytes", h.NumSubbeams, pos, len(buf))
	}
	c := &cursor{buf: buf, pos: pos}
	layout := subbeamLayout(h.Version)
	subbeams := make([]Subbeam, h.NumSubbeams)
	for i := range subbeams {
		if err := decodeLayout(c, layout, &subbeams[i]); err != nil {
			return nil, pos, err
		}
	}
	return subbeams, c.pos, nil
}

// EncodeSubbeams is the inverse of ReadSubbeams.
func EncodeSubbeams(h *TlogHeader, subbeams []Subbeam) ([]byte, error) {
	var w bytes.Buffer
	layout := subbeamLayout(h.Version)
	for i := range subbeams {
		if err := encodeLayout(&w, layout, &subbeams[i]); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// TotalSamples is the number of sampled quantities in one snapshot.
func (h *TlogHeader) TotalSamples() int {
	total := 0
	for _, n := range h.SamplesPerAxis {
		total += n
	}
	return total
}

// snapshotColumns validates the snapshot geometry against the avail bytes
// left in the buffer and returns the number of columns per snapshot.
func (h *TlogHeader) snapshotColumns(avail int) (int, error) {
	cols := 2 * h.TotalSamples()
	if h.NumSnapshots <= 0 {
		return 0, newFormatError("log has %d snapshots", h.NumSnapshots)
	}
	if h.NumMLCLeaves <= 0 || h.NumMLCLeaves%2 != 0 {
		return 0, newFormatError("invalid MLC leaf count %d", h.NumMLCLeaves)
	}
	if cols < colFirstLeaf+2*h.NumMLCLeaves {
		return 0, newFormatError("snapshot holds %d columns, %d leaves need %d", cols, h.NumMLCLeaves, colFirstLeaf+2*h.NumMLCLeaves)
	}
	if avail < 0 || cols > avail/4/h.NumSnapshots {
		return 0, newFormatError("truncated buffer: %d snapshots of %d columns do not fit in %d bytes", h.NumSnapshots, cols, avail)
	}
	return cols, nil
}

// ReadTlogAxisData decodes the snapshot block that starts at pos. When
// excludeBeamOff is set only snapshots with a normal beam hold state are
// kept in SnapshotIdx.
func ReadTlogAxisData(buf []byte, pos int, h *TlogHeader, excludeBeamOff bool) (*AxisData, error) {
	cols, err := h.snapshotColumns(len(buf) - pos)
	if err != nil {
		return nil, err
	}
	c := &cursor{buf: buf, pos: pos}
	vals, err := c.readFloats(h.NumSnapshots*cols, "axis data")
	if err != nil {
		return nil, err
	}
	m := mat.NewDense(h.NumSnapshots, cols, vals)

	pair := func(col int) *Axis {
		return &Axis{Expected: mat.Col(nil, col, m), Actual: mat.Col(nil, col+1, m)}
	}

	data := &AxisData{
		NumSnapshots: h.NumSnapshots,
		Collimator:   pair(colCollimator),
		Gantry:       pair(colGantry),
		Jaws: JawStruct{
			Y1: pair(colJawY1),
			Y2: pair(colJawY2),
			X1: pair(colJawX1),
			X2: pair(colJawX2),
		},
		Couch: &CouchStruct{
			Vert: pair(colCouchVert),
			Long: pair(colCouchLong),
			Latl: pair(colCouchLat),
			Rotn: pair(colCouchRtn),
		},
		MU:           pair(colMU),
		BeamHold:     pair(colBeamHold),
		ControlPoint: pair(colControlPoint),
		CarriageA:    pair(colCarriageA),
		CarriageB:    pair(colCarriageB),
		HDMLC:        h.HDMLC(),
		Leaves:       make([]*LeafAxis, h.NumMLCLeaves),
	}
	for i := range data.Leaves {
		data.Leaves[i] = &LeafAxis{Axis: *pair(colFirstLeaf + 2*i)}
	}

	hold := data.BeamHold.Actual
	data.SnapshotIdx = beamOnIndices(h.NumSnapshots, func(i int) bool {
		return !excludeBeamOff || hold[i] == BeamHoldNormal
	})
	return data, nil
}

// ParseTlogBytes decodes a complete trajectory log held in memory.
func ParseTlogBytes(buf []byte, excludeBeamOff bool) (*Tlog, error) {
	h, pos, err := ReadTlogHeader(buf)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(h.Signature, TlogSignature) {
		return nil, newFormatError("unrecognized signature %q", h.Signature)
	}
	subbeams, pos, err := ReadSubbeams(buf, pos, h)
	if err != nil {
		return nil, err
	}
	data, err := ReadTlogAxisData(buf, pos, h, excludeBeamOff)
	if err != nil {
		return nil, err
	}
	return &Tlog{Header: h, Subbeams: subbeams, AxisData: data}, nil
}

// ParseTlog reads and decodes the trajectory log at path.
func ParseTlog(path string, excludeBeamOff bool) (*Tlog, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trajectory log: %w", err)
	}
	tlog, err := ParseTlogBytes(buf, excludeBeamOff)
	if err != nil {
		return nil, withPath(err, path)
	}
	return tlog, nil
}

// EncodeTlog writes a complete trajectory log: header, subbeams and one row
// of snapshots per snapshot, each row laid out as (expected, actual) pairs.
func EncodeTlog(h *TlogHeader, subbeams []Subbeam, snapshots mat.Matrix) ([]byte, error) {
	if len(subbeams) != h.NumSubbeams {
		return nil, fmt.Errorf("%w: header declares %d subbeams, got %d", ErrInvalidArgument, h.NumSubbeams, len(subbeams))
	}
	rows, cols := snapshots.Dims()
	if rows != h.NumSnapshots || cols != 2*h.TotalSamples() {
		return nil, fmt.Errorf("%w: snapshot matrix is %dx%d, header wants %dx%d", ErrInvalidArgument, rows, cols, h.NumSnapshots, 2*h.TotalSamples())
	}
	head, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	sb, err := EncodeSubbeams(h, subbeams)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(head)+len(sb)+4*rows*cols)
	out = append(out, head...)
	out = append(out, sb...)
	var word [4]byte
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(float32(snapshots.At(i, j))))
			out = append(out, word[:]...)
		}
	}
	return out, nil
}
