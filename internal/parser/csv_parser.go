package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const (
	// LeafPlaneToIsoplane scales dynalog leaf positions from the leaf plane to isocentre.
	LeafPlaneToIsoplane = 1.96614

	dlogHeaderRows   = 6
	dlogFirstLeafCol = 14
	dlogLeafStride   = 4
)

// Dynalog data columns.
const (
	dcolMU                = 0
	dcolPreviousSegment   = 1
	dcolBeamHold          = 2
	dcolBeamOn            = 3
	dcolPreviousDoseIndex = 4
	dcolNextDoseIndex     = 5
	dcolGantry            = 6
	dcolCollimator        = 7
	dcolJawY1             = 8
	dcolJawY2             = 9
	dcolJawX1             = 10
	dcolJawX2             = 11
	dcolCarriageA         = 12
	dcolCarriageB         = 13
)

// Dlog is a decoded dynalog pair.
type Dlog struct {
	Header   *DlogHeader
	AxisData *AxisData
	APath    string
	BPath    string
}

// RowIterator hands out CSV rows one at a time. Rows consumed are not revisited.
type RowIterator struct {
	rows [][]string
	pos  int
}

func NewRowIterator(rows [][]string) *RowIterator {
	return &RowIterator{rows: rows}
}

// Next returns the next row, or false when the rows are exhausted.
func (it *RowIterator) Next() ([]string, bool) {
	if it.pos >= len(it.rows) {
		return nil, false
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true
}

// Remaining is the number of rows not yet consumed.
func (it *RowIterator) Remaining() int { return len(it.rows) - it.pos }

// readDlogRows reads every row of a dynalog file.
func readDlogRows(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dynalog: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1 // header rows carry fewer fields than data rows

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &FormatError{Path: path, Reason: "failed to read CSV data", Cause: err}
	}
	return rows, nil
}

func firstInt(row []string, what string) (int, error) {
	if len(row) == 0 {
		return 0, newFormatError("empty %s row", what)
	}
	n, err := strconv.Atoi(strings.TrimSpace(row[0]))
	if err != nil {
		return 0, &FormatError{Reason: fmt.Sprintf("%s %q is not an integer", what, row[0]), Cause: err}
	}
	return n, nil
}

// ReadDlogHeader consumes the six header rows from rows.
func ReadDlogHeader(rows *RowIterator) (*DlogHeader, error) {
	if rows.Remaining() < dlogHeaderRows {
		return nil, newFormatError("dynalog header needs %d rows, file has %d", dlogHeaderRows, rows.Remaining())
	}
	h := &DlogHeader{}
	row, _ := rows.Next()
	if len(row) == 0 {
		return nil, newFormatError("empty version row")
	}
	h.Version = strings.TrimSpace(row[0])
	h.PatientName, _ = rows.Next()
	h.PlanFilename, _ = rows.Next()

	var err error
	row, _ = rows.Next()
	if h.Tolerance, err = firstInt(row, "tolerance"); err != nil {
		return nil, err
	}
	row, _ = rows.Next()
	pairs, err := firstInt(row, "leaf pair count")
	if err != nil {
		return nil, err
	}
	if pairs <= 0 {
		return nil, newFormatError("leaf pair count %d", pairs)
	}
	h.NumMLCLeaves = 2 * pairs
	row, _ = rows.Next()
	if h.ClinacScale, err = firstInt(row, "clinac scale"); err != nil {
		return nil, err
	}
	return h, nil
}

// readDlogMatrix parses the data rows into a snapshot matrix holding the
// first cols columns of each row.
func readDlogMatrix(rows *RowIterator, cols int) (*mat.Dense, error) {
	n := rows.Remaining()
	if n == 0 {
		return nil, newFormatError("dynalog has no snapshot rows")
	}
	m := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		row, _ := rows.Next()
		if len(row) < cols {
			return nil, newFormatError("snapshot row %d has %d fields, need %d", i+1, len(row), cols)
		}
		for j := 0; j < cols; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
			if err != nil {
				return nil, &FormatError{Reason: fmt.Sprintf("snapshot row %d column %d: %q", i+1, j, row[j]), Cause: err}
			}
			m.Set(i, j, v)
		}
	}
	return m, nil
}

func dlogColumns(numLeaves int) int {
	pairs := numLeaves / 2
	return dlogFirstLeafCol + dlogLeafStride*(pairs-1) + 2
}

// ReadDlogAxisData parses the A-file snapshot rows left in rows and the bank B
// leaves from the sibling file at bPath. When excludeBeamOff is set only
// snapshots with no beam hold and the beam on are kept in SnapshotIdx.
func ReadDlogAxisData(rows *RowIterator, h *DlogHeader, bPath string, excludeBeamOff bool) (*AxisData, error) {
	cols := dlogColumns(h.NumMLCLeaves)
	a, err := readDlogMatrix(rows, cols)
	if err != nil {
		return nil, err
	}
	numSnapshots, _ := a.Dims()

	bRows, err := readDlogRows(bPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingPairError{PairPath: bPath}
		}
		return nil, err
	}
	bIt := NewRowIterator(bRows)
	bHeader, err := ReadDlogHeader(bIt)
	if err != nil {
		return nil, withPath(err, bPath)
	}
	if bHeader.NumMLCLeaves != h.NumMLCLeaves {
		return nil, &FormatError{Path: bPath, Reason: fmt.Sprintf("B-file declares %d leaves, A-file %d", bHeader.NumMLCLeaves, h.NumMLCLeaves)}
	}
	b, err := readDlogMatrix(bIt, cols)
	if err != nil {
		return nil, withPath(err, bPath)
	}
	if bn, _ := b.Dims(); bn != numSnapshots {
		return nil, &FormatError{Path: bPath, Reason: fmt.Sprintf("B-file has %d snapshots, A-file %d", bn, numSnapshots)}
	}

	col := func(m *mat.Dense, j int, scale float64) []float64 {
		v := mat.Col(nil, j, m)
		if scale != 1 {
			for i := range v {
				v[i] /= scale
			}
		}
		return v
	}
	actualOnly := func(j int, scale float64) *Axis {
		return &Axis{Actual: col(a, j, scale)}
	}

	mu := col(a, dcolMU, 1)
	data := &AxisData{
		NumSnapshots:      numSnapshots,
		MU:                &Axis{Actual: mu, Expected: append([]float64(nil), mu...)},
		PreviousSegment:   actualOnly(dcolPreviousSegment, 1),
		BeamHold:          actualOnly(dcolBeamHold, 1),
		BeamOn:            actualOnly(dcolBeamOn, 1),
		PreviousDoseIndex: actualOnly(dcolPreviousDoseIndex, 1),
		NextDoseIndex:     actualOnly(dcolNextDoseIndex, 1),
		Gantry:            actualOnly(dcolGantry, 10),
		Collimator:        actualOnly(dcolCollimator, 10),
		Jaws: JawStruct{
			Y1: actualOnly(dcolJawY1, 10),
			Y2: actualOnly(dcolJawY2, 10),
			X1: actualOnly(dcolJawX1, 10),
			X2: actualOnly(dcolJawX2, 10),
		},
		CarriageA: actualOnly(dcolCarriageA, 1000),
		CarriageB: actualOnly(dcolCarriageB, 1000),
		Leaves:    make([]*LeafAxis, h.NumMLCLeaves),
	}

	pairs := h.NumMLCLeaves / 2
	for bank, m := range []*mat.Dense{a, b} {
		for i := 0; i < pairs; i++ {
			j := dlogFirstLeafCol + dlogLeafStride*i
			leaf, err := NewLeafAxis(toIsoplane(mat.Col(nil, j+1, m)), toIsoplane(mat.Col(nil, j, m)))
			if err != nil {
				return nil, err
			}
			data.Leaves[bank*pairs+i] = leaf
		}
	}

	hold, on := data.BeamHold.Actual, data.BeamOn.Actual
	data.SnapshotIdx = beamOnIndices(numSnapshots, func(i int) bool {
		return !excludeBeamOff || (hold[i] == BeamHoldNormal && on[i] == 1)
	})
	return data, nil
}

// toIsoplane converts leaf-plane hundredths of mm to isoplane cm in place.
func toIsoplane(v []float64) []float64 {
	for i := range v {
		v[i] = v[i] * LeafPlaneToIsoplane / 1000
	}
	return v
}

// ParseDlog reads a dynalog pair. path may name either half; the A-file is
// always read as bank A.
func ParseDlog(path string, excludeBeamOff bool) (*Dlog, error) {
	pair, err := DlogPairPath(path)
	if err != nil {
		return nil, err
	}
	aPath, bPath := path, pair
	if !IsDlogAFile(path) {
		aPath, bPath = pair, path
	}
	if _, err := os.Stat(pair); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingPairError{Path: path, PairPath: pair}
		}
		return nil, fmt.Errorf("failed to stat dynalog pair: %w", err)
	}

	rows, err := readDlogRows(aPath)
	if err != nil {
		return nil, err
	}
	it := NewRowIterator(rows)
	h, err := ReadDlogHeader(it)
	if err != nil {
		return nil, withPath(err, aPath)
	}
	data, err := ReadDlogAxisData(it, h, bPath, excludeBeamOff)
	if err != nil {
		var mp *MissingPairError
		if errors.As(err, &mp) {
			mp.Path = aPath
			return nil, mp
		}
		return nil, withPath(err, aPath)
	}
	return &Dlog{Header: h, AxisData: data, APath: aPath, BPath: bPath}, nil
}
