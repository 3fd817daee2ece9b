package machinelog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/user/machinelog_analyzer_go/internal/fluence"
	"github.com/user/machinelog_analyzer_go/internal/parser"
)

const testLeaves = 4

// testParams are coarse enough to keep the fixtures fast.
var testParams = fluence.Params{DoseTA: 1, DistTA: 1, Threshold: 10, Resolution: 1}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// writeTlog writes a trajectory log with 13 single-sample axes and an MLC
// axis of testLeaves leaves. With moving set, pair 1 opens by 5 mm per
// snapshot; actual and expected values are always equal.
func writeTlog(t *testing.T, path string, snapshots int, moving bool) {
	t.Helper()
	const axes = 14
	enum := make([]int, axes)
	samples := make([]int, axes)
	for i := range samples {
		enum[i] = i
		samples[i] = 1
	}
	samples[axes-1] = testLeaves + 2
	h := &parser.TlogHeader{
		Signature:        parser.TlogSignature,
		Version:          3,
		HeaderSize:       parser.TlogHeaderSize,
		SamplingInterval: 20,
		NumAxes:          axes,
		AxisEnumeration:  enum,
		SamplesPerAxis:   samples,
		NumMLCLeaves:     testLeaves,
		AxisScale:        1,
		NumSnapshots:     snapshots,
		MLCModel:         2,
	}
	cols := 2 * h.TotalSamples()
	m := mat.NewDense(snapshots, cols, nil)
	for s := 0; s < snapshots; s++ {
		row := make([]float64, cols/2)
		row[2], row[3] = 20, 20 // jaws Y1, Y2
		row[4], row[5] = 10, 10 // jaws X1, X2
		row[10] = float64(s + 1) // MU
		for i := 0; i < testLeaves; i++ {
			pos := 1.0
			if moving && (i == 0 || i == testLeaves/2) {
				pos += 0.5 * float64(s)
			}
			row[15+i] = pos
		}
		for j, v := range row {
			m.Set(s, 2*j, v)
			m.Set(s, 2*j+1, v)
		}
	}
	buf, err := parser.EncodeTlog(h, nil, m)
	if err != nil {
		t.Fatalf("EncodeTlog failed: %v", err)
	}
	writeFile(t, path, buf)
}

// writeDlog writes one dynalog half with testLeaves/2 static pairs.
func writeDlog(t *testing.T, path string, snapshots int) {
	t.Helper()
	pairs := testLeaves / 2
	var b strings.Builder
	fmt.Fprintf(&b, "B\nDoe,Jane,1\nplan.dlg\n3\n%d\n0\n", pairs)
	for s := 0; s < snapshots; s++ {
		fields := make([]string, 14+4*(pairs-1)+2)
		for j := range fields {
			fields[j] = "0"
		}
		fields[0] = fmt.Sprint(s * 1000)
		fields[3] = "1"
		fields[8], fields[9] = "200", "200"
		fields[10], fields[11] = "100", "100"
		for p := 0; p < pairs; p++ {
			fields[14+4*p] = "1000"
			fields[15+4*p] = "1000"
		}
		b.WriteString(strings.Join(fields, ",") + "\n")
	}
	writeFile(t, path, []byte(b.String()))
}

func TestLoadTlog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.bin")
	writeTlog(t, path, 10, true)

	log, err := Load(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if log.Format != parser.FormatTlog || log.TlogHeader == nil || log.DlogHeader != nil {
		t.Fatalf("unexpected log %+v", log)
	}
	if log.NumSnapshots() != 10 || log.MLC.NumLeaves() != testLeaves {
		t.Errorf("got %d snapshots and %d leaves", log.NumSnapshots(), log.MLC.NumLeaves())
	}
	if !log.IsIMRT() {
		t.Error("log with a moving pair is not IMRT")
	}
	if log.NumBeamholds() != 0 {
		t.Errorf("NumBeamholds = %d, want 0", log.NumBeamholds())
	}

	g, err := log.CalcGamma(testParams)
	if err != nil {
		t.Fatalf("CalcGamma failed: %v", err)
	}
	if pass, _ := g.PassPercent(); pass != 100 {
		t.Errorf("PassPercent = %v, want 100", pass)
	}
	if _, err := log.CalcGamma(fluence.Params{Resolution: 1}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("CalcGamma with distTA 0: error = %v, want ErrInvalidArgument", err)
	}

	report, err := log.LeafReport(0.1)
	if err != nil {
		t.Fatalf("LeafReport failed: %v", err)
	}
	if len(report.Results) != testLeaves || len(report.OutOfTolerance()) != 0 {
		t.Errorf("leaf report has %d results, %d out of tolerance", len(report.Results), len(report.OutOfTolerance()))
	}
}

func TestLoadStaticTlogIsNotIMRT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "static.bin")
	writeTlog(t, path, 5, false)
	log, err := Load(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if log.IsIMRT() {
		t.Error("static log reported as IMRT")
	}
}

func TestLoadDlogFromEitherHalf(t *testing.T) {
	dir := t.TempDir()
	writeDlog(t, filepath.Join(dir, "A1.dlg"), 4)
	writeDlog(t, filepath.Join(dir, "B1.dlg"), 4)

	for _, name := range []string{"A1.dlg", "B1.dlg"} {
		log, err := Load(filepath.Join(dir, name), DefaultOptions())
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", name, err)
		}
		if log.Path != filepath.Join(dir, "A1.dlg") {
			t.Errorf("Load(%s) path = %s, want the A-file", name, log.Path)
		}
		if log.Format != parser.FormatDlog || log.DlogHeader == nil || log.TlogHeader != nil {
			t.Errorf("Load(%s) gave %v with tlog header %v", name, log.Format, log.TlogHeader)
		}
		if log.IsIMRT() {
			t.Errorf("Load(%s): static dynalog reported as IMRT", name)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "notes.txt")
	writeFile(t, garbage, []byte("hello"))
	if _, err := Load(garbage, DefaultOptions()); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Load(garbage) error = %v, want ErrInvalidFormat", err)
	}

	orphan := filepath.Join(dir, "A5.dlg")
	writeDlog(t, orphan, 3)
	if _, err := Load(orphan, DefaultOptions()); !errors.Is(err, ErrMissingPairFile) {
		t.Errorf("Load(orphan) error = %v, want ErrMissingPairFile", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.bin"), DefaultOptions()); err == nil {
		t.Error("Load of a missing file returned no error")
	}
	if _, err := FromAxisData("x", parser.FormatTlog, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("FromAxisData(nil) error = %v, want ErrInvalidArgument", err)
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.bin")
	writeTlog(t, path, 3, true)
	log, err := Load(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var buf bytes.Buffer
	if err := log.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("exported CSV is unreadable: %v", err)
	}
	if records[0][0] != "Tlog File" || records[0][1] != path {
		t.Errorf("first row = %v", records[0])
	}
	rows := make(map[string][]string)
	for _, rec := range records {
		rows[rec[0]] = rec[1:]
	}
	if got := rows["MU Actual"]; len(got) != 3 || got[2] != "3" {
		t.Errorf("MU Actual row = %v, want 3 samples ending in 3", got)
	}
	if got := rows["Leaf 1 Expected"]; len(got) != 3 || got[1] != "1.5" {
		t.Errorf("Leaf 1 Expected row = %v", got)
	}
	if _, ok := rows[fmt.Sprintf("Leaf %d Actual", testLeaves)]; !ok {
		t.Error("last leaf missing from export")
	}
	if _, ok := rows["Beam On Actual"]; ok {
		t.Error("dynalog-only axis exported for a trajectory log")
	}

	if want := strings.TrimSuffix(path, ".bin") + ".csv"; log.CSVPath() != want {
		t.Errorf("CSVPath = %s, want %s", log.CSVPath(), want)
	}
	if err := log.ToCSV(log.CSVPath()); err != nil {
		t.Fatalf("ToCSV failed: %v", err)
	}
	written, err := os.ReadFile(log.CSVPath())
	if err != nil || len(written) == 0 {
		t.Errorf("ToCSV wrote %d bytes, err %v", len(written), err)
	}
}
