package machinelog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/user/machinelog_analyzer_go/internal/logutil"
	"github.com/user/machinelog_analyzer_go/internal/parser"
)

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// headerRows lists the scalar header fields as description, value, unit.
func (l *MachineLog) headerRows() [][]string {
	switch {
	case l.TlogHeader != nil:
		h := l.TlogHeader
		return [][]string{
			{"Tlog File", l.Path, ""},
			{"Signature", h.Signature, ""},
			{"Version", formatFloat(h.Version), ""},
			{"Header Size", strconv.Itoa(h.HeaderSize), "bytes"},
			{"Sampling Interval", strconv.Itoa(h.SamplingInterval), "ms"},
			{"Number of Axes", strconv.Itoa(h.NumAxes), ""},
			{"Axis Enumeration", joinInts(h.AxisEnumeration), ""},
			{"Samples per Axis", joinInts(h.SamplesPerAxis), ""},
			{"Axis Scale", strconv.Itoa(h.AxisScale), ""},
			{"Number of Subbeams", strconv.Itoa(h.NumSubbeams), ""},
			{"Is Truncated?", strconv.FormatBool(h.IsTruncated), ""},
			{"Number of Snapshots", strconv.Itoa(h.NumSnapshots), ""},
			{"MLC Model", strconv.Itoa(h.MLCModel), ""},
		}
	case l.DlogHeader != nil:
		h := l.DlogHeader
		return [][]string{
			{"Dlog File", l.Path, ""},
			{"Version", h.Version, ""},
			{"Patient Name", strings.Join(h.PatientName, " "), ""},
			{"Plan Filename", strings.Join(h.PlanFilename, " "), ""},
			{"Tolerance", strconv.Itoa(h.Tolerance), "1/100 mm"},
			{"Number of Leaves", strconv.Itoa(h.NumMLCLeaves), ""},
			{"Clinac Scale", strconv.Itoa(h.ClinacScale), ""},
			{"Number of Snapshots", strconv.Itoa(l.NumSnapshots()), ""},
		}
	}
	return nil
}

func seriesRow(label string, v []float64) []string {
	row := make([]string, 0, len(v)+1)
	row = append(row, label)
	for _, x := range v {
		row = append(row, formatFloat(x))
	}
	return row
}

func axisRows(name string, ax *parser.Axis) [][]string {
	var rows [][]string
	if ax.HasExpected() {
		rows = append(rows, seriesRow(name+" Expected", ax.Expected))
	}
	return append(rows, seriesRow(name+" Actual", ax.Actual))
}

// WriteCSV writes the header fields followed by every axis time series.
func (l *MachineLog) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, row := range l.headerRows() {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	for _, na := range l.AxisData.Axes() {
		if err := cw.WriteAll(axisRows(na.Name, na.Axis)); err != nil {
			return fmt.Errorf("failed to write %s: %w", na.Name, err)
		}
	}
	for i, leaf := range l.AxisData.Leaves {
		if err := cw.WriteAll(axisRows(fmt.Sprintf("Leaf %d", i+1), &leaf.Axis)); err != nil {
			return fmt.Errorf("failed to write leaf %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ToCSV writes the export to path, creating or truncating it.
func (l *MachineLog) ToCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	if err := l.WriteCSV(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close CSV file: %w", err)
	}
	logutil.GetLogger().Info("CSV exported", zap.String("log", l.Path), zap.String("csv", path))
	return nil
}

// CSVPath returns the export file name for the log: its path with a .csv extension.
func (l *MachineLog) CSVPath() string {
	return strings.TrimSuffix(l.Path, filepath.Ext(l.Path)) + ".csv"
}
