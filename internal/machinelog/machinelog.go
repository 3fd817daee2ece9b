// Package machinelog loads trajectory logs and dynalogs behind one type and
// wires the parsed axes into MLC statistics and fluence/gamma analysis.
package machinelog

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/user/machinelog_analyzer_go/internal/analysis"
	"github.com/user/machinelog_analyzer_go/internal/fluence"
	"github.com/user/machinelog_analyzer_go/internal/logutil"
	"github.com/user/machinelog_analyzer_go/internal/parser"
)

var (
	ErrInvalidFormat   = parser.ErrInvalidFormat
	ErrMissingPairFile = parser.ErrMissingPairFile
	ErrStateNotReady   = parser.ErrStateNotReady
	ErrInvalidArgument = parser.ErrInvalidArgument
)

// Options control how a log is decoded.
type Options struct {
	// ExcludeBeamOff restricts statistics and fluence to beam-on snapshots.
	ExcludeBeamOff bool
}

// DefaultOptions excludes beam-off snapshots.
func DefaultOptions() Options {
	return Options{ExcludeBeamOff: true}
}

// MachineLog is one decoded log. For a dynalog Path is the A-file and
// TlogHeader and Subbeams are nil; for a trajectory log DlogHeader is nil.
type MachineLog struct {
	Path   string
	Format parser.Format

	TlogHeader *parser.TlogHeader
	Subbeams   []parser.Subbeam
	DlogHeader *parser.DlogHeader

	AxisData *parser.AxisData
	MLC      *analysis.MLC
	Fluence  *fluence.Fluence
}

// Load detects the format of path and decodes it. A dynalog may be loaded
// from either half of its pair.
func Load(path string, opts Options) (*MachineLog, error) {
	format, err := parser.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	log := &MachineLog{Path: path, Format: format}

	switch format {
	case parser.FormatTlog:
		tlog, err := parser.ParseTlog(path, opts.ExcludeBeamOff)
		if err != nil {
			return nil, err
		}
		log.TlogHeader = tlog.Header
		log.Subbeams = tlog.Subbeams
		log.AxisData = tlog.AxisData
	case parser.FormatDlog:
		dlog, err := parser.ParseDlog(path, opts.ExcludeBeamOff)
		if err != nil {
			return nil, err
		}
		log.Path = dlog.APath
		log.DlogHeader = dlog.Header
		log.AxisData = dlog.AxisData
	default:
		return nil, &parser.FormatError{Path: path, Reason: "not a trajectory log or dynalog"}
	}

	if err := log.build(); err != nil {
		return nil, err
	}
	logutil.GetLogger().Debug("parsed machine log",
		zap.String("path", log.Path),
		zap.Stringer("format", log.Format),
		zap.Int("snapshots", log.NumSnapshots()),
		zap.Int("leaves", log.MLC.NumLeaves()),
		zap.Int("beamOnSnapshots", len(log.AxisData.SnapshotIdx)))
	return log, nil
}

// FromAxisData wraps already decoded axes, e.g. from a log held in memory.
func FromAxisData(path string, format parser.Format, data *parser.AxisData) (*MachineLog, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: axis data is nil", ErrInvalidArgument)
	}
	log := &MachineLog{Path: path, Format: format, AxisData: data}
	if err := log.build(); err != nil {
		return nil, err
	}
	return log, nil
}

func (l *MachineLog) build() error {
	d := l.AxisData
	mlc, err := analysis.NewMLC(d.Leaves, &d.Jaws, d.SnapshotIdx, d.HDMLC)
	if err != nil {
		return fmt.Errorf("failed to build MLC for %s: %w", l.Path, err)
	}
	if d.MU == nil {
		return &parser.FormatError{Path: l.Path, Reason: "log has no MU axis"}
	}
	l.MLC = mlc
	l.Fluence = fluence.New(mlc, d.MU)
	return nil
}

// NumSnapshots is the total, unfiltered snapshot count.
func (l *MachineLog) NumSnapshots() int { return l.AxisData.NumSnapshots }

// NumBeamholds counts transitions from normal delivery into beam hold.
func (l *MachineLog) NumBeamholds() int { return l.AxisData.NumBeamholds() }

// IsIMRT reports whether any leaf pair moved during delivery.
func (l *MachineLog) IsIMRT() bool {
	for pair := 1; pair <= l.MLC.NumPairs(); pair++ {
		if l.MLC.PairMoved(pair) {
			return true
		}
	}
	return false
}

// CalcGamma computes both fluence maps at p.Resolution and the gamma map.
func (l *MachineLog) CalcGamma(p fluence.Params) (*fluence.Gamma, error) {
	if _, err := l.Fluence.Gamma.Calc(p); err != nil {
		return nil, fmt.Errorf("gamma for %s: %w", l.Path, err)
	}
	return l.Fluence.Gamma, nil
}

// LeafReport runs the per-leaf error analysis.
func (l *MachineLog) LeafReport(toleranceCM float64) (*analysis.LeafReport, error) {
	return analysis.AnalyzeLeaves(l.MLC, toleranceCM)
}
