package machinelog

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/user/machinelog_analyzer_go/internal/fluence"
	"github.com/user/machinelog_analyzer_go/internal/logutil"
	"github.com/user/machinelog_analyzer_go/internal/parser"
)

// MachineLogs is a batch of logs collected from a directory.
type MachineLogs struct {
	opts    Options
	workers int

	logs    []*MachineLog
	skipped error
}

// NewMachineLogs returns an empty batch. workers <= 0 uses one worker per CPU.
func NewMachineLogs(opts Options, workers int) *MachineLogs {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &MachineLogs{opts: opts, workers: workers}
}

// LoadDir collects every log under dir into a new batch.
func LoadDir(dir string, recursive bool, opts Options, workers int) (*MachineLogs, error) {
	logs := NewMachineLogs(opts, workers)
	if err := logs.LoadDir(dir, recursive); err != nil {
		return nil, err
	}
	return logs, nil
}

// Len is the number of loaded logs.
func (m *MachineLogs) Len() int { return len(m.logs) }

// Logs returns the loaded logs in path order.
func (m *MachineLogs) Logs() []*MachineLog { return m.logs }

func (m *MachineLogs) count(f parser.Format) int {
	n := 0
	for _, l := range m.logs {
		if l.Format == f {
			n++
		}
	}
	return n
}

func (m *MachineLogs) NumTlogs() int { return m.count(parser.FormatTlog) }

func (m *MachineLogs) NumDlogs() int { return m.count(parser.FormatDlog) }

// Skipped returns the combined errors of the files left out of the batch,
// or nil. multierr.Errors splits it into individual errors.
func (m *MachineLogs) Skipped() error { return m.skipped }

// NumSkipped is the number of files left out of the batch.
func (m *MachineLogs) NumSkipped() int { return len(multierr.Errors(m.skipped)) }

// candidates lists the log files under dir. B-halves of dynalogs are left
// out since each pair is loaded through its A-file. Orphaned halves and
// entries that cannot be read are reported as skipped.
func (m *MachineLogs) candidates(dir string, recursive bool) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			m.skip(path, err)
			return nil
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		format, err := parser.DetectFormat(path)
		if err != nil {
			m.skip(path, err)
			return nil
		}
		switch format {
		case parser.FormatTlog:
			paths = append(paths, path)
		case parser.FormatDlog:
			pair, pairErr := parser.DlogPairPath(path)
			switch {
			case pairErr != nil:
				m.skip(path, &parser.FormatError{Path: path, Reason: "dynalog name does not start with A or B"})
			case !parser.HasPair(path):
				m.skip(path, &parser.MissingPairError{Path: path, PairPath: pair})
			case parser.IsDlogAFile(path):
				paths = append(paths, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return paths, nil
}

func (m *MachineLogs) skip(path string, err error) {
	logutil.GetLogger().Warn("skipping file", zap.String("path", path), zap.Error(err))
	m.skipped = multierr.Append(m.skipped, err)
}

// softError reports whether a load failure only excludes the file from the batch.
func softError(err error) bool {
	return errors.Is(err, parser.ErrInvalidFormat) || errors.Is(err, parser.ErrMissingPairFile)
}

type loadResult struct {
	path string
	log  *MachineLog
	err  error
}

// LoadDir adds every log under dir, descending into subdirectories when
// recursive is set. Files that are not valid logs or lack their dynalog pair
// are skipped, as are entries that cannot be opened while scanning. Any
// other failure aborts the load.
func (m *MachineLogs) LoadDir(dir string, recursive bool) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to open log directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", parser.ErrInvalidArgument, dir)
	}
	paths, err := m.candidates(dir, recursive)
	if err != nil {
		return err
	}

	jobs := make(chan string)
	results := make(chan loadResult, len(paths))
	var wg sync.WaitGroup
	for w := 0; w < min(m.workers, max(len(paths), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				log, err := Load(path, m.opts)
				results <- loadResult{path: path, log: log, err: err}
			}
		}()
	}
	for _, path := range paths {
		jobs <- path
	}
	close(jobs)
	wg.Wait()
	close(results)

	var loaded []*MachineLog
	var hard error
	for res := range results {
		switch {
		case res.err == nil:
			loaded = append(loaded, res.log)
		case softError(res.err):
			m.skip(res.path, res.err)
		default:
			hard = multierr.Append(hard, fmt.Errorf("%s: %w", res.path, res.err))
		}
	}
	if hard != nil {
		return hard
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Path < loaded[j].Path })
	m.logs = append(m.logs, loaded...)

	logutil.GetLogger().Info("loaded log directory",
		zap.String("dir", dir),
		zap.Int("tlogs", m.NumTlogs()),
		zap.Int("dlogs", m.NumDlogs()),
		zap.Int("skipped", m.NumSkipped()))
	return nil
}

// Append loads a single file, or every log in a directory, into the batch.
// Unlike LoadDir, a failing single file is returned rather than skipped.
func (m *MachineLogs) Append(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if info.IsDir() {
		return m.LoadDir(path, false)
	}
	log, err := Load(path, m.opts)
	if err != nil {
		return err
	}
	m.logs = append(m.logs, log)
	return nil
}

func (m *MachineLogs) gammaStat(p fluence.Params, metric func(*fluence.Gamma) (float64, error)) ([]float64, error) {
	if len(m.logs) == 0 {
		return nil, fmt.Errorf("%w: no logs loaded", parser.ErrStateNotReady)
	}
	vals := make([]float64, 0, len(m.logs))
	for _, l := range m.logs {
		g, err := l.CalcGamma(p)
		if err != nil {
			return nil, err
		}
		v, err := metric(g)
		if err != nil {
			return nil, err
		}
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	return vals, nil
}

// AvgGamma is the mean of the per-log average gamma. Logs without any
// defined gamma value are left out; NaN when none remain.
func (m *MachineLogs) AvgGamma(p fluence.Params) (float64, error) {
	vals, err := m.gammaStat(p, (*fluence.Gamma).AvgGamma)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return math.NaN(), nil
	}
	return stat.Mean(vals, nil), nil
}

// AvgGammaPct is the mean pass percentage over all logs.
func (m *MachineLogs) AvgGammaPct(p fluence.Params) (float64, error) {
	vals, err := m.gammaStat(p, (*fluence.Gamma).PassPercent)
	if err != nil {
		return 0, err
	}
	return stat.Mean(vals, nil), nil
}
