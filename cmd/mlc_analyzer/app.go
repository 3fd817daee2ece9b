package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/user/machinelog_analyzer_go/internal/config"
	"github.com/user/machinelog_analyzer_go/internal/logutil"
	"github.com/user/machinelog_analyzer_go/internal/machinelog"
	"github.com/user/machinelog_analyzer_go/internal/report"
)

// App runs the analysis pipeline for one log or a directory of logs.
type App struct {
	ctx context.Context
	cfg *config.Config

	writePDF bool
	writeCSV bool
}

// NewApp creates a new App. A cancelled ctx stops a batch between logs.
func NewApp(ctx context.Context, cfg *config.Config, writePDF, writeCSV bool) *App {
	return &App{ctx: ctx, cfg: cfg, writePDF: writePDF, writeCSV: writeCSV}
}

func (a *App) sendStatus(message string, fields ...zap.Field) {
	logutil.GetLogger().Info(message, fields...)
}

// Run analyzes input, which may be a log file or a directory.
func (a *App) Run(input string) error {
	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	if !info.IsDir() {
		_, err := a.HandleGenerateReport(input)
		return err
	}

	a.sendStatus("Loading directory", zap.String("dir", input), zap.Bool("recursive", a.cfg.Batch.Recursive))
	logs, err := machinelog.LoadDir(input, a.cfg.Batch.Recursive, a.cfg.LoadOptions(), a.cfg.Batch.Workers)
	if err != nil {
		return err
	}
	a.sendStatus("Directory loaded",
		zap.Int("tlogs", logs.NumTlogs()),
		zap.Int("dlogs", logs.NumDlogs()),
		zap.Int("skipped", logs.NumSkipped()))
	if logs.Len() == 0 {
		return fmt.Errorf("no machine logs found in %s", input)
	}

	var failed error
	for _, log := range logs.Logs() {
		if err := a.process(log); err != nil {
			a.sendStatus("Log failed", zap.String("path", log.Path), zap.Error(err))
			failed = multierr.Append(failed, err)
		}
		if err := a.ctx.Err(); err != nil {
			return err
		}
	}

	params := a.cfg.GammaParams()
	avg, err := logs.AvgGamma(params)
	if err != nil {
		return multierr.Append(failed, err)
	}
	pct, err := logs.AvgGammaPct(params)
	if err != nil {
		return multierr.Append(failed, err)
	}
	a.sendStatus("Batch gamma", zap.Float64("avgGamma", avg), zap.Float64("avgPassPercent", pct), zap.Int("logs", logs.Len()))
	return failed
}

// HandleGenerateReport loads a single log and writes its outputs. It
// returns a status message on success.
func (a *App) HandleGenerateReport(logPath string) (string, error) {
	a.sendStatus("Parsing", zap.String("path", logPath))
	log, err := machinelog.Load(logPath, a.cfg.LoadOptions())
	if err != nil {
		switch {
		case errors.Is(err, machinelog.ErrMissingPairFile):
			return "", fmt.Errorf("dynalog pair incomplete: %w", err)
		case errors.Is(err, machinelog.ErrInvalidFormat):
			return "", fmt.Errorf("not a readable machine log: %w", err)
		}
		return "", err
	}
	if err := a.process(log); err != nil {
		return "", err
	}
	return fmt.Sprintf("Analysis complete: %s", log.Path), nil
}

func (a *App) outputPath(log *machinelog.MachineLog, ext string) string {
	base := strings.TrimSuffix(filepath.Base(log.Path), filepath.Ext(log.Path))
	dir := a.cfg.Output.ReportDir
	if dir == "" {
		dir = filepath.Dir(log.Path)
	}
	return filepath.Join(dir, base+ext)
}

func (a *App) process(log *machinelog.MachineLog) error {
	params := a.cfg.GammaParams()

	a.sendStatus("Analyzing",
		zap.String("path", log.Path),
		zap.Stringer("format", log.Format),
		zap.Int("snapshots", log.NumSnapshots()),
		zap.Bool("imrt", log.IsIMRT()))

	summary, err := report.Summarize(log, params, a.cfg.Analysis.ToleranceCM)
	if err != nil {
		return fmt.Errorf("analysis of %s failed: %w", log.Path, err)
	}
	a.sendStatus("Gamma",
		zap.String("path", log.Path),
		zap.Float64("passPercent", summary.PassPercent),
		zap.Float64("avgGamma", summary.AvgGamma),
		zap.Int("outOfTolerance", len(summary.Leaves.OutOfTolerance())))
	for _, msg := range summary.Leaves.AnalysisErrors {
		a.sendStatus("Analysis warning", zap.String("path", log.Path), zap.String("warning", msg))
	}

	if a.cfg.Output.ReportDir != "" && (a.writeCSV || a.writePDF) {
		if err := os.MkdirAll(a.cfg.Output.ReportDir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if a.writeCSV {
		csvPath := a.outputPath(log, ".csv")
		if err := log.ToCSV(csvPath); err != nil {
			return err
		}
	}
	if a.writePDF {
		pdfPath := a.outputPath(log, ".pdf")
		a.sendStatus("Generating PDF", zap.String("pdf", pdfPath))
		if err := report.BuildPDFReport(pdfPath, summary); err != nil {
			return fmt.Errorf("error generating PDF report: %w", err)
		}
		a.sendStatus("PDF report generated", zap.String("pdf", pdfPath))
	}
	return nil
}
