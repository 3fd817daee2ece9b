package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/user/machinelog_analyzer_go/internal/config"
	"github.com/user/machinelog_analyzer_go/internal/logutil"
)

func main() {
	input := flag.String("input", "", "Trajectory log, dynalog or directory of logs")
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration file")
	recursive := flag.Bool("recursive", false, "Descend into subdirectories (overrides config)")
	writePDF := flag.Bool("pdf", true, "Write a PDF report per log")
	writeCSV := flag.Bool("csv", false, "Export each log to CSV")
	resolution := flag.Float64("resolution", 0, "Fluence resolution in mm (overrides config)")
	verbose := flag.Bool("verbose", false, "Enable debug logging (overrides config)")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -input is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Explicitly set flags override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "recursive":
			cfg.Batch.Recursive = *recursive
		case "resolution":
			cfg.Analysis.Resolution = *resolution
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logutil.InitLogger(cfg.Output.Verbose)
	logger := logutil.GetLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := NewApp(ctx, cfg, *writePDF, *writeCSV)
	if err := app.Run(*input); err != nil {
		logger.Error("analysis failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
