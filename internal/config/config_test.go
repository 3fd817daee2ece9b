package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/machinelog_analyzer_go/internal/fluence"
	"github.com/user/machinelog_analyzer_go/internal/parser"
)

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.GammaParams() != fluence.DefaultParams() {
		t.Errorf("gamma params = %+v, want defaults", cfg.GammaParams())
	}
	if !cfg.Analysis.ExcludeBeamOff || !cfg.LoadOptions().ExcludeBeamOff {
		t.Error("beam-off snapshots are not excluded by default")
	}
	if cfg.Analysis.ToleranceCM != 0.1 || !cfg.Batch.Recursive || cfg.Batch.Workers < 1 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "analysis:\n  resolution: 0.5\n  doseTA: 2\n  excludeBeamOff: false\nbatch:\n  workers: 3\noutput:\n  reportDir: reports\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	want := fluence.Params{DoseTA: 2, DistTA: 1, Threshold: 10, Resolution: 0.5}
	if cfg.GammaParams() != want {
		t.Errorf("gamma params = %+v, want %+v", cfg.GammaParams(), want)
	}
	if cfg.Analysis.ExcludeBeamOff || cfg.Batch.Workers != 3 || cfg.Output.ReportDir != "reports" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if !cfg.Batch.Recursive {
		t.Error("unset field lost its default")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Analysis.Threshold = 25
	cfg.Output.Verbose = true
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *got != *cfg {
		t.Errorf("round trip gave %+v, want %+v", got, cfg)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"negative distTA":    "analysis:\n  distTA: -1\n",
		"threshold over 100": "analysis:\n  threshold: 150\n",
		"zero resolution":    "analysis:\n  resolution: 0\n",
		"negative tolerance": "analysis:\n  toleranceCM: -0.2\n",
		"negative workers":   "batch:\n  workers: -1\n",
	}
	dir := t.TempDir()
	for name, data := range tests {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); !errors.Is(err, parser.ErrInvalidArgument) {
			t.Errorf("%s: error = %v, want ErrInvalidArgument", name, err)
		}
	}

	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("analysis: [1, 2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed YAML accepted")
	}
}
