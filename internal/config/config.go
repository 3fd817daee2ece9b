// Package config loads analyzer settings from YAML and supplies defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/user/machinelog_analyzer_go/internal/fluence"
	"github.com/user/machinelog_analyzer_go/internal/machinelog"
	"github.com/user/machinelog_analyzer_go/internal/parser"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Analysis parameters
	Analysis struct {
		// Resolution is the fluence bin width in mm
		Resolution float64 `yaml:"resolution"`

		// DoseTA is the gamma dose-difference tolerance in percent
		DoseTA float64 `yaml:"doseTA"`

		// DistTA is the gamma distance-to-agreement tolerance in mm
		DistTA float64 `yaml:"distTA"`

		// Threshold is the percentage of the map maximum below which pixels are ignored
		Threshold float64 `yaml:"threshold"`

		// ExcludeBeamOff drops beam-hold and beam-off snapshots from statistics
		ExcludeBeamOff bool `yaml:"excludeBeamOff"`

		// ToleranceCM flags leaves whose RMS error exceeds it
		ToleranceCM float64 `yaml:"toleranceCM"`
	} `yaml:"analysis"`

	// Batch loading parameters
	Batch struct {
		Recursive bool `yaml:"recursive"`

		// Workers is the number of logs parsed in parallel
		Workers int `yaml:"workers"`
	} `yaml:"batch"`

	// Output parameters
	Output struct {
		Verbose bool `yaml:"verbose"`

		// ReportDir receives PDF reports and plots; empty means next to each log
		ReportDir string `yaml:"reportDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	p := fluence.DefaultParams()
	cfg.Analysis.Resolution = p.Resolution
	cfg.Analysis.DoseTA = p.DoseTA
	cfg.Analysis.DistTA = p.DistTA
	cfg.Analysis.Threshold = p.Threshold
	cfg.Analysis.ExcludeBeamOff = true
	cfg.Analysis.ToleranceCM = 0.1

	cfg.Batch.Recursive = true
	cfg.Batch.Workers = runtime.NumCPU()

	cfg.Output.Verbose = false
	cfg.Output.ReportDir = ""

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// GammaParams returns the gamma parameters of the analysis section.
func (c *Config) GammaParams() fluence.Params {
	return fluence.Params{
		DoseTA:     c.Analysis.DoseTA,
		DistTA:     c.Analysis.DistTA,
		Threshold:  c.Analysis.Threshold,
		Resolution: c.Analysis.Resolution,
	}
}

// LoadOptions returns the decoding options of the analysis section.
func (c *Config) LoadOptions() machinelog.Options {
	return machinelog.Options{ExcludeBeamOff: c.Analysis.ExcludeBeamOff}
}

// Validate checks the analysis parameters.
func (c *Config) Validate() error {
	if err := c.GammaParams().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Analysis.ToleranceCM < 0 {
		return fmt.Errorf("invalid config: %w: toleranceCM %v is negative", parser.ErrInvalidArgument, c.Analysis.ToleranceCM)
	}
	if c.Batch.Workers < 0 {
		return fmt.Errorf("invalid config: %w: workers %d is negative", parser.ErrInvalidArgument, c.Batch.Workers)
	}
	return nil
}
