package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Config holds all application configuration.
type Config struct {
	// Scan behavior
	Check CheckConfig `json:"check" mapstructure:"check"`

	// Report and structure dump files
	Output OutputConfig `json:"output" mapstructure:"output"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`

	// Run history persistence
	History HistoryConfig `json:"history" mapstructure:"history"`
}

// CheckConfig for the integrity scanner.
type CheckConfig struct {
	Workers    int  `json:"workers" mapstructure:"workers"`         // Bounded worker pool size
	QueueDepth int  `json:"queue_depth" mapstructure:"queue_depth"` // Files queued for content verification
	Deep       bool `json:"deep" mapstructure:"deep"`               // Verify file content by default
}

// OutputConfig for the files written after a scan.
type OutputConfig struct {
	Dir           string `json:"dir" mapstructure:"dir"`                       // Directory for output files
	StructureFile string `json:"structure_file" mapstructure:"structure_file"` // Structure dump file name
	ReportFile    string `json:"report_file" mapstructure:"report_file"`       // Problem report file name
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored output
}

// HistoryConfig for the run history store.
type HistoryConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // none, json, sqlite
	Path    string `json:"path" mapstructure:"path"`       // Directory (json) or database file (sqlite)
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".vaultcheck"

	return &Config{
		Check: CheckConfig{
			Workers:    runtime.NumCPU(),
			QueueDepth: 256,
			Deep:       false,
		},
		Output: OutputConfig{
			Dir:           ".",
			StructureFile: "structure.txt",
			ReportFile:    "check-result.txt",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			File:   "",
			Color:  true,
		},
		History: HistoryConfig{
			Backend: "none",
			Path:    filepath.Join(dataDir, "history"),
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Check.Workers <= 0 {
		return errors.New("check.workers must be positive")
	}

	if c.Check.QueueDepth <= 0 {
		return errors.New("check.queue_depth must be positive")
	}

	if c.Output.StructureFile == "" {
		return errors.New("output.structure_file is required")
	}

	if c.Output.ReportFile == "" {
		return errors.New("output.report_file is required")
	}

	if c.Output.StructureFile == c.Output.ReportFile {
		return errors.New("output.structure_file and output.report_file must differ")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	validBackends := map[string]bool{"none": true, "json": true, "sqlite": true}
	if !validBackends[c.History.Backend] {
		return fmt.Errorf("invalid history backend: %s", c.History.Backend)
	}

	if c.History.Backend != "none" && c.History.Path == "" {
		return errors.New("history.path is required when history is enabled")
	}

	return nil
}

// StructurePath returns the full path of the structure dump.
func (c *Config) StructurePath() string {
	return filepath.Join(c.Output.Dir, c.Output.StructureFile)
}

// ReportPath returns the full path of the problem report.
func (c *Config) ReportPath() string {
	return filepath.Join(c.Output.Dir, c.Output.ReportFile)
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Output.Dir}

	switch c.History.Backend {
	case "json":
		dirs = append(dirs, c.History.Path)
	case "sqlite":
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
