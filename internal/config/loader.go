package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VAULTCHECK_LOG_LEVEL.
const EnvPrefix = "VAULTCHECK"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// ConfigPath returns the file the configuration was read from, if any.
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load reads configuration from defaults, then file, then environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setDefaults(cfg)

	if l.configPath == "" {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				break
			}
		}
	}

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	// VAULTCHECK_CHECK_WORKERS -> check.workers
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.History.Backend = strings.ToLower(cfg.History.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides are picked up on Unmarshal.
func (l *Loader) setDefaults(cfg *Config) {
	l.v.SetDefault("check.workers", cfg.Check.Workers)
	l.v.SetDefault("check.queue_depth", cfg.Check.QueueDepth)
	l.v.SetDefault("check.deep", cfg.Check.Deep)

	l.v.SetDefault("output.dir", cfg.Output.Dir)
	l.v.SetDefault("output.structure_file", cfg.Output.StructureFile)
	l.v.SetDefault("output.report_file", cfg.Output.ReportFile)

	l.v.SetDefault("log.level", cfg.Log.Level)
	l.v.SetDefault("log.format", cfg.Log.Format)
	l.v.SetDefault("log.file", cfg.Log.File)
	l.v.SetDefault("log.color", cfg.Log.Color)

	l.v.SetDefault("history.backend", cfg.History.Backend)
	l.v.SetDefault("history.path", cfg.History.Path)
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"vaultcheck.json",
		".vaultcheck.json",
		"vaultcheck.yaml",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "vaultcheck", "config.json"),
			filepath.Join(homeDir, ".config", "vaultcheck", "config.yaml"),
		)
	}

	return paths
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
