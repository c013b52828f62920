package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Called after loading from file and environment, before
// Validate.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	if cfg.MwWikiPath == "" {
		cfg.MwWikiPath = "wiki"
	}
	if cfg.MwApiPath == "" {
		cfg.MwApiPath = "w/api.php"
	}
	if cfg.OutputDirectory == "" {
		cfg.OutputDirectory = "out"
	}
	if cfg.TmpDirectory == "" {
		cfg.TmpDirectory = "tmp"
	}
	if cfg.CacheDirectory == "" {
		cfg.CacheDirectory = filepath.Join(cfg.TmpDirectory, "cac")
	}
	if cfg.Publisher == "" {
		cfg.Publisher = "Kiwix"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1
	}
	if len(cfg.Format) == 0 {
		cfg.Format = []string{""}
	}

	applyLoggingDefaults(&cfg.Logging, cfg.Verbose)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig, verbose bool) {
	if cfg.Level == "" {
		if verbose {
			cfg.Level = "DEBUG"
		} else {
			cfg.Level = "INFO"
		}
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyMetricsDefaults sets Prometheus listener defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9666
	}
}
