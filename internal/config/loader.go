package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "katalyst/internal/errors"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables, then validation. An empty path skips
// the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, apperrors.Wrap(apperrors.KindConfiguration, "read config file", err).
				WithDetail("path", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, apperrors.Wrap(apperrors.KindConfiguration, "parse config file", err).
				WithDetail("path", path)
		}
	}

	applyEnvironment(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvironment overlays KATALYST_* variables on the loaded config.
func applyEnvironment(cfg *Config) {
	if v := os.Getenv("KATALYST_ENVIRONMENT"); v != "" {
		cfg.Environment = Environment(v)
	}
	if v := os.Getenv("KATALYST_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("KATALYST_EVENT_BUS_NAME"); v != "" {
		cfg.EventBus.BusName = v
	}
	if v := os.Getenv("KATALYST_EVENT_SOURCE"); v != "" {
		cfg.EventBus.Source = v
	}
	if v := os.Getenv("KATALYST_EVENT_HANDLED_TYPES"); v != "" {
		cfg.EventBus.HandledTypes = splitAndTrim(v)
	}
	if v := os.Getenv("KATALYST_AWS_REGION"); v != "" {
		cfg.EventBus.Region = v
	}
	if v := os.Getenv("KATALYST_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if d, ok := envDuration("KATALYST_RECOVERY_SCAN_INTERVAL"); ok {
		cfg.Recovery.ScanInterval = d
	}
	if n, ok := envInt("KATALYST_RECOVERY_BATCH_SIZE"); ok {
		cfg.Recovery.BatchSize = n
	}
	if n, ok := envInt("KATALYST_RECOVERY_MAX_RETRIES"); ok {
		cfg.Recovery.MaxRetriesPerWorkflow = n
	}
	if d, ok := envDuration("KATALYST_RETENTION_MAX_AGE"); ok {
		cfg.Retention.MaxAge = d
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envDuration(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
