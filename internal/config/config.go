// Package config loads and validates the worker configuration from a YAML
// file overlaid with environment variables, with optional hot reloading in
// development.
package config

import (
	"fmt"
	"time"

	apperrors "katalyst/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Environment names the deployment tier.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root worker configuration.
type Config struct {
	Environment Environment     `yaml:"environment" validate:"required,oneof=development staging production"`
	Database    DatabaseConfig  `yaml:"database"`
	EventBus    EventBusConfig  `yaml:"eventBus"`
	Recovery    RecoveryConfig  `yaml:"recovery"`
	Retention   RetentionConfig `yaml:"retention"`
	Server      ServerConfig    `yaml:"server"`
}

// DatabaseConfig locates the sqlite database file.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// EventBusConfig configures the EventBridge publisher.
type EventBusConfig struct {
	BusName string `yaml:"busName" validate:"required"`
	Source  string `yaml:"source" validate:"required"`

	// HandledTypes is the set of event detail types with configured rules.
	// Events of any other type fail validation before commit.
	HandledTypes []string `yaml:"handledTypes" validate:"min=1"`

	// Region overrides the SDK's default region resolution when set.
	Region string `yaml:"region"`
}

// RecoveryConfig tunes the recovery job and scheduler.
type RecoveryConfig struct {
	ScanInterval          time.Duration `yaml:"scanInterval" validate:"gt=0"`
	BatchSize             int           `yaml:"batchSize" validate:"gt=0"`
	InterStepDelay        time.Duration `yaml:"interStepDelay" validate:"gte=0"`
	MaxRetriesPerWorkflow int           `yaml:"maxRetriesPerWorkflow" validate:"gt=0"`
	MaxConsecutiveErrors  int           `yaml:"maxConsecutiveErrors" validate:"gt=0"`
	HealthCheckInterval   time.Duration `yaml:"healthCheckInterval" validate:"gt=0"`
}

// RetentionConfig tunes the periodic cleanup of old rows.
type RetentionConfig struct {
	SweepInterval time.Duration `yaml:"sweepInterval" validate:"gt=0"`
	MaxAge        time.Duration `yaml:"maxAge" validate:"gt=0"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Default returns the development defaults. Loading overlays the file and
// environment on top of these.
func Default() Config {
	return Config{
		Environment: Development,
		Database: DatabaseConfig{
			Path: "katalyst.db",
		},
		EventBus: EventBusConfig{
			BusName:      "katalyst-events",
			Source:       "katalyst.workflows",
			HandledTypes: []string{"WorkflowRecovered"},
		},
		Recovery: RecoveryConfig{
			ScanInterval:          30 * time.Second,
			BatchSize:             10,
			InterStepDelay:        100 * time.Millisecond,
			MaxRetriesPerWorkflow: 3,
			MaxConsecutiveErrors:  5,
			HealthCheckInterval:   time.Minute,
		},
		Retention: RetentionConfig{
			SweepInterval: time.Hour,
			MaxAge:        7 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Validate checks the configuration. A failure here must abort startup.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return apperrors.Wrap(apperrors.KindConfiguration, "invalid configuration", err)
	}
	return nil
}

// IsDevelopment reports whether hot reloading should be enabled.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{env=%s, db=%s, bus=%s, server=%s}",
		c.Environment, c.Database.Path, c.EventBus.BusName, c.Server.Addr)
}
