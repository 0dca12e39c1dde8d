// Package config loads batchdeck configuration.
//
// Sources, lowest precedence first: built-in defaults, a YAML config file,
// BATCHDECK_* environment variables, runtime overrides.
package config

import (
	"time"

	"github.com/3leaps/batchdeck/pkg/backendapi"
	"github.com/3leaps/batchdeck/pkg/dashboard"
	"github.com/3leaps/batchdeck/pkg/view"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Poller  PollerConfig  `mapstructure:"poller" yaml:"poller"`
	Toast   ToastConfig   `mapstructure:"toast" yaml:"toast"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Health  HealthConfig  `mapstructure:"health" yaml:"health"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// BackendConfig points at the batch backend API.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// RateLimit caps requests per second. Zero disables pacing.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// PollerConfig configures the dashboard status poller.
type PollerConfig struct {
	Interval time.Duration       `mapstructure:"interval" yaml:"interval"`
	JobTypes []dashboard.JobType `mapstructure:"job_types" yaml:"job_types"`
}

// ToastConfig configures transient messages.
type ToastConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DisplayConfig configures timestamp rendering.
type DisplayConfig struct {
	Timezone   string `mapstructure:"timezone" yaml:"timezone"`
	TimeLayout string `mapstructure:"time_layout" yaml:"time_layout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// HealthConfig toggles the health endpoints' backend probe.
type HealthConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// BackendClientConfig returns the client settings.
func (c *Config) BackendClientConfig() backendapi.Config {
	return backendapi.Config{
		BaseURL:   c.Backend.BaseURL,
		Timeout:   c.Backend.Timeout,
		RateLimit: c.Backend.RateLimit,
	}
}

// DisplayOptions resolves the configured zone.
func (c *Config) DisplayOptions() (view.Options, error) {
	return view.NewOptions(c.Display.Timezone, c.Display.TimeLayout)
}

// DashboardConfig returns the dashboard poller settings.
func (c *Config) DashboardConfig() (dashboard.Config, error) {
	display, err := c.DisplayOptions()
	if err != nil {
		return dashboard.Config{}, err
	}
	return dashboard.Config{
		Interval:     c.Poller.Interval,
		JobTypes:     c.Poller.JobTypes,
		Display:      display,
		ToastTimeout: c.Toast.Timeout,
	}, nil
}
