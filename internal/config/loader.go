package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "BATCHDECK"

// ConfigFileEnv names an explicit config file.
const ConfigFileEnv = EnvPrefix + "_CONFIG"

// EnvSpec maps an environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile pins the config file used by later Load calls. Empty
// restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration and stores it for GetConfig.
//
// Overrides are nested maps keyed like the YAML file and win over every
// other source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks values that would otherwise fail later at startup.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q must be an http(s) URL", cfg.Backend.BaseURL))
	}
	if cfg.Backend.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("backend.rate_limit must not be negative"))
	}
	if cfg.Poller.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poller.interval must be positive"))
	}
	for i, jt := range cfg.Poller.JobTypes {
		if strings.TrimSpace(jt.Name) == "" {
			errs = append(errs, fmt.Errorf("poller.job_types[%d].name is empty", i))
		}
	}
	if cfg.Toast.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("toast.timeout must be positive"))
	}
	if _, err := time.LoadLocation(cfg.Display.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("display.timezone: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("backend.rate_limit", 0)

	v.SetDefault("poller.interval", 30*time.Second)
	v.SetDefault("poller.job_types", []map[string]any{
		{"name": "daily_analysis", "label": "Daily analysis"},
		{"name": "weekly_report", "label": "Weekly report"},
		{"name": "monthly_summary", "label": "Monthly summary"},
	})

	v.SetDefault("toast.timeout", 5*time.Second)

	v.SetDefault("display.timezone", "Asia/Seoul")
	v.SetDefault("display.time_layout", "2006. 1. 2. 15:04:05")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.probe_timeout", 3*time.Second)
}

func readConfigFile(v *viper.Viper) error {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()
	if explicit == "" {
		explicit = os.Getenv(ConfigFileEnv)
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// getUserConfigPaths lists candidate config files, first match wins.
func getUserConfigPaths() []string {
	paths := []string{"batchdeck.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "batchdeck", "config.yaml"))
	}
	return paths
}

// getEnvSpecs lists the short environment variable names. Every key is
// also reachable as BATCHDECK_<SECTION>_<KEY>.
func getEnvSpecs() []EnvSpec {
	short := []struct{ name, path string }{
		{"HOST", "server.host"},
		{"PORT", "server.port"},
		{"READ_TIMEOUT", "server.read_timeout"},
		{"WRITE_TIMEOUT", "server.write_timeout"},
		{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"BACKEND_URL", "backend.base_url"},
		{"BACKEND_TIMEOUT", "backend.timeout"},
		{"RATE_LIMIT", "backend.rate_limit"},
		{"POLL_INTERVAL", "poller.interval"},
		{"TOAST_TIMEOUT", "toast.timeout"},
		{"TIMEZONE", "display.timezone"},
		{"LOG_LEVEL", "logging.level"},
		{"LOG_FILE", "logging.file"},
	}
	specs := make([]EnvSpec, 0, len(short))
	for _, s := range short {
		specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + s.name, Path: s.path})
	}
	return specs
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
