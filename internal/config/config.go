// Package config loads the YAML configuration used by the syncq CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config is the on-disk configuration.
type Config struct {
	Store     Store     `yaml:"store"`
	Transport Transport `yaml:"transport"`
	Sync      Sync      `yaml:"sync"`
	Probe     Probe     `yaml:"probe"`
	Retry     Retry     `yaml:"retry"`
	LogLevel  string    `yaml:"log_level"`
}

// Store selects and configures the durable backend.
type Store struct {
	Driver string `yaml:"driver"`
	Redis  Redis  `yaml:"redis"`
	SQLite SQLite `yaml:"sqlite"`
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

// Transport configures the HTTP API client that delivers mutations.
type Transport struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Sync configures the adapter triggers.
type Sync struct {
	// Schedule is a cron expression or descriptor such as "@every 1m". Empty disables it.
	Schedule        string        `yaml:"schedule"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	TriggerInterval time.Duration `yaml:"trigger_interval"`
}

// Probe configures the connectivity prober. An empty URL disables it.
type Probe struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
}

// Retry mirrors syncq.RetryPolicy.
type Retry struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: Store{
			Driver: DriverSQLite,
			Redis:  Redis{Addr: "127.0.0.1:6379", Namespace: "offlineQueue"},
			SQLite: SQLite{Path: "syncq.db"},
		},
		Transport: Transport{Timeout: 15 * time.Second},
		Sync:      Sync{RefreshInterval: 5 * time.Second, TriggerInterval: 10 * time.Second},
		Probe:     Probe{Interval: 10 * time.Second},
		LogLevel:  "info",
	}
}

// Load reads path over the defaults, applies SYNCQ_* environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SYNCQ_STORE_DRIVER":    &c.Store.Driver,
		"SYNCQ_REDIS_ADDR":      &c.Store.Redis.Addr,
		"SYNCQ_REDIS_PASSWORD":  &c.Store.Redis.Password,
		"SYNCQ_REDIS_NAMESPACE": &c.Store.Redis.Namespace,
		"SYNCQ_SQLITE_PATH":     &c.Store.SQLite.Path,
		"SYNCQ_BASE_URL":        &c.Transport.BaseURL,
		"SYNCQ_TOKEN":           &c.Transport.Token,
		"SYNCQ_SCHEDULE":        &c.Sync.Schedule,
		"SYNCQ_PROBE_URL":       &c.Probe.URL,
		"SYNCQ_LOG_LEVEL":       &c.LogLevel,
	}
	for k, dst := range str {
		if v, ok := lookup(k); ok {
			*dst = v
		}
	}
	dur := map[string]*time.Duration{
		"SYNCQ_REFRESH_INTERVAL": &c.Sync.RefreshInterval,
		"SYNCQ_TRIGGER_INTERVAL": &c.Sync.TriggerInterval,
		"SYNCQ_PROBE_INTERVAL":   &c.Probe.Interval,
	}
	for k, dst := range dur {
		v, ok := lookup(k)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", k, err)
		}
		*dst = d
	}
	if v, ok := lookup("SYNCQ_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env SYNCQ_MAX_RETRIES: %w", err)
		}
		c.Retry.MaxRetries = n
	}
	return nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: must be %s or %s", c.Store.Driver, DriverRedis, DriverSQLite))
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("sync.schedule: %w", err))
		}
	}
	if c.Sync.RefreshInterval < 0 || c.Sync.TriggerInterval < 0 || c.Probe.Interval < 0 || c.Transport.Timeout < 0 {
		errs = append(errs, errors.New("intervals and timeouts must not be negative"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry.multiplier must be at least 1"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error", "quiet":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: must be debug, info, warn, error or quiet", c.LogLevel))
	}
	return errors.Join(errs...)
}
