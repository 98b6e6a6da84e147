// Package config loads the discovery engine's process-level
// configuration: HTTP/metrics listen addresses, log level/format,
// storage location, retention window, and scheduler sizing. It does
// NOT load RetrievalConfiguration rows — those are CRUD-managed
// through the repository layer by an out-of-scope admin API — only
// the ambient concerns every process needs before it can open that
// repository. Follows a load-file-then-env-then-validate sequencing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// Config is the full process configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"idempotency_cache"`
	Secrets   SecretsConfig   `yaml:"secrets"`
}

// AppConfig controls logging and environment selection.
type AppConfig struct {
	Environment string `yaml:"environment" validate:"oneof=development production"`
	LogLevel    string `yaml:"log_level" validate:"required"`
	LogFormat   string `yaml:"log_format" validate:"oneof=json text"`
}

// ServerConfig controls the ops HTTP surface (health/ready/metrics and
// diagnostic endpoints served by internal/app).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

// StorageConfig points at the on-disk journal directory the
// repository layer (internal/repository) reads and writes.
type StorageConfig struct {
	Dir                     string        `yaml:"dir" validate:"required"`
	ExecutionRetention      time.Duration `yaml:"execution_retention"`
	DiscoveredFileRetention time.Duration `yaml:"discovered_file_retention"`
}

// SchedulerConfig controls the scheduler's worker pool sizing and
// missed-fire catch-up policy.
type SchedulerConfig struct {
	Workers            int           `yaml:"workers" validate:"min=1"`
	QueueSize          int           `yaml:"queue_size"`
	WorkerTimeout      time.Duration `yaml:"worker_timeout"`
	DropMissedFires    bool          `yaml:"drop_missed_fires"`
	MissedFireLookback time.Duration `yaml:"missed_fire_lookback"`
}

// CacheConfig sizes the Discovery Pipeline's idempotency fast-path cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// SecretsConfig controls the SecretResolver's cache lifetime.
type SecretsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Load reads configFile (if non-empty and present), applies defaults
// to any unset field, applies environment-variable overrides, then
// validates the result. An absent configFile is not fatal — defaults
// plus environment variables can fully configure the process — but an
// unreadable or malformed one is.
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case os.IsNotExist(err):
			fmt.Printf("config: %s not found, using defaults and environment overrides\n", configFile)
		case err != nil:
			return nil, fmt.Errorf("config: read %q: %w", configFile, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", configFile, err)
			}
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Environment == "" {
		cfg.App.Environment = "production"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "json"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "/var/lib/file-discovery-engine"
	}
	if cfg.Storage.ExecutionRetention == 0 {
		cfg.Storage.ExecutionRetention = 90 * 24 * time.Hour
	}
	if cfg.Storage.DiscoveredFileRetention == 0 {
		cfg.Storage.DiscoveredFileRetention = 90 * 24 * time.Hour
	}

	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 16
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = cfg.Scheduler.Workers * 10
	}
	if cfg.Scheduler.WorkerTimeout == 0 {
		cfg.Scheduler.WorkerTimeout = 10 * time.Minute
	}
	if cfg.Scheduler.MissedFireLookback == 0 {
		cfg.Scheduler.MissedFireLookback = 24 * time.Hour
	}

	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 100_000
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Hour
	}

	if cfg.Secrets.CacheTTL == 0 {
		cfg.Secrets.CacheTTL = 5 * time.Minute
	}
}

// envOverride hands the value of environment variable name to parse,
// which stores it; nothing is called when the variable is unset or
// empty, and parse leaves its target untouched when it fails.
func envOverride(name string, parse func(string) error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	if err := parse(v); err != nil {
		fmt.Printf("config: ignoring invalid %s=%q: %v\n", name, v, err)
	}
}

func applyEnvOverrides(cfg *Config) {
	envOverride("DISCOVERY_LOG_LEVEL", func(v string) error { cfg.App.LogLevel = v; return nil })
	envOverride("DISCOVERY_LOG_FORMAT", func(v string) error { cfg.App.LogFormat = v; return nil })
	envOverride("DISCOVERY_ENVIRONMENT", func(v string) error { cfg.App.Environment = v; return nil })
	envOverride("DISCOVERY_SERVER_HOST", func(v string) error { cfg.Server.Host = v; return nil })
	envOverride("DISCOVERY_SERVER_PORT", func(v string) error {
		p, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.Server.Port = p
		return nil
	})
	envOverride("DISCOVERY_STORAGE_DIR", func(v string) error { cfg.Storage.Dir = v; return nil })
	envOverride("DISCOVERY_SCHEDULER_WORKERS", func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.Scheduler.Workers = n
		return nil
	})
	envOverride("DISCOVERY_SCHEDULER_DROP_MISSED_FIRES", func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		cfg.Scheduler.DropMissedFires = b
		return nil
	})
}

func validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}
