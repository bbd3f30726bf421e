// Package config loads autokit configuration from YAML with defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config holds autokit configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Bus          BusConfig          `yaml:"bus"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// StoreConfig selects and configures the workflow/run store.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// SupervisorConfig configures the execution supervisor.
type SupervisorConfig struct {
	// LockPath is the file held while the engine is alive. Empty disables
	// the lock-file guard.
	LockPath string `yaml:"lock_path"`
}

// OrchestratorConfig bounds retries of run persistence.
type OrchestratorConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// BusConfig sizes subscriber channels.
type BusConfig struct {
	Buffer int `yaml:"buffer"`
}

// LoggingConfig configures the slog handler installed by the CLI.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig configures the Prometheus listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with every value populated.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver:      DriverSQLite,
			Path:        "autokit.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "autokit",
		},
		Supervisor: SupervisorConfig{
			LockPath: "autokit.lock",
		},
		Orchestrator: OrchestratorConfig{
			MaxAttempts:    5,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
		Bus: BusConfig{
			Buffer: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be positive, got %d", c.Orchestrator.MaxAttempts)
	}
	if c.Orchestrator.InitialBackoff < 0 || c.Orchestrator.MaxBackoff < 0 {
		return fmt.Errorf("orchestrator backoff must not be negative")
	}
	if c.Orchestrator.MaxBackoff > 0 && c.Orchestrator.InitialBackoff > c.Orchestrator.MaxBackoff {
		return fmt.Errorf("orchestrator.initial_backoff %s exceeds max_backoff %s",
			c.Orchestrator.InitialBackoff, c.Orchestrator.MaxBackoff)
	}
	if c.Bus.Buffer < 0 {
		return fmt.Errorf("bus.buffer must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}
