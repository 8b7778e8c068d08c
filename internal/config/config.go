package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. STOCKWATCH_REMOTE_DATABASE_URL.
const EnvPrefix = "STOCKWATCH"

// Config is the complete service configuration.
type Config struct {
	LogLevel  string          `toml:"log_level" envconfig:"LOG_LEVEL"`
	Engine    EngineConfig    `toml:"engine"`
	Local     LocalConfig     `toml:"local"`
	Remote    RemoteConfig    `toml:"remote"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	HTTP      HTTPConfig      `toml:"http"`
}

// EngineConfig holds settings shared by both backends.
type EngineConfig struct {
	DefaultMinStockLevel int           `toml:"default_min_stock_level" envconfig:"DEFAULT_MIN_STOCK_LEVEL"`
	CallTimeout          time.Duration `toml:"call_timeout" envconfig:"CALL_TIMEOUT"`
}

// LocalConfig configures the on-device store. Driver "redis" keeps items in
// Redis hashes; "memory" keeps them in process and loses them on exit.
type LocalConfig struct {
	Driver        string        `toml:"driver" envconfig:"DRIVER"`
	RedisAddr     string        `toml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string        `toml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `toml:"redis_db" envconfig:"REDIS_DB"`
	Namespace     string        `toml:"namespace" envconfig:"NAMESPACE"`
	CheckInterval time.Duration `toml:"check_interval" envconfig:"CHECK_INTERVAL"`
	MinInterval   time.Duration `toml:"min_interval" envconfig:"MIN_INTERVAL"`
}

// RemoteConfig configures the remote store (PostgreSQL). An empty
// DatabaseURL disables the remote backend.
type RemoteConfig struct {
	DatabaseURL   string        `toml:"database_url" envconfig:"DATABASE_URL"`
	CheckInterval time.Duration `toml:"check_interval" envconfig:"CHECK_INTERVAL"`
	MinInterval   time.Duration `toml:"min_interval" envconfig:"MIN_INTERVAL"`
	MirrorToLocal bool          `toml:"mirror_to_local" envconfig:"MIRROR_TO_LOCAL"`
	AutoMigrate   bool          `toml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
}

type SchedulerConfig struct {
	IntervalBuffer time.Duration `toml:"interval_buffer" envconfig:"INTERVAL_BUFFER"`
}

type HTTPConfig struct {
	Port      int    `toml:"port" envconfig:"PORT"`
	JWTSecret string `toml:"jwt_secret" envconfig:"JWT_SECRET"`
}

// Default returns the configuration used when no file or env is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Engine: EngineConfig{
			DefaultMinStockLevel: 10,
			CallTimeout:          15 * time.Second,
		},
		Local: LocalConfig{
			Driver:        "redis",
			RedisAddr:     "localhost:6379",
			Namespace:     "stockwatch:local",
			CheckInterval: 15 * time.Minute,
			MinInterval:   15 * time.Minute,
		},
		Remote: RemoteConfig{
			CheckInterval: time.Hour,
			MinInterval:   time.Hour,
			MirrorToLocal: true,
		},
		Scheduler: SchedulerConfig{
			IntervalBuffer: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
	}
}

// Load reads defaults, then the TOML file at path if it exists, then
// STOCKWATCH_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, errors.Wrapf(err, "failed to load config file %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat config file %s", path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RemoteEnabled reports whether a remote database is configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.DatabaseURL != ""
}

// Validate rejects settings the scheduler cannot work with.
func (c *Config) Validate() error {
	if c.Engine.DefaultMinStockLevel < 0 {
		return errors.New("engine.default_min_stock_level must not be negative")
	}
	if c.Engine.CallTimeout <= 0 {
		return errors.New("engine.call_timeout must be positive")
	}
	if c.Local.CheckInterval <= 0 || c.Local.MinInterval <= 0 {
		return errors.New("local intervals must be positive")
	}
	if c.RemoteEnabled() && (c.Remote.CheckInterval <= 0 || c.Remote.MinInterval <= 0) {
		return errors.New("remote intervals must be positive")
	}
	if c.Scheduler.IntervalBuffer < 0 {
		return errors.New("scheduler.interval_buffer must not be negative")
	}
	switch c.Local.Driver {
	case "redis", "memory":
	default:
		return errors.Errorf("local.driver %q must be redis or memory", c.Local.Driver)
	}
	if c.Local.Namespace == "" {
		return errors.New("local.namespace must be set")
	}
	return nil
}
