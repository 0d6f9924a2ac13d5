// Package config loads application configuration from a YAML file layered
// with environment variables (a local .env file is honored when present).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store" validate:"required"`
	Redis     RedisConfig     `yaml:"redis"`
	HTTP      HTTPConfig      `yaml:"http"`
	Session   SessionConfig   `yaml:"session"`
	Auth      AuthConfig      `yaml:"auth"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

type StoreConfig struct {
	// Backend selects the session store: memory, file, sqlite or redis.
	Backend string `yaml:"backend" validate:"required,oneof=memory file sqlite redis"`
	// Path is the sessions directory (file) or database file (sqlite).
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	// Lock enables the distributed per-identity lock, for multi-replica runs.
	Lock bool `yaml:"lock"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type SessionConfig struct {
	// TTL is the blunt age bound the sweeper applies to all sessions.
	TTL time.Duration `yaml:"ttl" validate:"min=0"`
	// SweepInterval is how often the sweeper runs. Zero disables it.
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"min=0"`
}

type AuthConfig struct {
	// ManagerPassword unlocks the privileged scenarios. Prefer setting it
	// via BOT_MANAGER_PASSWORD instead of the config file.
	ManagerPassword string        `yaml:"manager_password"`
	SessionTTL      time.Duration `yaml:"session_ttl" validate:"min=0"`
}

type BroadcastConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" validate:"min=0"`
	Burst         int     `yaml:"burst" validate:"min=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{Backend: "memory"},
		HTTP:  HTTPConfig{Addr: ":8080"},
		Session: SessionConfig{
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Auth: AuthConfig{SessionTTL: time.Hour},
		Broadcast: BroadcastConfig{
			RatePerSecond: 20,
			Burst:         5,
		},
	}
}

// Load reads the config file at path (optional), applies environment
// overrides and validates the result. A .env file in the working directory
// is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BOT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BOT_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("BOT_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("BOT_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("BOT_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("BOT_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("BOT_MANAGER_PASSWORD"); v != "" {
		c.Auth.ManagerPassword = v
	}
}

// Validate checks the config both structurally (tags) and relationally
// (backend-specific requirements).
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("validating config: store.path is required for the sqlite backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("validating config: redis.addr is required for the redis backend")
		}
	}
	if c.Redis.Lock && c.Redis.Addr == "" {
		return fmt.Errorf("validating config: redis.addr is required when redis.lock is enabled")
	}
	return nil
}
