// Package config loads engine configuration from a YAML file with
// environment-variable overrides. A .env file in the working directory is
// honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Market    MarketConfig    `yaml:"market"`
	Risk      RiskConfig      `yaml:"risk"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects the backing store. An empty URL runs the engine
// on the in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig enables the read-through market cache when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MarketConfig holds trading defaults.
type MarketConfig struct {
	DefaultLiquidity string `yaml:"default_liquidity"` // pool seed per outcome
	StartingBalance  string `yaml:"starting_balance"`  // cash granted to new users
}

// RiskConfig caps per-user exposure. Zero values disable a limit.
type RiskConfig struct {
	MaxSharesPerMarket string `yaml:"max_shares_per_market"`
	MaxTotalShares     string `yaml:"max_total_shares"`
}

// RateLimitConfig throttles the trade endpoint.
type RateLimitConfig struct {
	TradesPerSecond float64 `yaml:"trades_per_second"`
	Burst           int     `yaml:"burst"`
}

// LogConfig controls log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path, then applies .env and environment
// overrides. A missing config file is not an error; the engine runs on
// defaults and environment variables alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("DEFAULT_LIQUIDITY"); v != "" {
		cfg.Market.DefaultLiquidity = v
	}
	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		cfg.Market.StartingBalance = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Market.DefaultLiquidity == "" {
		cfg.Market.DefaultLiquidity = "100"
	}
	if cfg.Market.StartingBalance == "" {
		cfg.Market.StartingBalance = "1000"
	}
	if cfg.RateLimit.TradesPerSecond <= 0 {
		cfg.RateLimit.TradesPerSecond = 50
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 100
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
