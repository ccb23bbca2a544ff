package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Market.DefaultLiquidity != "100" {
		t.Errorf("default liquidity = %q, want 100", cfg.Market.DefaultLiquidity)
	}
	if cfg.Market.StartingBalance != "1000" {
		t.Errorf("starting balance = %q, want 1000", cfg.Market.StartingBalance)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log defaults = %q/%q", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9100
market:
  default_liquidity: "250"
  starting_balance: "500"
risk:
  max_shares_per_market: "1000"
rate_limit:
  trades_per_second: 10
  burst: 20
log:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Addr() != ":9100" {
		t.Errorf("addr = %q", cfg.Addr())
	}
	if cfg.Market.DefaultLiquidity != "250" {
		t.Errorf("default liquidity = %q", cfg.Market.DefaultLiquidity)
	}
	if cfg.Risk.MaxSharesPerMarket != "1000" {
		t.Errorf("max shares per market = %q", cfg.Risk.MaxSharesPerMarket)
	}
	if cfg.RateLimit.TradesPerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("rate limit = %v/%d", cfg.RateLimit.TradesPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log = %q/%q", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("DATABASE_URL", "postgres://localhost/markets")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://localhost/markets" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("redis url = %q", cfg.Redis.URL)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
