package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"bad store", func(c *Config) { c.Store = "sqlite" }, "unknown store"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"memory skips postgres", func(c *Config) { c.Store = "memory"; c.Postgres.Host = "" }, ""},
		{"postgres host", func(c *Config) { c.Postgres.Host = "" }, "postgres: host"},
		{"dsn replaces host", func(c *Config) { c.Postgres.Host = ""; c.Postgres.DSN = "postgres://x" }, ""},
		{"pool bounds", func(c *Config) { c.Postgres.PoolMinConns = 20 }, "pool_min_conns must not exceed"},
		{"tick", func(c *Config) { c.Market.TickSize = "0" }, "tick_size must be > 0"},
		{"not a decimal", func(c *Config) { c.Market.FixedTotal = "ten" }, "fixed_total \"ten\""},
		{"lock timeout", func(c *Config) { c.Engine.LockTimeout.Duration = 0 }, "lock_timeout"},
		{"archive needs postgres", func(c *Config) { c.Archive.Enabled = true; c.Store = "memory" }, "archive: requires store"},
		{"archive retention", func(c *Config) { c.Mode = "archive"; c.Archive.RetentionDays = 0 }, "retention_days"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
		{"rate window", func(c *Config) { c.Server.RateWindow.Duration = 0 }, "rate_window"},
		{"seed lmsr b", func(c *Config) {
			c.Market.Seed = []MarketSeed{{ID: "m", Mode: "lmsr"}}
		}, "liquidity_b"},
		{"seed duplicate", func(c *Config) {
			c.Market.Seed = []MarketSeed{{ID: "m", Mode: "orderbook"}, {ID: "m", Mode: "orderbook"}}
		}, "duplicate id"},
		{"seed end time", func(c *Config) {
			c.Market.Seed = []MarketSeed{{ID: "m", Mode: "orderbook", EndTime: "tomorrow"}}
		}, "RFC 3339"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nope"
	cfg.Server.Port = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if n := strings.Count(err.Error(), "\n  - "); n != 2 {
		t.Errorf("got %d problems, want 2:\n%v", n, err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "server"
store = "memory"

[engine]
lock_timeout = "750ms"

[market]
tick_size = "0.5"

[[market.seed]]
id = "rain"
question = "Will it rain?"
mode = "lmsr"
liquidity_b = 25.0
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PREDICTBOOK_SERVER_PORT", "9090")
	t.Setenv("PREDICTBOOK_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("PREDICTBOOK_REDIS_DEPTH_TTL", "2s")
	t.Setenv("PREDICTBOOK_SERVER_RATE_LIMIT", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "server" || cfg.Store != "memory" {
		t.Errorf("mode/store = %s/%s", cfg.Mode, cfg.Store)
	}
	if cfg.Engine.LockTimeout.Duration != 750*time.Millisecond {
		t.Errorf("lock timeout = %v", cfg.Engine.LockTimeout)
	}
	if cfg.Market.TickSize != "0.5" || cfg.Market.FixedTotal != "10" {
		t.Errorf("market = %+v, want file tick over default total", cfg.Market)
	}
	if len(cfg.Market.Seed) != 1 || cfg.Market.Seed[0].LiquidityB != 25 {
		t.Errorf("seed = %+v", cfg.Market.Seed)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want env override", cfg.Server.Port)
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[1] != "https://b.example" {
		t.Errorf("cors = %v", got)
	}
	if cfg.Redis.DepthTTL.Duration != 2*time.Second {
		t.Errorf("depth ttl = %v", cfg.Redis.DepthTTL)
	}
	if cfg.Server.RateLimit != 120 {
		t.Errorf("malformed env should be ignored, rate limit = %d", cfg.Server.RateLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.S3.SecretKey = "secret"
	cfg.Notify.TelegramToken = ""
	cfg.Market.Seed = []MarketSeed{{ID: "m", Labels: []string{"Yes", "No"}}}

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != redacted || out.Server.APIKey != redacted || out.S3.SecretKey != redacted {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if out.Notify.TelegramToken != "" {
		t.Errorf("empty secret became %q", out.Notify.TelegramToken)
	}
	if cfg.Postgres.Password != "pw" {
		t.Error("original mutated")
	}

	out.Server.CORSOrigins[0] = "changed"
	out.Market.Seed[0].Labels[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" || cfg.Market.Seed[0].Labels[0] == "changed" {
		t.Error("redacted copy shares slices with the original")
	}
}
