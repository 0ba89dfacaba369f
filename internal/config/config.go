// Package config defines the top-level configuration for predictbook and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTBOOK_* environment variables.
type Config struct {
	Store    string         `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Market   MarketConfig   `toml:"market"`
	Engine   EngineConfig   `toml:"engine"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: with an
// empty addr the caches, bus, rate limiter and archive lock are disabled.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	QuoteTTL   duration `toml:"quote_ttl"`
	MarketTTL  duration `toml:"market_ttl"`
	DepthTTL   duration `toml:"depth_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MarketConfig holds defaults for new markets and traders, plus the markets
// created at startup.
type MarketConfig struct {
	FixedTotal      string       `toml:"fixed_total"`
	PriceFloor      string       `toml:"price_floor"`
	PriceCeiling    string       `toml:"price_ceiling"`
	TickSize        string       `toml:"tick_size"`
	StartingBalance string       `toml:"starting_balance"`
	Currency        string       `toml:"currency"`
	LMSRIterations  int          `toml:"lmsr_max_iterations"`
	LMSRTolerance   float64      `toml:"lmsr_tolerance"`
	Seed            []MarketSeed `toml:"seed"`
}

// MarketSeed describes a market created at startup if it does not exist.
type MarketSeed struct {
	ID           string   `toml:"id"`
	Question     string   `toml:"question"`
	Category     string   `toml:"category"`
	Mode         string   `toml:"mode"`
	Labels       []string `toml:"labels"`
	InitialPrice string   `toml:"initial_price"`
	LiquidityB   float64  `toml:"liquidity_b"`
	EndTime      string   `toml:"end_time"` // RFC 3339, optional
}

// EngineConfig holds transaction parameters of the matching and AMM engines.
type EngineConfig struct {
	LockTimeout duration `toml:"lock_timeout"`
	DedupTTL    duration `toml:"dedup_ttl"`
}

// ArchiveConfig holds the cold-storage retention policy.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables
// authentication; RateLimit <= 0 disables rate limiting.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Store: "postgres",
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "predictbook",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "predictbook",
			QuoteTTL:   duration{10 * time.Minute},
			MarketTTL:  duration{30 * time.Second},
			DepthTTL:   duration{5 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictbook-archive",
			ForcePathStyle: true,
		},
		Market: MarketConfig{
			FixedTotal:      "10",
			PriceFloor:      "0.5",
			PriceCeiling:    "9.5",
			TickSize:        "0.1",
			StartingBalance: "1500",
			Currency:        "INR",
			LMSRIterations:  60,
			LMSRTolerance:   1e-9,
		},
		Engine: EngineConfig{
			LockTimeout: duration{2 * time.Second},
			DedupTTL:    duration{10 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"archive_failed", "started"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

var validStores = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validStores[strings.ToLower(c.Store)] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: postgres, memory)", c.Store))
	}

	// Postgres
	if strings.EqualFold(c.Store, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Market
	errs = append(errs, c.Market.validate()...)

	// Engine
	if c.Engine.LockTimeout.Duration <= 0 {
		errs = append(errs, "engine: lock_timeout must be > 0")
	}

	// Archive
	if c.Archive.Enabled || strings.EqualFold(c.Mode, "archive") {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if !strings.EqualFold(c.Store, "postgres") {
			errs = append(errs, "archive: requires store = \"postgres\"")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (m MarketConfig) validate() []string {
	var errs []string
	decimals := map[string]string{
		"fixed_total":      m.FixedTotal,
		"price_floor":      m.PriceFloor,
		"price_ceiling":    m.PriceCeiling,
		"tick_size":        m.TickSize,
		"starting_balance": m.StartingBalance,
	}
	for _, name := range []string{"fixed_total", "price_floor", "price_ceiling", "tick_size", "starting_balance"} {
		d, err := decimal.NewFromString(decimals[name])
		if err != nil {
			errs = append(errs, fmt.Sprintf("market: %s %q is not a decimal", name, decimals[name]))
			continue
		}
		if d.IsNegative() || (name != "starting_balance" && !d.IsPositive()) {
			errs = append(errs, fmt.Sprintf("market: %s must be > 0, got %s", name, d))
		}
	}

	seen := make(map[string]bool, len(m.Seed))
	for i, s := range m.Seed {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("market.seed[%d]: id must not be empty", i))
		} else if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("market.seed[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
		switch strings.ToLower(s.Mode) {
		case "orderbook":
		case "lmsr":
			if s.LiquidityB <= 0 {
				errs = append(errs, fmt.Sprintf("market.seed[%d]: liquidity_b must be > 0 for lmsr", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("market.seed[%d]: mode must be orderbook or lmsr, got %q", i, s.Mode))
		}
		if len(s.Labels) != 0 && len(s.Labels) != 2 {
			errs = append(errs, fmt.Sprintf("market.seed[%d]: labels must have 2 entries", i))
		}
		if s.EndTime != "" {
			if _, err := time.Parse(time.RFC3339, s.EndTime); err != nil {
				errs = append(errs, fmt.Sprintf("market.seed[%d]: end_time %q is not RFC 3339", i, s.EndTime))
			}
		}
	}
	return errs
}
