package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDICTBOOK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTBOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Store, "PREDICTBOOK_STORE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PREDICTBOOK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PREDICTBOOK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTBOOK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTBOOK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTBOOK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTBOOK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTBOOK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICTBOOK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICTBOOK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTBOOK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PREDICTBOOK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTBOOK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTBOOK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTBOOK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTBOOK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTBOOK_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PREDICTBOOK_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.QuoteTTL, "PREDICTBOOK_REDIS_QUOTE_TTL")
	setDuration(&cfg.Redis.MarketTTL, "PREDICTBOOK_REDIS_MARKET_TTL")
	setDuration(&cfg.Redis.DepthTTL, "PREDICTBOOK_REDIS_DEPTH_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PREDICTBOOK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTBOOK_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTBOOK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTBOOK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTBOOK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTBOOK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTBOOK_S3_FORCE_PATH_STYLE")

	// ── Market ──
	setStr(&cfg.Market.FixedTotal, "PREDICTBOOK_MARKET_FIXED_TOTAL")
	setStr(&cfg.Market.PriceFloor, "PREDICTBOOK_MARKET_PRICE_FLOOR")
	setStr(&cfg.Market.PriceCeiling, "PREDICTBOOK_MARKET_PRICE_CEILING")
	setStr(&cfg.Market.TickSize, "PREDICTBOOK_MARKET_TICK_SIZE")
	setStr(&cfg.Market.StartingBalance, "PREDICTBOOK_MARKET_STARTING_BALANCE")
	setStr(&cfg.Market.Currency, "PREDICTBOOK_MARKET_CURRENCY")
	setInt(&cfg.Market.LMSRIterations, "PREDICTBOOK_MARKET_LMSR_MAX_ITERATIONS")
	setFloat64(&cfg.Market.LMSRTolerance, "PREDICTBOOK_MARKET_LMSR_TOLERANCE")

	// ── Engine ──
	setDuration(&cfg.Engine.LockTimeout, "PREDICTBOOK_ENGINE_LOCK_TIMEOUT")
	setDuration(&cfg.Engine.DedupTTL, "PREDICTBOOK_ENGINE_DEDUP_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PREDICTBOOK_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PREDICTBOOK_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "PREDICTBOOK_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PREDICTBOOK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PREDICTBOOK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTBOOK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDICTBOOK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PREDICTBOOK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PREDICTBOOK_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDICTBOOK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTBOOK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTBOOK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTBOOK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTBOOK_MODE")
	setStr(&cfg.LogLevel, "PREDICTBOOK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
