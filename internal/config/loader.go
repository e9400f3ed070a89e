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
// built-in defaults, applies ROUTER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ROUTER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Lifecycle ──
	setDuration(&cfg.Lifecycle.ChildTimeout, "ROUTER_LIFECYCLE_CHILD_TIMEOUT")
	setFloat64(&cfg.Lifecycle.FillThreshold, "ROUTER_LIFECYCLE_FILL_THRESHOLD")
	setInt(&cfg.Lifecycle.UpdateBuffer, "ROUTER_LIFECYCLE_UPDATE_BUFFER")

	// ── Liquidity ──
	setStringSlice(&cfg.Liquidity.Symbols, "ROUTER_LIQUIDITY_SYMBOLS")
	setDuration(&cfg.Liquidity.Interval, "ROUTER_LIQUIDITY_INTERVAL")
	setDuration(&cfg.Liquidity.QuoteTimeout, "ROUTER_LIQUIDITY_QUOTE_TIMEOUT")

	// ── Heartbeat ──
	setDuration(&cfg.Heartbeat.Interval, "ROUTER_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Heartbeat.MaxBackoff, "ROUTER_HEARTBEAT_MAX_BACKOFF")

	// ── Simulator ──
	setDuration(&cfg.Simulator.TickInterval, "ROUTER_SIMULATOR_TICK_INTERVAL")
	setDuration(&cfg.Simulator.EvalInterval, "ROUTER_SIMULATOR_EVAL_INTERVAL")
	setFloat64(&cfg.Simulator.WalkBps, "ROUTER_SIMULATOR_WALK_BPS")
	setFloat64(&cfg.Simulator.SlippagePct, "ROUTER_SIMULATOR_SLIPPAGE_PCT")
	setInt64(&cfg.Simulator.Seed, "ROUTER_SIMULATOR_SEED")
	setFloat64(&cfg.Simulator.StartingCash, "ROUTER_SIMULATOR_STARTING_CASH")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "ROUTER_ARBITRAGE_ENABLED")
	setDuration(&cfg.Arbitrage.Interval, "ROUTER_ARBITRAGE_INTERVAL")
	setFloat64(&cfg.Arbitrage.MinNetBps, "ROUTER_ARBITRAGE_MIN_NET_BPS")
	setDuration(&cfg.Arbitrage.TTL, "ROUTER_ARBITRAGE_TTL")

	// ── Analytics ──
	setInt(&cfg.Analytics.HistoryCap, "ROUTER_ANALYTICS_HISTORY_CAP")
	setFloat64(&cfg.Analytics.HighSlippageBps, "ROUTER_ANALYTICS_HIGH_SLIPPAGE_BPS")
	setFloat64(&cfg.Analytics.HighShortfallBps, "ROUTER_ANALYTICS_HIGH_SHORTFALL_BPS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ROUTER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ROUTER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ROUTER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ROUTER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ROUTER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ROUTER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ROUTER_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ROUTER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ROUTER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ROUTER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ROUTER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ROUTER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ROUTER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ROUTER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ROUTER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ROUTER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ROUTER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ROUTER_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ROUTER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ROUTER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ROUTER_S3_REGION")
	setStr(&cfg.S3.Bucket, "ROUTER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ROUTER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ROUTER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ROUTER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ROUTER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ROUTER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ROUTER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ROUTER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ROUTER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "ROUTER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ROUTER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ROUTER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ROUTER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ROUTER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ROUTER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ROUTER_MODE")
	setStr(&cfg.LogLevel, "ROUTER_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
