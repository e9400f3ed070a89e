// Package config defines the top-level configuration for the smart order
// router and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ROUTER_* environment variables.
type Config struct {
	Venues    []VenueConfig   `toml:"venues"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Planner   PlannerConfig   `toml:"planner"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Liquidity LiquidityConfig `toml:"liquidity"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Simulator SimulatorConfig `toml:"simulator"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Analytics AnalyticsConfig `toml:"analytics"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig describes one execution venue to register at startup.
type VenueConfig struct {
	ID        string   `toml:"id"`
	Name      string   `toml:"name"`
	Category  string   `toml:"category"`
	LatencyMs float64  `toml:"latency_ms"`
	MakerBps  float64  `toml:"maker_bps"`
	TakerBps  float64  `toml:"taker_bps"`
	FeeMin    float64  `toml:"fee_min"`
	Symbols   []string `toml:"symbols"`
	Kinds     []string `toml:"kinds"`
	// Simulator shape for this venue when mode runs the built-in matcher.
	SpreadBps float64 `toml:"spread_bps"`
	SkewBps   float64 `toml:"skew_bps"`
	DepthBase float64 `toml:"depth_base"`
}

// ScoringConfig holds venue scoring weights.
type ScoringConfig struct {
	Latency         float64 `toml:"latency"`
	Liquidity       float64 `toml:"liquidity"`
	FillRate        float64 `toml:"fill_rate"`
	Slippage        float64 `toml:"slippage"`
	Fee             float64 `toml:"fee"`
	DarkBonus       float64 `toml:"dark_bonus"`
	ToxicityPenalty float64 `toml:"toxicity_penalty"`
	ImbalanceBonus  float64 `toml:"imbalance_bonus"`
	LatencyRefMs    float64 `toml:"latency_ref_ms"`
	LargeOrderQty   float64 `toml:"large_order_qty"`
}

// PlannerConfig holds execution planner parameters.
type PlannerConfig struct {
	DarkPoolCapFrac float64 `toml:"dark_pool_cap_frac"`
	LitCapFrac      float64 `toml:"lit_cap_frac"`
	MinAllocation   float64 `toml:"min_allocation"`
	HighConfidence  float64 `toml:"high_confidence"`
	LowConfidence   float64 `toml:"low_confidence"`
}

// LifecycleConfig holds order lifecycle parameters.
type LifecycleConfig struct {
	ChildTimeout  duration `toml:"child_timeout"`
	FillThreshold float64  `toml:"fill_threshold"`
	UpdateBuffer  int      `toml:"update_buffer"`
}

// LiquidityConfig holds liquidity aggregation parameters.
type LiquidityConfig struct {
	Symbols      []string `toml:"symbols"`
	Interval     duration `toml:"interval"`
	QuoteTimeout duration `toml:"quote_timeout"`
}

// HeartbeatConfig holds venue health-probe parameters.
type HeartbeatConfig struct {
	Interval   duration `toml:"interval"`
	MaxBackoff duration `toml:"max_backoff"`
}

// SimulatorConfig holds the built-in matching simulator parameters.
type SimulatorConfig struct {
	TickInterval   duration           `toml:"tick_interval"`
	EvalInterval   duration           `toml:"eval_interval"`
	WalkBps        float64            `toml:"walk_bps"`
	SlippagePct    float64            `toml:"slippage_pct"`
	CommissionFlat float64            `toml:"commission_flat"`
	CommissionPct  float64            `toml:"commission_pct"`
	RestingTTL     duration           `toml:"resting_ttl"`
	Seed           int64              `toml:"seed"`
	StartingCash   float64            `toml:"starting_cash"`
	Prices         map[string]float64 `toml:"prices"`
}

// ArbitrageConfig holds cross-venue scanner parameters.
type ArbitrageConfig struct {
	Enabled      bool     `toml:"enabled"`
	Interval     duration `toml:"interval"`
	MinNetBps    float64  `toml:"min_net_bps"`
	TTL          duration `toml:"ttl"`
	MaxLatencyMs float64  `toml:"max_latency_ms"`
}

// AnalyticsConfig holds post-trade analytics parameters.
type AnalyticsConfig struct {
	HistoryCap       int     `toml:"history_cap"`
	HighSlippageBps  float64 `toml:"high_slippage_bps"`
	HighShortfallBps float64 `toml:"high_shortfall_bps"`
}

// RedisConfig holds Redis connection parameters. Redis mirrors quotes and
// fans out engine events; leave enabled=false to run fully in process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for settled-order
// and report persistence.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters. RateLimit bounds order
// submissions per client IP inside RateWindow and needs Redis; zero disables
// the limiter.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
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

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Scoring: ScoringConfig{
			Latency:         20,
			Liquidity:       25,
			FillRate:        20,
			Slippage:        15,
			Fee:             10,
			DarkBonus:       8,
			ToxicityPenalty: 15,
			ImbalanceBonus:  5,
			LatencyRefMs:    200,
			LargeOrderQty:   10_000,
		},
		Planner: PlannerConfig{
			DarkPoolCapFrac: 0.30,
			LitCapFrac:      0.25,
			MinAllocation:   1,
			HighConfidence:  0.85,
			LowConfidence:   0.2,
		},
		Lifecycle: LifecycleConfig{
			ChildTimeout:  duration{5 * time.Second},
			FillThreshold: 0.99,
			UpdateBuffer:  1024,
		},
		Liquidity: LiquidityConfig{
			Interval:     duration{time.Second},
			QuoteTimeout: duration{250 * time.Millisecond},
		},
		Heartbeat: HeartbeatConfig{
			Interval:   duration{5 * time.Second},
			MaxBackoff: duration{time.Minute},
		},
		Simulator: SimulatorConfig{
			TickInterval:   duration{200 * time.Millisecond},
			EvalInterval:   duration{100 * time.Millisecond},
			WalkBps:        20,
			SlippagePct:    0.05,
			CommissionFlat: 0.5,
			CommissionPct:  0.01,
			Seed:           1,
			StartingCash:   1_000_000,
			Prices:         map[string]float64{},
		},
		Arbitrage: ArbitrageConfig{
			Enabled:      true,
			Interval:     duration{250 * time.Millisecond},
			MinNetBps:    5,
			TTL:          duration{500 * time.Millisecond},
			MaxLatencyMs: 200,
		},
		Analytics: AnalyticsConfig{
			HistoryCap:       1000,
			HighSlippageBps:  20,
			HighShortfallBps: 35,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "smartrouter",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "smartrouter-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"arb_detected", "order_completed", "venue_disconnected"},
		},
		Mode:     "sim",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sim":     true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validCategories enumerates the accepted venue categories.
var validCategories = map[string]bool{
	"lit_exchange":    true,
	"dark_pool":       true,
	"midpoint":        true,
	"crypto_exchange": true,
	"dex":             true,
	"forex_ecn":       true,
	"otc_desk":        true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sim, monitor, server)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venues
	if len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue must be configured")
	}
	seen := map[string]bool{}
	for i, v := range c.Venues {
		if v.ID == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: id must not be empty", i))
			continue
		}
		if seen[v.ID] {
			errs = append(errs, fmt.Sprintf("venues: duplicate id %q", v.ID))
		}
		seen[v.ID] = true
		if !validCategories[v.Category] {
			errs = append(errs, fmt.Sprintf("venues[%s]: unknown category %q", v.ID, v.Category))
		}
		if v.LatencyMs < 0 {
			errs = append(errs, fmt.Sprintf("venues[%s]: latency_ms must be >= 0", v.ID))
		}
		if len(v.Symbols) == 0 {
			errs = append(errs, fmt.Sprintf("venues[%s]: symbols must not be empty", v.ID))
		}
	}

	// Liquidity
	if len(c.Liquidity.Symbols) == 0 {
		errs = append(errs, "liquidity: symbols must not be empty")
	}
	if c.Liquidity.Interval.Duration <= 0 {
		errs = append(errs, "liquidity: interval must be positive")
	}

	// Planner
	if c.Planner.DarkPoolCapFrac <= 0 || c.Planner.DarkPoolCapFrac > 1 {
		errs = append(errs, "planner: dark_pool_cap_frac must be in (0, 1]")
	}
	if c.Planner.LitCapFrac <= 0 || c.Planner.LitCapFrac > 1 {
		errs = append(errs, "planner: lit_cap_frac must be in (0, 1]")
	}

	// Lifecycle
	if c.Lifecycle.ChildTimeout.Duration <= 0 {
		errs = append(errs, "lifecycle: child_timeout must be positive")
	}
	if c.Lifecycle.FillThreshold <= 0 || c.Lifecycle.FillThreshold > 1 {
		errs = append(errs, "lifecycle: fill_threshold must be in (0, 1]")
	}

	// Simulator
	if strings.ToLower(c.Mode) == "sim" {
		if c.Simulator.StartingCash <= 0 {
			errs = append(errs, "simulator: starting_cash must be > 0 in sim mode")
		}
		for _, sym := range c.Liquidity.Symbols {
			if c.Simulator.Prices[sym] <= 0 {
				errs = append(errs, fmt.Sprintf("simulator: prices[%s] must be set in sim mode", sym))
			}
		}
	}

	// Arbitrage
	if c.Arbitrage.Enabled {
		if c.Arbitrage.MinNetBps <= 0 {
			errs = append(errs, "arbitrage: min_net_bps must be > 0 when enabled")
		}
		if c.Arbitrage.TTL.Duration <= 0 {
			errs = append(errs, "arbitrage: ttl must be positive when enabled")
		}
	}

	// Analytics
	if c.Analytics.HistoryCap < 1 {
		errs = append(errs, "analytics: history_cap must be >= 1")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
