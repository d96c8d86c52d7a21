// Package config defines the top-level configuration for the trader and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COINTRADER_* environment variables.
type Config struct {
	Exchange  ExchangeConfig  `toml:"exchange"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Risk      RiskConfig      `toml:"risk"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Live      LiveConfig      `toml:"live"`
	Promotion PromotionConfig `toml:"promotion"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ExchangeConfig holds Bithumb endpoints and API credentials. The secret key
// is read either from SecretKey or from an encrypted file.
type ExchangeConfig struct {
	RestURL             string   `toml:"rest_url"`
	WsURL               string   `toml:"ws_url"`
	Market              string   `toml:"market"`
	AccessKey           string   `toml:"access_key"`
	SecretKey           string   `toml:"secret_key"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Timeout             duration `toml:"timeout"`
	MaxRetries          int      `toml:"max_retries"`
	RequestsPerSecond   float64  `toml:"requests_per_second"`
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled the
// stores are kept in memory.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// RateLimit is the shared per-second budget for exchange calls across
	// processes. Zero disables the shared limiter.
	RateLimit int `toml:"rate_limit"`
}

// S3Config holds S3-compatible object storage parameters for report archives.
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

// RiskConfig holds the entry gates and position sizing limits.
type RiskConfig struct {
	RiskPerTradePct float64  `toml:"risk_per_trade_pct"`
	MaxDailyLossPct float64  `toml:"max_daily_loss_pct"`
	MaxPositionKRW  float64  `toml:"max_position_krw"`
	MaxDailyTrades  int      `toml:"max_daily_trades"`
	Cooldown        duration `toml:"cooldown"`
	MinSpreadBps    float64  `toml:"min_spread_bps"`
	MinATR          float64  `toml:"min_atr"`
}

// StrategyConfig selects the signal generator and the stop parameters the
// engines share.
type StrategyConfig struct {
	Name              string         `toml:"name"`
	Params            map[string]any `toml:"params"`
	ATRPeriod         int            `toml:"atr_period"`
	ATRStopMultiplier float64        `toml:"atr_stop_multiplier"`
	TrailingMult      float64        `toml:"trailing_mult"`
	CandleWidth       duration       `toml:"candle_width"`
}

// BacktestConfig holds replay parameters.
type BacktestConfig struct {
	CandlesPath     string  `toml:"candles_path"`
	InitialCapital  float64 `toml:"initial_capital"`
	PositionSizePct float64 `toml:"position_size_pct"`
	FeeRate         float64 `toml:"fee_rate"`
	SlippageBps     float64 `toml:"slippage_bps"`
	// Archive uploads the report to S3 when S3 is enabled.
	Archive bool `toml:"archive"`
}

// LiveConfig holds settings for the paper and live engines.
type LiveConfig struct {
	AutoTrade             bool     `toml:"auto_trade"`
	InitialEquity         float64  `toml:"initial_equity"`
	OrderTimeout          duration `toml:"order_timeout"`
	MaxPriceDriftPct      float64  `toml:"max_price_drift_pct"`
	KillSwitchFailRatePct float64  `toml:"kill_switch_fail_rate_pct"`
	WarmupCandles         int      `toml:"warmup_candles"`
	BalanceSyncInterval   duration `toml:"balance_sync_interval"`
	ReconcileInterval     duration `toml:"reconcile_interval"`
	ShutdownTimeout       duration `toml:"shutdown_timeout"`
	LockTTL               duration `toml:"lock_ttl"`
}

// PromotionConfig holds the paper-to-live promotion thresholds.
type PromotionConfig struct {
	MinPaperDays    int     `toml:"min_paper_days"`
	MinTrades       int     `toml:"min_trades"`
	MinProfitFactor float64 `toml:"min_profit_factor"`
	MaxDrawdownPct  float64 `toml:"max_drawdown_pct"`
	MaxOrderFailPct float64 `toml:"max_order_fail_pct"`
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

// ServerConfig holds dashboard HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the mutating routes. Empty leaves them open.
	APIKey string `toml:"api_key"`
	// RateLimit caps requests per client per minute. It needs redis.
	RateLimit int `toml:"rate_limit"`
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
		Exchange: ExchangeConfig{
			RestURL:           "https://api.bithumb.com",
			WsURL:             "wss://ws-api.bithumb.com/websocket/v1",
			Market:            "KRW-BTC",
			Timeout:           duration{10 * time.Second},
			MaxRetries:        3,
			RequestsPerSecond: 10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cointrader",
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
			RateLimit:  10,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "ap-northeast-2",
			Bucket:         "cointrader-reports",
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			RiskPerTradePct: 0.01,
			MaxDailyLossPct: 0.03,
			MaxPositionKRW:  500_000,
			MaxDailyTrades:  10,
			Cooldown:        duration{30 * time.Minute},
			MinSpreadBps:    10,
			MinATR:          50_000,
		},
		Strategy: StrategyConfig{
			Name:              "donchian",
			Params:            map[string]any{},
			ATRPeriod:         14,
			ATRStopMultiplier: 2.0,
			TrailingMult:      3.0,
			CandleWidth:       duration{5 * time.Minute},
		},
		Backtest: BacktestConfig{
			InitialCapital:  10_000_000,
			PositionSizePct: 1.0,
			FeeRate:         0.0025,
			SlippageBps:     5,
		},
		Live: LiveConfig{
			AutoTrade:             false,
			InitialEquity:         10_000_000,
			OrderTimeout:          duration{5 * time.Second},
			MaxPriceDriftPct:      0.5,
			KillSwitchFailRatePct: 50,
			WarmupCandles:         200,
			BalanceSyncInterval:   duration{5 * time.Minute},
			ReconcileInterval:     duration{30 * time.Minute},
			ShutdownTimeout:       duration{10 * time.Second},
			LockTTL:               duration{30 * time.Second},
		},
		Promotion: PromotionConfig{
			MinPaperDays:    14,
			MinTrades:       200,
			MinProfitFactor: 1.2,
			MaxDrawdownPct:  20,
			MaxOrderFailPct: 1,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"startup", "shutdown", "entry", "exit", "kill_switch", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"backtest": true,
	"paper":    true,
	"live":     true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: backtest, paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange. Credentials only matter when real orders are placed.
	if c.Exchange.RestURL == "" {
		errs = append(errs, "exchange: rest_url must not be empty")
	}
	if c.Exchange.Market == "" {
		errs = append(errs, "exchange: market must not be empty")
	}
	if c.Exchange.MaxRetries < 0 {
		errs = append(errs, "exchange: max_retries must be >= 0")
	}
	if c.Exchange.RequestsPerSecond <= 0 {
		errs = append(errs, "exchange: requests_per_second must be > 0")
	}
	if strings.EqualFold(c.Mode, "live") {
		if c.Exchange.AccessKey == "" {
			errs = append(errs, "exchange: access_key is required for mode live")
		}
		if c.Exchange.SecretKey == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either secret_key or encrypted_secret_path must be set for mode live")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}

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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Risk
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 1 {
		errs = append(errs, "risk: risk_per_trade_pct must be in (0, 1]")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 1 {
		errs = append(errs, "risk: max_daily_loss_pct must be in (0, 1]")
	}
	if c.Risk.MaxPositionKRW <= 0 {
		errs = append(errs, "risk: max_position_krw must be > 0")
	}
	if c.Risk.MaxDailyTrades < 1 {
		errs = append(errs, "risk: max_daily_trades must be >= 1")
	}
	if c.Risk.Cooldown.Duration < 0 {
		errs = append(errs, "risk: cooldown must not be negative")
	}

	// Strategy
	if c.Strategy.Name == "" {
		errs = append(errs, "strategy: name must not be empty")
	}
	if c.Strategy.ATRPeriod < 1 {
		errs = append(errs, "strategy: atr_period must be >= 1")
	}
	if c.Strategy.ATRStopMultiplier <= 0 {
		errs = append(errs, "strategy: atr_stop_multiplier must be > 0")
	}
	if c.Strategy.TrailingMult <= 0 {
		errs = append(errs, "strategy: trailing_mult must be > 0")
	}
	if c.Strategy.CandleWidth.Duration < time.Minute {
		errs = append(errs, "strategy: candle_width must be at least 1m")
	}

	// Backtest
	if strings.EqualFold(c.Mode, "backtest") && c.Backtest.CandlesPath == "" {
		errs = append(errs, "backtest: candles_path is required for mode backtest")
	}
	if c.Backtest.InitialCapital <= 0 {
		errs = append(errs, "backtest: initial_capital must be > 0")
	}
	if c.Backtest.PositionSizePct <= 0 || c.Backtest.PositionSizePct > 1 {
		errs = append(errs, "backtest: position_size_pct must be in (0, 1]")
	}
	if c.Backtest.FeeRate < 0 || c.Backtest.SlippageBps < 0 {
		errs = append(errs, "backtest: fee_rate and slippage_bps must not be negative")
	}

	// Live
	if c.Live.InitialEquity <= 0 {
		errs = append(errs, "live: initial_equity must be > 0")
	}
	if c.Live.OrderTimeout.Duration <= 0 {
		errs = append(errs, "live: order_timeout must be > 0")
	}
	if c.Live.KillSwitchFailRatePct <= 0 || c.Live.KillSwitchFailRatePct > 100 {
		errs = append(errs, "live: kill_switch_fail_rate_pct must be in (0, 100]")
	}
	if c.Live.WarmupCandles < 0 {
		errs = append(errs, "live: warmup_candles must be >= 0")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
