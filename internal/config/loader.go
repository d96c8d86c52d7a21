package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COINTRADER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COINTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestURL, "COINTRADER_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.WsURL, "COINTRADER_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.Market, "COINTRADER_EXCHANGE_MARKET")
	setStr(&cfg.Exchange.AccessKey, "COINTRADER_EXCHANGE_ACCESS_KEY")
	setStr(&cfg.Exchange.AccessKey, "BITHUMB_ACCESS_KEY") // compatibility alias
	setStr(&cfg.Exchange.SecretKey, "COINTRADER_EXCHANGE_SECRET_KEY")
	setStr(&cfg.Exchange.SecretKey, "BITHUMB_SECRET_KEY") // compatibility alias
	setStr(&cfg.Exchange.EncryptedSecretPath, "COINTRADER_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "COINTRADER_EXCHANGE_SECRET_PASSWORD")
	setDuration(&cfg.Exchange.Timeout, "COINTRADER_EXCHANGE_TIMEOUT")
	setInt(&cfg.Exchange.MaxRetries, "COINTRADER_EXCHANGE_MAX_RETRIES")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "COINTRADER_EXCHANGE_REQUESTS_PER_SECOND")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "COINTRADER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "COINTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "COINTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COINTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COINTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COINTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COINTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COINTRADER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COINTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COINTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COINTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COINTRADER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COINTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COINTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COINTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COINTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COINTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COINTRADER_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.RateLimit, "COINTRADER_REDIS_RATE_LIMIT")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COINTRADER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COINTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COINTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "COINTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COINTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COINTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COINTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COINTRADER_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setFloat64(&cfg.Risk.RiskPerTradePct, "COINTRADER_RISK_PER_TRADE_PCT")
	setFloat64(&cfg.Risk.MaxDailyLossPct, "COINTRADER_RISK_MAX_DAILY_LOSS_PCT")
	setFloat64(&cfg.Risk.MaxPositionKRW, "COINTRADER_RISK_MAX_POSITION_KRW")
	setInt(&cfg.Risk.MaxDailyTrades, "COINTRADER_RISK_MAX_DAILY_TRADES")
	setDuration(&cfg.Risk.Cooldown, "COINTRADER_RISK_COOLDOWN")
	setFloat64(&cfg.Risk.MinSpreadBps, "COINTRADER_RISK_MIN_SPREAD_BPS")
	setFloat64(&cfg.Risk.MinATR, "COINTRADER_RISK_MIN_ATR")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "COINTRADER_STRATEGY_NAME")
	setInt(&cfg.Strategy.ATRPeriod, "COINTRADER_STRATEGY_ATR_PERIOD")
	setFloat64(&cfg.Strategy.ATRStopMultiplier, "COINTRADER_STRATEGY_ATR_STOP_MULTIPLIER")
	setFloat64(&cfg.Strategy.TrailingMult, "COINTRADER_STRATEGY_TRAILING_MULT")
	setDuration(&cfg.Strategy.CandleWidth, "COINTRADER_STRATEGY_CANDLE_WIDTH")

	// ── Backtest ──
	setStr(&cfg.Backtest.CandlesPath, "COINTRADER_BACKTEST_CANDLES_PATH")
	setFloat64(&cfg.Backtest.InitialCapital, "COINTRADER_BACKTEST_INITIAL_CAPITAL")
	setFloat64(&cfg.Backtest.PositionSizePct, "COINTRADER_BACKTEST_POSITION_SIZE_PCT")
	setFloat64(&cfg.Backtest.FeeRate, "COINTRADER_BACKTEST_FEE_RATE")
	setFloat64(&cfg.Backtest.SlippageBps, "COINTRADER_BACKTEST_SLIPPAGE_BPS")
	setBool(&cfg.Backtest.Archive, "COINTRADER_BACKTEST_ARCHIVE")

	// ── Live ──
	setBool(&cfg.Live.AutoTrade, "COINTRADER_LIVE_AUTO_TRADE")
	setFloat64(&cfg.Live.InitialEquity, "COINTRADER_LIVE_INITIAL_EQUITY")
	setDuration(&cfg.Live.OrderTimeout, "COINTRADER_LIVE_ORDER_TIMEOUT")
	setFloat64(&cfg.Live.MaxPriceDriftPct, "COINTRADER_LIVE_MAX_PRICE_DRIFT_PCT")
	setFloat64(&cfg.Live.KillSwitchFailRatePct, "COINTRADER_LIVE_KILL_SWITCH_FAIL_RATE_PCT")
	setInt(&cfg.Live.WarmupCandles, "COINTRADER_LIVE_WARMUP_CANDLES")
	setDuration(&cfg.Live.BalanceSyncInterval, "COINTRADER_LIVE_BALANCE_SYNC_INTERVAL")
	setDuration(&cfg.Live.ReconcileInterval, "COINTRADER_LIVE_RECONCILE_INTERVAL")
	setDuration(&cfg.Live.ShutdownTimeout, "COINTRADER_LIVE_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.Live.LockTTL, "COINTRADER_LIVE_LOCK_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COINTRADER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COINTRADER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COINTRADER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "COINTRADER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "COINTRADER_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COINTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COINTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COINTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COINTRADER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COINTRADER_MODE")
	setStr(&cfg.LogLevel, "COINTRADER_LOG_LEVEL")
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
