// Command cointrader is the entry point for the Bithumb KRW-BTC trader. It
// loads configuration, validates it, sets up signal handling, and runs the
// backtest, paper or live mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/suhyunle/coin-trader/internal/app"
	"github.com/suhyunle/coin-trader/internal/config"
	"github.com/suhyunle/coin-trader/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (backtest, paper, live)")
	candles := flag.String("candles", "", "backtest candle CSV; an s3:// prefix reads from the bucket")
	interactive := flag.Bool("interactive", false, "read k/r/a/s/q commands from stdin")
	encryptTo := flag.String("encrypt-secret", "", "read the exchange secret from stdin, seal it to this file and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration. A missing default file is fine; env vars may
	// carry everything.
	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config.toml" {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *encryptTo != "" {
		if err := sealSecret(*encryptTo, cfg.Exchange.SecretPassword); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "sealed secret written to %s\n", *encryptTo)
		return
	}

	if *mode != "" {
		cfg.Mode = *mode
	}
	if *candles != "" {
		cfg.Backtest.CandlesPath = *candles
	}

	// Set log level from config.
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("cointrader starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", path),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, app.Options{Interactive: *interactive}, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		application.Close()
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("cointrader stopped")
}

// sealSecret reads one line from stdin and writes it encrypted to path.
func sealSecret(path, password string) error {
	if password == "" {
		return errors.New("set exchange.secret_password or COINTRADER_EXCHANGE_SECRET_PASSWORD")
	}
	fmt.Fprint(os.Stderr, "exchange secret: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return errors.New("empty secret")
	}
	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
