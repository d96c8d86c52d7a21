package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/suhyunle/coin-trader/internal/audit"
	s3blob "github.com/suhyunle/coin-trader/internal/blob/s3"
	"github.com/suhyunle/coin-trader/internal/candle"
	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/engine"
	"github.com/suhyunle/coin-trader/internal/fill"
	"github.com/suhyunle/coin-trader/internal/report"
	"github.com/suhyunle/coin-trader/internal/risk"
	"github.com/suhyunle/coin-trader/internal/strategy"
)

// s3Scheme marks a candle file that lives in the configured bucket, e.g.
// s3://candles/krw-btc-5m.csv.
const s3Scheme = "s3://"

// BacktestMode replays a candle file, prints the report and its paper
// eligibility, and archives the run when asked to.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	path := a.cfg.Backtest.CandlesPath
	candles, err := a.loadCandles(ctx, deps, path)
	if err != nil {
		return err
	}
	strat, err := a.newStrategy()
	if err != nil {
		return err
	}

	bt, err := engine.NewBacktest(engine.BacktestConfig{
		InitialCapital:  a.cfg.Backtest.InitialCapital,
		PositionSizePct: a.cfg.Backtest.PositionSizePct,
		Fill:            a.fillConfig(),
		TrailingMult:    a.cfg.Strategy.TrailingMult,
		ATRPeriod:       a.cfg.Strategy.ATRPeriod,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}
	r := bt.Run(candles, strat)

	out := a.opts.Output
	if err := report.WriteSummary(out, fmt.Sprintf("Backtest: %s on %s", strat.Name(), a.cfg.Exchange.Market), r); err != nil {
		return fmt.Errorf("app: backtest: write summary: %w", err)
	}
	if err := report.WriteTrades(out, r.Trades); err != nil {
		return fmt.Errorf("app: backtest: write trades: %w", err)
	}
	writeEligibility(out, "paper", a.promotion().CheckPaper(r.ProfitFactor, r.MaxDrawdown, r.TotalTrades))

	rec := audit.NewRecorder(deps.AuditStore, domain.ModeBacktest, a.logger)
	rec.Info(ctx, "backtest", "BACKTEST_FINISHED", map[string]any{
		"source":   path,
		"candles":  len(candles),
		"strategy": strat.Name(),
		"trades":   r.TotalTrades,
		"pnl":      r.TotalPnL,
	})

	if !a.cfg.Backtest.Archive {
		return nil
	}
	if deps.Reports == nil {
		a.logger.WarnContext(ctx, "backtest archive requested but s3 is disabled")
		return nil
	}
	runID := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	archiver := s3blob.NewArchiver(deps.Reports, rec)
	prefix, err := archiver.ArchiveReport(ctx, runID, r)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}
	fmt.Fprintf(out, "Report archived to %s\n", prefix)
	return nil
}

// PaperMode trades live market data against simulated fills. On exit it
// prints the session report and whether it qualifies for live trading.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	s, err := a.newSession(deps, domain.ModePaper)
	if err != nil {
		return err
	}
	paper, err := engine.NewPaper(a.engineConfig(), a.fillConfig(), s.engineDeps(deps, a.logger))
	if err != nil {
		return fmt.Errorf("app: paper: %w", err)
	}
	s.state.Attach(paper, s.ks)

	started := time.Now()
	warmedTo := a.warmup(ctx, deps, s, paper)
	err = a.runSession(ctx, deps, s, paper, warmedTo, nil)

	trades := report.TradeLog(paper.Events(), domain.ModePaper)
	r := report.Build(trades, nil, a.cfg.Live.InitialEquity, paper.Equity())
	if werr := report.WriteSummary(a.opts.Output, "Paper session", r); werr != nil {
		a.logger.Warn("write paper summary failed", slog.String("error", werr.Error()))
	}
	stats := report.SessionStats(paper.Events(), trades, a.cfg.Live.InitialEquity, started)
	writeEligibility(a.opts.Output, "live", a.promotion().CheckLive(stats, time.Now()))
	return err
}

// LiveMode trades real funds. It takes the per-market lock when redis is
// available, reconciles with the exchange before the first bar and sells
// any open position on the way out.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	s, err := a.newSession(deps, domain.ModeLive)
	if err != nil {
		return err
	}
	live, err := engine.NewLive(engine.LiveConfig{
		Config:                a.engineConfig(),
		MaxPositionKRW:        a.cfg.Risk.MaxPositionKRW,
		MaxPriceDriftPct:      a.cfg.Live.MaxPriceDriftPct,
		OrderTimeout:          a.cfg.Live.OrderTimeout.Duration,
		KillSwitchFailRatePct: a.cfg.Live.KillSwitchFailRatePct,
		ATRStopMultiplier:     a.cfg.Strategy.ATRStopMultiplier,
	}, s.gw, s.engineDeps(deps, a.logger))
	if err != nil {
		return fmt.Errorf("app: live: %w", err)
	}
	s.state.Attach(live, s.ks)

	if deps.LockManager != nil {
		release, err := deps.LockManager.Hold(ctx, "live:"+a.cfg.Exchange.Market, a.cfg.Live.LockTTL.Duration, func() {
			s.ks.Activate(context.Background(), "live trading lock lost", true)
		})
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: live: another instance is trading %s: %w", a.cfg.Exchange.Market, err)
			}
			return fmt.Errorf("app: live: %w", err)
		}
		defer release()
	}

	warmedTo := a.warmup(ctx, deps, s, live)
	if err := live.Reconcile(ctx); err != nil {
		return fmt.Errorf("app: live: %w", err)
	}

	err = a.runSession(ctx, deps, s, live, warmedTo, func(ctx context.Context, g *errgroup.Group) {
		interval := a.cfg.Live.BalanceSyncInterval.Duration
		if interval <= 0 {
			return
		}
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					_ = live.SyncBalance(ctx)
				}
			}
		})
	})

	shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Live.ShutdownTimeout.Duration)
	defer cancel()
	live.Liquidate(shutCtx, "shutdown")
	return err
}

// loadCandles reads a local CSV, or one from the bucket when the path has
// the s3:// prefix.
func (a *App) loadCandles(ctx context.Context, deps *Dependencies, path string) ([]domain.Candle, error) {
	var (
		candles []domain.Candle
		err     error
	)
	if key, ok := strings.CutPrefix(path, s3Scheme); ok {
		if deps.Candles == nil {
			return nil, fmt.Errorf("app: load candles %s: s3 is disabled", path)
		}
		var rc io.ReadCloser
		rc, err = deps.Candles.OpenCandles(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("app: load candles %s: %w", path, err)
		}
		defer rc.Close()
		candles, err = candle.ReadCSV(rc)
	} else {
		candles, err = candle.LoadCSV(path)
	}
	if err != nil {
		return nil, fmt.Errorf("app: load candles %s: %w", path, err)
	}
	a.logger.InfoContext(ctx, "candles loaded", slog.String("source", path), slog.Int("count", len(candles)))
	return candles, nil
}

func (a *App) newStrategy() (strategy.Strategy, error) {
	strat, err := strategy.DefaultRegistry().New(strategy.Config{
		Name:   a.cfg.Strategy.Name,
		Params: a.cfg.Strategy.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("app: strategy: %w", err)
	}
	return strat, nil
}

func (a *App) engineConfig() engine.Config {
	return engine.Config{
		InitialEquity: a.cfg.Live.InitialEquity,
		ATRPeriod:     a.cfg.Strategy.ATRPeriod,
		TrailingMult:  a.cfg.Strategy.TrailingMult,
	}
}

func (a *App) fillConfig() fill.Config {
	return fill.Config{FeeRate: a.cfg.Backtest.FeeRate, SlippageBps: a.cfg.Backtest.SlippageBps}
}

func (a *App) riskConfig() risk.Config {
	return risk.Config{
		RiskPerTradePct:   a.cfg.Risk.RiskPerTradePct,
		MaxDailyLossPct:   a.cfg.Risk.MaxDailyLossPct,
		MaxPositionKRW:    a.cfg.Risk.MaxPositionKRW,
		MaxDailyTrades:    a.cfg.Risk.MaxDailyTrades,
		Cooldown:          a.cfg.Risk.Cooldown.Duration,
		MinSpreadBps:      a.cfg.Risk.MinSpreadBps,
		MinATR:            a.cfg.Risk.MinATR,
		ATRStopMultiplier: a.cfg.Strategy.ATRStopMultiplier,
	}
}

func (a *App) promotion() report.PromotionConfig {
	return report.PromotionConfig{
		MinPaperDays:    a.cfg.Promotion.MinPaperDays,
		MinTrades:       a.cfg.Promotion.MinTrades,
		MinProfitFactor: a.cfg.Promotion.MinProfitFactor,
		MaxDrawdownPct:  a.cfg.Promotion.MaxDrawdownPct,
		MaxOrderFailPct: a.cfg.Promotion.MaxOrderFailPct,
	}
}

func writeEligibility(w io.Writer, next string, e report.Eligibility) {
	if e.Eligible {
		fmt.Fprintf(w, "Eligible for %s trading.\n", next)
		return
	}
	fmt.Fprintf(w, "Not eligible for %s trading:\n", next)
	for _, r := range e.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}
