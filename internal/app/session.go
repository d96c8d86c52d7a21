package app

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/suhyunle/coin-trader/internal/audit"
	s3blob "github.com/suhyunle/coin-trader/internal/blob/s3"
	"github.com/suhyunle/coin-trader/internal/crypto"
	"github.com/suhyunle/coin-trader/internal/dashboard"
	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/engine"
	"github.com/suhyunle/coin-trader/internal/exchange/bithumb"
	"github.com/suhyunle/coin-trader/internal/feed"
	"github.com/suhyunle/coin-trader/internal/killswitch"
	"github.com/suhyunle/coin-trader/internal/notify"
	"github.com/suhyunle/coin-trader/internal/risk"
	"github.com/suhyunle/coin-trader/internal/server"
	"github.com/suhyunle/coin-trader/internal/server/handler"
	"github.com/suhyunle/coin-trader/internal/server/ws"
	"github.com/suhyunle/coin-trader/internal/statemachine"
	"github.com/suhyunle/coin-trader/internal/strategy"
)

// tradingEngine is what the paper and live engines share with the feed and
// the dashboard.
type tradingEngine interface {
	feed.CandleSink
	Warmup(candles []domain.Candle)
	State() domain.TradingState
}

// session holds the governance objects of one paper or live run.
type session struct {
	mode    domain.TradingMode
	strat   strategy.Strategy
	client  *bithumb.Client
	gw      *bithumb.Gateway
	rec     *audit.Recorder
	machine *statemachine.Machine
	risk    *risk.Manager
	ks      *killswitch.Switch
	state   *dashboard.State
}

func (a *App) newSession(deps *Dependencies, mode domain.TradingMode) (*session, error) {
	strat, err := a.newStrategy()
	if err != nil {
		return nil, err
	}
	client, err := a.newExchangeClient(deps, mode == domain.ModeLive)
	if err != nil {
		return nil, err
	}
	gw, err := bithumb.NewGateway(client, a.cfg.Exchange.Market, a.cfg.Strategy.CandleWidth.Duration)
	if err != nil {
		return nil, fmt.Errorf("app: gateway: %w", err)
	}

	rec := audit.NewRecorder(deps.AuditStore, mode, a.logger)
	machine := statemachine.New(a.logger)
	opts := []killswitch.Option{killswitch.WithAlerter(deps.Notifier)}
	if mode == domain.ModeLive {
		opts = append(opts, killswitch.WithLiquidator(gw))
	}

	return &session{
		mode:    mode,
		strat:   strat,
		client:  client,
		gw:      gw,
		rec:     rec,
		machine: machine,
		risk:    risk.NewManager(a.riskConfig(), a.logger),
		ks:      killswitch.New(machine, rec, a.logger, opts...),
		state: dashboard.NewState(dashboard.Config{
			Mode:     mode,
			Market:   a.cfg.Exchange.Market,
			Strategy: strat.Name(),
		}, a.cfg.Live.AutoTrade, a.logger),
	}, nil
}

func (s *session) engineDeps(deps *Dependencies, logger *slog.Logger) engine.Deps {
	return engine.Deps{
		Strategy:   s.strat,
		Machine:    s.machine,
		Risk:       s.risk,
		KillSwitch: s.ks,
		Audit:      s.rec,
		Trades:     deps.TradeStore,
		Observer:   s.state,
		Alerter:    deps.Notifier,
		Auto:       s.state.AutoEnabled,
		Logger:     logger,
	}
}

// newExchangeClient builds the REST client. Credentials are loaded when an
// access key is configured; live mode refuses to start without them.
func (a *App) newExchangeClient(deps *Dependencies, requireKeys bool) (*bithumb.Client, error) {
	ccfg := bithumb.ClientConfig{
		BaseURL:           a.cfg.Exchange.RestURL,
		AccessKey:         a.cfg.Exchange.AccessKey,
		Timeout:           a.cfg.Exchange.Timeout.Duration,
		MaxRetries:        a.cfg.Exchange.MaxRetries,
		RequestsPerSecond: a.cfg.Exchange.RequestsPerSecond,
	}
	if a.cfg.Exchange.AccessKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           a.cfg.Exchange.SecretKey,
			EncryptedPath: a.cfg.Exchange.EncryptedSecretPath,
			Password:      a.cfg.Exchange.SecretPassword,
		})
		switch {
		case err == nil:
			ccfg.SecretKey = secret
		case requireKeys:
			return nil, fmt.Errorf("app: exchange secret: %w", err)
		default:
			a.logger.Warn("exchange secret unavailable, private endpoints disabled", slog.String("error", err.Error()))
		}
	}

	client := bithumb.NewClient(ccfg, a.logger)
	if requireKeys && !client.HasCredentials() {
		return nil, fmt.Errorf("app: exchange credentials are required for live trading")
	}
	if deps.RateLimiter != nil && a.cfg.Redis.RateLimit > 0 {
		client.UseSharedLimiter(deps.RateLimiter, a.cfg.Redis.RateLimit)
	}
	return client, nil
}

// warmup primes the engine with the most recent closed bars, preferring the
// store and topping up from the exchange. It returns the last bar replayed.
func (a *App) warmup(ctx context.Context, deps *Dependencies, s *session, eng tradingEngine) time.Time {
	n := a.cfg.Live.WarmupCandles
	if n <= 0 {
		return time.Time{}
	}
	candles, err := deps.CandleStore.LatestCandles(ctx, n)
	if err != nil {
		a.logger.WarnContext(ctx, "warmup: read stored candles failed", slog.String("error", err.Error()))
		candles = nil
	}
	if len(candles) < n {
		fetched, err := s.gw.Candles(ctx, n+1)
		if err != nil {
			a.logger.WarnContext(ctx, "warmup: fetch candles failed", slog.String("error", err.Error()))
		} else {
			fetched = closedOnly(fetched, a.cfg.Strategy.CandleWidth.Duration, time.Now())
			if err := deps.CandleStore.UpsertCandles(ctx, fetched); err != nil {
				a.logger.WarnContext(ctx, "warmup: store candles failed", slog.String("error", err.Error()))
			}
			candles = fetched
		}
	}
	if len(candles) == 0 {
		a.logger.WarnContext(ctx, "warmup: no history, indicators start cold")
		return time.Time{}
	}

	eng.Warmup(candles)
	for _, c := range candles {
		s.state.OnCandle(c)
	}
	return candles[len(candles)-1].Timestamp
}

// closedOnly drops a trailing bar that is still forming at now.
func closedOnly(candles []domain.Candle, width time.Duration, now time.Time) []domain.Candle {
	for len(candles) > 0 && candles[len(candles)-1].Timestamp.Add(width).After(now) {
		candles = candles[:len(candles)-1]
	}
	return candles
}

// runSession starts the feed, reconciler, dashboard and optional extras, and
// blocks until they stop.
func (a *App) runSession(ctx context.Context, deps *Dependencies, s *session, eng tradingEngine, warmedTo time.Time, extra func(context.Context, *errgroup.Group)) error {
	ctx, quit := context.WithCancel(ctx)
	defer quit()
	g, ctx := errgroup.WithContext(ctx)

	feeder := feed.NewEngineFeeder(feed.FeederConfig{
		Market: a.cfg.Exchange.Market,
		Width:  a.cfg.Strategy.CandleWidth.Duration,
	}, feed.FeederDeps{
		Sink:     eng,
		Store:    deps.CandleStore,
		Prices:   deps.PriceCache,
		Books:    deps.BookCache,
		History:  s.gw,
		Audit:    s.rec,
		Observer: s.state,
		Logger:   a.logger,
	})
	if !warmedTo.IsZero() {
		feeder.MarkWarm(warmedTo)
	}
	marketFeed := feed.NewMarketFeed(a.cfg.Exchange.WsURL, a.cfg.Exchange.Market, feeder, deps.Notifier, a.logger)
	reconciler := feed.NewReconciler(s.gw, deps.CandleStore, s.gw, s.risk, s.rec, a.cfg.Live.ReconcileInterval.Duration, a.logger)

	g.Go(func() error { return feeder.Run(ctx) })
	g.Go(func() error { return marketFeed.Run(ctx) })
	g.Go(func() error { return reconciler.Run(ctx) })
	g.Go(func() error { return s.state.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, s)
	} else if deps.SignalBus != nil {
		s.state.SetPublisher(deps.SignalBus)
	}
	if a.opts.Interactive {
		a.startKeyboard(ctx, g, s, quit)
	}
	if extra != nil {
		extra(ctx, g)
	}

	a.notify(ctx, deps, notify.EventStartup, "Started",
		fmt.Sprintf("%s %s with %s (auto=%t)", s.mode, a.cfg.Exchange.Market, s.strat.Name(), s.state.AutoEnabled()))
	s.rec.Info(ctx, "app", "STARTUP", map[string]any{"market": a.cfg.Exchange.Market, "strategy": s.strat.Name()})

	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.rec.Info(stopCtx, "app", "SHUTDOWN", map[string]any{"state": string(eng.State())})
	a.notify(stopCtx, deps, notify.EventShutdown, "Stopped", fmt.Sprintf("%s %s stopped in state %s", s.mode, a.cfg.Exchange.Market, eng.State()))
	return err
}

// startHTTPServer serves the dashboard API. With redis the hub relays the
// bus, so other processes see the same pushes; without it the dashboard
// state publishes to the hub directly.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, s *session) {
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Topics:      dashboard.Topics,
		EventTopic:  dashboard.TopicEvent,
		EventStream: dashboard.EventStream,
		Hello:       s.state.Hello,
	}, a.logger)
	if deps.SignalBus != nil {
		s.state.SetPublisher(deps.SignalBus)
	} else {
		s.state.SetPublisher(hub)
	}

	h := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(s.state),
		History: handler.NewHistoryHandler(deps.TradeStore, deps.AuditStore, deps.CandleStore, s.state, a.logger),
		Control: handler.NewControlHandler(s.state, s.ks, a.logger),
	}
	if deps.Reports != nil {
		h.Reports = handler.NewReportHandler(s3blob.NewArchiver(deps.Reports, s.rec), a.logger)
	}

	srv := server.NewServer(server.Config{
		Addr:        fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
}

const keyHelp = "keys: k=kill  r=reset kill switch  a=toggle auto  s=status  q=quit"

// startKeyboard reads one command per line. The reader goroutine is not
// part of the group because a blocked stdin read cannot be interrupted.
func (a *App) startKeyboard(ctx context.Context, g *errgroup.Group, s *session, quit context.CancelFunc) {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(a.opts.Input)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(a.opts.Output, keyHelp)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case key := <-lines:
				a.handleKey(ctx, s, key, quit)
			}
		}
	})
}

func (a *App) handleKey(ctx context.Context, s *session, key string, quit context.CancelFunc) {
	out := a.opts.Output
	switch strings.ToLower(key) {
	case "k":
		s.ks.Activate(ctx, "manual kill (keyboard)", true)
	case "r":
		s.ks.Deactivate(ctx)
	case "a":
		s.state.SetAuto(!s.state.AutoEnabled())
		fmt.Fprintf(out, "auto trading: %t\n", s.state.AutoEnabled())
	case "s":
		st := s.state.Status()
		fmt.Fprintf(out, "state=%s position=%s equity=%.0f price=%.0f ws=%s auto=%t kill=%t\n",
			st.State, st.Position, st.Equity, st.LastPrice, st.WSState, st.Auto, st.KillSwitch)
	case "q":
		quit()
	case "":
	default:
		fmt.Fprintln(out, keyHelp)
	}
}

func (a *App) notify(ctx context.Context, deps *Dependencies, event, title, msg string) {
	if err := deps.Notifier.Notify(ctx, event, title, msg); err != nil {
		a.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
