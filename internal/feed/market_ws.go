package feed

import (
	"context"
	"log/slog"

	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/exchange/bithumb"
)

// Alerter forwards connection state changes to humans.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketFeed connects the exchange socket to an EngineFeeder. Reconnects are
// handled by the socket client; the feeder sees every state change.
type MarketFeed struct {
	client  *bithumb.WSClient
	feeder  *EngineFeeder
	alerter Alerter
	logger  *slog.Logger
}

// NewMarketFeed creates a feed for market. alerter may be nil.
func NewMarketFeed(wsURL, market string, feeder *EngineFeeder, alerter Alerter, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		client:  bithumb.NewWSClient(wsURL, []string{market}, logger),
		feeder:  feeder,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "market_feed")),
	}
}

// State returns the socket state.
func (m *MarketFeed) State() string { return string(m.client.State()) }

// Run subscribes and streams until ctx is cancelled.
func (m *MarketFeed) Run(ctx context.Context) error {
	m.client.OnTrade(func(t domain.Tick) { m.feeder.HandleTick(ctx, t) })
	m.client.OnOrderbook(func(s domain.OrderbookSnapshot) { m.feeder.HandleOrderbook(ctx, s) })
	m.client.OnState(func(s bithumb.ConnState) {
		m.logger.InfoContext(ctx, "websocket state changed", slog.String("state", string(s)))
		m.feeder.HandleConnState(ctx, string(s))
		if m.alerter != nil && s != bithumb.StateConnecting {
			_ = m.alerter.Notify(ctx, "ws_state", "WebSocket "+string(s), "market feed is "+string(s))
		}
	})
	return m.client.Run(ctx)
}
