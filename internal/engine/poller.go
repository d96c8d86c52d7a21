package engine

import (
	"context"
	"errors"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// FillStatus is the outcome of waiting for an order.
type FillStatus string

const (
	FillStatusFilled    FillStatus = "filled"
	FillStatusCancelled FillStatus = "cancelled"
	FillStatusTimeout   FillStatus = "timeout"
)

// FillResult is returned by WaitForFill.
type FillResult struct {
	Status FillStatus
	Order  domain.OrderInfo
	Err    error // last lookup error, if any
}

// Filled reports whether any quantity executed.
func (r FillResult) Filled() bool { return r.Status == FillStatusFilled }

// OrderGetter looks up one order. domain.MarketGateway satisfies it.
type OrderGetter interface {
	Order(ctx context.Context, id string) (domain.OrderInfo, error)
}

// Poller waits for order completion with escalating sleeps. The last
// interval repeats until the deadline.
type Poller struct {
	Intervals []time.Duration
}

// DefaultPoller sleeps 500ms, 1s, then 2s between lookups.
var DefaultPoller = Poller{Intervals: []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}}

// WaitForFill polls with DefaultPoller.
func WaitForFill(ctx context.Context, gw OrderGetter, orderID string, timeout time.Duration) FillResult {
	return DefaultPoller.Wait(ctx, gw, orderID, timeout)
}

// Wait polls until the order is terminal or timeout elapses, then makes one
// final lookup. A cancelled order that executed some volume counts as
// filled; exchanges cancel the unfillable remainder of market orders.
func (p Poller) Wait(ctx context.Context, gw OrderGetter, orderID string, timeout time.Duration) FillResult {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for i := 0; ; i++ {
		wait := p.interval(i)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if wait > remaining {
			wait = remaining
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return FillResult{Status: FillStatusTimeout, Err: ctx.Err()}
		case <-t.C:
		}

		info, err := gw.Order(ctx, orderID)
		if err != nil {
			lastErr = err
			if errors.Is(err, domain.ErrUnauthorized) {
				return FillResult{Status: FillStatusTimeout, Err: err}
			}
			continue
		}
		if res, done := classify(info); done {
			return res
		}
	}

	// One last look in case the order completed right at the deadline.
	info, err := gw.Order(ctx, orderID)
	if err != nil {
		return FillResult{Status: FillStatusTimeout, Err: err}
	}
	if res, done := classify(info); done {
		return res
	}
	return FillResult{Status: FillStatusTimeout, Order: info, Err: lastErr}
}

func (p Poller) interval(i int) time.Duration {
	if len(p.Intervals) == 0 {
		return time.Second
	}
	if i >= len(p.Intervals) {
		return p.Intervals[len(p.Intervals)-1]
	}
	return p.Intervals[i]
}

func classify(info domain.OrderInfo) (FillResult, bool) {
	switch info.State {
	case domain.OrderStateDone:
		return FillResult{Status: FillStatusFilled, Order: info}, true
	case domain.OrderStateCancel:
		if info.ExecutedVolume > 0 {
			return FillResult{Status: FillStatusFilled, Order: info}, true
		}
		return FillResult{Status: FillStatusCancelled, Order: info}, true
	}
	return FillResult{}, false
}

// AvgFillPrice is the volume-weighted price of the order's executed trades.
// Without trade detail only an executed limit order has a known price; ok is
// false when no price can be derived.
func AvgFillPrice(info domain.OrderInfo) (float64, bool) {
	var funds, vol float64
	for _, t := range info.Trades {
		f := t.Funds
		if f == 0 {
			f = t.Price * t.Volume
		}
		funds += f
		vol += t.Volume
	}
	if vol > 0 {
		return funds / vol, true
	}
	if info.OrdType == "limit" && info.Price > 0 && info.ExecutedVolume > 0 {
		return info.Price, true
	}
	return 0, false
}
