package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) domain.Candle {
	return domain.Candle{Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute), Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func TestUpsertMergesRange(t *testing.T) {
	ctx := context.Background()
	s := NewCandleStore()
	require.NoError(t, s.UpsertCandle(ctx, bar(0, 100, 110, 95, 105)))
	require.NoError(t, s.UpsertCandle(ctx, bar(0, 101, 108, 90, 107)))

	got, err := s.LatestCandles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 110.0, got[0].High)
	assert.Equal(t, 90.0, got[0].Low)
	assert.Equal(t, 107.0, got[0].Close)
	assert.Equal(t, 101.0, got[0].Open)
}

func TestLatestAndMaxHigh(t *testing.T) {
	ctx := context.Background()
	s := NewCandleStore()
	require.NoError(t, s.UpsertCandles(ctx, []domain.Candle{
		bar(2, 1, 30, 1, 1), bar(0, 1, 50, 1, 1), bar(1, 1, 20, 1, 1),
	}))

	got, err := s.LatestCandles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, bar(1, 1, 20, 1, 1).Timestamp, got[0].Timestamp)
	assert.Equal(t, bar(2, 1, 30, 1, 1).Timestamp, got[1].Timestamp)

	high, err := s.MaxHigh(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 30.0, high)

	high, err = s.MaxHigh(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 50.0, high)
}

func TestReconcileCountsFixes(t *testing.T) {
	ctx := context.Background()
	s := NewCandleStore()
	require.NoError(t, s.UpsertCandles(ctx, []domain.Candle{
		bar(0, 100, 110, 90, 105),
		bar(1, 105, 112, 100, 108),
	}))

	fixed, err := s.Reconcile(ctx, []domain.Candle{
		bar(0, 100, 110.5, 90, 105.5), // within tolerance
		bar(1, 105, 115, 100, 108),    // high off by 3
		bar(2, 108, 109, 107, 108),    // missing
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fixed)
	assert.Equal(t, 3, s.Len())

	got, _ := s.LatestCandles(ctx, 3)
	assert.Equal(t, 110.0, got[0].High)
	assert.Equal(t, 115.0, got[1].High)
}

func TestAuditListNewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	for i := range 5 {
		require.NoError(t, s.Log(ctx, domain.AuditEntry{
			Event:     "E",
			Level:     domain.AuditInfo,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.List(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 4, got[0].ID)
	assert.EqualValues(t, 3, got[1].ID)

	since := t0.Add(3 * time.Minute)
	got, err = s.List(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTradeStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewTradeStore()
	require.NoError(t, s.Save(ctx, domain.TradeRecord{ExitTime: t0, PnL: 1}))
	require.NoError(t, s.Save(ctx, domain.TradeRecord{ExitTime: t0.Add(time.Hour), PnL: 2}))

	got, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].PnL)

	got, err = s.List(ctx, domain.ListOpts{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, got)
}
