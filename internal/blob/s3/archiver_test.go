package s3blob

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
)

type memBucket struct {
	objects map[string][]byte
	rows    map[string]int
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, rows: map[string]int{}}
}

func (m *memBucket) PutRunObject(_ context.Context, runID string, obj domain.RunObject) error {
	b, err := io.ReadAll(obj.Body)
	if err != nil {
		return err
	}
	key := runKey(runID, obj.Name)
	m.objects[key] = b
	m.rows[key] = obj.Rows
	return nil
}

func (m *memBucket) RunIDs(context.Context) ([]string, error) {
	var ids []string
	for k := range m.objects {
		if id, ok := runIDFromKey(k); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func sampleReport() domain.Report {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return domain.Report{
		TotalTrades: 1,
		WinCount:    1,
		TotalPnL:    1500,
		StartEquity: 1_000_000,
		EndEquity:   1_001_500,
		Trades: []domain.TradeRecord{{
			EntryTime:   t0,
			ExitTime:    t0.Add(time.Hour),
			EntryPrice:  50_000_000,
			ExitPrice:   50_100_000,
			Qty:         0.015,
			PnL:         1500,
			PnLPct:      0.2,
			HoldingBars: 12,
			Reason:      "trailing_stop",
		}},
		EquityCurve: []domain.EquityPoint{
			{Timestamp: t0, Equity: 1_000_000},
			{Timestamp: t0.Add(time.Hour), Equity: 1_001_500},
		},
	}
}

func TestArchiveReportWritesThreeObjects(t *testing.T) {
	blob := newMemBucket()
	a := NewArchiver(blob, nil)

	prefix, err := a.ArchiveReport(context.Background(), "run-1", sampleReport())
	require.NoError(t, err)
	assert.Equal(t, "reports/run-1", prefix)

	require.Contains(t, blob.objects, "reports/run-1/report.json")
	require.Contains(t, blob.objects, "reports/run-1/trades.csv")
	require.Contains(t, blob.objects, "reports/run-1/equity.csv")
	assert.Equal(t, 1, blob.rows["reports/run-1/trades.csv"])
	assert.Equal(t, 2, blob.rows["reports/run-1/equity.csv"])

	var summary domain.Report
	require.NoError(t, json.Unmarshal(blob.objects["reports/run-1/report.json"], &summary))
	assert.Equal(t, 1500.0, summary.TotalPnL)
	assert.Nil(t, summary.Trades)
	assert.Nil(t, summary.EquityCurve)

	trades := string(blob.objects["reports/run-1/trades.csv"])
	assert.Contains(t, trades, "entry_time,exit_time,entry_price")
	assert.Contains(t, trades, "2024-03-01T00:00:00Z,2024-03-01T01:00:00Z,50000000,50100000,0.015,1500,0.2,12,trailing_stop,")

	equity := string(blob.objects["reports/run-1/equity.csv"])
	assert.Equal(t, "timestamp,equity\n2024-03-01T00:00:00Z,1000000\n2024-03-01T01:00:00Z,1001500\n", equity)
}

func TestArchiveReportRejectsBadRunID(t *testing.T) {
	a := NewArchiver(newMemBucket(), nil)
	for _, id := range []string{"", "  ", "a/b", `a\b`} {
		_, err := a.ArchiveReport(context.Background(), id, domain.Report{})
		assert.Error(t, err, id)
	}
}

func TestListReports(t *testing.T) {
	blob := newMemBucket()
	a := NewArchiver(blob, nil)
	_, err := a.ArchiveReport(context.Background(), "r1", sampleReport())
	require.NoError(t, err)
	_, err = a.ArchiveReport(context.Background(), "r2", domain.Report{})
	require.NoError(t, err)

	ids, err := a.ListReports(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)
}

func TestRunIDFromKey(t *testing.T) {
	id, ok := runIDFromKey("reports/abc/report.json")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	for _, k := range []string{"reports/abc/trades.csv", "other/abc/report.json", "reports//report.json", "reports/abc"} {
		_, ok := runIDFromKey(k)
		assert.False(t, ok, k)
	}
}

func TestObjectLayout(t *testing.T) {
	assert.Equal(t, "reports/r1/trades.csv", runKey("r1", tradesFile))
	assert.Equal(t, "application/json", contentType(reportFile))
	assert.Equal(t, "text/csv", contentType("EQUITY.CSV"))
	assert.Equal(t, "application/octet-stream", contentType("notes"))

	assert.False(t, useMultipart(domain.RunObject{Name: tradesFile, Rows: multipartRows}))
	assert.True(t, useMultipart(domain.RunObject{Name: tradesFile, Rows: multipartRows + 1}))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
