package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/suhyunle/coin-trader/internal/audit"
	"github.com/suhyunle/coin-trader/internal/domain"
)

// Files written for each run. The JSON summary omits the trade list and
// the equity curve; those live in the CSV files.
const (
	reportFile = "report.json"
	tradesFile = "trades.csv"
	equityFile = "equity.csv"
)

// Archiver encodes run reports and stores them under reports/<runID>/.
type Archiver struct {
	bucket domain.ReportBucket
	rec    *audit.Recorder
}

// NewArchiver creates an Archiver.
func NewArchiver(bucket domain.ReportBucket, rec *audit.Recorder) *Archiver {
	return &Archiver{bucket: bucket, rec: rec}
}

// ArchiveReport uploads report and returns the key prefix it was written to.
func (a *Archiver) ArchiveReport(ctx context.Context, runID string, report domain.Report) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || strings.ContainsAny(runID, "/\\") {
		return "", fmt.Errorf("s3blob: invalid run id %q", runID)
	}

	summary := report
	summary.Trades = nil
	summary.EquityCurve = nil
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report: %w", err)
	}

	var trades, equity bytes.Buffer
	if err := writeTradesCSV(&trades, report.Trades); err != nil {
		return "", fmt.Errorf("s3blob: encode trades: %w", err)
	}
	if err := writeEquityCSV(&equity, report.EquityCurve); err != nil {
		return "", fmt.Errorf("s3blob: encode equity: %w", err)
	}

	objects := []domain.RunObject{
		{Name: reportFile, Body: bytes.NewReader(body)},
		{Name: tradesFile, Body: bytes.NewReader(trades.Bytes()), Rows: len(report.Trades)},
		{Name: equityFile, Body: bytes.NewReader(equity.Bytes()), Rows: len(report.EquityCurve)},
	}
	for _, obj := range objects {
		if err := a.bucket.PutRunObject(ctx, runID, obj); err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", obj.Name, err)
		}
	}

	prefix := reportPrefix(runID)
	a.rec.Info(ctx, "archive", "report_archived", map[string]any{
		"run_id":        runID,
		"prefix":        prefix,
		"trades":        len(report.Trades),
		"equity_points": len(report.EquityCurve),
	})
	return prefix, nil
}

// ListReports returns the run IDs that have an archived report.json.
func (a *Archiver) ListReports(ctx context.Context) ([]string, error) {
	return a.bucket.RunIDs(ctx)
}

var tradesHeader = []string{
	"entry_time", "exit_time", "entry_price", "exit_price", "qty",
	"pnl", "pnl_pct", "holding_bars", "reason", "mode",
}

func writeTradesCSV(w io.Writer, trades []domain.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradesHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Qty),
			formatFloat(t.PnL),
			formatFloat(t.PnLPct),
			strconv.Itoa(t.HoldingBars),
			t.Reason,
			t.Mode,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeEquityCSV(w io.Writer, curve []domain.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "equity"}); err != nil {
		return err
	}
	for _, p := range curve {
		if err := cw.Write([]string{p.Timestamp.UTC().Format(time.RFC3339), formatFloat(p.Equity)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var _ domain.ReportArchiver = (*Archiver)(nil)
