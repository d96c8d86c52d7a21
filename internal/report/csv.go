package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

var tradeHeader = []string{
	"entry_time", "exit_time", "entry_price", "exit_price", "qty",
	"pnl", "pnl_pct", "holding_bars", "reason", "mode",
}

// WriteTradesCSV writes trades with a header row.
func WriteTradesCSV(w io.Writer, trades []domain.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, t := range trades {
		row := []string{
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.Qty, 'f', 8, 64),
			strconv.FormatFloat(t.PnL, 'f', 2, 64),
			strconv.FormatFloat(t.PnLPct, 'f', 4, 64),
			strconv.Itoa(t.HoldingBars),
			t.Reason,
			t.Mode,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
