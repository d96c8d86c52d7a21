package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// WriteSummary prints a fixed-width performance summary.
func WriteSummary(w io.Writer, title string, r domain.Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\n  %s\n%s\n\n", strings.Repeat("=", 43), title, strings.Repeat("=", 43))

	section(&b, "Performance", [][2]string{
		{"Total Return", fmt.Sprintf("%.2f%%", r.TotalReturn)},
		{"CAGR", fmt.Sprintf("%.2f%%", r.CAGR)},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", r.MaxDrawdown)},
		{"Sharpe Ratio", fmt.Sprintf("%.2f", r.SharpeRatio)},
		{"Profit Factor", formatPF(r.ProfitFactor)},
	})
	section(&b, "Trades", [][2]string{
		{"Total Trades", fmt.Sprint(r.TotalTrades)},
		{"Win Rate", fmt.Sprintf("%.1f%%", r.WinRate*100)},
		{"Wins / Losses", fmt.Sprintf("%d / %d", r.WinCount, r.LossCount)},
		{"Avg Win", FormatKRW(r.AvgWin)},
		{"Avg Loss", FormatKRW(r.AvgLoss)},
		{"Expectancy", FormatKRW(r.Expectancy)},
		{"Max Consec. Losses", fmt.Sprint(r.MaxConsecutiveLosses)},
	})
	section(&b, "Capital", [][2]string{
		{"Start Equity", FormatKRW(r.StartEquity)},
		{"End Equity", FormatKRW(r.EndEquity)},
		{"Total PnL", FormatKRW(r.TotalPnL)},
	})

	if len(r.MonthlyPnL) > 0 {
		b.WriteString("-- Monthly PnL ----------------------------\n")
		b.WriteString("  Year-Mo           PnL   Trades\n")
		for _, m := range r.MonthlyPnL {
			fmt.Fprintf(&b, "  %04d-%02d   %12s   %6d\n", m.Year, m.Month, FormatKRW(m.PnL), m.TradeCount)
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteTrades prints one line per trade.
func WriteTrades(w io.Writer, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		_, err := io.WriteString(w, "No trades.\n")
		return err
	}
	var b strings.Builder
	b.WriteString("    #  Entry              Exit                Entry Price    Exit Price     PnL%  Bars  Reason\n")
	for i, t := range trades {
		fmt.Fprintf(&b, "  %3d  %s  %s  %12.0f  %12.0f  %+7.2f%%  %4d  %s\n",
			i+1,
			t.EntryTime.UTC().Format("2006-01-02 15:04"),
			t.ExitTime.UTC().Format("2006-01-02 15:04"),
			t.EntryPrice, t.ExitPrice, t.PnLPct, t.HoldingBars, t.Reason,
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// FormatKRW renders an amount as KRW with M/K suffixes.
func FormatKRW(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
	}
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("%s%.2fM KRW", sign, abs/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("%s%.1fK KRW", sign, abs/1_000)
	default:
		return fmt.Sprintf("%s%.0f KRW", sign, abs)
	}
}

func formatPF(pf float64) string {
	if pf >= MaxProfitFactor {
		return "INF"
	}
	return fmt.Sprintf("%.2f", pf)
}

func section(b *strings.Builder, title string, rows [][2]string) {
	fmt.Fprintf(b, "-- %s %s\n", title, strings.Repeat("-", max(0, 38-len(title))))
	for _, r := range rows {
		fmt.Fprintf(b, "  %-22s %s\n", r[0], r[1])
	}
	b.WriteString("\n")
}
