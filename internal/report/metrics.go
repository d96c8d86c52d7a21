// Package report turns an engine's event log and equity curve into trade
// records, performance metrics and printable summaries.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

const (
	// BarsPerYear is the number of 5 minute bars in a year.
	BarsPerYear = 105_120

	// MaxProfitFactor stands in for an infinite profit factor (profit with
	// no losing trade) so the report stays JSON encodable.
	MaxProfitFactor = 999.0

	yearDuration = time.Duration(365.25 * 24 * float64(time.Hour))
)

// Build computes the metrics of a finished run.
func Build(trades []domain.TradeRecord, curve []domain.EquityPoint, startEquity, endEquity float64) domain.Report {
	var (
		wins, losses         int
		grossProfit, lossSum float64
		totalPnL             float64
	)
	for _, t := range trades {
		totalPnL += t.PnL
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			losses++
			lossSum += t.PnL
		}
	}
	grossLoss := math.Abs(lossSum)

	r := domain.Report{
		TotalTrades:          len(trades),
		WinCount:             wins,
		LossCount:            losses,
		TotalPnL:             totalPnL,
		CAGR:                 cagr(curve, startEquity, endEquity),
		MaxDrawdown:          MaxDrawdown(curve),
		ProfitFactor:         ProfitFactor(grossProfit, grossLoss),
		MaxConsecutiveLosses: maxConsecutiveLosses(trades),
		SharpeRatio:          sharpe(trades),
		StartEquity:          startEquity,
		EndEquity:            endEquity,
		Trades:               trades,
		EquityCurve:          curve,
		MonthlyPnL:           monthly(trades),
	}
	if len(trades) > 0 {
		r.WinRate = float64(wins) / float64(len(trades))
		r.Expectancy = totalPnL / float64(len(trades))
	}
	if startEquity > 0 {
		r.TotalReturn = totalPnL / startEquity * 100
	}
	if wins > 0 {
		r.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		r.AvgLoss = grossLoss / float64(losses)
	}
	if r.Trades == nil {
		r.Trades = []domain.TradeRecord{}
	}
	if r.EquityCurve == nil {
		r.EquityCurve = []domain.EquityPoint{}
	}
	return r
}

// ProfitFactor is gross profit over gross loss, capped at MaxProfitFactor.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	switch {
	case grossLoss > 0:
		return min(grossProfit/grossLoss, MaxProfitFactor)
	case grossProfit > 0:
		return MaxProfitFactor
	default:
		return 0
	}
}

// MaxDrawdown returns the largest peak-to-trough decline in percent.
func MaxDrawdown(curve []domain.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	var maxDD float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD * 100
}

func cagr(curve []domain.EquityPoint, start, end float64) float64 {
	if len(curve) < 2 || start <= 0 {
		return 0
	}
	years := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Seconds() / yearDuration.Seconds()
	if years <= 0 {
		return 0
	}
	return (math.Pow(end/start, 1/years) - 1) * 100
}

func maxConsecutiveLosses(trades []domain.TradeRecord) int {
	var best, cur int
	for _, t := range trades {
		if t.PnL <= 0 {
			cur++
			best = max(best, cur)
		} else {
			cur = 0
		}
	}
	return best
}

// sharpe annualises the per-trade return ratio by the number of trades that
// fit in a year at the average holding period.
func sharpe(trades []domain.TradeRecord) float64 {
	n := len(trades)
	if n < 2 {
		return 0
	}
	var sum, bars float64
	for _, t := range trades {
		sum += t.PnLPct
		bars += float64(t.HoldingBars)
	}
	mean := sum / float64(n)
	var variance float64
	for _, t := range trades {
		variance += (t.PnLPct - mean) * (t.PnLPct - mean)
	}
	std := math.Sqrt(variance / float64(n-1))
	if std == 0 {
		return 0
	}
	perYear := 1.0
	if avg := bars / float64(n); avg > 0 {
		perYear = BarsPerYear / avg
	}
	return mean / std * math.Sqrt(perYear)
}

func monthly(trades []domain.TradeRecord) []domain.MonthlyPnL {
	type key struct{ y, m int }
	agg := make(map[key]*domain.MonthlyPnL)
	for _, t := range trades {
		exit := t.ExitTime.UTC()
		k := key{exit.Year(), int(exit.Month())}
		m, ok := agg[k]
		if !ok {
			m = &domain.MonthlyPnL{Year: k.y, Month: k.m}
			agg[k] = m
		}
		m.PnL += t.PnL
		m.PnLPct += t.PnLPct
		m.TradeCount++
	}
	out := make([]domain.MonthlyPnL, 0, len(agg))
	for _, m := range agg {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}
