// Package stats derives realized performance reports from the trade history.
package stats

import (
	"sort"
	"time"

	"fibgrid/internal/domain"
)

// Report holds realized performance metrics for a trade history.
// Buys only move inventory; profit is realized on sells, so win/loss
// statistics consider sell trades only.
type Report struct {
	TotalTrades int
	Buys        int
	Sells       int
	Wins        int
	Losses      int
	WinRate     float64 // fraction of closing trades with positive PnL

	TotalPnL     float64
	AverageWin   float64
	AverageLoss  float64 // negative
	ProfitFactor float64 // gross profit over gross loss
	Expectancy   float64 // expected PnL per closing trade

	MaxDrawdown    float64 // deepest equity dip, in quote currency
	MaxDrawdownPct float64 // relative to peak equity, zero without capital

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int

	DailyReturns map[string]float64 // realized PnL keyed by UTC day
	EquityCurve  []EquityPoint
}

// EquityPoint is one point of the cumulative realized PnL curve.
type EquityPoint struct {
	Time     time.Time
	Equity   float64
	Drawdown float64 // distance below the running peak
}

// Analyze calculates a performance report from trades. initialCapital may
// be zero; the relative drawdown is only reported when it is positive.
func Analyze(trades []*domain.TradeRecord, initialCapital float64) *Report {
	r := &Report{
		DailyReturns: make(map[string]float64),
		EquityCurve:  make([]EquityPoint, 0, len(trades)),
	}
	if len(trades) == 0 {
		return r
	}

	sorted := make([]*domain.TradeRecord, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var (
		equity             = initialCapital
		peak               = initialCapital
		grossWin           float64
		grossLoss          float64
		curWins, curLosses int
	)

	for _, trade := range sorted {
		r.TotalTrades++
		if trade.Side == domain.Buy {
			r.Buys++
			continue
		}
		r.Sells++

		switch {
		case trade.PnL > 0:
			r.Wins++
			grossWin += trade.PnL
			curWins++
			curLosses = 0
		case trade.PnL < 0:
			r.Losses++
			grossLoss += -trade.PnL
			curLosses++
			curWins = 0
		default:
			// A breakeven sell ends both streaks.
			curWins, curLosses = 0, 0
		}
		if curWins > r.MaxConsecutiveWins {
			r.MaxConsecutiveWins = curWins
		}
		if curLosses > r.MaxConsecutiveLosses {
			r.MaxConsecutiveLosses = curLosses
		}

		r.TotalPnL += trade.PnL
		equity += trade.PnL
		r.DailyReturns[trade.CreatedAt.UTC().Format("2006-01-02")] += trade.PnL

		if equity > peak {
			peak = equity
		}
		drawdown := peak - equity
		if drawdown > r.MaxDrawdown {
			r.MaxDrawdown = drawdown
			if initialCapital > 0 && peak > 0 {
				r.MaxDrawdownPct = drawdown / peak
			}
		}
		r.EquityCurve = append(r.EquityCurve, EquityPoint{
			Time:     trade.CreatedAt,
			Equity:   equity,
			Drawdown: drawdown,
		})
	}

	closed := r.Wins + r.Losses
	if closed > 0 {
		r.WinRate = float64(r.Wins) / float64(closed)
		if r.Wins > 0 {
			r.AverageWin = grossWin / float64(r.Wins)
		}
		if r.Losses > 0 {
			r.AverageLoss = -grossLoss / float64(r.Losses)
		}
		if grossLoss > 0 {
			r.ProfitFactor = grossWin / grossLoss
		}
		r.Expectancy = r.WinRate*r.AverageWin + (1-r.WinRate)*r.AverageLoss
	}

	return r
}

// Days returns the days present in DailyReturns in ascending order.
func (r *Report) Days() []string {
	days := make([]string, 0, len(r.DailyReturns))
	for day := range r.DailyReturns {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}
