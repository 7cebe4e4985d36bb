package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/newthinker/arena/internal/core"
)

// CalculateMetrics computes performance statistics from trades. Only
// closed trades feed the equity curve; open trades count as wins only
// when OpenAsProvisionalWins is set and their floating return is positive.
func CalculateMetrics(trades []core.Trade, opts MetricsOptions) Metrics {
	m := Metrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var winSum, lossSum, grossWin, grossLoss float64
	var counted []core.Trade

	for _, t := range trades {
		if t.IsOpen {
			m.OpenTrades++
			if opts.OpenAsProvisionalWins && t.ReturnPct > 0 {
				m.ProvisionalWins++
				m.Wins++
				winSum += t.ReturnPct
			}
			continue
		}
		if t.CloseReason == core.CloseEnd {
			m.EndClosedTrades++
			if opts.ExcludeEndTrades {
				continue
			}
		}

		m.ClosedTrades++
		counted = append(counted, t)
		m.TotalProfitLoss += t.ProfitLoss
		if t.IsWin() {
			m.Wins++
			winSum += t.ReturnPct
			grossWin += t.ReturnPct
		} else {
			m.Losses++
			lossSum += t.ReturnPct
			grossLoss += t.ReturnPct
		}
	}

	if decided := m.Wins + m.Losses; decided > 0 {
		m.WinRate = float64(m.Wins) / float64(decided) * 100
	}
	if m.Wins > 0 {
		m.AvgWinPct = winSum / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLossPct = lossSum / float64(m.Losses)
	}
	if m.AvgLossPct != 0 && m.Wins > 0 {
		m.RiskReward = math.Abs(m.AvgWinPct / m.AvgLossPct)
	}
	if grossLoss != 0 {
		m.ProfitFactor = math.Abs(grossWin / grossLoss)
	}

	returns := exitOrderedReturns(counted)
	m.TotalReturnPct, m.MaxDrawdownPct = equityCurve(returns)
	m.SharpeRatio = calculateSharpeRatio(returns)
	return m
}

// exitOrderedReturns returns fractional returns sorted by exit time.
func exitOrderedReturns(trades []core.Trade) []float64 {
	sorted := make([]core.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return exitTime(sorted[i]).Before(exitTime(sorted[j]))
	})

	returns := make([]float64, len(sorted))
	for i, t := range sorted {
		returns[i] = t.ReturnPct / 100
	}
	return returns
}

func exitTime(t core.Trade) time.Time {
	if t.ExitTime != nil {
		return *t.ExitTime
	}
	return t.EntryTime
}

// equityCurve compounds returns on an equity of 100 and reports the final
// return and the largest peak-to-trough decline, both in percent.
func equityCurve(returns []float64) (totalPct, maxDDPct float64) {
	equity := 100.0
	peak := equity
	var maxDD float64

	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}

	return equity - 100, maxDD * 100
}

// calculateSharpeRatio computes risk-adjusted return
// Assumes risk-free rate of 0 for simplicity
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))

	if stdDev == 0 {
		return 0
	}

	// Annualize (assuming ~252 trading days)
	annualizedReturn := mean * 252
	annualizedStdDev := stdDev * math.Sqrt(252)

	return annualizedReturn / annualizedStdDev
}
