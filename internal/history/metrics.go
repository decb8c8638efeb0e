package history

import "math"

// ComputeMetrics aggregates closed trades into performance metrics.
// Only records with status=closed and a realized P&L participate.
func ComputeMetrics(trades []TradeRecord) PerformanceMetrics {
	var m PerformanceMetrics
	var grossWins, grossLosses, returnSum, holdingSum float64
	var holdingCount int
	m.BestTradePnL = math.Inf(-1)
	m.WorstTradePnL = math.Inf(1)

	for _, t := range trades {
		if t.Status != StatusClosed || t.RealizedPnL == nil {
			continue
		}
		pnl := *t.RealizedPnL
		m.TotalTrades++
		m.TotalPnL += pnl

		if pnl > 0 {
			m.WinningTrades++
			grossWins += pnl
		} else if pnl < 0 {
			m.LosingTrades++
			grossLosses += pnl
		}
		if pnl > m.BestTradePnL {
			m.BestTradePnL = pnl
		}
		if pnl < m.WorstTradePnL {
			m.WorstTradePnL = pnl
		}
		if t.ReturnPct != nil {
			returnSum += *t.ReturnPct
		}
		if t.HoldingPeriodHours != nil {
			holdingSum += *t.HoldingPeriodHours
			holdingCount++
		}
	}

	if m.TotalTrades == 0 {
		m.BestTradePnL, m.WorstTradePnL = 0, 0
		return m
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	m.AvgReturnPct = returnSum / float64(m.TotalTrades)
	if holdingCount > 0 {
		m.AvgHoldingHours = holdingSum / float64(holdingCount)
	}
	if grossLosses != 0 {
		m.ProfitFactor = grossWins / math.Abs(grossLosses)
	} else if grossWins > 0 {
		m.ProfitFactor = math.Inf(1)
	}
	return m
}

// ComputeMetricsByStrategy groups closed trades by originating strategy and
// aggregates each group. Trades without a strategy land under "unknown".
func ComputeMetricsByStrategy(trades []TradeRecord) map[string]PerformanceMetrics {
	grouped := make(map[string][]TradeRecord)
	for _, t := range trades {
		name := t.Strategy
		if name == "" {
			name = "unknown"
		}
		grouped[name] = append(grouped[name], t)
	}

	out := make(map[string]PerformanceMetrics, len(grouped))
	for name, group := range grouped {
		out[name] = ComputeMetrics(group)
	}
	return out
}
