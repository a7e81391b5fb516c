package backtester

import (
	"math"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// annualization factor for per-trade returns
const tradingPeriods = 252

// CalculateMetrics reduces a closed trade list to aggregate statistics. It is a pure
// function of the trades and the initial balance.
func CalculateMetrics(trades []types.Trade, initialBalance decimal.Decimal) types.BacktestMetrics {
	metrics := types.BacktestMetrics{}
	if len(trades) == 0 {
		return metrics
	}

	var totalWins, totalLosses, totalPnL decimal.Decimal
	returns := make([]float64, 0, len(trades))

	for _, trade := range trades {
		totalPnL = totalPnL.Add(trade.PnL)

		switch {
		case trade.PnL.IsPositive():
			metrics.WinningTrades++
			totalWins = totalWins.Add(trade.PnL)
		case trade.PnL.IsNegative():
			metrics.LosingTrades++
			totalLosses = totalLosses.Add(trade.PnL)
		default:
			metrics.BreakevenTrades++
		}

		r, _ := trade.PnLPercent.Float64()
		returns = append(returns, r)
	}

	total := decimal.NewFromInt(int64(len(trades)))
	hundred := decimal.NewFromInt(100)

	metrics.TotalTrades = len(trades)
	metrics.TotalPnL = totalPnL
	metrics.GrossProfit = totalWins
	metrics.GrossLoss = totalLosses.Abs()
	metrics.WinRate = decimal.NewFromInt(int64(metrics.WinningTrades)).Mul(hundred).Div(total)
	metrics.Expectancy = totalPnL.Div(total)

	if metrics.WinningTrades > 0 {
		metrics.AverageWin = totalWins.Div(decimal.NewFromInt(int64(metrics.WinningTrades)))
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = totalLosses.Div(decimal.NewFromInt(int64(metrics.LosingTrades)))
	}

	// no losers: the ratio is reported as 0 and flagged when there were winners
	if metrics.GrossLoss.IsZero() {
		metrics.ProfitFactorInfinite = metrics.GrossProfit.IsPositive()
	} else {
		metrics.ProfitFactor = metrics.GrossProfit.Div(metrics.GrossLoss)
	}

	metrics.SharpeRatio = sharpeRatio(returns)
	metrics.MaxDrawdown = maxDrawdown(trades, initialBalance)

	return metrics
}

// sharpeRatio annualizes mean/stddev of per-trade percent returns using the sample
// standard deviation
func sharpeRatio(returns []float64) decimal.Decimal {
	if len(returns) < 2 {
		return decimal.Zero
	}

	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return decimal.Zero
	}

	return decimal.NewFromFloat(mean / std * math.Sqrt(tradingPeriods))
}

// maxDrawdown replays the balance over the trades and returns the deepest drawdown, in percent
func maxDrawdown(trades []types.Trade, initialBalance decimal.Decimal) decimal.Decimal {
	balance := initialBalance
	peak := initialBalance
	var maxDD decimal.Decimal

	for _, trade := range trades {
		balance = balance.Add(trade.PnL)
		if balance.GreaterThan(peak) {
			peak = balance
		}
		if dd := drawdown(peak, balance); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}

	return maxDD
}

// drawdown returns max(0, (peak-balance)/peak*100)
func drawdown(peak, balance decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() {
		return decimal.Zero
	}
	dd := peak.Sub(balance).Div(peak).Mul(decimal.NewFromInt(100))
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}
