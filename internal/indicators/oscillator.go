package indicators

import (
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// computeRSI uses Wilder smoothing of gains and losses. The first value sits at
// index period; a window with no losses reads 100.
func computeRSI(candles []types.Candle, p Params) *Output {
	n := len(candles)
	period := p.Int("period")
	out := newSeries(n)
	if n <= period {
		return single(types.IndicatorRSI, out)
	}

	pd := decimal.NewFromInt(int64(period))
	pm1 := decimal.NewFromInt(int64(period - 1))

	var avgGain, avgLoss decimal.Decimal
	for i := 1; i <= period; i++ {
		change := candles[i].Close.Sub(candles[i-1].Close)
		if change.IsPositive() {
			avgGain = avgGain.Add(change)
		} else {
			avgLoss = avgLoss.Sub(change)
		}
	}
	avgGain = avgGain.Div(pd).Round(Precision)
	avgLoss = avgLoss.Div(pd).Round(Precision)
	out.set(period, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < n; i++ {
		change := candles[i].Close.Sub(candles[i-1].Close)
		gain, loss := decimal.Zero, decimal.Zero
		if change.IsPositive() {
			gain = change
		} else {
			loss = change.Neg()
		}
		avgGain = avgGain.Mul(pm1).Add(gain).Div(pd).Round(Precision)
		avgLoss = avgLoss.Mul(pm1).Add(loss).Div(pd).Round(Precision)
		out.set(i, rsiValue(avgGain, avgLoss))
	}

	return single(types.IndicatorRSI, out)
}

func rsiValue(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return hundred
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(rs.Add(decimal.NewFromInt(1))))
}

// computeStochastic smooths raw %K = 100*(close-LL)/(HH-LL) by smoothK into k and
// k by smoothD into d. A flat window reads 50.
func computeStochastic(candles []types.Candle, p Params) *Output {
	n := len(candles)
	period := p.Int("period")

	raw := newSeries(n)
	for i := period - 1; i < n; i++ {
		hh := highest(candles, i, period)
		ll := lowest(candles, i, period)
		rng := hh.Sub(ll)
		if rng.IsZero() {
			raw.set(i, fifty)
			continue
		}
		raw.set(i, hundred.Mul(candles[i].Close.Sub(ll)).Div(rng))
	}

	k := sma(raw, p.Int("smoothK"))
	d := sma(k, p.Int("smoothD"))

	return &Output{
		Kind:    types.IndicatorStochastic,
		Primary: FieldK,
		Series: map[string]Series{
			FieldK: k,
			FieldD: d,
		},
	}
}
