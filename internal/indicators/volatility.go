package indicators

import (
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

func computeATR(candles []types.Candle, p Params) *Output {
	return single(types.IndicatorATR, atr(candles, p.Int("period")))
}

// computeBollinger uses the population standard deviation of the window
func computeBollinger(candles []types.Candle, p Params) *Output {
	n := len(candles)
	period := p.Int("period")
	dev := p.Decimal("deviation")
	pd := decimal.NewFromInt(int64(period))

	c := closes(candles)
	middle := sma(c, period)
	upper := newSeries(n)
	lower := newSeries(n)

	for i := period - 1; i < n; i++ {
		mean := middle[i].Decimal
		sumSq := decimal.Zero
		for j := i - period + 1; j <= i; j++ {
			diff := candles[j].Close.Sub(mean)
			sumSq = sumSq.Add(diff.Mul(diff))
		}
		band := dev.Mul(sqrtDecimal(sumSq.Div(pd)))
		upper.set(i, mean.Add(band))
		lower.set(i, mean.Sub(band))
	}

	return bands(types.IndicatorBollingerBands, upper, middle, lower)
}

// computeATRBands places bands at EMA(period) +/- multiplier*ATR(period)
func computeATRBands(candles []types.Candle, p Params) *Output {
	n := len(candles)
	period := p.Int("period")
	mult := p.Decimal("multiplier")

	middle := ema(closes(candles), period)
	atrs := atr(candles, period)
	upper := newSeries(n)
	lower := newSeries(n)

	for i := 0; i < n; i++ {
		m, okM := middle.At(i)
		a, okA := atrs.At(i)
		if !okM || !okA {
			continue
		}
		band := mult.Mul(a)
		upper.set(i, m.Add(band))
		lower.set(i, m.Sub(band))
	}

	return bands(types.IndicatorATRBands, upper, middle, lower)
}

// computeDonchian tracks the highest high and lowest low of the window
func computeDonchian(candles []types.Candle, p Params) *Output {
	n := len(candles)
	period := p.Int("period")

	upper := newSeries(n)
	middle := newSeries(n)
	lower := newSeries(n)

	for i := period - 1; i < n; i++ {
		hh := highest(candles, i, period)
		ll := lowest(candles, i, period)
		upper.set(i, hh)
		lower.set(i, ll)
		middle.set(i, hh.Add(ll).Div(two))
	}

	return bands(types.IndicatorDonchianChannels, upper, middle, lower)
}

func bands(kind types.IndicatorType, upper, middle, lower Series) *Output {
	return &Output{
		Kind:    kind,
		Primary: FieldMiddle,
		Series: map[string]Series{
			FieldUpper:  upper,
			FieldMiddle: middle,
			FieldLower:  lower,
		},
	}
}
