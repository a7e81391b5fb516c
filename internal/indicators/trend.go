package indicators

import (
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

func computeSMA(candles []types.Candle, p Params) *Output {
	return single(types.IndicatorSMA, sma(closes(candles), p.Int("period")))
}

func computeEMA(candles []types.Candle, p Params) *Output {
	return single(types.IndicatorEMA, ema(closes(candles), p.Int("period")))
}

// computeMACD produces value = EMA(fast) - EMA(slow), signal = EMA(signalPeriod) of
// value, histogram = value - signal.
func computeMACD(candles []types.Candle, p Params) *Output {
	n := len(candles)
	c := closes(candles)
	fast := ema(c, p.Int("fastPeriod"))
	slow := ema(c, p.Int("slowPeriod"))

	value := newSeries(n)
	for i := 0; i < n; i++ {
		f, okF := fast.At(i)
		s, okS := slow.At(i)
		if okF && okS {
			value.set(i, f.Sub(s))
		}
	}

	signal := ema(value, p.Int("signalPeriod"))
	histogram := newSeries(n)
	for i := 0; i < n; i++ {
		v, okV := value.At(i)
		s, okS := signal.At(i)
		if okV && okS {
			histogram.set(i, v.Sub(s))
		}
	}

	return &Output{
		Kind:    types.IndicatorMACD,
		Primary: FieldValue,
		Series: map[string]Series{
			FieldValue:     value,
			FieldSignal:    signal,
			FieldHistogram: histogram,
		},
	}
}

// computeSuperTrend tracks final bands around hl2 +/- multiplier*ATR. The line follows
// the lower band in an uptrend and the upper band in a downtrend; trend is +1 or -1.
func computeSuperTrend(candles []types.Candle, p Params) *Output {
	n := len(candles)
	period := p.Int("period")
	mult := p.Decimal("multiplier")
	atrs := atr(candles, period)

	line := newSeries(n)
	trend := newSeries(n)
	upper := newSeries(n)
	lower := newSeries(n)

	first := atrs.FirstValid()
	if first < 0 {
		return superTrendOutput(line, trend, upper, lower)
	}

	up := decimal.NewFromInt(1)
	down := decimal.NewFromInt(-1)

	var prevUpper, prevLower decimal.Decimal
	uptrend := false
	for i := first; i < n; i++ {
		c := candles[i]
		hl2 := c.High.Add(c.Low).Div(two)
		band := mult.Mul(atrs[i].Decimal)
		basicUpper := hl2.Add(band)
		basicLower := hl2.Sub(band)

		finalUpper, finalLower := basicUpper, basicLower
		if i > first {
			prevClose := candles[i-1].Close
			if !(basicUpper.LessThan(prevUpper) || prevClose.GreaterThan(prevUpper)) {
				finalUpper = prevUpper
			}
			if !(basicLower.GreaterThan(prevLower) || prevClose.LessThan(prevLower)) {
				finalLower = prevLower
			}

			if uptrend && c.Close.LessThan(finalLower) {
				uptrend = false
			} else if !uptrend && c.Close.GreaterThan(finalUpper) {
				uptrend = true
			}
		} else {
			uptrend = c.Close.GreaterThanOrEqual(hl2)
		}

		upper.set(i, finalUpper)
		lower.set(i, finalLower)
		if uptrend {
			line.set(i, finalLower)
			trend.set(i, up)
		} else {
			line.set(i, finalUpper)
			trend.set(i, down)
		}

		prevUpper, prevLower = finalUpper, finalLower
	}

	return superTrendOutput(line, trend, upper, lower)
}

func superTrendOutput(line, trend, upper, lower Series) *Output {
	return &Output{
		Kind:    types.IndicatorSuperTrend,
		Primary: FieldSuperTrend,
		Series: map[string]Series{
			FieldSuperTrend: line,
			FieldTrend:      trend,
			FieldUpper:      upper,
			FieldLower:      lower,
		},
	}
}

// computeHeikinAshi smooths candles; haOpen seeds at (open+close)/2 of the first bar
func computeHeikinAshi(candles []types.Candle, _ Params) *Output {
	n := len(candles)
	open := newSeries(n)
	high := newSeries(n)
	low := newSeries(n)
	closeS := newSeries(n)
	trend := newSeries(n)

	up := decimal.NewFromInt(1)
	down := decimal.NewFromInt(-1)

	for i, c := range candles {
		haClose := c.Open.Add(c.High).Add(c.Low).Add(c.Close).Div(four)
		var haOpen decimal.Decimal
		if i == 0 {
			haOpen = c.Open.Add(c.Close).Div(two)
		} else {
			haOpen = open[i-1].Decimal.Add(closeS[i-1].Decimal).Div(two)
		}

		open.set(i, haOpen)
		closeS.set(i, haClose)
		high.set(i, decimal.Max(c.High, haOpen, haClose))
		low.set(i, decimal.Min(c.Low, haOpen, haClose))
		if haClose.GreaterThanOrEqual(haOpen) {
			trend.set(i, up)
		} else {
			trend.set(i, down)
		}
	}

	return &Output{
		Kind:    types.IndicatorHeikinAshi,
		Primary: FieldClose,
		Series: map[string]Series{
			FieldOpen:  open,
			FieldHigh:  high,
			FieldLow:   low,
			FieldClose: closeS,
			FieldTrend: trend,
		},
	}
}
