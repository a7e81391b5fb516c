package indicators

import (
	"math"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

var (
	two     = decimal.NewFromInt(2)
	four    = decimal.NewFromInt(4)
	hundred = decimal.NewFromInt(100)
	fifty   = decimal.NewFromInt(50)
)

func closes(candles []types.Candle) Series {
	out := newSeries(len(candles))
	for i, c := range candles {
		out[i] = decimal.NullDecimal{Decimal: c.Close, Valid: true}
	}
	return out
}

// sma is a simple moving average over input; the window ends at i and every value in
// it must be defined.
func sma(input Series, period int) Series {
	out := newSeries(len(input))
	p := decimal.NewFromInt(int64(period))

	sum := decimal.Zero
	run := 0
	for i, v := range input {
		if !v.Valid {
			sum = decimal.Zero
			run = 0
			continue
		}
		sum = sum.Add(v.Decimal)
		run++
		if run > period {
			sum = sum.Sub(input[i-period].Decimal)
		}
		if run >= period {
			out.set(i, sum.Div(p))
		}
	}
	return out
}

// ema is an exponential moving average with k = 2/(period+1), seeded by the SMA of
// the first period defined values.
func ema(input Series, period int) Series {
	out := newSeries(len(input))
	start := input.FirstValid()
	if start < 0 || start+period > len(input) {
		return out
	}

	k := two.Div(decimal.NewFromInt(int64(period + 1)))
	oneMinusK := decimal.NewFromInt(1).Sub(k)

	sum := decimal.Zero
	for i := start; i < start+period; i++ {
		if !input[i].Valid {
			return out
		}
		sum = sum.Add(input[i].Decimal)
	}
	seed := start + period - 1
	out.set(seed, sum.Div(decimal.NewFromInt(int64(period))))

	for i := seed + 1; i < len(input); i++ {
		if !input[i].Valid {
			break
		}
		prev := out[i-1].Decimal
		out.set(i, input[i].Decimal.Mul(k).Add(prev.Mul(oneMinusK)))
	}
	return out
}

// wilder smooths with alpha = 1/period, seeded by the mean of the first period values
func wilder(input Series, period int) Series {
	out := newSeries(len(input))
	start := input.FirstValid()
	if start < 0 || start+period > len(input) {
		return out
	}

	p := decimal.NewFromInt(int64(period))
	pm1 := decimal.NewFromInt(int64(period - 1))

	sum := decimal.Zero
	for i := start; i < start+period; i++ {
		sum = sum.Add(input[i].Decimal)
	}
	seed := start + period - 1
	out.set(seed, sum.Div(p))

	for i := seed + 1; i < len(input); i++ {
		out.set(i, out[i-1].Decimal.Mul(pm1).Add(input[i].Decimal).Div(p))
	}
	return out
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|); the first bar has no
// previous close and uses high-low.
func trueRange(candles []types.Candle) Series {
	out := newSeries(len(candles))
	for i, c := range candles {
		tr := c.High.Sub(c.Low)
		if i > 0 {
			prev := candles[i-1].Close
			tr = decimal.Max(tr, c.High.Sub(prev).Abs(), c.Low.Sub(prev).Abs())
		}
		out.set(i, tr)
	}
	return out
}

func atr(candles []types.Candle, period int) Series {
	return wilder(trueRange(candles), period)
}

func highest(candles []types.Candle, end, period int) decimal.Decimal {
	h := candles[end].High
	for j := end - period + 1; j < end; j++ {
		h = decimal.Max(h, candles[j].High)
	}
	return h
}

func lowest(candles []types.Candle, end, period int) decimal.Decimal {
	l := candles[end].Low
	for j := end - period + 1; j < end; j++ {
		l = decimal.Min(l, candles[j].Low)
	}
	return l
}

// sqrtDecimal refines a float64 estimate with Newton's method
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}

	f, _ := d.Float64()
	x := decimal.NewFromFloat(math.Sqrt(f))
	if x.IsZero() {
		x = d
	}
	for i := 0; i < 6; i++ {
		x = x.Add(d.Div(x)).Div(two).Round(Precision + 4)
	}
	return x
}
