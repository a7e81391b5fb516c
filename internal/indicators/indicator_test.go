package indicators_test

import (
	"errors"
	"testing"

	"github.com/atlas-desktop/strategy-backtester/internal/indicators"
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

func candlesFromCloses(closes ...string) []types.Candle {
	one := decimal.NewFromInt(1)
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		price := decimal.RequireFromString(c)
		out[i] = types.Candle{
			Timestamp: int64(i) * 3600000,
			Open:      price,
			High:      price.Add(one),
			Low:       price.Sub(one),
			Close:     price,
			Volume:    decimal.NewFromInt(100),
		}
	}
	return out
}

func assertClose(t *testing.T, label string, s indicators.Series, i int, want string) {
	t.Helper()
	got, ok := s.At(i)
	if !ok {
		t.Fatalf("%s[%d]: expected %s, got undefined", label, i, want)
	}
	diff := got.Sub(decimal.RequireFromString(want)).Abs()
	if diff.GreaterThan(decimal.New(1, -9)) {
		t.Errorf("%s[%d]: expected %s, got %s", label, i, want, got)
	}
}

func assertUndefined(t *testing.T, label string, s indicators.Series, upTo int) {
	t.Helper()
	for i := 0; i < upTo && i < len(s); i++ {
		if _, ok := s.At(i); ok {
			t.Errorf("%s[%d]: expected undefined during warm-up", label, i)
		}
	}
}

func compute(t *testing.T, kind types.IndicatorType, params map[string]float64, candles []types.Candle) *indicators.Output {
	t.Helper()
	out, err := indicators.Compute(types.IndicatorConfig{ID: "x", Type: kind, Timeframe: types.TimeframeH1, Parameters: params}, candles)
	if err != nil {
		t.Fatalf("Failed to compute %s: %v", kind, err)
	}
	return out
}

func TestEMASeededBySMA(t *testing.T) {
	out := compute(t, types.IndicatorEMA, map[string]float64{"period": 2}, candlesFromCloses("1.05", "1.15", "1.2"))
	s := out.PrimarySeries()

	assertUndefined(t, "EMA", s, 1)
	assertClose(t, "EMA", s, 1, "1.10")
	assertClose(t, "EMA", s, 2, "1.1666666666666667")
}

func TestSMA(t *testing.T) {
	out := compute(t, types.IndicatorSMA, map[string]float64{"period": 3}, candlesFromCloses("1", "2", "3", "4", "5"))
	s := out.PrimarySeries()

	assertUndefined(t, "SMA", s, 2)
	assertClose(t, "SMA", s, 2, "2")
	assertClose(t, "SMA", s, 3, "3")
	assertClose(t, "SMA", s, 4, "4")
}

func TestRSI(t *testing.T) {
	t.Run("no losses reads 100", func(t *testing.T) {
		out := compute(t, types.IndicatorRSI, map[string]float64{"period": 3}, candlesFromCloses("1", "2", "3", "4", "5"))
		s := out.PrimarySeries()
		assertUndefined(t, "RSI", s, 3)
		assertClose(t, "RSI", s, 3, "100")
		assertClose(t, "RSI", s, 4, "100")
	})

	t.Run("balanced moves read 50", func(t *testing.T) {
		out := compute(t, types.IndicatorRSI, map[string]float64{"period": 2}, candlesFromCloses("10", "11", "10"))
		assertClose(t, "RSI", out.PrimarySeries(), 2, "50")
	})

	t.Run("short series stays undefined", func(t *testing.T) {
		out := compute(t, types.IndicatorRSI, nil, candlesFromCloses("1", "2", "3"))
		if out.PrimarySeries().FirstValid() != -1 {
			t.Error("Expected no defined RSI values for a series shorter than the period")
		}
	})
}

func TestATRConstantRange(t *testing.T) {
	out := compute(t, types.IndicatorATR, map[string]float64{"period": 3}, candlesFromCloses("10", "10", "10", "10"))
	s := out.PrimarySeries()
	assertUndefined(t, "ATR", s, 2)
	assertClose(t, "ATR", s, 2, "2")
	assertClose(t, "ATR", s, 3, "2")
}

func TestBollingerBands(t *testing.T) {
	flat := compute(t, types.IndicatorBollingerBands, map[string]float64{"period": 3}, candlesFromCloses("5", "5", "5"))
	upper, _ := flat.Field(indicators.FieldUpper)
	lower, _ := flat.Field(indicators.FieldLower)
	assertClose(t, "upper", upper, 2, "5")
	assertClose(t, "lower", lower, 2, "5")

	// closes 2,4,4,4,5,5,7,9 have population sd 2 around mean 5
	out := compute(t, types.IndicatorBollingerBands, map[string]float64{"period": 8, "deviation": 2}, candlesFromCloses("2", "4", "4", "4", "5", "5", "7", "9"))
	upper, _ = out.Field(indicators.FieldUpper)
	middle, _ := out.Field(indicators.FieldMiddle)
	lower, _ = out.Field(indicators.FieldLower)
	assertClose(t, "middle", middle, 7, "5")
	assertClose(t, "upper", upper, 7, "9")
	assertClose(t, "lower", lower, 7, "1")
}

func TestMACDWarmUp(t *testing.T) {
	closes := make([]string, 12)
	for i := range closes {
		closes[i] = decimal.NewFromInt(int64(100 + i)).String()
	}
	out := compute(t, types.IndicatorMACD, map[string]float64{"fastPeriod": 2, "slowPeriod": 4, "signalPeriod": 3}, candlesFromCloses(closes...))

	value, _ := out.Field(indicators.FieldValue)
	signal, _ := out.Field(indicators.FieldSignal)
	hist, _ := out.Field(indicators.FieldHistogram)

	if got := value.FirstValid(); got != 3 {
		t.Errorf("Expected MACD value from index 3, got %d", got)
	}
	if got := signal.FirstValid(); got != 5 {
		t.Errorf("Expected MACD signal from index 5, got %d", got)
	}
	if got := hist.FirstValid(); got != 5 {
		t.Errorf("Expected MACD histogram from index 5, got %d", got)
	}

	// a linear rise settles to a constant positive spread
	v, _ := value.At(11)
	if !v.IsPositive() {
		t.Errorf("Expected positive MACD on a rising series, got %s", v)
	}
}

func TestStochasticFlatWindow(t *testing.T) {
	out := compute(t, types.IndicatorStochastic, map[string]float64{"period": 2, "smoothK": 1, "smoothD": 2}, candlesFromCloses("5", "5", "5"))
	k, _ := out.Field(indicators.FieldK)
	d, _ := out.Field(indicators.FieldD)
	// flat closes with a +/-1 range put close mid-range
	assertClose(t, "k", k, 1, "50")
	assertUndefined(t, "d", d, 2)
	assertClose(t, "d", d, 2, "50")
}

func TestDonchianChannels(t *testing.T) {
	out := compute(t, types.IndicatorDonchianChannels, map[string]float64{"period": 2}, candlesFromCloses("10", "12", "11"))
	upper, _ := out.Field(indicators.FieldUpper)
	lower, _ := out.Field(indicators.FieldLower)
	middle, _ := out.Field(indicators.FieldMiddle)

	assertUndefined(t, "upper", upper, 1)
	assertClose(t, "upper", upper, 1, "13")
	assertClose(t, "lower", lower, 1, "9")
	assertClose(t, "middle", middle, 2, "11.5")
}

func TestSuperTrendFollowsRisingMarket(t *testing.T) {
	closes := make([]string, 20)
	for i := range closes {
		closes[i] = decimal.NewFromInt(int64(100 + 2*i)).String()
	}
	out := compute(t, types.IndicatorSuperTrend, map[string]float64{"period": 3, "multiplier": 1}, candlesFromCloses(closes...))

	trend, _ := out.Field(indicators.FieldTrend)
	line := out.PrimarySeries()
	assertUndefined(t, "supertrend", line, 2)
	assertClose(t, "trend", trend, 19, "1")

	st, _ := line.At(19)
	if !st.LessThan(decimal.NewFromInt(138)) {
		t.Errorf("Expected supertrend below price in an uptrend, got %s", st)
	}
}

func TestHeikinAshi(t *testing.T) {
	out := compute(t, types.IndicatorHeikinAshi, nil, candlesFromCloses("10", "12"))
	open, _ := out.Field(indicators.FieldOpen)
	closeS, _ := out.Field(indicators.FieldClose)

	assertClose(t, "open", open, 0, "10")
	assertClose(t, "close", closeS, 0, "10")
	assertClose(t, "open", open, 1, "10")
	assertClose(t, "close", closeS, 1, "12")
}

func TestATRBandsAroundEMA(t *testing.T) {
	out := compute(t, types.IndicatorATRBands, map[string]float64{"period": 2, "multiplier": 2}, candlesFromCloses("10", "10", "10"))
	upper, _ := out.Field(indicators.FieldUpper)
	lower, _ := out.Field(indicators.FieldLower)
	assertClose(t, "upper", upper, 1, "14")
	assertClose(t, "lower", lower, 1, "6")
}

func TestAllIndicatorsAlignWithInput(t *testing.T) {
	inputs := [][]types.Candle{
		nil,
		candlesFromCloses("1"),
		candlesFromCloses("1", "2", "3"),
		candlesFromCloses("1", "2", "3", "2", "1", "2", "3", "4", "5", "4", "3", "2", "3", "4", "5", "6", "7", "8", "7", "6",
			"5", "6", "7", "8", "9", "10", "9", "8", "7", "8", "9", "10"),
	}

	for _, kind := range indicators.SupportedIndicators() {
		for _, candles := range inputs {
			out := compute(t, kind, nil, candles)
			if out.Kind != kind {
				t.Errorf("%s: unexpected kind %s", kind, out.Kind)
			}
			if out.PrimarySeries() == nil {
				t.Errorf("%s: missing primary series %q", kind, out.Primary)
			}
			for _, name := range out.Fields() {
				s, _ := out.Field(name)
				if len(s) != len(candles) {
					t.Errorf("%s.%s: length %d, expected %d", kind, name, len(s), len(candles))
				}
			}
		}
	}
}

func TestSupportedIndicators(t *testing.T) {
	if got := len(indicators.SupportedIndicators()); got != 11 {
		t.Errorf("Expected 11 supported indicators, got %d", got)
	}
	if !indicators.IsSupported(types.IndicatorDonchianChannels) {
		t.Error("Expected Donchian Channels to be supported")
	}
	if indicators.IsSupported("VWAP") {
		t.Error("VWAP must not be supported")
	}
}

func TestResolveParams(t *testing.T) {
	defaults := indicators.DefaultParams(types.IndicatorStochastic)
	if defaults["period"] != 14 || defaults["smoothK"] != 3 || defaults["smoothD"] != 3 {
		t.Errorf("Unexpected stochastic defaults: %v", defaults)
	}

	defaults["period"] = 99
	if indicators.DefaultParams(types.IndicatorStochastic)["period"] != 14 {
		t.Error("DefaultParams must return a copy")
	}

	tests := []struct {
		name   string
		kind   types.IndicatorType
		params map[string]float64
	}{
		{"unknown kind", "VWAP", nil},
		{"zero period", types.IndicatorEMA, map[string]float64{"period": 0}},
		{"fractional period", types.IndicatorSMA, map[string]float64{"period": 2.5}},
		{"unknown parameter", types.IndicatorRSI, map[string]float64{"length": 14}},
		{"negative multiplier", types.IndicatorSuperTrend, map[string]float64{"multiplier": -1}},
		{"fast not below slow", types.IndicatorMACD, map[string]float64{"fastPeriod": 26, "slowPeriod": 12}},
		{"heikin ashi takes no parameters", types.IndicatorHeikinAshi, map[string]float64{"period": 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := indicators.ResolveParams(tt.kind, tt.params)
			var cfgErr *types.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Expected ConfigurationError, got %v", err)
			}
		})
	}
}
