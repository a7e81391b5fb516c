// Package indicators computes technical indicator series over candle data.
//
// Every indicator is a pure function of a candle series and its parameters. Output
// series are aligned index-for-index with the input; indices inside the warm-up
// window hold an invalid decimal.NullDecimal and must never be compared.
package indicators

import (
	"fmt"
	"math"
	"sort"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places kept by recurrences
const Precision int32 = 16

// Sub-series names
const (
	FieldValue      = "value"
	FieldSignal     = "signal"
	FieldHistogram  = "histogram"
	FieldUpper      = "upper"
	FieldMiddle     = "middle"
	FieldLower      = "lower"
	FieldK          = "k"
	FieldD          = "d"
	FieldTrend      = "trend"
	FieldSuperTrend = "supertrend"
	FieldOpen       = "open"
	FieldHigh       = "high"
	FieldLow        = "low"
	FieldClose      = "close"
)

// Series is an indicator series aligned with the candle series
type Series []decimal.NullDecimal

// At returns the value at i and whether it is defined
func (s Series) At(i int) (decimal.Decimal, bool) {
	if i < 0 || i >= len(s) || !s[i].Valid {
		return decimal.Zero, false
	}
	return s[i].Decimal, true
}

// FirstValid returns the first defined index, or -1
func (s Series) FirstValid() int {
	for i, v := range s {
		if v.Valid {
			return i
		}
	}
	return -1
}

func newSeries(n int) Series {
	return make(Series, n)
}

func (s Series) set(i int, v decimal.Decimal) {
	s[i] = decimal.NullDecimal{Decimal: v.Round(Precision), Valid: true}
}

// Output holds the named sub-series produced by one indicator
type Output struct {
	Kind    types.IndicatorType `json:"kind"`
	Primary string              `json:"primary"`
	Series  map[string]Series   `json:"series"`
}

// Field returns a named sub-series; the empty name selects the primary series
func (o *Output) Field(name string) (Series, bool) {
	if o == nil {
		return nil, false
	}
	if name == "" {
		name = o.Primary
	}
	s, ok := o.Series[name]
	return s, ok
}

// PrimarySeries returns the series conditions use by default
func (o *Output) PrimarySeries() Series {
	s, _ := o.Field("")
	return s
}

// Fields lists the sub-series names, sorted
func (o *Output) Fields() []string {
	names := make([]string, 0, len(o.Series))
	for name := range o.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params holds indicator parameters after defaults are applied
type Params map[string]float64

// Int returns an integral parameter
func (p Params) Int(name string) int {
	return int(p[name])
}

// Decimal returns a parameter as a decimal
func (p Params) Decimal(name string) decimal.Decimal {
	return decimal.NewFromFloat(p[name])
}

type computeFunc func(candles []types.Candle, p Params) *Output

type definition struct {
	defaults Params
	periods  []string // must be positive integers
	factors  []string // must be positive
	compute  computeFunc
}

var registry = map[types.IndicatorType]definition{
	types.IndicatorEMA: {
		defaults: Params{"period": 14},
		periods:  []string{"period"},
		compute:  computeEMA,
	},
	types.IndicatorSMA: {
		defaults: Params{"period": 14},
		periods:  []string{"period"},
		compute:  computeSMA,
	},
	types.IndicatorRSI: {
		defaults: Params{"period": 14},
		periods:  []string{"period"},
		compute:  computeRSI,
	},
	types.IndicatorStochastic: {
		defaults: Params{"period": 14, "smoothK": 3, "smoothD": 3},
		periods:  []string{"period", "smoothK", "smoothD"},
		compute:  computeStochastic,
	},
	types.IndicatorBollingerBands: {
		defaults: Params{"period": 20, "deviation": 2},
		periods:  []string{"period"},
		factors:  []string{"deviation"},
		compute:  computeBollinger,
	},
	types.IndicatorMACD: {
		defaults: Params{"fastPeriod": 12, "slowPeriod": 26, "signalPeriod": 9},
		periods:  []string{"fastPeriod", "slowPeriod", "signalPeriod"},
		compute:  computeMACD,
	},
	types.IndicatorATR: {
		defaults: Params{"period": 14},
		periods:  []string{"period"},
		compute:  computeATR,
	},
	types.IndicatorSuperTrend: {
		defaults: Params{"period": 10, "multiplier": 3},
		periods:  []string{"period"},
		factors:  []string{"multiplier"},
		compute:  computeSuperTrend,
	},
	types.IndicatorATRBands: {
		defaults: Params{"period": 14, "multiplier": 2},
		periods:  []string{"period"},
		factors:  []string{"multiplier"},
		compute:  computeATRBands,
	},
	types.IndicatorHeikinAshi: {
		defaults: Params{},
		compute:  computeHeikinAshi,
	},
	types.IndicatorDonchianChannels: {
		defaults: Params{"period": 20},
		periods:  []string{"period"},
		compute:  computeDonchian,
	},
}

// SupportedIndicators returns every supported indicator kind, sorted
func SupportedIndicators() []types.IndicatorType {
	kinds := make([]types.IndicatorType, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// IsSupported reports whether kind is a known indicator
func IsSupported(kind types.IndicatorType) bool {
	_, ok := registry[kind]
	return ok
}

// DefaultParams returns a fresh copy of the default parameter set of kind
func DefaultParams(kind types.IndicatorType) Params {
	s, ok := registry[kind]
	if !ok {
		return nil
	}
	out := make(Params, len(s.defaults))
	for k, v := range s.defaults {
		out[k] = v
	}
	return out
}

// ResolveParams merges configured parameters over the defaults and validates them
func ResolveParams(kind types.IndicatorType, configured map[string]float64) (Params, error) {
	s, ok := registry[kind]
	if !ok {
		return nil, &types.ConfigurationError{Field: "type", Reason: fmt.Sprintf("unsupported indicator %q", kind)}
	}

	params := DefaultParams(kind)
	for name, v := range configured {
		if _, known := s.defaults[name]; !known {
			return nil, &types.ConfigurationError{
				Field:  "parameters." + name,
				Reason: fmt.Sprintf("unknown parameter for %s", kind),
			}
		}
		params[name] = v
	}

	for _, name := range s.periods {
		v := params[name]
		if v < 1 || v != math.Trunc(v) || v > math.MaxInt32 {
			return nil, &types.ConfigurationError{Field: "parameters." + name, Reason: "must be a positive integer"}
		}
	}
	for _, name := range s.factors {
		v := params[name]
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &types.ConfigurationError{Field: "parameters." + name, Reason: "must be positive"}
		}
	}
	if kind == types.IndicatorMACD && params["fastPeriod"] >= params["slowPeriod"] {
		return nil, &types.ConfigurationError{Field: "parameters.fastPeriod", Reason: "must be less than slowPeriod"}
	}

	return params, nil
}

// Compute evaluates one configured indicator over the candle series
func Compute(cfg types.IndicatorConfig, candles []types.Candle) (*Output, error) {
	params, err := ResolveParams(cfg.Type, cfg.Parameters)
	if err != nil {
		return nil, err
	}
	return registry[cfg.Type].compute(candles, params), nil
}

// ComputeAll evaluates every indicator, keyed by indicator id
func ComputeAll(configs []types.IndicatorConfig, candles []types.Candle) (map[string]*Output, error) {
	out := make(map[string]*Output, len(configs))
	for _, cfg := range configs {
		o, err := Compute(cfg, candles)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", cfg.ID, err)
		}
		out[cfg.ID] = o
	}
	return out, nil
}

func single(kind types.IndicatorType, s Series) *Output {
	return &Output{
		Kind:    kind,
		Primary: FieldValue,
		Series:  map[string]Series{FieldValue: s},
	}
}
