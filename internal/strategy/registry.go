package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrUnknownTemplate is returned by Create for an unregistered name
var ErrUnknownTemplate = errors.New("unknown strategy template")

// Registry holds named strategy templates that users can start from
type Registry struct {
	logger    *zap.Logger
	templates map[string]func() types.Strategy
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in templates
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		templates: make(map[string]func() types.Strategy),
	}

	r.Register("ema_crossover", emaCrossover)
	r.Register("rsi_mean_reversion", rsiMeanReversion)
	r.Register("macd_momentum", macdMomentum)
	r.Register("supertrend_following", superTrendFollowing)
	r.Register("donchian_breakout", donchianBreakout)

	return r
}

// Register registers a template factory
func (r *Registry) Register(name string, factory func() types.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = factory
}

// Create builds a fresh strategy from a template
func (r *Registry) Create(name string) (types.Strategy, error) {
	r.mu.RLock()
	factory, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return types.Strategy{}, fmt.Errorf("%w %q", ErrUnknownTemplate, name)
	}

	s := factory()
	if err := Validate(s); err != nil {
		r.logger.Error("Template failed validation", zap.String("template", name), zap.Error(err))
		return types.Strategy{}, err
	}
	return s, nil
}

// List returns all template names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func indicator(id string, kind types.IndicatorType, tf types.Timeframe, params map[string]float64) types.IndicatorConfig {
	return types.IndicatorConfig{ID: id, Type: kind, Timeframe: tf, Parameters: params}
}

func asMain(cfg types.IndicatorConfig) types.IndicatorConfig {
	cfg.IsMain = true
	return cfg
}

func emaCrossover() types.Strategy {
	return types.Strategy{
		Name:                   "EMA Crossover",
		Description:            "Long when the fast EMA crosses above the slow EMA",
		MainIndicator:          asMain(indicator("ema_fast", types.IndicatorEMA, types.TimeframeH1, map[string]float64{"period": 9})),
		ConfirmationIndicators: []types.IndicatorConfig{indicator("ema_slow", types.IndicatorEMA, types.TimeframeH1, map[string]float64{"period": 21})},
		EntryConditions: []types.StrategyCondition{
			{ID: "entry", IndicatorID: "ema_fast", Operator: types.OperatorCrossesAbove, CompareIndicatorID: "ema_slow"},
		},
		ExitConditions: []types.StrategyCondition{
			{ID: "exit", IndicatorID: "ema_fast", Operator: types.OperatorCrossesBelow, CompareIndicatorID: "ema_slow"},
		},
		Bias: types.DirectionLong,
	}
}

func rsiMeanReversion() types.Strategy {
	return types.Strategy{
		Name:          "RSI Mean Reversion",
		Description:   "Buy oversold RSI, sell overbought",
		MainIndicator: asMain(indicator("rsi", types.IndicatorRSI, types.TimeframeH4, map[string]float64{"period": 14})),
		EntryConditions: []types.StrategyCondition{
			{ID: "oversold", IndicatorID: "rsi", Operator: types.OperatorCrossesBelow, Value: decimal.NewFromInt(30)},
		},
		ExitConditions: []types.StrategyCondition{
			{ID: "overbought", IndicatorID: "rsi", Operator: types.OperatorCrossesAbove, Value: decimal.NewFromInt(70)},
		},
		Bias: types.DirectionLong,
	}
}

func macdMomentum() types.Strategy {
	return types.Strategy{
		Name:                   "MACD Momentum",
		Description:            "MACD signal cross confirmed by RSI above 50",
		MainIndicator:          asMain(indicator("macd", types.IndicatorMACD, types.TimeframeH4, nil)),
		ConfirmationIndicators: []types.IndicatorConfig{indicator("rsi", types.IndicatorRSI, types.TimeframeH4, nil)},
		EntryConditions: []types.StrategyCondition{
			{ID: "cross", IndicatorID: "macd", Operator: types.OperatorCrossesAbove, CompareIndicatorID: "macd", CompareField: "signal"},
			{ID: "momentum", IndicatorID: "rsi", Operator: types.OperatorGreaterThan, Value: decimal.NewFromInt(50)},
		},
		ExitConditions: []types.StrategyCondition{
			{ID: "uncross", IndicatorID: "macd", Operator: types.OperatorCrossesBelow, CompareIndicatorID: "macd", CompareField: "signal"},
		},
		Bias: types.DirectionLong,
	}
}

func superTrendFollowing() types.Strategy {
	return types.Strategy{
		Name:          "SuperTrend Following",
		Description:   "Hold while SuperTrend points up, side picked by the line slope",
		MainIndicator: asMain(indicator("st", types.IndicatorSuperTrend, types.TimeframeD1, nil)),
		EntryConditions: []types.StrategyCondition{
			{ID: "flip", IndicatorID: "st", Field: "trend", Operator: types.OperatorGreaterThan, Value: decimal.Zero},
		},
		ExitConditions: []types.StrategyCondition{
			{ID: "reverse", IndicatorID: "st", Field: "trend", Operator: types.OperatorLessThan, Value: decimal.Zero},
		},
	}
}

func donchianBreakout() types.Strategy {
	return types.Strategy{
		Name:                   "Donchian Breakout",
		Description:            "Heikin-Ashi close crossing the Donchian midline",
		MainIndicator:          asMain(indicator("dc", types.IndicatorDonchianChannels, types.TimeframeH4, nil)),
		ConfirmationIndicators: []types.IndicatorConfig{indicator("ha", types.IndicatorHeikinAshi, types.TimeframeH4, nil)},
		EntryConditions: []types.StrategyCondition{
			{ID: "breakout", IndicatorID: "ha", Operator: types.OperatorCrossesAbove, CompareIndicatorID: "dc", CompareField: "middle"},
		},
		ExitConditions: []types.StrategyCondition{
			{ID: "breakdown", IndicatorID: "ha", Operator: types.OperatorCrossesBelow, CompareIndicatorID: "dc", CompareField: "middle"},
		},
		Bias: types.DirectionLong,
	}
}
