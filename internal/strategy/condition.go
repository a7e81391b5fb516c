package strategy

import (
	"github.com/atlas-desktop/strategy-backtester/internal/indicators"
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// EqualsTolerance is the absolute tolerance of the EQUALS operator
var EqualsTolerance = decimal.New(1, -8)

// SeriesMap holds computed indicator outputs keyed by indicator id
type SeriesMap map[string]*indicators.Output

// Series resolves a sub-series of an indicator; an empty field selects the primary series
func (m SeriesMap) Series(indicatorID, field string) (indicators.Series, bool) {
	out, ok := m[indicatorID]
	if !ok {
		return nil, false
	}
	return out.Field(field)
}

// Evaluate reports whether cond holds at index i. Any undefined operand, or i == 0 for
// the crossing operators, evaluates to false.
func Evaluate(cond types.StrategyCondition, series SeriesMap, i int) bool {
	left, ok := series.Series(cond.IndicatorID, cond.Field)
	if !ok {
		return false
	}
	cur, ok := left.At(i)
	if !ok {
		return false
	}

	target := literal(cond.Value)
	if cond.CompareIndicatorID != "" {
		right, ok := series.Series(cond.CompareIndicatorID, cond.CompareField)
		if !ok {
			return false
		}
		target = right.At
	}

	t, ok := target(i)
	if !ok {
		return false
	}

	switch cond.Operator {
	case types.OperatorGreaterThan:
		return cur.GreaterThan(t)
	case types.OperatorLessThan:
		return cur.LessThan(t)
	case types.OperatorEquals:
		return cur.Sub(t).Abs().LessThanOrEqual(EqualsTolerance)
	case types.OperatorCrossesAbove, types.OperatorCrossesBelow:
		if i == 0 {
			return false
		}
		prev, ok := left.At(i - 1)
		if !ok {
			return false
		}
		tPrev, ok := target(i - 1)
		if !ok {
			return false
		}
		if cond.Operator == types.OperatorCrossesAbove {
			return prev.LessThanOrEqual(tPrev) && cur.GreaterThan(t)
		}
		return prev.GreaterThanOrEqual(tPrev) && cur.LessThan(t)
	}
	return false
}

// EvaluateAll reports whether every condition holds at index i. An empty list never fires.
func EvaluateAll(conds []types.StrategyCondition, series SeriesMap, i int) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !Evaluate(c, series, i) {
			return false
		}
	}
	return true
}

func literal(v decimal.Decimal) func(int) (decimal.Decimal, bool) {
	return func(int) (decimal.Decimal, bool) { return v, true }
}
