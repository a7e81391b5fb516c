package strategy

import (
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
)

// Direction picks the side of an entry signalled at index i. A strategy bias wins;
// otherwise the slope of the main indicator's primary series decides, with a flat or
// undefined slope reading LONG.
func Direction(s types.Strategy, series SeriesMap, i int) types.Direction {
	if s.Bias == types.DirectionLong || s.Bias == types.DirectionShort {
		return s.Bias
	}

	primary, ok := series.Series(s.MainIndicator.ID, "")
	if !ok {
		return types.DirectionLong
	}
	cur, okCur := primary.At(i)
	prev, okPrev := primary.At(i - 1)
	if okCur && okPrev && cur.LessThan(prev) {
		return types.DirectionShort
	}
	return types.DirectionLong
}
