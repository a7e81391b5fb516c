package strategy

import (
	"time"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
)

// TimeRange recommends timeframes and indicators for a backtest span of
// [MinDays, MaxDays) days. A zero MaxDays has no upper bound.
type TimeRange struct {
	ID                    string                `json:"id"`
	Label                 string                `json:"label"`
	MinDays               float64               `json:"minDays"`
	MaxDays               float64               `json:"maxDays,omitempty"`
	RecommendedTimeframes []types.Timeframe     `json:"recommendedTimeframes"`
	RecommendedIndicators []types.IndicatorType `json:"recommendedIndicators"`
}

var timeRanges = []TimeRange{
	{
		ID: "long_term", Label: "More than 20 days", MinDays: 20,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeD1, types.TimeframeH12, types.TimeframeH8},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorEMA, types.IndicatorSMA, types.IndicatorSuperTrend, types.IndicatorATRBands},
	},
	{
		ID: "medium_term_1", Label: "10-20 days", MinDays: 10, MaxDays: 20,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeH12, types.TimeframeH8, types.TimeframeH6, types.TimeframeH4},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorMACD, types.IndicatorRSI, types.IndicatorBollingerBands},
	},
	{
		ID: "medium_term_2", Label: "7-10 days", MinDays: 7, MaxDays: 10,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeH8, types.TimeframeH6, types.TimeframeH4, types.TimeframeH2},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorStochastic, types.IndicatorRSI, types.IndicatorATR},
	},
	{
		ID: "short_term_1", Label: "5-7 days", MinDays: 5, MaxDays: 7,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeH6, types.TimeframeH4, types.TimeframeH2, types.TimeframeH1},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorEMA, types.IndicatorBollingerBands, types.IndicatorRSI},
	},
	{
		ID: "short_term_2", Label: "3-5 days", MinDays: 3, MaxDays: 5,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeH4, types.TimeframeH2, types.TimeframeH1, types.TimeframeM30},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorMACD, types.IndicatorStochastic, types.IndicatorATR},
	},
	{
		ID: "very_short_1", Label: "2-3 days", MinDays: 2, MaxDays: 3,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeH2, types.TimeframeH1, types.TimeframeM30, types.TimeframeM15},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorRSI, types.IndicatorEMA, types.IndicatorDonchianChannels},
	},
	{
		ID: "very_short_2", Label: "1-2 days", MinDays: 1, MaxDays: 2,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeH1, types.TimeframeM30, types.TimeframeM15, types.TimeframeM10},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorHeikinAshi, types.IndicatorATR, types.IndicatorSuperTrend},
	},
	{
		ID: "intraday_1", Label: "12-24 hours", MinDays: 0.5, MaxDays: 1,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeM30, types.TimeframeM15, types.TimeframeM10, types.TimeframeM5},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorRSI, types.IndicatorBollingerBands, types.IndicatorMACD},
	},
	{
		ID: "intraday_2", Label: "8-12 hours", MinDays: 0.33, MaxDays: 0.5,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeM15, types.TimeframeM10, types.TimeframeM5, types.TimeframeM3},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorEMA, types.IndicatorStochastic, types.IndicatorATR},
	},
	{
		ID: "intraday_3", Label: "4-8 hours", MinDays: 0.17, MaxDays: 0.33,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeM10, types.TimeframeM5, types.TimeframeM3},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorRSI, types.IndicatorMACD, types.IndicatorBollingerBands},
	},
	{
		ID: "intraday_4", Label: "1-4 hours", MinDays: 0.04, MaxDays: 0.17,
		RecommendedTimeframes: []types.Timeframe{types.TimeframeM5, types.TimeframeM3},
		RecommendedIndicators: []types.IndicatorType{types.IndicatorEMA, types.IndicatorRSI, types.IndicatorATR},
	},
}

// TimeRanges returns all recommendation ranges, longest first
func TimeRanges() []TimeRange {
	out := make([]TimeRange, len(timeRanges))
	copy(out, timeRanges)
	return out
}

// RecommendForDays returns the range containing a span of days
func RecommendForDays(days float64) (TimeRange, bool) {
	for _, tr := range timeRanges {
		if days >= tr.MinDays && (tr.MaxDays == 0 || days < tr.MaxDays) {
			return tr, true
		}
	}
	return TimeRange{}, false
}

// RecommendForSpan returns the range containing end - start
func RecommendForSpan(start, end time.Time) (TimeRange, bool) {
	return RecommendForDays(end.Sub(start).Hours() / 24)
}
