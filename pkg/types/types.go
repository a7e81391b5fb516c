// Package types provides shared type definitions for the strategy backtester.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe represents the bar granularity an indicator is configured for
type Timeframe string

const (
	TimeframeD1  Timeframe = "D1"
	TimeframeH12 Timeframe = "H12"
	TimeframeH8  Timeframe = "H8"
	TimeframeH6  Timeframe = "H6"
	TimeframeH4  Timeframe = "H4"
	TimeframeH2  Timeframe = "H2"
	TimeframeH1  Timeframe = "H1"
	TimeframeM30 Timeframe = "M30"
	TimeframeM15 Timeframe = "M15"
	TimeframeM10 Timeframe = "M10"
	TimeframeM5  Timeframe = "M5"
	TimeframeM3  Timeframe = "M3"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TimeframeD1:  24 * time.Hour,
	TimeframeH12: 12 * time.Hour,
	TimeframeH8:  8 * time.Hour,
	TimeframeH6:  6 * time.Hour,
	TimeframeH4:  4 * time.Hour,
	TimeframeH2:  2 * time.Hour,
	TimeframeH1:  time.Hour,
	TimeframeM30: 30 * time.Minute,
	TimeframeM15: 15 * time.Minute,
	TimeframeM10: 10 * time.Minute,
	TimeframeM5:  5 * time.Minute,
	TimeframeM3:  3 * time.Minute,
}

// Valid reports whether the timeframe is one of the supported granularities
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration returns the bar length, or 0 for an unknown timeframe
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// IndicatorType is the closed set of supported indicator kinds
type IndicatorType string

const (
	IndicatorEMA              IndicatorType = "EMA"
	IndicatorSMA              IndicatorType = "SMA"
	IndicatorRSI              IndicatorType = "RSI"
	IndicatorStochastic       IndicatorType = "Stochastic"
	IndicatorBollingerBands   IndicatorType = "BollingerBands"
	IndicatorMACD             IndicatorType = "MACD"
	IndicatorATR              IndicatorType = "ATR"
	IndicatorSuperTrend       IndicatorType = "SuperTrend"
	IndicatorATRBands         IndicatorType = "ATRBands"
	IndicatorHeikinAshi       IndicatorType = "HeikinAshi"
	IndicatorDonchianChannels IndicatorType = "DonchianChannels"
)

// Operator represents a condition comparison operator
type Operator string

const (
	OperatorCrossesAbove Operator = "CROSSES_ABOVE"
	OperatorCrossesBelow Operator = "CROSSES_BELOW"
	OperatorGreaterThan  Operator = "GREATER_THAN"
	OperatorLessThan     Operator = "LESS_THAN"
	OperatorEquals       Operator = "EQUALS"
)

// Valid reports whether the operator is supported
func (o Operator) Valid() bool {
	switch o {
	case OperatorCrossesAbove, OperatorCrossesBelow, OperatorGreaterThan, OperatorLessThan, OperatorEquals:
		return true
	}
	return false
}

// Direction represents long or short exposure
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// PositionState is the state of the single-position engine
type PositionState string

const (
	StateFlat      PositionState = "FLAT"
	StateLongOpen  PositionState = "LONG_OPEN"
	StateShortOpen PositionState = "SHORT_OPEN"
)

// Exit reasons recorded on trades
const (
	ExitReasonSignal    = "signal"
	ExitReasonEndOfData = "end_of_data"
)

// Candle represents a single OHLCV bar
type Candle struct {
	Timestamp int64           `json:"timestamp"` // epoch millis
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Time returns the candle timestamp as UTC time
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// IndicatorConfig configures one indicator of a strategy
type IndicatorConfig struct {
	ID         string             `json:"id" yaml:"id"`
	Type       IndicatorType      `json:"type" yaml:"type"`
	Timeframe  Timeframe          `json:"timeframe" yaml:"timeframe"`
	Parameters map[string]float64 `json:"parameters" yaml:"parameters"`
	IsMain     bool               `json:"isMain" yaml:"isMain"`
}

// StrategyCondition compares an indicator against a literal or another indicator
type StrategyCondition struct {
	ID                 string          `json:"id" yaml:"id"`
	IndicatorID        string          `json:"indicatorId" yaml:"indicatorId"`
	Field              string          `json:"field,omitempty" yaml:"field,omitempty"`
	Operator           Operator        `json:"operator" yaml:"operator"`
	Value              decimal.Decimal `json:"value" yaml:"value"`
	CompareIndicatorID string          `json:"compareIndicatorId,omitempty" yaml:"compareIndicatorId,omitempty"`
	CompareField       string          `json:"compareField,omitempty" yaml:"compareField,omitempty"`
}

// Strategy is an immutable strategy definition
type Strategy struct {
	ID                     string              `json:"id" yaml:"id"`
	Name                   string              `json:"name" yaml:"name"`
	Description            string              `json:"description,omitempty" yaml:"description,omitempty"`
	MainIndicator          IndicatorConfig     `json:"mainIndicator" yaml:"mainIndicator"`
	ConfirmationIndicators []IndicatorConfig   `json:"confirmationIndicators" yaml:"confirmationIndicators"`
	EntryConditions        []StrategyCondition `json:"entryConditions" yaml:"entryConditions"`
	ExitConditions         []StrategyCondition `json:"exitConditions" yaml:"exitConditions"`
	Bias                   Direction           `json:"bias,omitempty" yaml:"bias,omitempty"`
	Created                time.Time           `json:"created" yaml:"created,omitempty"`
	Updated                time.Time           `json:"updated" yaml:"updated,omitempty"`
}

// Indicators returns the main indicator followed by the confirmation indicators
func (s Strategy) Indicators() []IndicatorConfig {
	out := make([]IndicatorConfig, 0, 1+len(s.ConfirmationIndicators))
	out = append(out, s.MainIndicator)
	out = append(out, s.ConfirmationIndicators...)
	return out
}

// Trade represents a completed round trip
type Trade struct {
	EntryDate  time.Time       `json:"entryDate"`
	ExitDate   time.Time       `json:"exitDate"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	Quantity   decimal.Decimal `json:"quantity"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPercent decimal.Decimal `json:"pnlPercent"`
	ExitReason string          `json:"exitReason,omitempty"`
}

// BacktestMetrics represents aggregate performance statistics
type BacktestMetrics struct {
	TotalTrades     int             `json:"totalTrades"`
	WinningTrades   int             `json:"winningTrades"`
	LosingTrades    int             `json:"losingTrades"`
	BreakevenTrades int             `json:"breakevenTrades"`
	WinRate         decimal.Decimal `json:"winRate"`
	ProfitFactor    decimal.Decimal `json:"profitFactor"`
	// ProfitFactorInfinite is set when there are winners but no losers.
	ProfitFactorInfinite bool            `json:"profitFactorInfinite"`
	SharpeRatio          decimal.Decimal `json:"sharpeRatio"`
	MaxDrawdown          decimal.Decimal `json:"maxDrawdown"`
	AverageWin           decimal.Decimal `json:"averageWin"`
	AverageLoss          decimal.Decimal `json:"averageLoss"`
	Expectancy           decimal.Decimal `json:"expectancy"`
	TotalPnL             decimal.Decimal `json:"totalPnl"`
	GrossProfit          decimal.Decimal `json:"grossProfit"`
	GrossLoss            decimal.Decimal `json:"grossLoss"`
}

// BacktestResult represents the results of one backtest run
type BacktestResult struct {
	ID               string          `json:"id"`
	StrategyID       string          `json:"strategyId"`
	Symbol           string          `json:"symbol"`
	StartDate        time.Time       `json:"startDate"`
	EndDate          time.Time       `json:"endDate"`
	InitialBalance   decimal.Decimal `json:"initialBalance"`
	FinalBalance     decimal.Decimal `json:"finalBalance"`
	Trades           []Trade         `json:"trades"`
	Metrics          BacktestMetrics `json:"metrics"`
	CandlesProcessed int             `json:"candlesProcessed"`
	Created          time.Time       `json:"created"`
	Duration         time.Duration   `json:"duration"`
}

// BacktestProgress represents the progress of a running backtest
type BacktestProgress struct {
	ID               string          `json:"id"`
	StrategyID       string          `json:"strategyId"`
	Status           string          `json:"status"`   // "running", "completed", "failed"
	Progress         float64         `json:"progress"` // 0-100
	CandlesProcessed int             `json:"candlesProcessed"`
	TotalCandles     int             `json:"totalCandles"`
	TradesExecuted   int             `json:"tradesExecuted"`
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
	CurrentDate      time.Time       `json:"currentDate"`
	Error            string          `json:"error,omitempty"`
}
