// Package data provides data quality checks for imported candle series.
// Checks here never reject a batch; they annotate one that already passed validation.
package data

import (
	"sort"
	"strconv"
	"time"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DataQualityValidator reports suspicious but valid candle data
type DataQualityValidator struct {
	logger *zap.Logger

	MaxIntradayMove decimal.Decimal // e.g. 0.30 for 30%
	MaxGapMove      decimal.Decimal // max open-vs-previous-close move
	GapMultiple     int64           // interval multiple counted as a gap
}

// DataIssue represents a data quality finding
type DataIssue struct {
	Type      string `json:"type"`
	Severity  string `json:"severity"` // "high", "medium", "low"
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	Row       int    `json:"row"` // 1-based position in the sorted series
}

// QualityReport summarizes data quality assessment
type QualityReport struct {
	Symbol       string      `json:"symbol"`
	TotalBars    int         `json:"totalBars"`
	Issues       []DataIssue `json:"issues"`
	QualityScore int         `json:"qualityScore"` // 0-100
	StartDate    time.Time   `json:"startDate"`
	EndDate      time.Time   `json:"endDate"`
}

// NewDataQualityValidator creates a validator with crypto/forex defaults
func NewDataQualityValidator(logger *zap.Logger) *DataQualityValidator {
	return &DataQualityValidator{
		logger:          logger,
		MaxIntradayMove: decimal.NewFromFloat(0.30),
		MaxGapMove:      decimal.NewFromFloat(0.20),
		GapMultiple:     3,
	}
}

// Assess runs all quality checks on a validated, sorted series
func (dqv *DataQualityValidator) Assess(symbol string, candles []types.Candle) *QualityReport {
	report := &QualityReport{
		Symbol:    symbol,
		TotalBars: len(candles),
		Issues:    make([]DataIssue, 0),
	}
	if len(candles) == 0 {
		return report
	}

	report.Issues = append(report.Issues, dqv.checkDuplicates(candles)...)
	report.Issues = append(report.Issues, dqv.checkGaps(candles)...)
	report.Issues = append(report.Issues, dqv.checkPriceMoves(candles)...)
	report.Issues = append(report.Issues, dqv.checkVolume(candles)...)

	report.QualityScore = qualityScore(len(candles), report.Issues)
	report.StartDate = candles[0].Time()
	report.EndDate = candles[len(candles)-1].Time()

	if len(report.Issues) > 0 && dqv.logger != nil {
		dqv.logger.Info("Data quality issues detected",
			zap.String("symbol", symbol),
			zap.Int("issues", len(report.Issues)),
			zap.Int("score", report.QualityScore),
		)
	}

	return report
}

// checkDuplicates flags repeated timestamps; they are kept in sort order, not merged
func (dqv *DataQualityValidator) checkDuplicates(candles []types.Candle) []DataIssue {
	var issues []DataIssue
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp == candles[i-1].Timestamp {
			issues = append(issues, DataIssue{
				Type:      "DUPLICATE_TIMESTAMP",
				Severity:  "high",
				Timestamp: candles[i].Timestamp,
				Message:   "Duplicate timestamp (also at row " + strconv.Itoa(i) + ")",
				Row:       i + 1,
			})
		}
	}
	return issues
}

// checkGaps finds holes relative to the median bar interval
func (dqv *DataQualityValidator) checkGaps(candles []types.Candle) []DataIssue {
	if len(candles) < 3 {
		return nil
	}

	intervals := make([]int64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		if d := candles[i].Timestamp - candles[i-1].Timestamp; d > 0 {
			intervals = append(intervals, d)
		}
	}
	if len(intervals) == 0 {
		return nil
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })
	expected := intervals[len(intervals)/2]

	var issues []DataIssue
	for i := 1; i < len(candles); i++ {
		actual := candles[i].Timestamp - candles[i-1].Timestamp
		if actual > expected*dqv.GapMultiple {
			issues = append(issues, DataIssue{
				Type:      "GAP_DETECTED",
				Severity:  "medium",
				Timestamp: candles[i-1].Timestamp,
				Message: "Data gap detected: " + time.Duration(actual*int64(time.Millisecond)).String() +
					" (expected ~" + time.Duration(expected*int64(time.Millisecond)).String() + ")",
				Row: i,
			})
		}
	}
	return issues
}

func (dqv *DataQualityValidator) checkPriceMoves(candles []types.Candle) []DataIssue {
	var issues []DataIssue
	hundred := decimal.NewFromInt(100)

	for i, c := range candles {
		if c.Low.IsPositive() {
			move := c.High.Sub(c.Low).Div(c.Low)
			if move.GreaterThan(dqv.MaxIntradayMove) {
				issues = append(issues, DataIssue{
					Type:      "EXTREME_MOVE",
					Severity:  "medium",
					Timestamp: c.Timestamp,
					Message:   "Extreme intraday move: " + move.Mul(hundred).StringFixed(2) + "%",
					Row:       i + 1,
				})
			}
		}
		if i > 0 && candles[i-1].Close.IsPositive() {
			prev := candles[i-1].Close
			gap := c.Open.Sub(prev).Div(prev).Abs()
			if gap.GreaterThan(dqv.MaxGapMove) {
				issues = append(issues, DataIssue{
					Type:      "GAP_MOVE",
					Severity:  "medium",
					Timestamp: c.Timestamp,
					Message:   "Large price gap: " + gap.Mul(hundred).StringFixed(2) + "%",
					Row:       i + 1,
				})
			}
		}
	}
	return issues
}

func (dqv *DataQualityValidator) checkVolume(candles []types.Candle) []DataIssue {
	var issues []DataIssue
	for i, c := range candles {
		if c.Volume.IsZero() {
			issues = append(issues, DataIssue{
				Type:      "ZERO_VOLUME",
				Severity:  "low",
				Timestamp: c.Timestamp,
				Message:   "Zero volume bar",
				Row:       i + 1,
			})
		}
	}
	return issues
}

func qualityScore(total int, issues []DataIssue) int {
	penalty := 0
	for _, issue := range issues {
		switch issue.Severity {
		case "high":
			penalty += 5
		case "medium":
			penalty += 2
		default:
			penalty++
		}
	}
	// penalty relative to series length
	scaled := penalty * 100 / (total + penalty)
	score := 100 - scaled
	if score < 0 {
		score = 0
	}
	return score
}
