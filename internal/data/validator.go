// Package data provides candle ingestion, validation and storage.
package data

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// TimestampLayout is the accepted string form of a candle timestamp (UTC)
const TimestampLayout = "2006-01-02 15:04:05"

// maxEpochMillis mirrors the range of a JavaScript Date, the upstream export format
const maxEpochMillis = 8.64e15

// RequiredFields lists the fields every raw candle record must carry, in check order
var RequiredFields = []string{"timestamp", "open", "high", "low", "close", "volume"}

var numericFields = []string{"open", "high", "low", "close", "volume"}

// ValidateMarketData converts raw loosely-typed records into a validated,
// time-sorted candle series. The first offending record aborts the whole batch.
func ValidateMarketData(records []map[string]any) ([]types.Candle, error) {
	if len(records) == 0 {
		return nil, &types.ValidationError{Reason: "invalid data format or empty dataset"}
	}

	candles := make([]types.Candle, 0, len(records))
	for i, rec := range records {
		candle, err := validateRecord(rec, i+1)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})

	return candles, nil
}

func validateRecord(rec map[string]any, row int) (types.Candle, error) {
	if rec == nil {
		return types.Candle{}, &types.ValidationError{Row: row, Reason: "record is not an object"}
	}

	for _, field := range RequiredFields {
		if _, ok := rec[field]; !ok {
			return types.Candle{}, &types.ValidationError{Row: row, Field: field, Reason: "missing required field"}
		}
	}

	ts, err := parseTimestamp(rec["timestamp"])
	if err != nil {
		return types.Candle{}, &types.ValidationError{Row: row, Field: "timestamp", Reason: "invalid timestamp"}
	}

	values := make(map[string]decimal.Decimal, len(numericFields))
	for _, field := range numericFields {
		v, err := parseDecimal(rec[field])
		if err != nil {
			return types.Candle{}, &types.ValidationError{Row: row, Field: field, Reason: "invalid numeric value"}
		}
		if v.IsNegative() {
			return types.Candle{}, &types.ValidationError{Row: row, Field: field, Reason: "cannot be negative"}
		}
		values[field] = v
	}

	candle := types.Candle{
		Timestamp: ts,
		Open:      values["open"],
		High:      values["high"],
		Low:       values["low"],
		Close:     values["close"],
		Volume:    values["volume"],
	}

	if field := inconsistentPrice(candle); field != "" {
		return types.Candle{}, &types.ValidationError{Row: row, Field: field, Reason: "invalid price relationship"}
	}

	return candle, nil
}

// inconsistentPrice returns the first field breaking low <= open,close <= high
func inconsistentPrice(c types.Candle) string {
	switch {
	case c.High.LessThan(c.Low):
		return "high"
	case c.Open.LessThan(c.Low) || c.Open.GreaterThan(c.High):
		return "open"
	case c.Close.LessThan(c.Low) || c.Close.GreaterThan(c.High):
		return "close"
	}
	return ""
}

func parseTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		parsed, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(t), time.UTC)
		if err != nil {
			return 0, err
		}
		return parsed.UnixMilli(), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		return epochFromFloat(f)
	case float64:
		return epochFromFloat(t)
	case float32:
		return epochFromFloat(float64(t))
	case int:
		return epochFromFloat(float64(t))
	case int64:
		return epochFromFloat(float64(t))
	}
	return 0, fmt.Errorf("unsupported timestamp type %T", v)
}

func epochFromFloat(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxEpochMillis {
		return 0, fmt.Errorf("epoch out of range: %v", f)
	}
	return int64(f), nil
}

func parseDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, fmt.Errorf("not a finite number")
		}
		return decimal.NewFromFloat(n), nil
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, fmt.Errorf("not a finite number")
		}
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
}
