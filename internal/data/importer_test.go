package data_test

import (
	"strings"
	"testing"

	"github.com/atlas-desktop/strategy-backtester/internal/data"
	"github.com/shopspring/decimal"
)

func TestImportCandlesJSON(t *testing.T) {
	payload := `[
		{"timestamp": 1, "open": 1.05, "high": 1.2, "low": 1.0, "close": 1.15, "volume": 120},
		{"timestamp": 0, "open": "1.0", "high": "1.1", "low": "0.9", "close": "1.05", "volume": 100}
	]`

	candles, err := data.ImportCandles([]byte(payload), data.FormatJSON)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(candles))
	}
	if candles[0].Timestamp != 0 || candles[1].Timestamp != 1 {
		t.Errorf("Expected sorted timestamps [0 1], got [%d %d]", candles[0].Timestamp, candles[1].Timestamp)
	}
	if !candles[1].Close.Equal(decimal.RequireFromString("1.15")) {
		t.Errorf("Expected close 1.15, got %s", candles[1].Close)
	}
}

func TestImportCandlesCSV(t *testing.T) {
	payload := strings.Join([]string{
		"Timestamp,Open,High,Low,Close,Volume",
		"2024-01-01 00:01:00,1.05,1.2,1.0,1.15,120",
		"1704067200000,1.0,1.1,0.9,1.05,100",
	}, "\n")

	candles, err := data.ImportCandles([]byte(payload), data.FormatCSV)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(candles))
	}
	if candles[0].Timestamp != 1704067200000 {
		t.Errorf("Expected epoch row first, got %d", candles[0].Timestamp)
	}
	if candles[1].Timestamp != 1704067260000 {
		t.Errorf("Expected parsed string timestamp 1704067260000, got %d", candles[1].Timestamp)
	}
}

func TestImportCandlesCSVEmptyCellIsMissing(t *testing.T) {
	payload := "timestamp,open,high,low,close,volume\n1,1,1.1,0.9,,10\n"

	_, err := data.ImportCandles([]byte(payload), data.FormatCSV)
	expectValidationError(t, err, 1, "close")
}

func TestImportCandlesMalformedJSON(t *testing.T) {
	_, err := data.ImportCandles([]byte(`{"timestamp": 1}`), data.FormatJSON)
	expectValidationError(t, err, 0, "")
}

func TestImportCandlesUnknownFormat(t *testing.T) {
	if _, err := data.ImportCandles([]byte("x"), "xml"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
