package strategy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/strategy-backtester/internal/strategy"
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const crossoverYAML = `
id: crossover
name: EMA crossover
mainIndicator:
  id: fast
  type: EMA
  timeframe: H1
  parameters:
    period: 9
confirmationIndicators:
  - id: slow
    type: EMA
    timeframe: H1
    parameters:
      period: 21
  - id: rsi
    type: RSI
    timeframe: H1
entryConditions:
  - id: cross
    indicatorId: fast
    operator: CROSSES_ABOVE
    compareIndicatorId: slow
  - id: strength
    indicatorId: rsi
    operator: GREATER_THAN
    value: 50.5
exitConditions:
  - id: uncross
    indicatorId: fast
    operator: CROSSES_BELOW
    compareIndicatorId: slow
bias: LONG
`

func TestParseStrategyYAML(t *testing.T) {
	s, err := strategy.Parse([]byte(crossoverYAML))
	if err != nil {
		t.Fatalf("Failed to parse strategy: %v", err)
	}

	if s.ID != "crossover" || s.Name != "EMA crossover" {
		t.Errorf("Unexpected identity %q / %q", s.ID, s.Name)
	}
	if !s.MainIndicator.IsMain {
		t.Error("Main indicator must be flagged isMain")
	}
	if len(s.ConfirmationIndicators) != 2 {
		t.Fatalf("Expected 2 confirmation indicators, got %d", len(s.ConfirmationIndicators))
	}
	if s.MainIndicator.Parameters["period"] != 9 {
		t.Errorf("Expected period 9, got %v", s.MainIndicator.Parameters["period"])
	}
	if !s.EntryConditions[1].Value.Equal(decimal.RequireFromString("50.5")) {
		t.Errorf("Expected value 50.5, got %s", s.EntryConditions[1].Value)
	}
	if s.Bias != types.DirectionLong {
		t.Errorf("Expected LONG bias, got %s", s.Bias)
	}
}

func TestParseStrategyRejectsUnknownIndicatorReference(t *testing.T) {
	doc := `
mainIndicator: {id: fast, type: EMA, timeframe: H1}
entryConditions:
  - {id: c, indicatorId: ghost, operator: GREATER_THAN, value: 1}
`
	_, err := strategy.Parse([]byte(doc))
	expectConfigurationError(t, err, "entryConditions[0].indicatorId")
}

func TestParseStrategyRejectsUnknownKeys(t *testing.T) {
	_, err := strategy.Parse([]byte("mainIndicator: {id: a, type: EMA, timeframe: H1}\nstopLoss: 5\n"))
	expectConfigurationError(t, err, "")
}

func TestLoadFileRoundTrip(t *testing.T) {
	s, err := strategy.NewRegistry(zap.NewNop()).Create("macd_momentum")
	if err != nil {
		t.Fatalf("Failed to create template: %v", err)
	}

	data, err := strategy.Marshal(s)
	if err != nil {
		t.Fatalf("Failed to marshal strategy: %v", err)
	}

	path := filepath.Join(t.TempDir(), "strategy.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write strategy file: %v", err)
	}

	loaded, err := strategy.LoadFile(path)
	if err != nil {
		t.Fatalf("Failed to load strategy file: %v", err)
	}
	if loaded.Name != s.Name || len(loaded.EntryConditions) != len(s.EntryConditions) {
		t.Errorf("Round trip changed the strategy: %+v", loaded)
	}
	if loaded.EntryConditions[0].CompareField != "signal" {
		t.Errorf("Expected compareField signal, got %q", loaded.EntryConditions[0].CompareField)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := strategy.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
