package types

import (
	"fmt"
	"time"
)

// ValidationError reports the first offending record of a candle import.
// Row is 1-based; 0 means the batch itself is unusable.
type ValidationError struct {
	Row    int    `json:"row"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Row == 0 {
		return e.Reason
	}
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d: field %q: %s", e.Row, e.Field, e.Reason)
}

// ConfigurationError reports an invalid strategy or run definition
type ConfigurationError struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// DataUnavailableError reports that a requested range holds no candles
type DataUnavailableError struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("no market data available for %s between %s and %s",
		e.Symbol, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}
