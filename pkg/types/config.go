// Package types provides configuration types for the strategy backtester.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxConfirmationIndicators bounds the confirmation indicators of one strategy
const MaxConfirmationIndicators = 4

// RunParams represents the parameters of a single backtest run
type RunParams struct {
	Symbol         string          `json:"symbol"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	// PositionSize is the fraction of the current balance committed per trade, in (0, 1].
	PositionSize decimal.Decimal `json:"positionSize"`
}

// Validate checks the run parameters before a run starts
func (p RunParams) Validate() error {
	if !p.InitialBalance.IsPositive() {
		return &ConfigurationError{Field: "initialBalance", Reason: "must be positive"}
	}
	if !p.PositionSize.IsPositive() || p.PositionSize.GreaterThan(decimal.NewFromInt(1)) {
		return &ConfigurationError{Field: "positionSize", Reason: "must be in (0, 1]"}
	}
	if !p.StartDate.IsZero() && !p.EndDate.IsZero() && p.EndDate.Before(p.StartDate) {
		return &ConfigurationError{Field: "endDate", Reason: "must not be before startDate"}
	}
	return nil
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	WebSocketPath  string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	MaxConnections int           `json:"maxConnections" mapstructure:"max_connections"`
	EnableMetrics  bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
	// RateLimit is the sustained requests per second allowed per client IP.
	RateLimit float64 `json:"rateLimit" mapstructure:"rate_limit"`
	RateBurst int     `json:"rateBurst" mapstructure:"rate_burst"`
}

// DataConfig represents candle and result storage configuration
type DataConfig struct {
	DataDir    string `json:"dataDir" mapstructure:"data_dir"`
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`
}

// EngineConfig represents defaults applied to backtest runs
type EngineConfig struct {
	Workers               int             `json:"workers" mapstructure:"workers"`
	ProgressInterval      int             `json:"progressInterval" mapstructure:"progress_interval"`
	DefaultInitialBalance decimal.Decimal `json:"defaultInitialBalance" mapstructure:"default_initial_balance"`
	DefaultPositionSize   decimal.Decimal `json:"defaultPositionSize" mapstructure:"default_position_size"`
}
