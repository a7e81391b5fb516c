// Package config loads backtester settings from an optional config file, a .env
// file and BACKTEST_* environment variables.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BACKTEST_SERVER_PORT
const EnvPrefix = "BACKTEST"

// Config is the complete runtime configuration
type Config struct {
	Server   types.ServerConfig `mapstructure:"server"`
	Data     types.DataConfig   `mapstructure:"data"`
	Engine   types.EngineConfig `mapstructure:"engine"`
	LogLevel string             `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_connections", 100)
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)

	v.SetDefault("data.data_dir", "./data")
	v.SetDefault("data.sqlite_path", "./data/backtests.db")

	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.progress_interval", 1000)
	v.SetDefault("engine.default_initial_balance", "10000")
	v.SetDefault("engine.default_position_size", "0.1")

	v.SetDefault("log_level", "info")
}

// Load reads configuration. path may be empty; a missing .env file is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		decimalHook,
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes strings and numbers into decimal.Decimal
func decimalHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case decimal.Decimal:
		return v, nil
	default:
		return nil, fmt.Errorf("cannot decode %T as decimal", data)
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &types.ConfigurationError{Field: "server.port", Reason: "must be in 1..65535"}
	}
	if c.Server.RateLimit < 0 {
		return &types.ConfigurationError{Field: "server.rate_limit", Reason: "must not be negative"}
	}
	if c.Engine.Workers < 1 {
		return &types.ConfigurationError{Field: "engine.workers", Reason: "must be at least 1"}
	}
	if c.Engine.ProgressInterval < 1 {
		return &types.ConfigurationError{Field: "engine.progress_interval", Reason: "must be at least 1"}
	}

	defaults := types.RunParams{
		InitialBalance: c.Engine.DefaultInitialBalance,
		PositionSize:   c.Engine.DefaultPositionSize,
	}
	if err := defaults.Validate(); err != nil {
		return fmt.Errorf("engine defaults: %w", err)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &types.ConfigurationError{Field: "log_level", Reason: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}
	return nil
}

// Addr returns the host:port the server listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
