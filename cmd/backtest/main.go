// Package main provides a command line runner for single backtests over local files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/atlas-desktop/strategy-backtester/internal/backtester"
	"github.com/atlas-desktop/strategy-backtester/internal/data"
	"github.com/atlas-desktop/strategy-backtester/internal/strategy"
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	candles  string
	strategy string
	template string
	symbol   string
	start    string
	end      string
	balance  string
	size     string
	out      string
	logLevel string
}

func main() {
	var opts options
	flag.StringVar(&opts.candles, "candles", "", "Candle file (.json or .csv)")
	flag.StringVar(&opts.strategy, "strategy", "", "Strategy definition (.yaml)")
	flag.StringVar(&opts.template, "template", "", "Built-in strategy template, used when -strategy is empty")
	flag.StringVar(&opts.symbol, "symbol", "", "Symbol reported in the result")
	flag.StringVar(&opts.start, "start", "", "Start of the date range (RFC3339 or YYYY-MM-DD)")
	flag.StringVar(&opts.end, "end", "", "End of the date range (RFC3339 or YYYY-MM-DD)")
	flag.StringVar(&opts.balance, "balance", "10000", "Initial balance")
	flag.StringVar(&opts.size, "size", "0.1", "Position size as a fraction of balance")
	flag.StringVar(&opts.out, "out", "", "Result file, stdout when empty")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(opts.logLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("Backtest failed", zap.Error(err))
		var cfgErr *types.ConfigurationError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger, opts options) error {
	if opts.candles == "" {
		return errors.New("-candles is required")
	}

	strat, err := resolveStrategy(logger, opts)
	if err != nil {
		return err
	}

	params, err := runParams(opts)
	if err != nil {
		return err
	}

	payload, err := os.ReadFile(opts.candles)
	if err != nil {
		return fmt.Errorf("failed to read candles: %w", err)
	}
	candles, err := data.ImportCandles(payload, formatOf(opts.candles))
	if err != nil {
		return err
	}

	report := data.NewDataQualityValidator(logger).Assess(params.Symbol, candles)
	logger.Info("Loaded candles",
		zap.Int("bars", report.TotalBars),
		zap.Int("issues", len(report.Issues)),
		zap.Int("qualityScore", report.QualityScore),
	)

	engine := backtester.NewEngine(logger)
	result, err := engine.Run(ctx, backtester.Request{
		Candles:  candles,
		Strategy: strat,
		Params:   params,
		OnProgress: func(p types.BacktestProgress) {
			logger.Debug("Progress", zap.Float64("progress", p.Progress))
		},
	})
	if err != nil {
		return err
	}

	logger.Info("Backtest complete",
		zap.Int("trades", result.Metrics.TotalTrades),
		zap.String("finalBalance", result.FinalBalance.StringFixed(2)),
		zap.String("winRate", result.Metrics.WinRate.StringFixed(2)),
		zap.String("maxDrawdown", result.Metrics.MaxDrawdown.StringFixed(2)),
	)

	return writeResult(opts.out, result)
}

func resolveStrategy(logger *zap.Logger, opts options) (types.Strategy, error) {
	if opts.strategy != "" {
		return strategy.LoadFile(opts.strategy)
	}
	if opts.template != "" {
		return strategy.NewRegistry(logger).Create(opts.template)
	}
	return types.Strategy{}, errors.New("one of -strategy or -template is required")
}

func runParams(opts options) (types.RunParams, error) {
	params := types.RunParams{Symbol: opts.symbol}

	balance, err := decimal.NewFromString(opts.balance)
	if err != nil {
		return params, &types.ConfigurationError{Field: "initialBalance", Reason: err.Error()}
	}
	size, err := decimal.NewFromString(opts.size)
	if err != nil {
		return params, &types.ConfigurationError{Field: "positionSize", Reason: err.Error()}
	}
	params.InitialBalance = balance
	params.PositionSize = size

	if params.StartDate, err = parseDate(opts.start); err != nil {
		return params, &types.ConfigurationError{Field: "startDate", Reason: err.Error()}
	}
	if params.EndDate, err = parseDate(opts.end); err != nil {
		return params, &types.ConfigurationError{Field: "endDate", Reason: err.Error()}
	}
	return params, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return "csv"
	}
	return "json"
}

func writeResult(path string, result *types.BacktestResult) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create result file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func setupLogger(level string) *zap.Logger {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
