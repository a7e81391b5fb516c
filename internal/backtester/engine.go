// Package backtester runs declarative strategies over candle series and reports
// trades and performance statistics.
package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-backtester/internal/data"
	"github.com/atlas-desktop/strategy-backtester/internal/indicators"
	"github.com/atlas-desktop/strategy-backtester/internal/strategy"
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultProgressInterval is the number of candles between progress reports
const DefaultProgressInterval = 1000

// ProgressFunc receives progress reports of a running backtest
type ProgressFunc func(types.BacktestProgress)

// Request is the input of one backtest run
type Request struct {
	ID               string
	Candles          []types.Candle // validated and sorted
	Strategy         types.Strategy
	Params           types.RunParams
	OnProgress       ProgressFunc
	ProgressInterval int
}

// Engine runs backtests. It holds no run state and is safe for concurrent use.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a new backtesting engine
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

type pendingOrder struct {
	entry     bool
	direction types.Direction
}

// Run executes a backtest. Configuration problems are reported before any candle is
// processed; an empty date range is a *types.DataUnavailableError.
func (e *Engine) Run(ctx context.Context, req Request) (*types.BacktestResult, error) {
	startTime := time.Now()

	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	if err := strategy.Validate(req.Strategy); err != nil {
		return nil, err
	}

	candles := data.FilterByTimeRange(req.Candles, req.Params.StartDate, req.Params.EndDate)
	n := len(candles)
	if n == 0 {
		return nil, &types.DataUnavailableError{
			Symbol: req.Params.Symbol,
			Start:  req.Params.StartDate,
			End:    req.Params.EndDate,
		}
	}

	outputs, err := indicators.ComputeAll(req.Strategy.Indicators(), candles)
	if err != nil {
		return nil, fmt.Errorf("failed to compute indicators: %w", err)
	}
	series := strategy.SeriesMap(outputs)

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	interval := req.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	e.logger.Info("Starting backtest",
		zap.String("id", id),
		zap.String("strategy", req.Strategy.ID),
		zap.String("symbol", req.Params.Symbol),
		zap.Int("candles", n),
	)

	sim := NewSimulator(req.Params.InitialBalance)
	var pending *pendingOrder

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		candle := candles[i]

		// an exit waits for a candle stamped after the entry; duplicate timestamps are kept
		if pending != nil && (pending.entry || exitable(sim, candle)) {
			if err := e.fill(sim, pending, candle, req.Params); err != nil {
				return nil, err
			}
			pending = nil
		}

		if i == n-1 {
			break
		}

		if sim.State() == types.StateFlat {
			if strategy.EvaluateAll(req.Strategy.EntryConditions, series, i) {
				// the entry fill must leave a later-stamped candle for the exit
				if candles[n-1].Timestamp > candles[i+1].Timestamp {
					pending = &pendingOrder{entry: true, direction: strategy.Direction(req.Strategy, series, i)}
				} else {
					e.logger.Debug("Skipping entry signal without room to exit",
						zap.String("id", id),
						zap.Time("at", candle.Time()),
					)
				}
			}
		} else if strategy.EvaluateAll(req.Strategy.ExitConditions, series, i) {
			pending = &pendingOrder{}
		}

		if req.OnProgress != nil && (i+1)%interval == 0 {
			req.OnProgress(types.BacktestProgress{
				ID:               id,
				StrategyID:       req.Strategy.ID,
				Status:           "running",
				Progress:         float64(i+1) / float64(n) * 100,
				CandlesProcessed: i + 1,
				TotalCandles:     n,
				TradesExecuted:   len(sim.trades),
				CurrentBalance:   sim.Balance(),
				CurrentDate:      candle.Time(),
			})
		}
	}

	if _, open := sim.Position(); open {
		last := candles[n-1]
		if _, err := sim.Close(last.Time(), last.Close, types.ExitReasonEndOfData); err != nil {
			return nil, fmt.Errorf("failed to close final position: %w", err)
		}
	}

	trades := sim.Trades()
	result := &types.BacktestResult{
		ID:               id,
		StrategyID:       req.Strategy.ID,
		Symbol:           req.Params.Symbol,
		StartDate:        candles[0].Time(),
		EndDate:          candles[n-1].Time(),
		InitialBalance:   req.Params.InitialBalance,
		FinalBalance:     sim.Balance(),
		Trades:           trades,
		Metrics:          CalculateMetrics(trades, req.Params.InitialBalance),
		CandlesProcessed: n,
		Created:          time.Now().UTC(),
		Duration:         time.Since(startTime),
	}

	e.logger.Info("Backtest completed",
		zap.String("id", id),
		zap.Duration("duration", result.Duration),
		zap.Int("trades", len(trades)),
		zap.String("finalBalance", result.FinalBalance.String()),
	)

	return result, nil
}

// exitable reports whether the open position may be closed at candle
func exitable(sim *Simulator, candle types.Candle) bool {
	pos, open := sim.Position()
	return open && candle.Time().After(pos.EntryDate)
}

// fill executes a pending order at the open of candle
func (e *Engine) fill(sim *Simulator, order *pendingOrder, candle types.Candle, params types.RunParams) error {
	if order.entry {
		if err := sim.Open(order.direction, candle.Time(), candle.Open, params.PositionSize); err != nil {
			e.logger.Warn("Entry not filled", zap.Time("at", candle.Time()), zap.Error(err))
		}
		return nil
	}

	if _, err := sim.Close(candle.Time(), candle.Open, types.ExitReasonSignal); err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	return nil
}
