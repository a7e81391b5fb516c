package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-backtester/internal/strategy"
	"github.com/atlas-desktop/strategy-backtester/internal/workers"
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CandleLoader loads validated candles for a symbol and date range
type CandleLoader interface {
	LoadCandles(ctx context.Context, symbol string, start, end time.Time) ([]types.Candle, error)
}

// StrategyStore resolves strategy definitions by id
type StrategyStore interface {
	GetStrategy(ctx context.Context, id string) (types.Strategy, error)
}

// ResultStore persists finished backtests
type ResultStore interface {
	SaveResult(ctx context.Context, result *types.BacktestResult) error
}

// Observer is notified of finished runs
type Observer interface {
	BacktestCompleted(result *types.BacktestResult)
	BacktestFailed(err error)
}

// Observers fans notifications out to several observers
type Observers []Observer

func (o Observers) BacktestCompleted(result *types.BacktestResult) {
	for _, obs := range o {
		obs.BacktestCompleted(result)
	}
}

func (o Observers) BacktestFailed(err error) {
	for _, obs := range o {
		obs.BacktestFailed(err)
	}
}

// RunRequest asks for one backtest of a stored or inline strategy
type RunRequest struct {
	StrategyID string          `json:"strategyId,omitempty"`
	Strategy   *types.Strategy `json:"strategy,omitempty"`
	Params     types.RunParams `json:"params"`
}

// BatchResult is the outcome of one request of a batch
type BatchResult struct {
	Result *types.BacktestResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
	Err    error                 `json:"-"`
}

// Runner wires candle loading, the engine and result persistence together
type Runner struct {
	logger           *zap.Logger
	engine           *Engine
	candles          CandleLoader
	strategies       StrategyStore
	results          ResultStore
	observer         Observer
	pool             *workers.Pool
	progress         ProgressFunc
	progressInterval int
}

// NewRunner creates a runner. results may be nil to skip persistence.
func NewRunner(logger *zap.Logger, engine *Engine, candles CandleLoader, strategies StrategyStore, results ResultStore) *Runner {
	return &Runner{
		logger:     logger,
		engine:     engine,
		candles:    candles,
		strategies: strategies,
		results:    results,
	}
}

// SetObserver sets the observer notified after every run
func (r *Runner) SetObserver(o Observer) {
	r.observer = o
}

// SetPool sets the worker pool used by RunBatch
func (r *Runner) SetPool(pool *workers.Pool) {
	r.pool = pool
}

// SetProgressHandler sets the handler receiving progress of every run
func (r *Runner) SetProgressHandler(fn ProgressFunc, interval int) {
	r.progress = fn
	r.progressInterval = interval
}

// Run resolves the strategy, validates it, loads candles, runs the engine and saves the result
func (r *Runner) Run(ctx context.Context, req RunRequest) (*types.BacktestResult, error) {
	result, err := r.run(ctx, req)
	if r.observer != nil {
		if err != nil {
			r.observer.BacktestFailed(err)
		} else {
			r.observer.BacktestCompleted(result)
		}
	}
	return result, err
}

func (r *Runner) run(ctx context.Context, req RunRequest) (*types.BacktestResult, error) {
	s, err := r.resolveStrategy(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	if err := strategy.Validate(s); err != nil {
		return nil, err
	}

	candles, err := r.candles.LoadCandles(ctx, req.Params.Symbol, req.Params.StartDate, req.Params.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles: %w", err)
	}

	id := uuid.New().String()
	result, err := r.engine.Run(ctx, Request{
		ID:               id,
		Candles:          candles,
		Strategy:         s,
		Params:           req.Params,
		OnProgress:       r.progress,
		ProgressInterval: r.progressInterval,
	})
	if err != nil {
		return nil, err
	}

	if r.results != nil {
		if err := r.results.SaveResult(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to save result: %w", err)
		}
	}

	return result, nil
}

func (r *Runner) resolveStrategy(ctx context.Context, req RunRequest) (types.Strategy, error) {
	if req.Strategy != nil {
		return strategy.Normalize(*req.Strategy), nil
	}
	if req.StrategyID == "" {
		return types.Strategy{}, &types.ConfigurationError{Field: "strategyId", Reason: "strategy or strategyId is required"}
	}
	if r.strategies == nil {
		return types.Strategy{}, fmt.Errorf("no strategy store configured")
	}

	s, err := r.strategies.GetStrategy(ctx, req.StrategyID)
	if err != nil {
		return types.Strategy{}, fmt.Errorf("failed to load strategy %s: %w", req.StrategyID, err)
	}
	return s, nil
}

// RunBatch executes independent runs concurrently and returns their outcomes in request order
func (r *Runner) RunBatch(ctx context.Context, reqs []RunRequest) []BatchResult {
	out := make([]BatchResult, len(reqs))

	pool := r.pool
	if pool == nil {
		pool = workers.NewPool(r.logger, workers.DefaultPoolConfig("backtest-batch"))
		pool.Start()
		defer pool.Stop()
	}

	r.logger.Info("Running backtest batch", zap.Int("runs", len(reqs)))

	results, errs := workers.Map(ctx, pool, len(reqs), func(ctx context.Context, i int) (*types.BacktestResult, error) {
		return r.Run(ctx, reqs[i])
	})

	for i, err := range errs {
		out[i].Result = results[i]
		if err != nil {
			out[i].Err = err
			out[i].Error = err.Error()
		}
	}
	return out
}
