// Package workers runs independent backtests on a bounded goroutine pool.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Pool manages a fixed set of worker goroutines fed from a bounded queue
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string        // Pool name for logging
	NumWorkers      int           // Number of worker goroutines
	QueueSize       int           // Size of the task queue
	ShutdownTimeout time.Duration // Timeout for graceful shutdown
}

// DefaultPoolConfig returns one worker per CPU
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       256,
		ShutdownTimeout: 10 * time.Second,
	}
}

// PoolStats contains pool statistics
type PoolStats struct {
	Workers        int   `json:"workers"`
	Queued         int   `json:"queued"`
	TasksSubmitted int64 `json:"tasksSubmitted"`
	TasksCompleted int64 `json:"tasksCompleted"`
	TasksFailed    int64 `json:"tasksFailed"`
	PanicRecovered int64 `json:"panicRecovered"`
}

// NewPool creates a new worker pool
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("Starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queueSize", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(p.logger.With(zap.Int("worker", i)))
	}
}

func (p *Pool) run(logger *zap.Logger) {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.taskQueue:
			p.execute(logger, task)
		}
	}
}

func (p *Pool) execute(logger *zap.Logger, task Task) {
	if err := p.safeExecute(logger, task); err != nil {
		p.failed.Add(1)
		logger.Debug("Task failed", zap.Error(err))
		return
	}
	p.completed.Add(1)
}

func (p *Pool) safeExecute(logger *zap.Logger, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			logger.Error("Worker recovered from panic", zap.Any("panic", r))
			err = &PanicError{Recovered: r}
		}
	}()
	return task.Execute(p.ctx)
}

// Submit queues a task without blocking
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait queues a task, blocking while the queue is full, and waits for its result.
// It returns ErrPoolStopped when the pool stops before the task reports back.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	_, err := await(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, task.Execute(ctx)
	})
	return err
}

type outcome[T any] struct {
	val T
	err error
}

// await runs fn on a worker with the caller's ctx and hands its value back over a
// private channel, so nothing fn produces is visible to the caller after await returns.
func await[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !p.running.Load() {
		return zero, ErrPoolStopped
	}

	done := make(chan outcome[T], 1)
	task := TaskFunc(func(context.Context) error {
		defer func() {
			// report the panic to the caller, then let the worker count it
			if r := recover(); r != nil {
				done <- outcome[T]{err: &PanicError{Recovered: r}}
				panic(r)
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{val: v, err: err}
		return err
	})

	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.ctx.Done():
		return zero, ErrPoolStopped
	}

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.ctx.Done():
		select {
		case o := <-done:
			return o.val, o.err
		default:
		}
		return zero, ErrPoolStopped
	}
}

// Map runs fn for every index in [0, n) on the pool and waits for all of them.
// vals[i] and errs[i] hold the outcome of index i.
func Map[T any](ctx context.Context, p *Pool, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, []error) {
	vals := make([]T, n)
	errs := make([]error, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			vals[i], errs[i] = await(ctx, p, func(ctx context.Context) (T, error) {
				return fn(ctx, i)
			})
		}()
	}

	wg.Wait()
	return vals, errs
}

// Each is Map for functions without a result
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	_, errs := Map(ctx, p, n, func(ctx context.Context, i int) (struct{}, error) {
		return struct{}{}, fn(ctx, i)
	})
	return errs
}

// Stop gracefully shuts down the pool
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("Stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// IsRunning returns whether the pool is running
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:        p.config.NumWorkers,
		Queued:         len(p.taskQueue),
		TasksSubmitted: p.submitted.Load(),
		TasksCompleted: p.completed.Load(),
		TasksFailed:    p.failed.Load(),
		PanicRecovered: p.panics.Load(),
	}
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Recovered)
}
