// Package repository persists strategies and backtest results in SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a strategy or result id is unknown
var ErrNotFound = errors.New("not found")

// Repository stores strategies and results as JSON documents keyed by id
type Repository struct {
	logger *zap.Logger
	db     *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema
func Open(logger *zap.Logger, path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	logger.Info("Opened result database", zap.String("path", path))
	return &Repository{logger: logger, db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS strategies (
			id      TEXT    PRIMARY KEY,
			name    TEXT    NOT NULL,
			data    TEXT    NOT NULL,
			created INTEGER NOT NULL,
			updated INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS backtest_results (
			id          TEXT    PRIMARY KEY,
			strategy_id TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			data        TEXT    NOT NULL,
			created     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_results_strategy
			ON backtest_results (strategy_id, created);
	`)
	return err
}

// SaveStrategy inserts or replaces a strategy. A missing id is generated and
// Created/Updated are stamped; the stored copy is returned.
func (r *Repository) SaveStrategy(ctx context.Context, s types.Strategy) (types.Strategy, error) {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Created.IsZero() {
		s.Created = now
	}
	s.Updated = now

	data, err := json.Marshal(s)
	if err != nil {
		return types.Strategy{}, fmt.Errorf("marshal strategy: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO strategies (id, name, data, created, updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, data = excluded.data, updated = excluded.updated
	`, s.ID, s.Name, string(data), s.Created.UnixMilli(), s.Updated.UnixMilli())
	if err != nil {
		return types.Strategy{}, fmt.Errorf("sqlite insert strategy: %w", err)
	}

	r.logger.Debug("Saved strategy", zap.String("id", s.ID))
	return s, nil
}

// GetStrategy returns the strategy with id, or ErrNotFound
func (r *Repository) GetStrategy(ctx context.Context, id string) (types.Strategy, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM strategies WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Strategy{}, fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Strategy{}, fmt.Errorf("sqlite query strategy: %w", err)
	}

	var s types.Strategy
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return types.Strategy{}, fmt.Errorf("unmarshal strategy %s: %w", id, err)
	}
	return s, nil
}

// ListStrategies returns all strategies ordered by creation time
func (r *Repository) ListStrategies(ctx context.Context) ([]types.Strategy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM strategies ORDER BY created ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query strategies: %w", err)
	}
	defer rows.Close()

	out := make([]types.Strategy, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan strategies: %w", err)
		}
		var s types.Strategy
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("unmarshal strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveResult stores a finished backtest
func (r *Repository) SaveResult(ctx context.Context, result *types.BacktestResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_results (id, strategy_id, symbol, data, created)
		VALUES (?, ?, ?, ?, ?)
	`, result.ID, result.StrategyID, result.Symbol, string(data), result.Created.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite insert result: %w", err)
	}

	r.logger.Debug("Saved backtest result",
		zap.String("id", result.ID),
		zap.String("strategy", result.StrategyID),
	)
	return nil
}

// GetResult returns the result with id, or ErrNotFound
func (r *Repository) GetResult(ctx context.Context, id string) (*types.BacktestResult, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM backtest_results WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backtest %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite query result: %w", err)
	}
	return decodeResult(data)
}

// ListResultsByStrategy returns the results of a strategy, newest first
func (r *Repository) ListResultsByStrategy(ctx context.Context, strategyID string) ([]*types.BacktestResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data FROM backtest_results
		WHERE strategy_id = ?
		ORDER BY created DESC
	`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query results: %w", err)
	}
	defer rows.Close()

	out := make([]*types.BacktestResult, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan results: %w", err)
		}
		result, err := decodeResult(data)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

func decodeResult(data string) (*types.BacktestResult, error) {
	var result types.BacktestResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database
func (r *Repository) Close() error {
	return r.db.Close()
}
