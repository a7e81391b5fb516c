// Package data provides validated candle storage and loading.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"go.uber.org/zap"
)

// seriesDir holds one JSON file per symbol, apart from metadata.json
const seriesDir = "series"

// Store provides access to imported candle series, one JSON file per symbol
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.Candle
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata contains metadata about available data for a symbol
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewStore creates a new data store
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]types.Candle),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(filepath.Join(dataDir, seriesDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return store, nil
}

// LoadCandles loads the candles of a symbol within [start, end]. A zero start or
// end leaves that side open. An empty result is a DataUnavailableError.
func (s *Store) LoadCandles(ctx context.Context, symbol string, start, end time.Time) ([]types.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candles, err := s.series(symbol)
	if err != nil {
		return nil, err
	}

	filtered := FilterByTimeRange(candles, start, end)
	if len(filtered) == 0 {
		return nil, &types.DataUnavailableError{Symbol: symbol, Start: start, End: end}
	}
	return filtered, nil
}

// SaveCandles replaces the stored series of a symbol with a validated series
func (s *Store) SaveCandles(symbol string, candles []types.Candle) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("failed to marshal candles: %w", err)
	}

	if err := os.WriteFile(s.seriesPath(symbol), data, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	stored := make([]types.Candle, len(candles))
	copy(stored, candles)
	s.cache[symbol] = stored

	if len(candles) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: candles[0].Time(),
			EndDate:   candles[len(candles)-1].Time(),
			BarCount:  len(candles),
			UpdatedAt: time.Now().UTC(),
		}
	} else {
		delete(s.metadata, symbol)
	}

	if err := s.saveMetadata(); err != nil {
		s.logger.Warn("Failed to save metadata", zap.Error(err))
	}

	s.logger.Info("Stored candles",
		zap.String("symbol", symbol),
		zap.Int("bars", len(candles)),
	)
	return nil
}

// GetAvailableSymbols returns all symbols with stored data, sorted
func (s *Store) GetAvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// GetDataRange returns the available data range for a symbol
func (s *Store) GetDataRange(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[symbol]; ok {
		return meta.StartDate, meta.EndDate, nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("no data available for symbol %s", symbol)
}

// ClearCache drops every cached series and returns how many were dropped.
// Series are read from disk again on next use.
func (s *Store) ClearCache() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.cache)
	s.cache = make(map[string][]types.Candle)
	return n
}

// GetCacheSize returns the number of cached series
func (s *Store) GetCacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}

// series returns the full cached series of a symbol, reading it from disk once
func (s *Store) series(symbol string) ([]types.Candle, error) {
	s.mu.RLock()
	cached, ok := s.cache[symbol]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[symbol]; ok {
		return cached, nil
	}

	data, err := os.ReadFile(s.seriesPath(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &types.DataUnavailableError{Symbol: symbol}
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var candles []types.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})

	s.cache[symbol] = candles
	return candles, nil
}

// seriesPath escapes the symbol reversibly, so distinct symbols never share a file
func (s *Store) seriesPath(symbol string) string {
	return filepath.Join(s.dataDir, seriesDir, url.PathEscape(symbol)+".json")
}

// FilterByTimeRange returns the candles with start <= t <= end; zero bounds are open
func FilterByTimeRange(candles []types.Candle, start, end time.Time) []types.Candle {
	filtered := make([]types.Candle, 0, len(candles))

	for _, c := range candles {
		if !start.IsZero() && c.Timestamp < start.UnixMilli() {
			continue
		}
		if !end.IsZero() && c.Timestamp > end.UnixMilli() {
			continue
		}
		filtered = append(filtered, c)
	}

	return filtered
}

// loadMetadata loads symbol metadata from disk
func (s *Store) loadMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}

	if metadata != nil {
		s.metadata = metadata
	}
	return nil
}

// saveMetadata saves symbol metadata to disk
func (s *Store) saveMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")

	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
