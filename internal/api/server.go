// Package api provides the HTTP and WebSocket server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-backtester/internal/backtester"
	"github.com/atlas-desktop/strategy-backtester/internal/data"
	"github.com/atlas-desktop/strategy-backtester/internal/metrics"
	"github.com/atlas-desktop/strategy-backtester/internal/repository"
	"github.com/atlas-desktop/strategy-backtester/internal/strategy"
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// maxImportBytes bounds the body of a candle import
const maxImportBytes = 64 << 20

// Repository persists strategies and backtest results
type Repository interface {
	SaveStrategy(ctx context.Context, s types.Strategy) (types.Strategy, error)
	GetStrategy(ctx context.Context, id string) (types.Strategy, error)
	ListStrategies(ctx context.Context) ([]types.Strategy, error)
	GetResult(ctx context.Context, id string) (*types.BacktestResult, error)
	ListResultsByStrategy(ctx context.Context, strategyID string) ([]*types.BacktestResult, error)
	Ping(ctx context.Context) error
}

// Deps are the components the server exposes
type Deps struct {
	Store      *data.Store
	Repository Repository
	Runner     *backtester.Runner
	Templates  *strategy.Registry
	Hub        *Hub
	Metrics    *metrics.Metrics // optional
	Defaults   types.EngineConfig
}

// Server is the HTTP/WebSocket API server
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	deps       Deps
	router     *mux.Router
	limiter    *RateLimiter
	quality    *data.DataQualityValidator
	httpServer *http.Server
	stop       chan struct{}
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, config *types.ServerConfig, deps Deps) *Server {
	s := &Server{
		logger:  logger,
		config:  config,
		deps:    deps,
		router:  mux.NewRouter().UseEncodedPath(),
		quality: data.NewDataQualityValidator(logger),
		stop:    make(chan struct{}),
	}
	if config.RateLimit > 0 {
		s.limiter = NewRateLimiter(config.RateLimit, config.RateBurst)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(instrument(s.logger, s.deps.Metrics))
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Candle data
	v1.HandleFunc("/data/symbols", s.handleGetSymbols).Methods("GET")
	v1.HandleFunc("/data/cache", s.handleClearCache).Methods("DELETE")
	v1.HandleFunc("/data/{symbol}/import", s.handleImport).Methods("POST")
	v1.HandleFunc("/data/{symbol}/candles", s.handleGetCandles).Methods("GET")

	// Strategies
	v1.HandleFunc("/strategies", s.handleCreateStrategy).Methods("POST")
	v1.HandleFunc("/strategies", s.handleListStrategies).Methods("GET")
	v1.HandleFunc("/strategies/{id}", s.handleGetStrategy).Methods("GET")
	v1.HandleFunc("/strategies/{id}/backtests", s.handleStrategyBacktests).Methods("GET")
	v1.HandleFunc("/templates", s.handleListTemplates).Methods("GET")
	v1.HandleFunc("/templates/{name}", s.handleGetTemplate).Methods("GET")
	v1.HandleFunc("/timeranges", s.handleTimeRanges).Methods("GET")

	// Backtests
	v1.HandleFunc("/backtest/run", s.handleRunBacktest).Methods("POST")
	v1.HandleFunc("/backtest/batch", s.handleRunBatch).Methods("POST")
	v1.HandleFunc("/backtest/{id}", s.handleGetBacktest).Methods("GET")
	v1.HandleFunc("/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")

	if s.deps.Hub != nil {
		s.router.HandleFunc(s.config.WebSocketPath, s.deps.Hub.ServeWS)
	}
	if s.config.EnableMetrics && s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}
}

// Router returns the route table
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)
}

// Start serves until Stop is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	if s.limiter != nil {
		go s.pruneVisitors()
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) pruneVisitors() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.limiter.Prune(10 * time.Minute)
		}
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	close(s.stop)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error  string `json:"error"`
	Row    int    `json:"row,omitempty"`
	Field  string `json:"field,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps typed errors onto HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var validationErr *types.ValidationError
	var configErr *types.ConfigurationError
	var dataErr *types.DataUnavailableError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Row: validationErr.Row, Field: validationErr.Field})
	case errors.As(err, &configErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Field: configErr.Field})
	case errors.As(err, &dataErr):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Symbol: dataErr.Symbol})
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, strategy.ErrUnknownTemplate):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

// pathVar returns an unescaped route variable
func pathVar(r *http.Request, name string) (string, error) {
	return url.PathUnescape(mux.Vars(r)[name])
}

// parseTimeParam accepts RFC3339, "2006-01-02" or epoch milliseconds; empty is the zero time
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", v, time.UTC); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", v)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.deps.Repository.Ping(r.Context()); err != nil {
		s.logger.Warn("Database ping failed", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}

	resp := map[string]interface{}{
		"status":  status,
		"time":    time.Now().Unix(),
		"symbols":      len(s.deps.Store.GetAvailableSymbols()),
		"cachedSeries": s.deps.Store.GetCacheSize(),
	}
	if s.deps.Hub != nil {
		resp["wsClients"] = s.deps.Hub.ClientCount()
	}
	writeJSON(w, code, resp)
}

// handleGetSymbols returns symbols with imported data
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbols": s.deps.Store.GetAvailableSymbols(),
	})
}

// handleClearCache drops the in-memory candle cache
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Store.ClearCache()
	s.logger.Info("Cleared candle cache", zap.Int("series", n))
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": n})
}

// importFormat picks the payload format from ?format= or the content type
func importFormat(r *http.Request) string {
	if f := strings.ToLower(r.URL.Query().Get("format")); f != "" {
		return f
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == "text/csv" {
		return data.FormatCSV
	}
	return data.FormatJSON
}

// handleImport validates and stores a candle series
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	symbol, err := pathVar(r, "symbol")
	if err != nil || symbol == "" {
		badRequest(w, "invalid symbol")
		return
	}

	format := importFormat(r)
	if format != data.FormatJSON && format != data.FormatCSV {
		badRequest(w, fmt.Sprintf("unsupported import format %q", format))
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}

	candles, err := data.ImportCandles(payload, format)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ImportRecorded(err)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Store.SaveCandles(symbol, candles); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"symbol":    symbol,
		"count":     len(candles),
		"startDate": candles[0].Time(),
		"endDate":   candles[len(candles)-1].Time(),
		"quality":   s.quality.Assess(symbol, candles),
	})
}

// handleGetCandles returns stored candles of a symbol within ?start&end
func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	symbol, err := pathVar(r, "symbol")
	if err != nil {
		badRequest(w, "invalid symbol")
		return
	}

	start, err := parseTimeParam(r.URL.Query().Get("start"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	end, err := parseTimeParam(r.URL.Query().Get("end"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	candles, err := s.deps.Store.LoadCandles(r.Context(), symbol, start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  symbol,
		"candles": candles,
		"count":   len(candles),
	})
}

// handleCreateStrategy validates and stores a strategy sent as JSON or YAML
func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}

	var def types.Strategy
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "application/yaml", "application/x-yaml", "text/yaml":
		def, err = strategy.Parse(body)
		if err != nil {
			s.writeError(w, err)
			return
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			badRequest(w, "invalid request body: "+err.Error())
			return
		}
		def = strategy.Normalize(def)
		if err := strategy.Validate(def); err != nil {
			s.writeError(w, err)
			return
		}
	}

	saved, err := s.deps.Repository.SaveStrategy(r.Context(), def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Repository.ListStrategies(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"strategies": list, "count": len(list)})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Repository.GetStrategy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// handleStrategyBacktests lists stored results of a strategy, newest first
func (s *Server) handleStrategyBacktests(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	results, err := s.deps.Repository.ListResultsByStrategy(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategyId": id,
		"backtests":  results,
		"count":      len(results),
	})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": s.deps.Templates.List()})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Templates.Create(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// handleTimeRanges lists the time ranges, with a recommendation for ?days=N or ?start&end
func (s *Server) handleTimeRanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := map[string]interface{}{"timeRanges": strategy.TimeRanges()}

	if v := q.Get("days"); v != "" {
		days, err := strconv.ParseFloat(v, 64)
		if err != nil || days < 0 {
			badRequest(w, "days must be a non-negative number")
			return
		}
		if tr, ok := strategy.RecommendForDays(days); ok {
			resp["recommended"] = tr
		}
	} else if q.Get("start") != "" && q.Get("end") != "" {
		start, err := parseTimeParam(q.Get("start"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		end, err := parseTimeParam(q.Get("end"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if tr, ok := strategy.RecommendForSpan(start, end); ok {
			resp["recommended"] = tr
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// withDefaults fills an unset balance or position size from the engine config
func (s *Server) withDefaults(req backtester.RunRequest) backtester.RunRequest {
	if req.Params.InitialBalance.IsZero() {
		req.Params.InitialBalance = s.deps.Defaults.DefaultInitialBalance
	}
	if req.Params.PositionSize.IsZero() {
		req.Params.PositionSize = s.deps.Defaults.DefaultPositionSize
	}
	return req
}

// handleRunBacktest runs a backtest synchronously and returns its result
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtester.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	result, err := s.deps.Runner.Run(r.Context(), s.withDefaults(req))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRunBatch runs independent backtests concurrently; failures are reported per entry
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []backtester.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if len(reqs) == 0 {
		badRequest(w, "at least one run is required")
		return
	}

	for i := range reqs {
		reqs[i] = s.withDefaults(reqs[i])
	}

	results := s.deps.Runner.RunBatch(r.Context(), reqs)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results, "count": len(results)})
}

// handleGetBacktest returns a stored backtest result
func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Repository.GetResult(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetBacktestTrades returns the trades of a stored backtest
func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.deps.Repository.GetResult(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"trades": result.Trades,
		"count":  len(result.Trades),
	})
}
