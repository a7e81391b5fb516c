// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-backtester/internal/api"
	"github.com/atlas-desktop/strategy-backtester/internal/backtester"
	"github.com/atlas-desktop/strategy-backtester/internal/data"
	"github.com/atlas-desktop/strategy-backtester/internal/metrics"
	"github.com/atlas-desktop/strategy-backtester/internal/repository"
	"github.com/atlas-desktop/strategy-backtester/internal/strategy"
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type testEnv struct {
	ts      *httptest.Server
	hub     *api.Hub
	metrics *metrics.Metrics
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create data store: %v", err)
	}
	repo, err := repository.Open(logger, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := api.NewHub(logger)
	go hub.Run(ctx)

	m := metrics.New()
	runner := backtester.NewRunner(logger, backtester.NewEngine(logger), store, repo, repo)
	runner.SetObserver(backtester.Observers{m, hub})
	runner.SetProgressHandler(hub.BroadcastProgress, 2)

	server := api.NewServer(logger, &types.ServerConfig{
		WebSocketPath: "/ws",
		EnableMetrics: true,
	}, api.Deps{
		Store:      store,
		Repository: repo,
		Runner:     runner,
		Templates:  strategy.NewRegistry(logger),
		Hub:        hub,
		Metrics:    m,
		Defaults: types.EngineConfig{
			DefaultInitialBalance: decimal.NewFromInt(1000),
			DefaultPositionSize:   decimal.RequireFromString("0.5"),
		},
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// thresholdCandlesJSON enters at 12, exits at 7, re-enters at 13 and is closed at 15
const thresholdCandlesJSON = `[
	{"timestamp": 1704067200000, "open": 9,  "high": 10, "low": 8,  "close": 9,  "volume": 100},
	{"timestamp": 1704070800000, "open": 9,  "high": 12, "low": 8,  "close": 11, "volume": 100},
	{"timestamp": 1704074400000, "open": 12, "high": 13, "low": 11, "close": 12, "volume": 100},
	{"timestamp": 1704078000000, "open": 12, "high": 13, "low": 7,  "close": 8,  "volume": 100},
	{"timestamp": 1704081600000, "open": 7,  "high": 8,  "low": 6,  "close": 7,  "volume": 100},
	{"timestamp": 1704085200000, "open": 7,  "high": 12, "low": 6,  "close": 11, "volume": 100},
	{"timestamp": 1704088800000, "open": 13, "high": 14, "low": 12, "close": 13, "volume": 100},
	{"timestamp": 1704092400000, "open": 14, "high": 16, "low": 13, "close": 15, "volume": 100}
]`

const thresholdStrategyJSON = `{
	"id": "threshold",
	"name": "Close threshold",
	"mainIndicator": {"id": "price", "type": "SMA", "timeframe": "H1", "parameters": {"period": 1}},
	"entryConditions": [{"id": "up", "indicatorId": "price", "operator": "GREATER_THAN", "value": "10"}],
	"exitConditions": [{"id": "down", "indicatorId": "price", "operator": "LESS_THAN", "value": "10"}],
	"bias": "LONG"
}`

func (e *testEnv) seed(t *testing.T) {
	t.Helper()

	resp, body := e.do(t, "POST", "/api/v1/data/EUR%2FUSD/import", "application/json", thresholdCandlesJSON)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Import failed with %d: %v", resp.StatusCode, body)
	}
	resp, body = e.do(t, "POST", "/api/v1/strategies", "application/json", thresholdStrategyJSON)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create strategy failed with %d: %v", resp.StatusCode, body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, "GET", "/api/v1/health", "", "")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", body["status"])
	}
}

func TestImportAndQueryCandles(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, "POST", "/api/v1/data/EUR%2FUSD/import", "application/json", thresholdCandlesJSON)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, body)
	}
	if body["count"] != float64(8) || body["symbol"] != "EUR/USD" {
		t.Errorf("Unexpected import response: %v", body)
	}

	_, body = env.do(t, "GET", "/api/v1/data/symbols", "", "")
	symbols, _ := body["symbols"].([]interface{})
	if len(symbols) != 1 || symbols[0] != "EUR/USD" {
		t.Errorf("Expected [EUR/USD], got %v", body["symbols"])
	}

	resp, body = env.do(t, "GET", "/api/v1/data/EUR%2FUSD/candles?start=1704070800000&end=1704078000000", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["count"] != float64(3) {
		t.Errorf("Expected 3 candles in range, got %v", body["count"])
	}

	resp, _ = env.do(t, "GET", "/api/v1/data/GBP%2FUSD/candles", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown symbol, got %d", resp.StatusCode)
	}
}

func TestImportRejectsInvalidRow(t *testing.T) {
	env := setupTestServer(t)

	csv := "timestamp,open,high,low,close,volume\n" +
		"2024-01-01 00:00:00,1.0,1.1,0.9,1.05,100\n" +
		"2024-01-01 01:00:00,1.0,0.8,0.9,1.05,100\n"

	resp, body := env.do(t, "POST", "/api/v1/data/EURUSD/import?format=csv", "text/csv", csv)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
	if body["row"] != float64(2) || body["field"] != "high" {
		t.Errorf("Expected row 2 field high, got %v", body)
	}

	resp, _ = env.do(t, "POST", "/api/v1/data/EURUSD/import?format=xml", "", "<candles/>")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unsupported format, got %d", resp.StatusCode)
	}
}

func TestBacktestLifecycle(t *testing.T) {
	env := setupTestServer(t)
	env.seed(t)

	resp, body := env.do(t, "GET", "/api/v1/strategies/threshold", "", "")
	if resp.StatusCode != http.StatusOK || body["name"] != "Close threshold" {
		t.Fatalf("Unexpected strategy response %d: %v", resp.StatusCode, body)
	}

	run := `{"strategyId": "threshold", "params": {"symbol": "EUR/USD", "startDate": "2024-01-01T00:00:00Z", "endDate": "2024-01-02T00:00:00Z"}}`
	resp, body = env.do(t, "POST", "/api/v1/backtest/run", "application/json", run)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}

	id, _ := body["id"].(string)
	trades, _ := body["trades"].([]interface{})
	if id == "" || len(trades) != 2 {
		t.Fatalf("Expected an id and 2 trades, got %v", body)
	}

	resp, body = env.do(t, "GET", "/api/v1/backtest/"+id, "", "")
	if resp.StatusCode != http.StatusOK || body["strategyId"] != "threshold" {
		t.Errorf("Unexpected stored result %d: %v", resp.StatusCode, body)
	}

	_, body = env.do(t, "GET", "/api/v1/backtest/"+id+"/trades", "", "")
	if body["count"] != float64(2) {
		t.Errorf("Expected 2 trades, got %v", body["count"])
	}

	_, body = env.do(t, "GET", "/api/v1/strategies/threshold/backtests", "", "")
	if body["count"] != float64(1) {
		t.Errorf("Expected 1 backtest for strategy, got %v", body["count"])
	}

	resp, _ = env.do(t, "GET", "/api/v1/backtest/missing", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown backtest, got %d", resp.StatusCode)
	}
}

func TestBacktestErrorMapping(t *testing.T) {
	env := setupTestServer(t)
	env.seed(t)

	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{
			name:   "unknown indicator kind",
			body:   `{"strategy": {"id": "x", "mainIndicator": {"id": "m", "type": "WMA", "timeframe": "H1", "isMain": true}, "entryConditions": [], "exitConditions": []}, "params": {"symbol": "EUR/USD"}}`,
			status: http.StatusUnprocessableEntity,
			field:  "mainIndicator.type",
		},
		{
			name:   "position size out of range",
			body:   `{"strategyId": "threshold", "params": {"symbol": "EUR/USD", "positionSize": "1.5"}}`,
			status: http.StatusUnprocessableEntity,
			field:  "positionSize",
		},
		{
			name:   "no data for symbol",
			body:   `{"strategyId": "threshold", "params": {"symbol": "GBP/USD"}}`,
			status: http.StatusNotFound,
		},
		{
			name:   "unknown strategy",
			body:   `{"strategyId": "missing", "params": {"symbol": "EUR/USD"}}`,
			status: http.StatusNotFound,
		},
		{
			name:   "malformed body",
			body:   `{"strategyId": `,
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, "POST", "/api/v1/backtest/run", "application/json", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("Expected %d, got %d: %v", tt.status, resp.StatusCode, body)
			}
			if tt.field != "" && body["field"] != tt.field {
				t.Errorf("Expected field %q, got %v", tt.field, body["field"])
			}
		})
	}
}

func TestCreateStrategyFromYAML(t *testing.T) {
	env := setupTestServer(t)

	def := `
id: yaml-strategy
name: YAML threshold
mainIndicator:
  id: price
  type: SMA
  timeframe: H1
  parameters:
    period: 1
entryConditions:
  - id: up
    indicatorId: price
    operator: GREATER_THAN
    value: "10"
exitConditions: []
`
	resp, body := env.do(t, "POST", "/api/v1/strategies", "application/yaml", def)
	if resp.StatusCode != http.StatusCreated || body["id"] != "yaml-strategy" {
		t.Fatalf("Unexpected response %d: %v", resp.StatusCode, body)
	}

	bad := strings.Replace(def, "indicatorId: price", "indicatorId: nope", 1)
	resp, _ = env.do(t, "POST", "/api/v1/strategies", "application/yaml", bad)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for unknown reference, got %d", resp.StatusCode)
	}

	_, body = env.do(t, "GET", "/api/v1/strategies", "", "")
	if body["count"] != float64(1) {
		t.Errorf("Expected 1 stored strategy, got %v", body["count"])
	}
}

func TestBatchEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.seed(t)

	batch := `[
		{"strategyId": "threshold", "params": {"symbol": "EUR/USD"}},
		{"strategyId": "threshold", "params": {"symbol": "GBP/USD"}}
	]`
	resp, body := env.do(t, "POST", "/api/v1/backtest/batch", "application/json", batch)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	results, _ := body["results"].([]interface{})
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %v", body)
	}
	first, _ := results[0].(map[string]interface{})
	second, _ := results[1].(map[string]interface{})
	if first["result"] == nil || first["error"] != nil {
		t.Errorf("Expected first run to succeed, got %v", first)
	}
	if second["error"] == nil {
		t.Errorf("Expected second run to fail, got %v", second)
	}
}

func TestTemplatesAndTimeRanges(t *testing.T) {
	env := setupTestServer(t)

	_, body := env.do(t, "GET", "/api/v1/templates", "", "")
	templates, _ := body["templates"].([]interface{})
	if len(templates) == 0 {
		t.Fatal("Expected built-in templates")
	}

	resp, body := env.do(t, "GET", fmt.Sprintf("/api/v1/templates/%s", templates[0]), "", "")
	if resp.StatusCode != http.StatusOK || body["mainIndicator"] == nil {
		t.Errorf("Unexpected template response %d: %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, "GET", "/api/v1/templates/unknown", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown template, got %d", resp.StatusCode)
	}

	_, body = env.do(t, "GET", "/api/v1/timeranges?days=30", "", "")
	recommended, _ := body["recommended"].(map[string]interface{})
	if recommended["id"] != "long_term" {
		t.Errorf("Expected long_term recommendation, got %v", body["recommended"])
	}

	resp, _ = env.do(t, "GET", "/api/v1/timeranges?days=abc", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid days, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, "GET", "/api/v1/health", "", "")

	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `route="/api/v1/health"`) {
		t.Error("Expected the health route in request metrics")
	}
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v (response: %v)", err, resp)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestWebSocketPing(t *testing.T) {
	env := setupTestServer(t)
	conn := dialWS(t, env)

	if err := conn.WriteJSON(api.WSMessage{Type: api.MsgTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var response api.WSMessage
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("Failed to read pong: %v", err)
	}
	if response.Type != api.MsgTypePong || response.ID != "ping-1" {
		t.Errorf("Expected pong for ping-1, got %+v", response)
	}
}

func TestWebSocketBacktestEvents(t *testing.T) {
	env := setupTestServer(t)
	env.seed(t)
	conn := dialWS(t, env)

	run := `{"strategyId": "threshold", "params": {"symbol": "EUR/USD"}}`
	if resp, body := env.do(t, "POST", "/api/v1/backtest/run", "application/json", run); resp.StatusCode != http.StatusOK {
		t.Fatalf("Run failed with %d: %v", resp.StatusCode, body)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	progress := 0
	for {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}

		switch msg.Type {
		case api.MsgTypeProgress:
			progress++
		case api.MsgTypeComplete:
			var event api.CompletionEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				t.Fatalf("Failed to decode completion: %v", err)
			}
			if event.StrategyID != "threshold" || event.Metrics.TotalTrades != 2 {
				t.Errorf("Unexpected completion event: %+v", event)
			}
			if progress != 3 {
				t.Errorf("Expected 3 progress events before completion, got %d", progress)
			}
			return
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := api.NewRateLimiter(1, 2)

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("Expected the burst to be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("Expected the third immediate request to be limited")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("Expected other clients to have their own bucket")
	}

	rl.Prune(0)
	if !rl.Allow("10.0.0.1") {
		t.Error("Expected a pruned client to start with a fresh bucket")
	}
}

func TestClearCandleCache(t *testing.T) {
	env := setupTestServer(t)
	env.seed(t)

	_, body := env.do(t, "GET", "/api/v1/health", "", "")
	if body["cachedSeries"] != float64(1) {
		t.Fatalf("Expected 1 cached series after import, got %v", body["cachedSeries"])
	}

	resp, body := env.do(t, "DELETE", "/api/v1/data/cache", "", "")
	if resp.StatusCode != http.StatusOK || body["cleared"] != float64(1) {
		t.Fatalf("Unexpected clear response %d: %v", resp.StatusCode, body)
	}

	_, body = env.do(t, "GET", "/api/v1/health", "", "")
	if body["cachedSeries"] != float64(0) {
		t.Errorf("Expected empty cache, got %v", body["cachedSeries"])
	}

	// the series is still served from disk
	resp, _ = env.do(t, "GET", "/api/v1/data/EUR%2FUSD/candles", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after clearing the cache, got %d", resp.StatusCode)
	}
}

func TestRunWithInlineStrategy(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, "POST", "/api/v1/data/EUR%2FUSD/import", "application/json", thresholdCandlesJSON)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Import failed with %d: %v", resp.StatusCode, body)
	}

	// same body POST /strategies accepts, without isMain on the main indicator
	run := `{"strategy": ` + thresholdStrategyJSON + `, "params": {"symbol": "EUR/USD"}}`
	resp, body = env.do(t, "POST", "/api/v1/backtest/run", "application/json", run)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	trades, _ := body["trades"].([]interface{})
	if len(trades) != 2 {
		t.Errorf("Expected 2 trades, got %d", len(trades))
	}
}

func TestWebSocketFirstPingAnswered(t *testing.T) {
	env := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	for i := 0; i < 20; i++ {
		// ping straight after the handshake, without waiting for the hub
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("WebSocket connection failed: %v", err)
		}
		id := "ping-" + strconv.Itoa(i)
		if err := conn.WriteJSON(api.WSMessage{Type: api.MsgTypePing, ID: id}); err != nil {
			t.Fatalf("Failed to send ping: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var response api.WSMessage
		if err := conn.ReadJSON(&response); err != nil {
			t.Fatalf("Connection %d: no pong for the first ping: %v", i, err)
		}
		if response.Type != api.MsgTypePong || response.ID != id {
			t.Errorf("Connection %d: expected pong for %s, got %+v", i, id, response)
		}
		conn.Close()
	}
}
