// Package metrics exposes Prometheus metrics for backtest runs and the API.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the backtester.
type Metrics struct {
	registry *prometheus.Registry

	BacktestsTotal   *prometheus.CounterVec // labels: status=completed|failed
	BacktestDuration prometheus.Histogram
	TradesTotal      prometheus.Counter
	CandlesProcessed prometheus.Counter
	ConfigErrors     prometheus.Counter

	ImportsTotal *prometheus.CounterVec // labels: status=ok|invalid

	HTTPRequests *prometheus.CounterVec // labels: route, code
	HTTPDuration *prometheus.HistogramVec
	WSClients    prometheus.Gauge
}

// New creates the metrics on a private registry, plus the Go runtime collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BacktestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_runs_total",
			Help: "Backtest runs by outcome",
		}, []string{"status"}),
		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtester_run_duration_seconds",
			Help:    "Wall time of completed backtest runs",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtester_trades_total",
			Help: "Trades produced by completed runs",
		}),
		CandlesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtester_candles_processed_total",
			Help: "Candles processed by completed runs",
		}),
		ConfigErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtester_configuration_errors_total",
			Help: "Runs rejected for invalid strategy or parameters",
		}),
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_candle_imports_total",
			Help: "Candle imports by outcome",
		}, []string{"status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backtester_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtester_websocket_clients",
			Help: "Connected websocket clients",
		}),
	}

	m.registry.MustRegister(
		m.BacktestsTotal,
		m.BacktestDuration,
		m.TradesTotal,
		m.CandlesProcessed,
		m.ConfigErrors,
		m.ImportsTotal,
		m.HTTPRequests,
		m.HTTPDuration,
		m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BacktestCompleted records a finished run
func (m *Metrics) BacktestCompleted(result *types.BacktestResult) {
	m.BacktestsTotal.WithLabelValues("completed").Inc()
	m.BacktestDuration.Observe(result.Duration.Seconds())
	m.TradesTotal.Add(float64(len(result.Trades)))
	m.CandlesProcessed.Add(float64(result.CandlesProcessed))
}

// BacktestFailed records a failed run
func (m *Metrics) BacktestFailed(err error) {
	m.BacktestsTotal.WithLabelValues("failed").Inc()

	var cfgErr *types.ConfigurationError
	if errors.As(err, &cfgErr) {
		m.ConfigErrors.Inc()
	}
}

// ImportRecorded records a candle import
func (m *Metrics) ImportRecorded(err error) {
	status := "ok"
	if err != nil {
		status = "invalid"
	}
	m.ImportsTotal.WithLabelValues(status).Inc()
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
