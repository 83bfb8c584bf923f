// Package metrics exposes pgdesk's Prometheus collectors.
//
// Collectors live on a private registry rather than the global default so
// tests and multiple instances do not collide. All recording methods are
// safe on a nil *Metrics, which disables collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/pgdesk/internal/terminal"
)

const namespace = "pgdesk"

// Terminal byte directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	queries         *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	queryRows       prometheus.Histogram
	terminalBytes   *prometheus.CounterVec
	terminalResizes prometheus.Counter
}

// New creates and registers the collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Statements executed, by outcome.",
			},
			[]string{"outcome"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Statement round-trip time including connect.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		queryRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_rows",
			Help:      "Rows returned per successful statement.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		terminalBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_bytes_total",
				Help:      "Bytes written to or read from the terminal.",
			},
			[]string{"direction"},
		),
		terminalResizes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_resizes_total",
			Help:      "Successful terminal resizes.",
		}),
	}

	m.registry.MustRegister(
		m.queries,
		m.queryDuration,
		m.queryRows,
		m.terminalBytes,
		m.terminalResizes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveQuery records one statement.
func (m *Metrics) ObserveQuery(outcome string, d time.Duration, rows int) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if rows >= 0 {
		m.queryRows.Observe(float64(rows))
	}
}

// AddTerminalBytes counts n bytes in the given direction.
func (m *Metrics) AddTerminalBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.terminalBytes.WithLabelValues(direction).Add(float64(n))
}

// IncResize counts a successful resize.
func (m *Metrics) IncResize() {
	if m == nil {
		return
	}
	m.terminalResizes.Inc()
}

// Emit counts terminal output. It lets Metrics sit in a
// terminal.MultiEmitter next to the real listeners.
func (m *Metrics) Emit(event string, payload []byte) {
	if event == terminal.EventData {
		m.AddTerminalBytes(DirectionOut, len(payload))
	}
}

// RegisterGauge adds a gauge whose value is read from fn at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		fn,
	))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
