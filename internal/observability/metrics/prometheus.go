// Package metrics provides Prometheus metrics for the validation services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/validrx/validrx/internal/domain/clinical"
)

// Metrics holds all application metrics
type Metrics struct {
	ChecksTotal           *prometheus.CounterVec
	CheckErrors           *prometheus.CounterVec
	AlertsTotal           *prometheus.CounterVec
	CheckDuration         *prometheus.HistogramVec
	SnapshotLoadDuration  prometheus.Histogram
	CatalogWrites         *prometheus.CounterVec
	HTTPRequests          *prometheus.CounterVec
	HTTPDuration          *prometheus.HistogramVec
	RateLimited           *prometheus.CounterVec
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	OutboxDeadLettered    prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validrx_item_checks_total",
			Help: "Prescription items checked, by resulting status",
		}, []string{"status"}),
		CheckErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validrx_check_errors_total",
			Help: "Clinical checks that failed before producing results",
		}, []string{"reason"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validrx_alerts_total",
			Help: "Alerts raised, by code and severity",
		}, []string{"code", "severity"}),
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "validrx_check_duration_seconds",
			Help:    "Clinical check duration including the catalog load",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"transport"}),
		SnapshotLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "validrx_snapshot_load_duration_seconds",
			Help:    "Catalog snapshot load duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		CatalogWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validrx_catalog_writes_total",
			Help: "Catalog admin writes, by operation",
		}, []string{"operation"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validrx_http_requests_total",
			Help: "HTTP requests, by method, route and status code",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "validrx_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validrx_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"client"}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validrx_kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validrx_kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "validrx_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		OutboxDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validrx_outbox_dead_lettered_total",
			Help: "Outbox entries moved to the dead letter topic",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "validrx_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.ChecksTotal,
		m.CheckErrors,
		m.AlertsTotal,
		m.CheckDuration,
		m.SnapshotLoadDuration,
		m.CatalogWrites,
		m.HTTPRequests,
		m.HTTPDuration,
		m.RateLimited,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.OutboxDeadLettered,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveItem records the status and alerts of one checked item
func (m *Metrics) ObserveItem(status clinical.Status, alerts []clinical.Alert) {
	m.ChecksTotal.WithLabelValues(string(status)).Inc()
	for _, a := range alerts {
		m.AlertsTotal.WithLabelValues(string(a.Code), string(a.Severity)).Inc()
	}
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus HTTP handler for the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
