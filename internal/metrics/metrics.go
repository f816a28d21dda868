// Package metrics holds the Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicecollect"

// Metrics groups the service collectors
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal       *prometheus.CounterVec
	ingestStage       *prometheus.HistogramVec
	storageAttempts   *prometheus.CounterVec
	tokenRefreshTotal *prometheus.CounterVec
}

// New registers all collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ingestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_total",
				Help:      "Recording submissions by terminal outcome",
			},
			[]string{"outcome"},
		),

		ingestStage: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_stage_seconds",
				Help:      "Duration of each ingestion stage in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		storageAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_attempts_total",
				Help:      "Storage provider attempts by operation and result",
			},
			[]string{"op", "result"},
		),

		tokenRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Access token refresh exchanges by result",
			},
			[]string{"result"},
		),
	}
}

// IngestOutcome counts one finished submission. outcome is "success" or an
// error kind.
func (m *Metrics) IngestOutcome(outcome string) {
	m.ingestTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.ingestStage.WithLabelValues(stage).Observe(d.Seconds())
}

// StorageAttempt matches storage.WithObserver
func (m *Metrics) StorageAttempt(op, result string) {
	m.storageAttempts.WithLabelValues(op, result).Inc()
}

// TokenRefresh matches auth.WithObserver
func (m *Metrics) TokenRefresh(result string) {
	m.tokenRefreshTotal.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
