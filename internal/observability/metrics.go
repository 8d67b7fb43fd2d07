package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceName prefixes metrics and names the tracer and logger.
const ServiceName = "browsetrace_collector"

// Metrics holds the collector's Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingestion metrics
	RecordsIngestedTotal *prometheus.CounterVec
	IngestFailuresTotal  *prometheus.CounterVec
	HeatmapClicksTotal   prometheus.Counter

	// Aggregation metrics
	AnalyticsComputeDuration prometheus.Histogram
	AnalyticsRecordsScanned  prometheus.Histogram

	// Storage
	StorageReady prometheus.Gauge
}

// NewMetrics creates the metrics and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ServiceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    ServiceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RecordsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ServiceName + "_records_ingested_total",
				Help: "Records durably appended, by collection",
			},
			[]string{"collection"},
		),
		IngestFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ServiceName + "_ingest_failures_total",
				Help: "Ingestion calls that did not store their record, by collection and reason",
			},
			[]string{"collection", "reason"},
		),
		HeatmapClicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: ServiceName + "_heatmap_clicks_total",
				Help: "Click observations received in heatmap batches",
			},
		),
		AnalyticsComputeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    ServiceName + "_analytics_compute_duration_seconds",
				Help:    "Time to read and aggregate the events collection",
				Buckets: prometheus.DefBuckets,
			},
		),
		AnalyticsRecordsScanned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    ServiceName + "_analytics_records_scanned",
				Help:    "Events read per analytics computation",
				Buckets: prometheus.ExponentialBuckets(10, 10, 7),
			},
		),
		StorageReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: ServiceName + "_storage_ready",
				Help: "1 once the storage backend is open",
			},
		),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RecordsIngestedTotal,
		m.IngestFailuresTotal,
		m.HeatmapClicksTotal,
		m.AnalyticsComputeDuration,
		m.AnalyticsRecordsScanned,
		m.StorageReady,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordIngest(collection string) {
	if m == nil {
		return
	}
	m.RecordsIngestedTotal.WithLabelValues(collection).Inc()
}

func (m *Metrics) RecordIngestFailure(collection, reason string) {
	if m == nil {
		return
	}
	m.IngestFailuresTotal.WithLabelValues(collection, reason).Inc()
}

func (m *Metrics) RecordHeatmapClicks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.HeatmapClicksTotal.Add(float64(n))
}

func (m *Metrics) ObserveAnalytics(records int, duration time.Duration) {
	if m == nil {
		return
	}
	m.AnalyticsComputeDuration.Observe(duration.Seconds())
	m.AnalyticsRecordsScanned.Observe(float64(records))
}

func (m *Metrics) SetStorageReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.StorageReady.Set(1)
	} else {
		m.StorageReady.Set(0)
	}
}
