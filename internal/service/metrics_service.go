package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache and billing activity.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	cacheLatency       prometheus.Observer
	cacheWrite         prometheus.Observer
	cacheLookups       *prometheus.CounterVec
	invoicesCreated    *prometheus.CounterVec
	ledgerEntries      *prometheus.CounterVec
	capacityRejections prometheus.Counter
	sweepRecords       *prometheus.CounterVec
	notificationsDrop  prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	invoicesCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_invoices_created_total",
		Help: "Invoices issued by type",
	}, []string{"type"})

	ledgerEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_ledger_entries_total",
		Help: "Payments and discounts applied to invoices",
	}, []string{"kind"})

	capacityRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_capacity_rejections_total",
		Help: "Approvals refused because the teacher had no free slot",
	})

	sweepRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_sweep_records_total",
		Help: "Records transitioned by periodic sweeps",
	}, []string{"sweep"})

	notificationsDrop := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Notifications that could not be queued",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		invoicesCreated, ledgerEntries, capacityRejections, sweepRecords, notificationsDrop, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheLookups:       cacheLookups,
		invoicesCreated:    invoicesCreated,
		ledgerEntries:      ledgerEntries,
		capacityRejections: capacityRejections,
		sweepRecords:       sweepRecords,
		notificationsDrop:  notificationsDrop,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup outcome.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordInvoiceCreated counts an issued invoice.
func (m *MetricsService) RecordInvoiceCreated(invoiceType string) {
	if m == nil {
		return
	}
	m.invoicesCreated.WithLabelValues(invoiceType).Inc()
}

// RecordLedgerEntry counts ledger entries by kind.
func (m *MetricsService) RecordLedgerEntry(kind string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(kind).Inc()
}

// RecordCapacityRejection counts refused approvals.
func (m *MetricsService) RecordCapacityRejection() {
	if m == nil {
		return
	}
	m.capacityRejections.Inc()
}

// RecordSweep adds the number of records a sweep transitioned.
func (m *MetricsService) RecordSweep(sweep string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.sweepRecords.WithLabelValues(sweep).Add(float64(count))
}

// RecordNotificationDropped counts events lost because the queue was unavailable.
func (m *MetricsService) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDrop.Inc()
}
