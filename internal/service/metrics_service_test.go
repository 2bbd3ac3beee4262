package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsServiceCountsBillingActivity(t *testing.T) {
	m := NewMetricsService()

	m.RecordInvoiceCreated("reservation")
	m.RecordInvoiceCreated("reservation")
	m.RecordInvoiceCreated("course")
	m.RecordLedgerEntry("payment")
	m.RecordCapacityRejection()
	m.RecordSweep("invoices", 3)
	m.RecordSweep("invoices", 0)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.invoicesCreated.WithLabelValues("reservation")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.invoicesCreated.WithLabelValues("course")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ledgerEntries.WithLabelValues("payment")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.capacityRejections))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.sweepRecords.WithLabelValues("invoices")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
}

func TestMetricsServiceHandlerExposesRegistry(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/invoices", http.StatusCreated, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
	assert.True(t, strings.Contains(rec.Body.String(), "goroutines_total"))
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RecordInvoiceCreated("course")
		m.RecordLedgerEntry("discount")
		m.RecordCapacityRejection()
		m.RecordSweep("requests", 1)
		m.RecordNotificationDropped()
		m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
