package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleCount returns how many observations the named histogram holds.
func sampleCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total uint64
		for _, metric := range mf.GetMetric() {
			total += metric.GetHistogram().GetSampleCount()
		}
		return total
	}
	return 0
}

func TestRecordCompile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCompile("chunk", 1100, nil)
	m.RecordCompile("chunk", 0, errors.New("too big"))
	m.RecordCompile("anchor", 800, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsCompiledTotal.WithLabelValues("chunk", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsCompiledTotal.WithLabelValues("chunk", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsCompiledTotal.WithLabelValues("anchor", "success")))

	// failed compiles have no size to observe
	assert.Equal(t, uint64(2), sampleCount(t, reg, "transaction_size_bytes"))
}

func TestRecordBundleSubmission(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	endpoint := "https://amsterdam.mainnet.block-engine.jito.wtf/api/v1/bundles"

	m.RecordBundleSubmission(endpoint, "accepted", 4, 0.2)
	m.RecordBundleSubmission(endpoint, "rejected", 4, 0.1)
	m.RecordBundleSubmission(endpoint, "unreachable", 4, 5)
	m.RecordAnchorConfirmation("confirmed")
	m.RecordAnchorConfirmation("unconfirmed")
	m.RecordAnchorConfirmation("unconfirmed")

	for _, status := range []string{"accepted", "rejected", "unreachable"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.bundleSubmissionsTotal.WithLabelValues(endpoint, status)), status)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.anchorConfirmationsTotal.WithLabelValues("confirmed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.anchorConfirmationsTotal.WithLabelValues("unconfirmed")))
	assert.Equal(t, uint64(3), sampleCount(t, reg, "bundle_transactions"))
	assert.Equal(t, uint64(3), sampleCount(t, reg, "bundle_submission_duration_seconds"))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/receipts")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/receipts/x", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/receipts", "GET", "4xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
