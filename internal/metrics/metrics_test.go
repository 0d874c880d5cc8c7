package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveGeneration("Success", "aiva-gpt4", 10, time.Second)
	m.ObserveRequest("/health", 200, time.Millisecond)
	m.ObserveRemoved(3)
}

func TestObserveGeneration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveGeneration("Success", "aiva-gpt4", 1200, 2*time.Second)
	m.ObserveGeneration("LengthError", "aiva-gpt4", 200000, time.Millisecond)
	m.ObserveGeneration("Success", "aiva-gpt4", 900, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.generations.WithLabelValues("Success", "aiva-gpt4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("LengthError", "aiva-gpt4")))
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveRequest("/health", http.StatusOK, time.Millisecond)
	m.ObserveRemoved(2)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `discharge_docs_http_requests_total{route="/health",status="200"} 1`), body)
	assert.Contains(t, body, "discharge_docs_ledger_letters_removed_total 2")
}
