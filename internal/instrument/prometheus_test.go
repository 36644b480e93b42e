package instrument

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Delivered("visible")
	m.Delivered("visible")
	m.Delivered("quarantined")
	m.Rejected("rate_limited")
	m.ModerationProcessed(3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.delivered.WithLabelValues("visible")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.delivered.WithLabelValues("quarantined")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("rate_limited")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.moderationProcessed))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveHTTP("/v1/messages", "200", 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `bruh_http_request_duration_seconds_count{code="200",route="/v1/messages"} 1`))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Delivered("visible")
	m.Rejected("x")
	m.ModerationProcessed(1)
	m.ObserveHTTP("r", "200", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
