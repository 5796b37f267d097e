package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `campus_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `campus_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics()

	metrics.PermissionDenied("coefficients", "create|edit|delete")
	metrics.CheckInRecorded("late")
	metrics.CheckInRecorded("late")
	metrics.Jobs().Track("attendance:summary").End(errors.New("boom"))
	metrics.Jobs().AddItems("maintenance:idempotency_cleanup", 3)

	body := scrape(t, metrics)
	assert.Contains(t, body, `campus_permission_denials_total{action="create|edit|delete",resource="coefficients"} 1`)
	assert.Contains(t, body, `campus_checkins_total{status="late"} 2`)
	assert.Contains(t, body, `campus_jobs_total{job="attendance:summary",status="failure"} 1`)
	assert.Contains(t, body, `campus_jobs_failures_total{job="attendance:summary"} 1`)
	assert.Contains(t, body, `campus_job_items_total{job="maintenance:idempotency_cleanup"} 3`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.PermissionDenied("users", "view")
	metrics.CheckInRecorded("on_time")
	assert.Nil(t, metrics.Jobs())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	rr := httptest.NewRecorder()
	metrics.Middleware(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
