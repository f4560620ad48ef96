package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsHandlerRecordsRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(registry)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/42", nil))
	require.Equal(t, http.StatusCreated, rr.Code)

	labels := prometheus.Labels{"method": http.MethodGet, "route": "/users/{id}", "status": "201"}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.With(labels)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InFlight))
	assert.NotZero(t, testutil.CollectAndCount(m.Duration))
}

func TestHTTPMetricsHandlerDefaultsStatusToOK(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(registry)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	labels := prometheus.Labels{"method": http.MethodGet, "route": "/ping", "status": "200"}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.With(labels)))
}

func TestHTTPMetricsNilPassesThrough(t *testing.T) {
	var m *HTTPMetrics
	called := false
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewHTTPMetrics(registry)
	require.NoError(t, err)
	second, err := NewHTTPMetrics(registry)
	require.NoError(t, err)

	assert.Same(t, first.Requests, second.Requests)
}

func TestAuthEventsInc(t *testing.T) {
	registry := prometheus.NewRegistry()
	events, err := NewAuthEvents(registry)
	require.NoError(t, err)

	events.Inc("login_failed")
	events.Inc("login_failed")
	events.Inc("logout")

	assert.Equal(t, float64(2), testutil.ToFloat64(events.Counter().WithLabelValues("login_failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(events.Counter().WithLabelValues("logout")))

	var nilEvents *AuthEvents
	assert.NotPanics(t, func() { nilEvents.Inc("logout") })
}
