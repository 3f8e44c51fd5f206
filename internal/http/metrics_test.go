package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/agentloop/internal/logging"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logging.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/checkpoints/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "checkpoint not found")
	})

	for _, target := range []string{"/health", "/api/v1/checkpoints/a", "/api/v1/checkpoints/b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byName := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, mm := range sm.Metrics {
			byName[mm.Name] = mm
		}
	}

	requests, ok := byName["agentloop.http.requests_total"]
	require.True(t, ok, "requests counter not found")
	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	// Both checkpoint lookups share the route template and the final 404.
	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[endpoint.AsString()+" "+status.Emit()] += dp.Value
	}
	assert.Equal(t, map[string]int64{
		"/health 200":                 1,
		"/api/v1/checkpoints/:id 404": 2,
	}, counts)

	dur, ok := byName["agentloop.http.request_duration_seconds"]
	require.True(t, ok, "duration histogram not found")
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	assert.Equal(t, uint64(3), total)

	assert.Contains(t, byName, "agentloop.http.response_size_bytes")
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/checkpoints/:id", "/api/v1/checkpoints/:id"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
