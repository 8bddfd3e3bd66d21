package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracerDefaultsToGlobal(t *testing.T) {
	require.NotNil(t, Tracer(nil))
}

func TestMiddlewareRecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	SetupGlobal(tp)
	t.Cleanup(func() { SetupGlobal(sdktrace.NewTracerProvider()) })

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/health", spans[0].Name)

	var sawStatus bool
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "http.response.status_code" {
			sawStatus = true
			assert.EqualValues(t, http.StatusTeapot, attr.Value.AsInt64())
		}
	}
	assert.True(t, sawStatus)
}
