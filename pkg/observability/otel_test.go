package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestInitOTel_Disabled(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), nil, logger))
}

func TestStartSpan(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartSpan(context.Background(), "federation.verify")
	EndSpan(span, errors.New("jwt_invalid"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "federation.verify", ended[0].Name())
	assert.Equal(t, "jwt_invalid", ended[0].Status().Description)
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	withRecorder(t)

	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	// Without a span the logger is unchanged
	assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()

	UpdateLoggerWithTraceContext(ctx, logger).Info("traced")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry.Fields["trace_id"])
}

func TestInstrumentedClientAndHandler(t *testing.T) {
	recorder := withRecorder(t)

	server := httptest.NewServer(InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), "probe"))
	defer server.Close()

	resp, err := InstrumentedClient(time.Second).Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Eventually(t, func() bool { return len(recorder.Ended()) >= 2 }, time.Second, 10*time.Millisecond)
}
