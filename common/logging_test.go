package common

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogger(&LoggingOpts{JSON: true, Service: "egide-test", Version: "v1.2.3", Output: &buf})

	log.Debug("hidden")
	log.Info("hello", "key", "value")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "egide-test", rec["service"])
	assert.Equal(t, "v1.2.3", rec["version"])
	assert.Equal(t, "value", rec["key"])
	assert.NotContains(t, rec, "trace")
}

func TestSetupLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogger(&LoggingOpts{Debug: true, Output: &buf})
	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestTraceHandler_AddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogger(&LoggingOpts{JSON: true, Output: &buf})

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	log.InfoContext(ctx, "traced")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["spanId"])
}

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), &TracingOpts{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
