package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yairfalse/nexconv/types"
)

func TestOTELHook_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "test")

	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	ctx, span := provider.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()

	logger.WithContext(ctx).Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestOTELHook_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "test")

	logger.WithContext(context.Background()).Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace_id")
}

func TestLogger_LogDecision(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "test")

	logger.LogDecision(context.Background(), types.Decision{
		Action:     types.ActionUpdate,
		Kind:       "repository",
		ResourceID: "releases@http://nexus",
		Reason:     "attributes drifted",
		Changes:    []types.Change{{Field: "online"}},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "update", entry["action"])
	assert.Equal(t, "repository", entry["kind"])
	assert.Equal(t, []any{"online"}, entry["changes"])
	assert.Equal(t, "attributes drifted", entry["message"])
}

func TestLogger_LogScriptCallError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "test")

	logger.LogScriptCall(context.Background(), "get_repo_v1", "run",
		types.NewError(types.KindAuth, "get_repo_v1", "401", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "auth", entry["error_kind"])
}

func TestNop_DiscardsOutput(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().LogConvergeError(context.Background(), "task", "cleanup", errors.New("boom"))
	})
}

func TestRecordConvergence_ExportsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	require.NoError(t, initMetrics(provider.Meter("test")))
	t.Cleanup(func() { _ = initMetrics(otel.Meter(instrumentationName)) })

	ctx := context.Background()
	RecordConvergence(ctx, "repository", "create", "changed", 50*time.Millisecond)
	RecordScriptCall(ctx, "get_repo_v1", "run", "ok")
	RecordScriptInstalled(ctx, "get_repo_v1")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["nexconv.converge.runs"])
	assert.True(t, names["nexconv.converge.duration"])
	assert.True(t, names["nexconv.script.calls"])
	assert.True(t, names["nexconv.script.installed"])
}

func TestInitOTEL_PrometheusOnly(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitOTEL(ctx, Config{ServiceName: "nexconv-test"})
	require.NoError(t, err)
	require.NotNil(t, PrometheusRegistry)

	RecordScriptCall(ctx, "get_task_v1", "run", "ok")

	families, err := PrometheusRegistry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	require.NoError(t, shutdown(ctx))
}
