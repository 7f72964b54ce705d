package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are created against the global meter, which forwards to
// the provider InitOTEL installs. Without InitOTEL they are no-ops.
var (
	ConvergeRuns     metric.Int64Counter
	ConvergeDuration metric.Float64Histogram
	ScriptCalls      metric.Int64Counter
	ScriptsInstalled metric.Int64Counter
)

func init() {
	if err := initMetrics(otel.Meter(instrumentationName)); err != nil {
		panic(err)
	}
}

func initMetrics(meter metric.Meter) error {
	var err error

	ConvergeRuns, err = meter.Int64Counter("nexconv.converge.runs",
		metric.WithDescription("Convergence runs by kind, action and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	ConvergeDuration, err = meter.Float64Histogram("nexconv.converge.duration",
		metric.WithDescription("Duration of one convergence run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	ScriptCalls, err = meter.Int64Counter("nexconv.script.calls",
		metric.WithDescription("Calls to the scripting endpoint by script and status"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	ScriptsInstalled, err = meter.Int64Counter("nexconv.script.installed",
		metric.WithDescription("Scripts registered on a server because they were missing"),
		metric.WithUnit("{script}"),
	)
	return err
}

// RecordConvergence records one finished convergence run.
func RecordConvergence(ctx context.Context, kind, action, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	)
	ConvergeRuns.Add(ctx, 1, attrs)
	ConvergeDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordScriptCall records one HTTP call to the scripting endpoint.
func RecordScriptCall(ctx context.Context, script, phase, status string) {
	ScriptCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("script", script),
		attribute.String("phase", phase),
		attribute.String("status", status),
	))
}

// RecordScriptInstalled records a script registered on a server.
func RecordScriptInstalled(ctx context.Context, script string) {
	ScriptsInstalled.Add(ctx, 1, metric.WithAttributes(attribute.String("script", script)))
}
