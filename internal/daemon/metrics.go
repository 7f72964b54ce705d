package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds operational metrics for the convergence loop
type DaemonMetrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	objects       metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	meter := otel.Meter("github.com/yairfalse/nexconv/daemon")

	cycles, err := meter.Int64Counter(
		"nexconv.daemon.cycles",
		metric.WithDescription("Number of convergence cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"nexconv.daemon.cycle.duration",
		metric.WithDescription("Duration of convergence cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	objects, err := meter.Int64Gauge(
		"nexconv.daemon.objects",
		metric.WithDescription("Objects per outcome in the last cycle"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		cycles:        cycles,
		cycleDuration: cycleDuration,
		objects:       objects,
	}, nil
}

// RecordCycle records one finished cycle and its per-outcome counts
func (m *DaemonMetrics) RecordCycle(ctx context.Context, status string, d time.Duration, changed, unchanged, failed int) {
	statusAttr := metric.WithAttributes(attribute.String("status", status))
	m.cycles.Add(ctx, 1, statusAttr)
	m.cycleDuration.Record(ctx, d.Seconds(), statusAttr)

	m.objects.Record(ctx, int64(changed), metric.WithAttributes(attribute.String("outcome", "changed")))
	m.objects.Record(ctx, int64(unchanged), metric.WithAttributes(attribute.String("outcome", "unchanged")))
	m.objects.Record(ctx, int64(failed), metric.WithAttributes(attribute.String("outcome", "error")))
}
