package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nexconv/types"
)

// RecordDecisionEvent adds the decision taken for one object to span
func RecordDecisionEvent(span trace.Span, resource string, d types.Decision) {
	if span == nil {
		return
	}

	span.AddEvent("nexconv.decision.made", trace.WithAttributes(
		attribute.String("event.type", "nexconv.decision.made"),
		attribute.String("decision.action", string(d.Action)),
		attribute.String("resource.id", resource),
		attribute.String("resource.kind", d.Kind),
		attribute.StringSlice("decision.changes", types.Fields(d.Changes)),
		attribute.String("reason", d.Reason),
	))
}

// RecordMutationEvent adds an executed upsert or delete to span
func RecordMutationEvent(
	span trace.Span,
	script string,
	resource string,
	kind string,
	action types.Action,
	errorMsg string,
) {
	if span == nil {
		return
	}

	status := "success"
	if errorMsg != "" {
		status = "failed"
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "nexconv.mutation.executed"),
		attribute.String("script", script),
		attribute.String("resource.id", resource),
		attribute.String("resource.kind", kind),
		attribute.String("decision.action", string(action)),
		attribute.String("status", status),
	}

	if errorMsg != "" {
		attrs = append(attrs, attribute.String("error", errorMsg))
	}

	span.AddEvent("nexconv.mutation.executed", trace.WithAttributes(attrs...))
}

// RecordPolicyDeniedEvent adds a policy denial to span
func RecordPolicyDeniedEvent(span trace.Span, resource string, kind string, action types.Action, reasons []string) {
	if span == nil {
		return
	}

	span.AddEvent("nexconv.policy.denied", trace.WithAttributes(
		attribute.String("event.type", "nexconv.policy.denied"),
		attribute.String("resource.id", resource),
		attribute.String("resource.kind", kind),
		attribute.String("decision.action", string(action)),
		attribute.StringSlice("reasons", reasons),
	))
}
