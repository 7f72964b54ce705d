package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nexconv/types"
)

func recordOne(t *testing.T, record func(span trace.Span)) sdktrace.Event {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exporter),
	)
	ctx, span := provider.Tracer("test").Start(context.Background(), "test")

	record(span)

	span.End()
	_ = provider.ForceFlush(ctx)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if len(spans[0].Events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(spans[0].Events))
	}
	return spans[0].Events[0]
}

func attrValue(event sdktrace.Event, key string) (attribute.Value, bool) {
	for _, attr := range event.Attributes {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRecordDecisionEvent(t *testing.T) {
	decision := types.Decision{
		Action: types.ActionUpdate,
		Kind:   "repository",
		Reason: "repository releases drifted",
		Changes: []types.Change{
			{Field: "online", Previous: true, Desired: false},
		},
	}

	event := recordOne(t, func(span trace.Span) {
		RecordDecisionEvent(span, "releases@http://nexus:8081/service/rest", decision)
	})

	if event.Name != "nexconv.decision.made" {
		t.Errorf("Expected event name 'nexconv.decision.made', got '%s'", event.Name)
	}

	expected := map[string]string{
		"decision.action": "update",
		"resource.id":     "releases@http://nexus:8081/service/rest",
		"resource.kind":   "repository",
		"reason":          "repository releases drifted",
	}
	for key, want := range expected {
		got, ok := attrValue(event, key)
		if !ok {
			t.Errorf("Missing attribute: %s", key)
			continue
		}
		if got.AsString() != want {
			t.Errorf("Attribute %s: expected '%s', got '%s'", key, want, got.AsString())
		}
	}

	changes, ok := attrValue(event, "decision.changes")
	if !ok || len(changes.AsStringSlice()) != 1 || changes.AsStringSlice()[0] != "online" {
		t.Errorf("Expected decision.changes [online], got %v", changes.AsStringSlice())
	}
}

func TestRecordMutationEvent(t *testing.T) {
	tests := []struct {
		name       string
		errorMsg   string
		wantStatus string
		wantError  bool
	}{
		{name: "success", wantStatus: "success"},
		{name: "failure", errorMsg: "task cleanup is running", wantStatus: "failed", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := recordOne(t, func(span trace.Span) {
				RecordMutationEvent(span, "delete_task_v1", "cleanup@http://nexus", "task", types.ActionDelete, tt.errorMsg)
			})

			status, _ := attrValue(event, "status")
			if status.AsString() != tt.wantStatus {
				t.Errorf("Expected status '%s', got '%s'", tt.wantStatus, status.AsString())
			}
			_, hasError := attrValue(event, "error")
			if hasError != tt.wantError {
				t.Errorf("Expected error attribute present=%v", tt.wantError)
			}
			script, _ := attrValue(event, "script")
			if script.AsString() != "delete_task_v1" {
				t.Errorf("Expected script 'delete_task_v1', got '%s'", script.AsString())
			}
		})
	}
}

func TestRecordPolicyDeniedEvent(t *testing.T) {
	event := recordOne(t, func(span trace.Span) {
		RecordPolicyDeniedEvent(span, "releases@http://nexus", "repository", types.ActionDelete,
			[]string{"releases is protected"})
	})

	if event.Name != "nexconv.policy.denied" {
		t.Errorf("Expected event name 'nexconv.policy.denied', got '%s'", event.Name)
	}
	reasons, _ := attrValue(event, "reasons")
	if len(reasons.AsStringSlice()) != 1 {
		t.Errorf("Expected 1 reason, got %v", reasons.AsStringSlice())
	}
}

func TestEventsWithNilSpan(t *testing.T) {
	RecordDecisionEvent(nil, "x", types.Decision{})
	RecordMutationEvent(nil, "s", "x", "task", types.ActionCreate, "")
	RecordPolicyDeniedEvent(nil, "x", "task", types.ActionDelete, nil)
}
