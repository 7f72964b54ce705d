package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nexconv/scripts"
	"github.com/yairfalse/nexconv/telemetry"
	"github.com/yairfalse/nexconv/types"
)

// Engine turns a decision into exactly one script call.
type Engine struct {
	logger *telemetry.Logger
}

// NewEngine creates a new executor engine
func NewEngine(logger *telemetry.Logger) *Engine {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Engine{logger: logger}
}

// Execute runs the upsert or delete script for decision. Noop decisions
// are skipped without touching the server.
func (e *Engine) Execute(ctx context.Context, runner ScriptRunner, target Target, id types.Identity, decision types.Decision) (*SingleExecutionResult, error) {
	result := &SingleExecutionResult{
		Decision:  decision,
		StartTime: time.Now(),
	}

	if err := decision.Validate(); err != nil {
		return e.fail(result, types.NewError(types.KindValidation, target.Name(), "invalid decision", err))
	}
	if !decision.IsMutating() {
		result.Status = StatusSkipped
		return e.finish(result), nil
	}

	def, payload, err := mutation(target, id, decision)
	if err != nil {
		return e.fail(result, err)
	}
	result.Script = def.Name()

	ctx, span := telemetry.Tracer.Start(ctx, "executor.execute",
		trace.WithAttributes(
			attribute.String("nexconv.kind", target.Name()),
			attribute.String("nexconv.action", string(decision.Action)),
			attribute.String("nexconv.script", def.Name()),
		))
	defer span.End()

	out, err := runner.Run(ctx, def, payload)
	result.Output = out.Raw
	if err == nil {
		err = target.CheckMutation(id, out)
	}
	if err != nil {
		span.RecordError(err)
		telemetry.RecordMutationEvent(span, def.Name(), id.String(), target.Name(), decision.Action, err.Error())
		return e.fail(result, err)
	}
	telemetry.RecordMutationEvent(span, def.Name(), id.String(), target.Name(), decision.Action, "")

	result.Status = StatusSuccess
	e.logger.WithContext(ctx).Info().
		Str("kind", target.Name()).
		Str("resource", id.String()).
		Str("action", string(decision.Action)).
		Str("script", def.Name()).
		Msg("mutation applied")
	return e.finish(result), nil
}

func mutation(target Target, id types.Identity, decision types.Decision) (scripts.Definition, any, error) {
	switch decision.Action {
	case types.ActionCreate, types.ActionUpdate:
		return target.UpsertScript(), target.UpsertArgs(id, decision.Desired), nil
	case types.ActionDelete:
		return target.DeleteScript(), target.DeleteArgs(id), nil
	default:
		return scripts.Definition{}, nil, fmt.Errorf("unknown action: %s", decision.Action)
	}
}

func (e *Engine) finish(result *SingleExecutionResult) *SingleExecutionResult {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	return result
}

func (e *Engine) fail(result *SingleExecutionResult, err error) (*SingleExecutionResult, error) {
	result.Status = StatusFailed
	result.Error = err.Error()
	return e.finish(result), err
}
