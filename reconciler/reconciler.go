// Package reconciler converges one managed object at a time: a single
// get, a decision, and at most one mutating script call.
package reconciler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nexconv/executor"
	"github.com/yairfalse/nexconv/telemetry"
	"github.com/yairfalse/nexconv/types"
	"github.com/yairfalse/nexconv/wal"
)

// Guard may veto a mutating decision.
type Guard interface {
	Check(ctx context.Context, id types.Identity, decision types.Decision) error
}

// Journal records each step of a run.
type Journal interface {
	Append(entryType wal.EntryType, resourceID string, data any) error
	AppendError(entryType wal.EntryType, resourceID string, data any, cause error) error
}

// Engine implements the convergence state machine
type Engine struct {
	connector     Connector
	comparator    *Comparator
	decisionMaker *DecisionMaker
	executor      *executor.Engine
	guard         Guard
	journal       Journal
	logger        *telemetry.Logger
	options       Options
}

// EngineOption configures optional collaborators.
type EngineOption func(*Engine)

// WithGuard consults g before every mutation.
func WithGuard(g Guard) EngineOption {
	return func(e *Engine) { e.guard = g }
}

// WithJournal records every step to j.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) { e.journal = j }
}

// WithLogger sets the engine logger.
func WithLogger(l *telemetry.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a new reconciler engine
func NewEngine(connector Connector, options Options, opts ...EngineOption) *Engine {
	e := &Engine{
		connector:     connector,
		comparator:    NewComparator(),
		decisionMaker: NewDecisionMaker(),
		logger:        telemetry.Nop(),
		options:       options,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.executor = executor.NewEngine(e.logger)
	return e
}

// Converge brings one object to the requested state. The returned
// Result is never nil; on failure its Outcome is OutcomeError and the
// error carries the object identity.
func (e *Engine) Converge(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	result := &Result{
		Resource: req.Identity.String(),
		Action:   types.ActionNoop,
		DryRun:   e.options.DryRun,
	}
	if req.Kind != nil {
		result.Kind = req.Kind.Name()
	}

	ctx, span := telemetry.Tracer.Start(ctx, "reconciler.converge",
		trace.WithAttributes(
			attribute.String("nexconv.kind", result.Kind),
			attribute.String("nexconv.resource", req.Identity.Name),
			attribute.String("nexconv.intent", string(req.Intent)),
		))
	defer span.End()

	err := e.converge(ctx, req, result)
	result.Duration = time.Since(start)

	if err != nil {
		err = types.WithResource(err, req.Identity.String())
		result.Outcome = types.OutcomeError
		result.Error = err.Error()
		result.ErrorKind = types.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.LogConvergeError(ctx, result.Kind, result.Resource, err)
	}

	span.SetAttributes(
		attribute.String("nexconv.action", string(result.Action)),
		attribute.String("nexconv.outcome", string(result.Outcome)),
	)
	telemetry.RecordConvergence(ctx, result.Kind, string(result.Action), string(result.Outcome), result.Duration)
	return result, err
}

func (e *Engine) converge(ctx context.Context, req Request, result *Result) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	kind, id := req.Kind, req.Identity

	var desired types.State
	if req.Intent == types.IntentPresent {
		prepared, err := kind.Prepare(id, req.Desired)
		if err != nil {
			return err
		}
		desired = prepared
	}

	runner, err := e.connector.RunnerFor(id.Server)
	if err != nil {
		return err
	}

	current, err := e.fetchCurrent(ctx, runner, kind, id)
	if err != nil {
		return err
	}
	result.Current = current
	e.record(wal.EntryObserved, id, map[string]any{"kind": kind.Name(), "present": current != nil, "current": current})

	diff := e.comparator.Compare(id.Name, req.Intent, desired, current, kind.ImmutableFields())
	result.Changes = diff.Changes

	decision, err := e.decisionMaker.Decide(kind.Name(), diff)
	if err != nil {
		e.recordError(wal.EntryFailed, id, diff, err)
		return err
	}
	result.Decision = decision
	result.Action = decision.Action
	e.logger.LogDecision(ctx, decision)
	telemetry.RecordDecisionEvent(trace.SpanFromContext(ctx), id.String(), decision)
	e.record(wal.EntryDecided, id, decision)

	if !decision.IsMutating() || e.options.DryRun {
		result.Outcome = types.OutcomeUnchanged
		if decision.IsMutating() {
			e.record(wal.EntrySkipped, id, decision)
		}
		return nil
	}

	if e.guard != nil {
		if err := e.guard.Check(ctx, id, decision); err != nil {
			e.recordError(wal.EntrySkipped, id, decision, err)
			return err
		}
	}

	e.record(wal.EntryExecuting, id, decision)
	exec, err := e.executor.Execute(ctx, runner, kind, id, decision)
	if err != nil {
		e.recordError(wal.EntryFailed, id, exec, err)
		return err
	}
	e.record(wal.EntryExecuted, id, exec)

	result.Outcome = types.OutcomeChanged
	return nil
}

// fetchCurrent runs the get script. NotFound from decoding is the only
// error recovered here; it means the object is absent.
func (e *Engine) fetchCurrent(ctx context.Context, runner executor.ScriptRunner, kind Kind, id types.Identity) (types.State, error) {
	out, err := runner.Run(ctx, kind.GetScript(), kind.GetArgs(id))
	if err != nil {
		return nil, err
	}

	current, err := kind.Decode(id, out)
	if types.IsKind(err, types.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return current, nil
}

func validateRequest(req Request) error {
	if req.Kind == nil {
		return types.NewError(types.KindValidation, "converge", "object kind is required", nil)
	}
	if !req.Intent.Valid() {
		return types.NewError(types.KindValidation, req.Kind.Name(), "intent must be present or absent, got "+string(req.Intent), nil)
	}
	if req.Identity.Name == "" {
		return types.NewError(types.KindValidation, req.Kind.Name(), "object name is required", nil)
	}
	if err := req.Identity.Server.Validate(); err != nil {
		return types.NewError(types.KindValidation, req.Kind.Name(), "invalid server", err)
	}
	return nil
}

func (e *Engine) record(entryType wal.EntryType, id types.Identity, data any) {
	e.recordError(entryType, id, data, nil)
}

func (e *Engine) recordError(entryType wal.EntryType, id types.Identity, data any, cause error) {
	if e.journal == nil {
		return
	}
	var err error
	if cause != nil {
		err = e.journal.AppendError(entryType, id.String(), data, cause)
	} else {
		err = e.journal.Append(entryType, id.String(), data)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("entry", string(entryType)).Msg("failed to write journal entry")
	}
}

