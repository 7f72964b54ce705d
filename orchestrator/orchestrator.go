// Package orchestrator converges every entry of a manifest, one object
// at a time. A failure on one object never stops the others.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/nexconv/config"
	"github.com/yairfalse/nexconv/reconciler"
	"github.com/yairfalse/nexconv/repository"
	"github.com/yairfalse/nexconv/task"
	"github.com/yairfalse/nexconv/telemetry"
	"github.com/yairfalse/nexconv/types"
)

// Orchestrator coordinates manifest → converge flow
type Orchestrator struct {
	engine  Converger
	servers map[string]types.Server
	kinds   map[string]reconciler.Kind
	logger  *telemetry.Logger
}

// NewOrchestrator creates an orchestrator over the named servers.
func NewOrchestrator(engine Converger, servers map[string]types.Server, logger *telemetry.Logger) *Orchestrator {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Orchestrator{
		engine:  engine,
		servers: servers,
		kinds: map[string]reconciler.Kind{
			repository.KindName: repository.New(),
			task.KindName:       task.New(),
		},
		logger: logger,
	}
}

// RunCycle converges every manifest entry in order. The error is only
// non-nil when the context ends the cycle early; per-object failures
// are reported in the result.
func (o *Orchestrator) RunCycle(ctx context.Context, manifest *config.Manifest) (*CycleResult, error) {
	return o.RunEntries(ctx, manifest.Entries())
}

// RunEntries is RunCycle over an already selected list of entries.
func (o *Orchestrator) RunEntries(ctx context.Context, entries []config.Entry) (*CycleResult, error) {
	result := &CycleResult{
		ID:        uuid.New().String(),
		StartTime: time.Now(),
		Entries:   len(entries),
		Success:   true,
	}

	o.logger.WithContext(ctx).Info().
		Str("cycle_id", result.ID).
		Int("entries", len(entries)).
		Msg("starting convergence cycle")

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cycle interrupted: %v", err))
			result.Success = false
			return o.finishCycle(result), err
		}
		o.processEntry(ctx, entry, result)
	}

	return o.finishCycle(result), nil
}

func (o *Orchestrator) processEntry(ctx context.Context, entry config.Entry, result *CycleResult) {
	req, err := o.request(entry)
	if err != nil {
		o.recordFailure(result, reconciler.Result{
			Kind:      entry.Kind,
			Resource:  entry.Name,
			Action:    types.ActionNoop,
			Outcome:   types.OutcomeError,
			Error:     err.Error(),
			ErrorKind: types.KindOf(err),
		})
		return
	}

	res, err := o.engine.Converge(ctx, req)
	if err != nil {
		o.recordFailure(result, *res)
		return
	}

	result.Results = append(result.Results, *res)
	if res.Outcome == types.OutcomeChanged {
		result.Changed++
	} else {
		result.Unchanged++
	}
}

func (o *Orchestrator) request(entry config.Entry) (reconciler.Request, error) {
	kind, ok := o.kinds[entry.Kind]
	if !ok {
		return reconciler.Request{}, types.NewError(types.KindValidation, entry.Kind, "unknown object kind", nil)
	}
	server, ok := o.servers[entry.Server]
	if !ok {
		return reconciler.Request{}, types.NewError(types.KindValidation, entry.Kind, fmt.Sprintf("unknown server %q", entry.Server), nil)
	}
	return reconciler.Request{
		Kind:     kind,
		Identity: types.Identity{Name: entry.Name, Server: server},
		Desired:  entry.Desired,
		Intent:   entry.Intent,
	}, nil
}

func (o *Orchestrator) recordFailure(result *CycleResult, res reconciler.Result) {
	result.Results = append(result.Results, res)
	result.Errors = append(result.Errors, res.Error)
	result.Failed++
	result.Success = false
}

func (o *Orchestrator) finishCycle(result *CycleResult) *CycleResult {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	o.logger.Info().
		Str("cycle_id", result.ID).
		Int("entries", result.Entries).
		Int("changed", result.Changed).
		Int("unchanged", result.Unchanged).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Bool("success", result.Success).
		Msg("convergence cycle complete")

	return result
}
