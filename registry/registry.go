// Package registry runs scripts on a server, installing them first when
// the server does not have them yet.
package registry

import (
	"context"
	"fmt"

	"github.com/yairfalse/nexconv/client"
	"github.com/yairfalse/nexconv/scripts"
)

// ScriptAPI is the part of the script client the registry needs.
type ScriptAPI interface {
	Register(ctx context.Context, def scripts.Definition) (client.RegisterStatus, error)
	Run(ctx context.Context, name string, payload any) (client.ExecutionResult, error)
}

// Runner performs ensure-then-run against one server. It keeps no
// record of what it installed: every Run checks the server again, so a
// script removed behind its back is reinstalled on the next call.
type Runner struct {
	api ScriptAPI
}

// NewRunner creates a runner over api.
func NewRunner(api ScriptAPI) *Runner {
	return &Runner{api: api}
}

// Ensure installs def if the server lacks it.
func (r *Runner) Ensure(ctx context.Context, def scripts.Definition) (client.RegisterStatus, error) {
	status, err := r.api.Register(ctx, def)
	if err != nil {
		return "", fmt.Errorf("ensure script %s: %w", def.Name(), err)
	}
	return status, nil
}

// Run ensures def is installed, then executes it with payload.
func (r *Runner) Run(ctx context.Context, def scripts.Definition, payload any) (client.ExecutionResult, error) {
	if _, err := r.Ensure(ctx, def); err != nil {
		return client.ExecutionResult{}, err
	}
	result, err := r.api.Run(ctx, def.Name(), payload)
	if err != nil {
		return result, fmt.Errorf("run script %s: %w", def.Name(), err)
	}
	return result, nil
}

// EnsureAll installs every script in the table and reports what each needed.
func (r *Runner) EnsureAll(ctx context.Context) (map[string]client.RegisterStatus, error) {
	out := make(map[string]client.RegisterStatus)
	for _, def := range scripts.All() {
		status, err := r.Ensure(ctx, def)
		if err != nil {
			return out, err
		}
		out[def.Name()] = status
	}
	return out, nil
}
