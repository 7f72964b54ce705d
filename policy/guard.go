// Package policy consults an optional rego module before any mutation.
// A module denies a decision by adding a message to data.nexconv.deny.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nexconv/telemetry"
	"github.com/yairfalse/nexconv/types"
)

// Query is the rule every module contributes to.
const Query = "data.nexconv.deny"

// Input is the document a module sees as `input`.
type Input struct {
	Kind     string      `json:"kind"`
	Resource string      `json:"resource"`
	Server   string      `json:"server"`
	Action   string      `json:"action"`
	Reason   string      `json:"reason"`
	Desired  types.State `json:"desired,omitempty"`
	Current  types.State `json:"current,omitempty"`
	Changes  []string    `json:"changes"`
}

// Guard evaluates compiled modules against mutating decisions.
type Guard struct {
	query   rego.PreparedEvalQuery
	modules []string
	logger  *telemetry.Logger
}

// NewGuard compiles modules, keyed by file name.
func NewGuard(ctx context.Context, modules map[string]string, logger *telemetry.Logger) (*Guard, error) {
	if len(modules) == 0 {
		return nil, fmt.Errorf("no policy modules given")
	}
	if logger == nil {
		logger = telemetry.Nop()
	}

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []func(*rego.Rego){rego.Query(Query)}
	for _, name := range names {
		opts = append(opts, rego.Module(name, modules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}

	logger.WithContext(ctx).Info().
		Strs("modules", names).
		Msg("policy loaded")

	return &Guard{query: prepared, modules: names, logger: logger}, nil
}

// Load reads a .rego file, or every .rego file in a directory.
func Load(ctx context.Context, path string, logger *telemetry.Logger) (*Guard, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("policy path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("failed to list policy files: %w", err)
		}
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		content, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		modules[filepath.Base(file)] = string(content)
	}
	return NewGuard(ctx, modules, logger)
}

// Modules returns the loaded module names.
func (g *Guard) Modules() []string {
	return g.modules
}

// Check returns a PolicyDenied error when any module denies decision.
// Noop decisions are never evaluated.
func (g *Guard) Check(ctx context.Context, id types.Identity, decision types.Decision) error {
	if !decision.IsMutating() {
		return nil
	}

	ctx, span := telemetry.Tracer.Start(ctx, "policy.check",
		trace.WithAttributes(
			attribute.String("nexconv.kind", decision.Kind),
			attribute.String("nexconv.action", string(decision.Action)),
		))
	defer span.End()

	input := Input{
		Kind:     decision.Kind,
		Resource: id.Name,
		Server:   id.Server.BaseURL(),
		Action:   string(decision.Action),
		Reason:   decision.Reason,
		Desired:  decision.Desired,
		Current:  decision.Current,
		Changes:  types.Fields(decision.Changes),
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		span.RecordError(err)
		return types.WithResource(
			types.NewError(types.KindPolicyDenied, "policy", "evaluation failed", err), id.String())
	}

	reasons := denials(results)
	if len(reasons) == 0 {
		return nil
	}

	telemetry.RecordPolicyDeniedEvent(span, id.String(), decision.Kind, decision.Action, reasons)
	g.logger.WithContext(ctx).Warn().
		Str("kind", decision.Kind).
		Str("resource", id.String()).
		Str("action", string(decision.Action)).
		Strs("reasons", reasons).
		Msg("mutation denied by policy")

	return types.WithResource(
		types.NewError(types.KindPolicyDenied, "policy", strings.Join(reasons, "; "), nil), id.String())
}

// denials collects the string members of the deny set.
func denials(results rego.ResultSet) []string {
	var out []string
	for _, res := range results {
		for _, expr := range res.Expressions {
			values, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, v := range values {
				if s, ok := v.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}
