package reconciler

import (
	"time"

	"github.com/yairfalse/nexconv/client"
	"github.com/yairfalse/nexconv/executor"
	"github.com/yairfalse/nexconv/scripts"
	"github.com/yairfalse/nexconv/types"
)

// Kind is what an object specialization supplies to the engine.
type Kind interface {
	executor.Target

	GetScript() scripts.Definition
	GetArgs(id types.Identity) any

	// Prepare fills defaults, validates and normalizes a desired state.
	Prepare(id types.Identity, desired types.State) (types.State, error)

	// Decode turns get output into a canonical current state. Null output
	// is a NotFound error.
	Decode(id types.Identity, result client.ExecutionResult) (types.State, error)

	// ImmutableFields may never change once the object exists.
	ImmutableFields() []string
}

// Connector hands out a script runner bound to one server.
type Connector interface {
	RunnerFor(server types.Server) (executor.ScriptRunner, error)
}

// Request asks for one object to be converged.
type Request struct {
	Kind     Kind
	Identity types.Identity
	Desired  types.State
	Intent   types.Intent
}

// Result reports what one convergence run did.
type Result struct {
	Kind      string          `json:"kind"`
	Resource  string          `json:"resource"`
	Action    types.Action    `json:"action"`
	Outcome   types.Outcome   `json:"outcome"`
	Changes   []types.Change  `json:"changes,omitempty"`
	Current   types.State     `json:"current,omitempty"`
	Decision  types.Decision  `json:"decision"`
	DryRun    bool            `json:"dry_run,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Error     string          `json:"error,omitempty"`
	ErrorKind types.ErrorKind `json:"error_kind,omitempty"`
}

// Diff represents a difference between current and desired state
type Diff struct {
	Type       DiffType       `json:"type"`
	ResourceID string         `json:"resource_id"`
	Current    types.State    `json:"current,omitempty"`
	Desired    types.State    `json:"desired,omitempty"`
	Changes    []types.Change `json:"changes,omitempty"`
	Immutable  []string       `json:"immutable,omitempty"` // changed fields that may not change
	Reason     string         `json:"reason"`
}

// DiffType categorizes the type of difference found
type DiffType string

const (
	DiffMissing       DiffType = "missing"        // wanted but absent
	DiffUnwanted      DiffType = "unwanted"       // present but intent is absent
	DiffDrifted       DiffType = "drifted"        // present with different attributes
	DiffInSync        DiffType = "in_sync"        // present and equal
	DiffAlreadyAbsent DiffType = "already_absent" // absent and intent is absent
)

// Options configure engine behavior
type Options struct {
	// DryRun stops after the decision; nothing is mutated.
	DryRun bool
}
