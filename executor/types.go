package executor

import (
	"context"
	"time"

	"github.com/yairfalse/nexconv/client"
	"github.com/yairfalse/nexconv/scripts"
	"github.com/yairfalse/nexconv/types"
)

// ScriptRunner runs a script on one server, installing it first if needed.
type ScriptRunner interface {
	Run(ctx context.Context, def scripts.Definition, payload any) (client.ExecutionResult, error)
}

// Target is what an object kind supplies for the mutating step.
type Target interface {
	// Name identifies the kind, e.g. "repository".
	Name() string
	UpsertScript() scripts.Definition
	DeleteScript() scripts.Definition
	UpsertArgs(id types.Identity, desired types.State) any
	DeleteArgs(id types.Identity) any
	// CheckMutation inspects the script's output; a refusal such as a
	// running task is returned as a typed error.
	CheckMutation(id types.Identity, result client.ExecutionResult) error
}

// SingleExecutionResult contains the outcome of executing a single decision
type SingleExecutionResult struct {
	Decision  types.Decision  `json:"decision"`
	Status    ExecutionStatus `json:"status"`
	Script    string          `json:"script,omitempty"`
	Output    string          `json:"output,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Duration  time.Duration   `json:"duration"`
	Error     string          `json:"error,omitempty"`
}

// ExecutionStatus tracks the status of decision execution
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusSkipped ExecutionStatus = "skipped"
)
