package types

import (
	"fmt"
	"time"
)

// Intent is what the caller wants for a managed object.
type Intent string

const (
	IntentPresent Intent = "present"
	IntentAbsent  Intent = "absent"
)

// Valid reports whether the intent is one of the known values.
func (i Intent) Valid() bool {
	return i == IntentPresent || i == IntentAbsent
}

// Action is the single step a convergence run takes against the server.
type Action string

const (
	ActionNoop   Action = "noop"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Outcome is what a convergence run reports back to its caller.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeChanged   Outcome = "changed"
	OutcomeError     Outcome = "error"
)

// Decision represents an action to take on one managed object
type Decision struct {
	Action     Action    `json:"action"`
	Kind       string    `json:"kind"`
	ResourceID string    `json:"resource_id"`
	Reason     string    `json:"reason"`
	Desired    State     `json:"desired,omitempty"`
	Current    State     `json:"current,omitempty"`
	Changes    []Change  `json:"changes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate ensures the decision has required fields
func (d *Decision) Validate() error {
	switch d.Action {
	case ActionNoop, ActionCreate, ActionUpdate, ActionDelete:
	case "":
		return fmt.Errorf("decision action cannot be empty")
	default:
		return fmt.Errorf("unknown decision action %q", d.Action)
	}
	if d.ResourceID == "" {
		return fmt.Errorf("decision resource ID cannot be empty")
	}
	if d.Reason == "" {
		return fmt.Errorf("decision reason cannot be empty")
	}
	if (d.Action == ActionCreate || d.Action == ActionUpdate) && d.Desired == nil {
		return fmt.Errorf("%s decision requires desired state", d.Action)
	}
	return nil
}

// IsMutating reports whether executing the decision changes the server.
func (d *Decision) IsMutating() bool {
	return d.Action != ActionNoop
}

// IsDestructive checks if action removes the object
func (d *Decision) IsDestructive() bool {
	return d.Action == ActionDelete
}
