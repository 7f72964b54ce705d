package reconciler

import (
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/nexconv/types"
)

// DecisionMaker maps a diff to the single action a run may take.
type DecisionMaker struct{}

// NewDecisionMaker creates a decision maker
func NewDecisionMaker() *DecisionMaker {
	return &DecisionMaker{}
}

// Decide applies the decision table. Drift on an immutable field is an
// Immutable error; no decision is returned for it.
func (dm *DecisionMaker) Decide(kind string, diff Diff) (types.Decision, error) {
	decision := types.Decision{
		Kind:       kind,
		ResourceID: diff.ResourceID,
		Reason:     diff.Reason,
		Desired:    diff.Desired,
		Current:    diff.Current,
		Changes:    diff.Changes,
		CreatedAt:  time.Now(),
	}

	switch diff.Type {
	case DiffMissing:
		decision.Action = types.ActionCreate
	case DiffDrifted:
		if len(diff.Immutable) > 0 {
			return types.Decision{}, types.NewError(types.KindImmutable, kind, immutableMessage(diff), nil)
		}
		decision.Action = types.ActionUpdate
	case DiffUnwanted:
		decision.Action = types.ActionDelete
	case DiffInSync, DiffAlreadyAbsent:
		decision.Action = types.ActionNoop
	default:
		return types.Decision{}, fmt.Errorf("unknown diff type: %s", diff.Type)
	}

	return decision, nil
}

func immutableMessage(diff Diff) string {
	parts := make([]string, 0, len(diff.Immutable))
	for _, change := range diff.Changes {
		for _, field := range diff.Immutable {
			if change.Field == field {
				parts = append(parts, fmt.Sprintf("%s %v -> %v", field, change.Previous, change.Desired))
			}
		}
	}
	return "cannot change immutable field of an existing object: " + strings.Join(parts, ", ")
}
