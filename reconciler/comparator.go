package reconciler

import (
	"fmt"
	"strings"

	"github.com/yairfalse/nexconv/types"
)

// Comparator classifies one object. A nil current state means Absent.
type Comparator struct{}

// NewComparator creates a comparator
func NewComparator() *Comparator {
	return &Comparator{}
}

// Compare derives the diff between intent, desired and current state.
// Both states must already be normalized.
func (c *Comparator) Compare(resourceID string, intent types.Intent, desired, current types.State, immutable []string) Diff {
	diff := Diff{
		ResourceID: resourceID,
		Current:    current,
		Desired:    desired,
	}

	if intent == types.IntentAbsent {
		if current == nil {
			diff.Type = DiffAlreadyAbsent
			diff.Reason = "object is absent as requested"
		} else {
			diff.Type = DiffUnwanted
			diff.Reason = "object exists but intent is absent"
		}
		return diff
	}

	if current == nil {
		diff.Type = DiffMissing
		diff.Reason = "object does not exist"
		return diff
	}

	if current.Equal(desired) {
		diff.Type = DiffInSync
		diff.Reason = "object matches desired state"
		return diff
	}

	diff.Type = DiffDrifted
	diff.Changes = current.Diff(desired)
	diff.Immutable = immutableChanges(diff.Changes, immutable)
	diff.Reason = fmt.Sprintf("fields differ: %s", strings.Join(types.Fields(diff.Changes), ", "))
	return diff
}

func immutableChanges(changes []types.Change, immutable []string) []string {
	var out []string
	for _, change := range changes {
		for _, field := range immutable {
			if change.Field == field {
				out = append(out, field)
			}
		}
	}
	return out
}
