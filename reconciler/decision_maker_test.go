package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nexconv/types"
)

func TestDecisionMaker_Decide(t *testing.T) {
	dm := NewDecisionMaker()
	desired := types.State{"name": "releases"}
	current := types.State{"name": "releases", "online": false}

	tests := []struct {
		name     string
		diff     Diff
		expected types.Action
	}{
		{"missing creates", Diff{Type: DiffMissing, ResourceID: "releases", Desired: desired, Reason: "missing"}, types.ActionCreate},
		{"drift updates", Diff{Type: DiffDrifted, ResourceID: "releases", Desired: desired, Current: current, Reason: "drift"}, types.ActionUpdate},
		{"unwanted deletes", Diff{Type: DiffUnwanted, ResourceID: "releases", Current: current, Reason: "unwanted"}, types.ActionDelete},
		{"in sync is noop", Diff{Type: DiffInSync, ResourceID: "releases", Reason: "in sync"}, types.ActionNoop},
		{"already absent is noop", Diff{Type: DiffAlreadyAbsent, ResourceID: "releases", Reason: "absent"}, types.ActionNoop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := dm.Decide("repository", tt.diff)
			require.NoError(t, err)

			assert.Equal(t, tt.expected, decision.Action)
			assert.Equal(t, "repository", decision.Kind)
			assert.Equal(t, "releases", decision.ResourceID)
			assert.NoError(t, decision.Validate())
		})
	}
}

func TestDecisionMaker_ImmutableDriftIsAnError(t *testing.T) {
	diff := Diff{
		Type:       DiffDrifted,
		ResourceID: "releases",
		Changes:    []types.Change{{Field: "type", Previous: "maven2-hosted", Desired: "npm-hosted"}},
		Immutable:  []string{"type"},
		Reason:     "fields differ: type",
	}

	_, err := NewDecisionMaker().Decide("repository", diff)

	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindImmutable))
	assert.False(t, types.KindOf(err).Retryable())
	assert.Contains(t, err.Error(), "type maven2-hosted -> npm-hosted")
}

func TestDecisionMaker_UnknownDiffType(t *testing.T) {
	_, err := NewDecisionMaker().Decide("repository", Diff{Type: "unmanaged", ResourceID: "x", Reason: "?"})
	assert.Error(t, err)
}
