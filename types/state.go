package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// State is an attribute mapping for one managed object: string keys,
// JSON-typed values. Desired and current state share the type.
type State map[string]any

// Change represents a single field change between current and desired.
type Change struct {
	Field    string `json:"field"`
	Previous any    `json:"previous,omitempty"`
	Desired  any    `json:"desired,omitempty"`
}

// Normalize returns a copy of s with every value in the shape
// encoding/json produces when decoding with UseNumber: json.Number
// numbers, []any slices, map[string]any objects. Numbers keep their
// decimal text, so integers past 2^53 survive. Values that cannot be
// encoded are rejected.
func (s State) Normalize() (State, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out State
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}

// Equal is a deep structural comparison; map ordering is irrelevant,
// key presence is not. Both sides should be normalized first.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	return reflect.DeepEqual(map[string]any(s), map[string]any(other))
}

// Diff lists the top-level keys whose values differ, sorted by key.
// A key present on one side only shows up with a nil on the other.
func (s State) Diff(desired State) []Change {
	keys := make(map[string]struct{}, len(s)+len(desired))
	for k := range s {
		keys[k] = struct{}{}
	}
	for k := range desired {
		keys[k] = struct{}{}
	}

	var changes []Change
	for k := range keys {
		prev, inPrev := s[k]
		want, inWant := desired[k]
		if inPrev == inWant && reflect.DeepEqual(prev, want) {
			continue
		}
		changes = append(changes, Change{Field: k, Previous: prev, Desired: want})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

// Fields returns the changed field names.
func Fields(changes []Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Field)
	}
	return out
}
