// Package repository manages hosted repositories. The canonical state
// is flat: {"name", "type", "online", "attributes"}.
package repository

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/nexconv/client"
	"github.com/yairfalse/nexconv/scripts"
	"github.com/yairfalse/nexconv/types"
)

const (
	KindName    = "repository"
	DefaultType = "maven2-hosted"
)

var fields = map[string]bool{"name": true, "type": true, "online": true, "attributes": true}

// Spec is the typed form of a repository's desired state.
type Spec struct {
	Name       string         `yaml:"name" json:"name"`
	Type       string         `yaml:"type,omitempty" json:"type,omitempty"`
	Online     *bool          `yaml:"online,omitempty" json:"online,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// State converts the spec to an attribute mapping; unset fields are left
// out so Prepare applies defaults.
func (s Spec) State() types.State {
	state := types.State{"name": s.Name}
	if s.Type != "" {
		state["type"] = s.Type
	}
	if s.Online != nil {
		state["online"] = *s.Online
	}
	if s.Attributes != nil {
		state["attributes"] = s.Attributes
	}
	return state
}

// Kind is the hosted repository specialization.
type Kind struct{}

// New returns the repository kind.
func New() *Kind {
	return &Kind{}
}

func (k *Kind) Name() string { return KindName }

func (k *Kind) GetScript() scripts.Definition    { return scripts.MustGet(scripts.GetRepo) }
func (k *Kind) UpsertScript() scripts.Definition { return scripts.MustGet(scripts.UpsertRepo) }
func (k *Kind) DeleteScript() scripts.Definition { return scripts.MustGet(scripts.DeleteRepo) }

// ImmutableFields lists the recipe; the server refuses it too.
func (k *Kind) ImmutableFields() []string {
	return []string{"type"}
}

func (k *Kind) GetArgs(id types.Identity) any {
	return map[string]string{"name": id.Name}
}

func (k *Kind) DeleteArgs(id types.Identity) any {
	return map[string]string{"name": id.Name}
}

// UpsertArgs sends the full desired state.
func (k *Kind) UpsertArgs(id types.Identity, desired types.State) any {
	return desired
}

// Prepare applies defaults and rejects unknown or mistyped fields.
func (k *Kind) Prepare(id types.Identity, desired types.State) (types.State, error) {
	out := types.State{
		"name":       id.Name,
		"type":       DefaultType,
		"online":     true,
		"attributes": map[string]any{},
	}

	var unknown []string
	for key, value := range desired {
		if !fields[key] {
			unknown = append(unknown, key)
			continue
		}
		if value != nil {
			out[key] = value
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, invalid("unknown fields: " + strings.Join(unknown, ", "))
	}

	if name, ok := out["name"].(string); !ok || name != id.Name {
		return nil, invalid(fmt.Sprintf("name %v does not match identity %q", out["name"], id.Name))
	}
	if t, ok := out["type"].(string); !ok || t == "" {
		return nil, invalid("type must be a non-empty string")
	}
	if _, ok := out["online"].(bool); !ok {
		return nil, invalid("online must be a boolean")
	}
	switch attrs := out["attributes"].(type) {
	case map[string]any:
	case types.State:
		out["attributes"] = map[string]any(attrs)
	default:
		return nil, invalid("attributes must be a mapping")
	}

	normalized, err := out.Normalize()
	if err != nil {
		return nil, types.NewError(types.KindValidation, KindName, "attributes are not JSON-encodable", err)
	}
	return normalized, nil
}

// Decode reads get_repo output. Missing attributes decode as an empty
// mapping so they compare equal to the default.
func (k *Kind) Decode(id types.Identity, result client.ExecutionResult) (types.State, error) {
	parsed, err := result.JSON()
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, types.NewError(types.KindNotFound, result.Script, "repository "+id.Name+" does not exist", nil)
	}
	m, ok := parsed.(map[string]any)
	if !ok {
		return nil, types.NewError(types.KindParse, result.Script, "expected a JSON object, got "+result.Raw, nil)
	}

	state := types.State{
		"name":       m["name"],
		"type":       m["type"],
		"online":     m["online"],
		"attributes": m["attributes"],
	}
	if state["attributes"] == nil {
		state["attributes"] = map[string]any{}
	}
	return state, nil
}

// CheckMutation accepts the outcomes the upsert and delete scripts report.
func (k *Kind) CheckMutation(id types.Identity, result client.ExecutionResult) error {
	outcome, err := result.Outcome()
	if err != nil {
		return err
	}
	switch outcome {
	case "created", "updated", "deleted", "absent":
		return nil
	default:
		return types.NewError(types.KindRemoteExecution, result.Script, "unexpected outcome "+outcome, nil)
	}
}

func invalid(msg string) error {
	return types.NewError(types.KindValidation, KindName, msg, nil)
}
