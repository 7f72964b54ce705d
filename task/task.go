// Package task manages scheduled script tasks. The canonical state is
// {"name", "source", "crontab"}.
package task

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/nexconv/client"
	"github.com/yairfalse/nexconv/scripts"
	"github.com/yairfalse/nexconv/types"
)

const (
	KindName       = "task"
	DefaultCrontab = "0 1 * * * ?"
)

var fields = map[string]bool{"name": true, "source": true, "crontab": true}

// Spec is the typed form of a task's desired state.
type Spec struct {
	Name    string `yaml:"name" json:"name"`
	Source  string `yaml:"source,omitempty" json:"source,omitempty"`
	Crontab string `yaml:"crontab,omitempty" json:"crontab,omitempty"`
}

// State converts the spec to an attribute mapping.
func (s Spec) State() types.State {
	state := types.State{"name": s.Name, "source": s.Source}
	if s.Crontab != "" {
		state["crontab"] = s.Crontab
	}
	return state
}

// Kind is the scheduled task specialization. Tasks have no immutable
// fields: an update replaces the task.
type Kind struct{}

// New returns the task kind.
func New() *Kind {
	return &Kind{}
}

func (k *Kind) Name() string { return KindName }

func (k *Kind) GetScript() scripts.Definition    { return scripts.MustGet(scripts.GetTask) }
func (k *Kind) UpsertScript() scripts.Definition { return scripts.MustGet(scripts.UpsertTask) }
func (k *Kind) DeleteScript() scripts.Definition { return scripts.MustGet(scripts.DeleteTask) }

func (k *Kind) ImmutableFields() []string { return nil }

func (k *Kind) GetArgs(id types.Identity) any {
	return map[string]string{"name": id.Name}
}

func (k *Kind) DeleteArgs(id types.Identity) any {
	return map[string]string{"name": id.Name}
}

func (k *Kind) UpsertArgs(id types.Identity, desired types.State) any {
	return desired
}

// Prepare applies defaults and validates the crontab.
func (k *Kind) Prepare(id types.Identity, desired types.State) (types.State, error) {
	out := types.State{
		"name":    id.Name,
		"source":  "",
		"crontab": DefaultCrontab,
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
	if _, ok := out["source"].(string); !ok {
		return nil, invalid("source must be a string")
	}
	crontab, ok := out["crontab"].(string)
	if !ok {
		return nil, invalid("crontab must be a string")
	}
	if err := ValidateCrontab(crontab); err != nil {
		return nil, types.NewError(types.KindValidation, KindName, "invalid crontab "+crontab, err)
	}

	return out, nil
}

// Decode reads get_task output. A task on a non-cron schedule decodes
// with a nil crontab, which never equals a desired one.
func (k *Kind) Decode(id types.Identity, result client.ExecutionResult) (types.State, error) {
	parsed, err := result.JSON()
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, types.NewError(types.KindNotFound, result.Script, "task "+id.Name+" does not exist", nil)
	}
	m, ok := parsed.(map[string]any)
	if !ok {
		return nil, types.NewError(types.KindParse, result.Script, "expected a JSON object, got "+result.Raw, nil)
	}

	source := m["source"]
	if source == nil {
		source = ""
	}
	return types.State{
		"name":    m["name"],
		"source":  source,
		"crontab": m["crontab"],
	}, nil
}

// CheckMutation turns a busy outcome into a Busy error. The script
// reports it without touching the running task.
func (k *Kind) CheckMutation(id types.Identity, result client.ExecutionResult) error {
	outcome, err := result.Outcome()
	if err != nil {
		return err
	}
	switch outcome {
	case "created", "replaced", "deleted", "absent":
		return nil
	case "busy":
		return types.NewError(types.KindBusy, result.Script,
			"task "+id.Name+" is running and could not be cancelled; it was left unchanged", nil)
	default:
		return types.NewError(types.KindRemoteExecution, result.Script, "unexpected outcome "+outcome, nil)
	}
}

func invalid(msg string) error {
	return types.NewError(types.KindValidation, KindName, msg, nil)
}
