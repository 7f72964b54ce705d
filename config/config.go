// Package config loads the desired-state manifest: the repositories and
// tasks nexconv should converge, each bound to a named server.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/nexconv/repository"
	"github.com/yairfalse/nexconv/task"
	"github.com/yairfalse/nexconv/types"
)

// ManifestVersion is the only manifest version this build reads.
const ManifestVersion = "1"

// Manifest is the desired state document.
type Manifest struct {
	Version      string            `yaml:"version" json:"version"`
	Repositories []RepositoryEntry `yaml:"repositories,omitempty" json:"repositories,omitempty"`
	Tasks        []TaskEntry       `yaml:"tasks,omitempty" json:"tasks,omitempty"`
}

// RepositoryEntry is one hosted repository on one server.
type RepositoryEntry struct {
	Server          string       `yaml:"server" json:"server"`
	Ensure          types.Intent `yaml:"ensure,omitempty" json:"ensure,omitempty"`
	repository.Spec `yaml:",inline"`
}

// TaskEntry is one scheduled task on one server.
type TaskEntry struct {
	Server    string       `yaml:"server" json:"server"`
	Ensure    types.Intent `yaml:"ensure,omitempty" json:"ensure,omitempty"`
	task.Spec `yaml:",inline"`
}

// Entry is a manifest item in kind-independent form.
type Entry struct {
	Kind    string
	Server  string
	Name    string
	Intent  types.Intent
	Desired types.State
}

// Key identifies the entry within a manifest.
func (e Entry) Key() string {
	return e.Kind + "/" + e.Server + "/" + e.Name
}

// Load reads a manifest. Files ending in .json or .jsonc are parsed as
// JSON with comments; anything else as YAML.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m *Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		m, err = ParseJSON(data)
	default:
		m, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseYAML decodes and validates a YAML manifest. Unknown keys are errors.
func ParseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// ParseJSON strips comments and trailing commas, then decodes and
// validates the manifest.
func ParseJSON(data []byte) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Validate checks structure only; attribute values are checked by each
// kind when the entry is converged.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported version %q", m.Version)
	}

	seen := make(map[string]bool)
	for i, e := range m.Entries() {
		if e.Name == "" {
			return fmt.Errorf("%s entry %d: name is required", e.Kind, i)
		}
		if e.Server == "" {
			return fmt.Errorf("%s %s: server is required", e.Kind, e.Name)
		}
		if !e.Intent.Valid() {
			return fmt.Errorf("%s %s: ensure must be present or absent, got %q", e.Kind, e.Name, e.Intent)
		}
		if seen[e.Key()] {
			return fmt.Errorf("%s %s: declared twice for server %s", e.Kind, e.Name, e.Server)
		}
		seen[e.Key()] = true
	}
	return nil
}

// ValidateServers checks every entry names a known server.
func (m *Manifest) ValidateServers(known map[string]types.Server) error {
	for _, e := range m.Entries() {
		if _, ok := known[e.Server]; !ok {
			return fmt.Errorf("%s %s: unknown server %q", e.Kind, e.Name, e.Server)
		}
	}
	return nil
}

// Entries flattens the manifest, repositories first, in file order.
// An empty ensure means present.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.Repositories)+len(m.Tasks))
	for _, r := range m.Repositories {
		out = append(out, Entry{
			Kind:    repository.KindName,
			Server:  r.Server,
			Name:    r.Name,
			Intent:  intent(r.Ensure),
			Desired: r.Spec.State(),
		})
	}
	for _, t := range m.Tasks {
		out = append(out, Entry{
			Kind:    task.KindName,
			Server:  t.Server,
			Name:    t.Name,
			Intent:  intent(t.Ensure),
			Desired: t.Spec.State(),
		})
	}
	return out
}

func intent(i types.Intent) types.Intent {
	if i == "" {
		return types.IntentPresent
	}
	return i
}
