// Package filter selects which manifest entries a run converges.
package filter

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/yairfalse/nexconv/config"
)

// Filter keeps entries matching every configured dimension. An empty
// dimension matches everything.
type Filter struct {
	kinds   map[string]bool
	servers map[string]bool
	names   []glob.Glob
}

// New creates a Filter. Names are glob patterns such as "maven-*".
func New(kinds, servers, names []string) (*Filter, error) {
	f := &Filter{
		kinds:   toSet(kinds),
		servers: toSet(servers),
	}
	for _, pattern := range names {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid name pattern %q: %w", pattern, err)
		}
		f.names = append(f.names, g)
	}
	return f, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Match returns true if the entry passes the filter.
func (f *Filter) Match(e config.Entry) bool {
	if len(f.kinds) > 0 && !f.kinds[e.Kind] {
		return false
	}
	if len(f.servers) > 0 && !f.servers[e.Server] {
		return false
	}
	if len(f.names) == 0 {
		return true
	}
	for _, g := range f.names {
		if g.Match(e.Name) {
			return true
		}
	}
	return false
}

// Entries returns only entries that pass the filter, in order.
func (f *Filter) Entries(entries []config.Entry) []config.Entry {
	if f.IsEmpty() {
		return entries
	}

	filtered := make([]config.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.kinds) == 0 && len(f.servers) == 0 && len(f.names) == 0
}
