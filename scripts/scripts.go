// Package scripts holds the versioned table of groovy scripts nexconv
// installs on the repository manager.
package scripts

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

//go:embed groovy/*.groovy
var sources embed.FS

// Language is the scripting language the server evaluates the body with.
type Language string

const LanguageGroovy Language = "groovy"

// Operation names. A script's body for a given (operation, version) pair
// never changes; a new body means a new version.
const (
	GetRepo    = "get_repo"
	UpsertRepo = "upsert_repo"
	DeleteRepo = "delete_repo"
	GetTask    = "get_task"
	UpsertTask = "upsert_task"
	DeleteTask = "delete_task"
)

// Version is bumped whenever any embedded body changes.
const Version = 1

// Definition is one script as installed on the server.
type Definition struct {
	Operation string
	Version   int
	Language  Language
	Body      string
}

// Name is the script name on the server, e.g. "get_repo_v1".
func (d Definition) Name() string {
	return d.Operation + "_v" + strconv.Itoa(d.Version)
}

// Hash returns the hex sha256 of the body.
func (d Definition) Hash() string {
	sum := sha256.Sum256([]byte(d.Body))
	return hex.EncodeToString(sum[:])
}

var table = mustLoad(GetRepo, UpsertRepo, DeleteRepo, GetTask, UpsertTask, DeleteTask)

func mustLoad(operations ...string) map[string]Definition {
	out := make(map[string]Definition, len(operations))
	for _, op := range operations {
		body, err := sources.ReadFile("groovy/" + op + ".groovy")
		if err != nil {
			panic(fmt.Sprintf("scripts: missing embedded body for %s: %v", op, err))
		}
		out[op] = Definition{
			Operation: op,
			Version:   Version,
			Language:  LanguageGroovy,
			Body:      string(body),
		}
	}
	return out
}

// Get returns the definition for an operation.
func Get(operation string) (Definition, error) {
	def, ok := table[operation]
	if !ok {
		return Definition{}, fmt.Errorf("scripts: unknown operation %q", operation)
	}
	return def, nil
}

// MustGet is Get for operations named by constants in this package.
func MustGet(operation string) Definition {
	def, err := Get(operation)
	if err != nil {
		panic(err)
	}
	return def
}

// All returns every definition sorted by operation.
func All() []Definition {
	out := make([]Definition, 0, len(table))
	for _, def := range table {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}
