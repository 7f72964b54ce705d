// Package nexustest provides an in-process fake of the repository
// manager's script API. Installed scripts are executed by a Go model of
// each operation so tests can observe repositories and tasks.
package nexustest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/yairfalse/nexconv/types"
)

const (
	Username = "admin"
	Password = "admin123"
	basePath = "/service/rest"
)

// Repo is a hosted repository as the fake stores it.
type Repo struct {
	Name       string
	Type       string
	Online     bool
	Attributes map[string]any
	Restarts   int
}

// Task is a scheduled task as the fake stores it.
type Task struct {
	Name    string
	Source  string
	Crontab string
	Running bool // a running task refuses removal
}

// Script is an installed script resource.
type Script struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Server is an httptest server speaking the script API.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	scripts map[string]Script
	repos   map[string]Repo
	tasks   map[string]Task
	runs    map[string]int
	creates map[string]int
	hooks   map[string]func()
	down    bool
}

var versionSuffix = regexp.MustCompile(`_v[0-9]+$`)

// New starts a fake server; it is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		scripts: make(map[string]Script),
		repos:   make(map[string]Repo),
		tasks:   make(map[string]Task),
		runs:    make(map[string]int),
		creates: make(map[string]int),
		hooks:   make(map[string]func()),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+basePath+"/v1/script/{name}", s.auth(s.handleGetScript))
	mux.HandleFunc("POST "+basePath+"/v1/script", s.auth(s.handleCreateScript))
	mux.HandleFunc("PUT "+basePath+"/v1/script/{name}", s.auth(s.handleUpdateScript))
	mux.HandleFunc("POST "+basePath+"/v1/script/{name}/run", s.auth(s.handleRun))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Endpoint is the base URL clients should be configured with.
func (s *Server) Endpoint() string {
	return s.URL + basePath
}

// ServerConfig returns valid credentials for this fake.
func (s *Server) ServerConfig() types.Server {
	return types.Server{Endpoint: s.Endpoint(), Username: Username, Password: Password}
}

// Identity builds an identity for an object on this fake.
func (s *Server) Identity(name string) types.Identity {
	return types.Identity{Name: name, Server: s.ServerConfig()}
}

// SetDown makes every request fail with 503.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// BeforeRun calls fn ahead of each run of operation, e.g. "upsert_repo".
// fn may use the fake's setters to change state behind a client's back.
func (s *Server) BeforeRun(operation string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[operation] = fn
}

// InstallScript stores a script directly, bypassing the API.
func (s *Server) InstallScript(name, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = Script{Name: name, Type: "groovy", Content: content}
}

// RemoveScript deletes an installed script.
func (s *Server) RemoveScript(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scripts, name)
}

// ScriptInstalled reports whether a script with that name exists.
func (s *Server) ScriptInstalled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scripts[name]
	return ok
}

// ScriptCreates counts POSTs that created the named script.
func (s *Server) ScriptCreates(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates[name]
}

// PutRepo seeds a repository.
func (s *Server) PutRepo(r Repo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[r.Name] = r
}

// Repo returns a stored repository.
func (s *Server) Repo(name string) (Repo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[name]
	return r, ok
}

// PutTask seeds a task.
func (s *Server) PutTask(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Name] = task
}

// Task returns a stored task.
func (s *Server) Task(name string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[name]
	return task, ok
}

// Runs counts executions of an operation (script name without version).
func (s *Server) Runs(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[operation]
}

// MutatingRuns counts executions of every upsert and delete operation.
func (s *Server) MutatingRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs["upsert_repo"] + s.runs["delete_repo"] + s.runs["upsert_task"] + s.runs["delete_task"]
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down := s.down
		s.mu.Unlock()
		if down {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != Username || pass != Password {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	script, ok := s.scripts[r.PathValue("name")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, script)
}

func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	var script Script
	if err := json.NewDecoder(r.Body).Decode(&script); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scripts[script.Name]; exists {
		http.Error(w, "script already exists", http.StatusBadRequest)
		return
	}
	s.scripts[script.Name] = script
	s.creates[script.Name]++
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateScript exists so tests can assert nexconv never calls it.
func (s *Server) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "updates are not expected", http.StatusMethodNotAllowed)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	s.mu.Lock()
	_, installed := s.scripts[name]
	s.mu.Unlock()
	if !installed {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Numbers stay exact, as the server's JSON slurper keeps them.
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"name":   name,
			"result": "groovy.json.JsonException: " + err.Error(),
		})
		return
	}

	operation := versionSuffix.ReplaceAllString(name, "")

	s.mu.Lock()
	hook := s.hooks[operation]
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	s.runs[operation]++
	result, runErr := s.execute(operation, args)
	s.mu.Unlock()

	if runErr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"name":   name,
			"result": "javax.script.ScriptException: " + runErr.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "result": result})
}

// execute models the groovy scripts; callers hold s.mu.
func (s *Server) execute(operation string, args map[string]any) (string, error) {
	name, _ := args["name"].(string)

	switch operation {
	case "get_repo":
		repo, ok := s.repos[name]
		if !ok {
			return "null", nil
		}
		return toJSON(map[string]any{
			"name":       repo.Name,
			"type":       repo.Type,
			"online":     repo.Online,
			"attributes": repo.Attributes,
		}), nil

	case "upsert_repo":
		repoType, _ := args["type"].(string)
		online, _ := args["online"].(bool)
		attrs, _ := args["attributes"].(map[string]any)
		existing, ok := s.repos[name]
		if !ok {
			s.repos[name] = Repo{Name: name, Type: repoType, Online: online, Attributes: attrs}
			return toJSON(map[string]string{"outcome": "created"}), nil
		}
		if existing.Type != repoType {
			return "", fmt.Errorf("java.lang.IllegalStateException: Tried to change recipe for repo %s from %s to %s", name, existing.Type, repoType)
		}
		existing.Online = online
		existing.Attributes = attrs
		existing.Restarts++
		s.repos[name] = existing
		return toJSON(map[string]string{"outcome": "updated"}), nil

	case "delete_repo":
		if _, ok := s.repos[name]; !ok {
			return toJSON(map[string]string{"outcome": "absent"}), nil
		}
		delete(s.repos, name)
		return toJSON(map[string]string{"outcome": "deleted"}), nil

	case "get_task":
		task, ok := s.tasks[name]
		if !ok {
			return "null", nil
		}
		return toJSON(map[string]any{
			"name":    task.Name,
			"source":  task.Source,
			"crontab": task.Crontab,
		}), nil

	case "upsert_task":
		existing, ok := s.tasks[name]
		if ok && existing.Running {
			return toJSON(map[string]string{"outcome": "busy"}), nil
		}
		source, _ := args["source"].(string)
		crontab, _ := args["crontab"].(string)
		s.tasks[name] = Task{Name: name, Source: source, Crontab: crontab}
		if ok {
			return toJSON(map[string]string{"outcome": "replaced"}), nil
		}
		return toJSON(map[string]string{"outcome": "created"}), nil

	case "delete_task":
		existing, ok := s.tasks[name]
		if !ok {
			return toJSON(map[string]string{"outcome": "absent"}), nil
		}
		if existing.Running {
			return toJSON(map[string]string{"outcome": "busy"}), nil
		}
		delete(s.tasks, name)
		return toJSON(map[string]string{"outcome": "deleted"}), nil
	}

	return "", fmt.Errorf("groovy.lang.MissingMethodException: no model for %s", operation)
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
