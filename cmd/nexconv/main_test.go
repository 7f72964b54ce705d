package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nexconv/internal/nexustest"
	"github.com/yairfalse/nexconv/orchestrator"
	"github.com/yairfalse/nexconv/reconciler"
	"github.com/yairfalse/nexconv/scripts"
	"github.com/yairfalse/nexconv/types"
)

const testManifest = `
version: "1"
repositories:
  - server: primary
    name: releases
    type: maven2-hosted
    attributes:
      storage:
        blobStoreName: default
  - server: primary
    name: legacy
    ensure: absent
tasks:
  - server: primary
    name: cleanup
    source: "log.info('cleanup')"
`

type fixture struct {
	srv      *nexustest.Server
	dir      string
	config   string
	manifest string
}

func newFixture(t *testing.T, manifest string) *fixture {
	t.Helper()
	srv := nexustest.New(t)
	dir := t.TempDir()

	cfg := fmt.Sprintf(`
[servers.primary]
endpoint = %q
username = %q
password_env = "NEXCONV_TEST_PASSWORD"

[client]
timeout = "5s"

[journal]
dir = %q
`, srv.Endpoint(), nexustest.Username, filepath.Join(dir, "journal"))
	t.Setenv("NEXCONV_TEST_PASSWORD", nexustest.Password)

	f := &fixture{
		srv:      srv,
		dir:      dir,
		config:   filepath.Join(dir, "nexconv.toml"),
		manifest: filepath.Join(dir, "manifest.yaml"),
	}
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o600))
	require.NoError(t, os.WriteFile(f.manifest, []byte(manifest), 0o600))
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	scriptServers, journalResource, logLevel, debug = nil, "", "", false
	onlyKinds, onlyServers, onlyNames = nil, nil, nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"-c", f.config, "-m", f.manifest, "--json-logs"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"apply", "plan", "daemon", "scripts", "journal"} {
		assert.Contains(t, names, want)
	}
}

func TestApply_ConvergesManifest(t *testing.T) {
	f := newFixture(t, testManifest)
	f.srv.PutRepo(nexustest.Repo{Name: "legacy", Type: "raw-hosted", Online: true})

	out, err := f.run(t, "apply")
	require.NoError(t, err)

	repo, ok := f.srv.Repo("releases")
	require.True(t, ok)
	assert.Equal(t, "maven2-hosted", repo.Type)
	assert.True(t, repo.Online)

	_, ok = f.srv.Repo("legacy")
	assert.False(t, ok)

	task, ok := f.srv.Task("cleanup")
	require.True(t, ok)
	assert.Equal(t, "0 1 * * * ?", task.Crontab)

	assert.Contains(t, out, "3 objects: 3 changed, 0 unchanged, 0 failed")

	out, err = f.run(t, "apply")
	require.NoError(t, err)
	assert.Contains(t, out, "3 objects: 0 changed, 3 unchanged, 0 failed")
}

func TestPlan_ChangesNothing(t *testing.T) {
	f := newFixture(t, testManifest)

	out, err := f.run(t, "plan")
	require.NoError(t, err)

	assert.Zero(t, f.srv.MutatingRuns())
	_, ok := f.srv.Repo("releases")
	assert.False(t, ok)
	assert.Contains(t, out, "2 to change, 1 unchanged")
}

func TestApply_OnlyMatchingObjects(t *testing.T) {
	f := newFixture(t, testManifest)

	out, err := f.run(t, "apply", "--kind", "task")
	require.NoError(t, err)

	_, ok := f.srv.Task("cleanup")
	assert.True(t, ok)
	_, ok = f.srv.Repo("releases")
	assert.False(t, ok)
	assert.Contains(t, out, "1 objects: 1 changed")
}

func TestApply_FailsWhenAnObjectFails(t *testing.T) {
	f := newFixture(t, testManifest)
	f.srv.PutTask(nexustest.Task{Name: "cleanup", Source: "old", Crontab: "0 1 * * * ?", Running: true})

	out, err := f.run(t, "apply")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 objects failed")

	_, ok := f.srv.Repo("releases")
	assert.True(t, ok, "other objects still converge")
	assert.Contains(t, out, "is running")
}

func TestApply_UnknownServerInManifest(t *testing.T) {
	f := newFixture(t, `
version: "1"
repositories:
  - server: staging
    name: releases
`)

	_, err := f.run(t, "apply")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging")
	assert.Zero(t, f.srv.Runs(scripts.GetRepo))
}

func TestScriptsInstall(t *testing.T) {
	f := newFixture(t, testManifest)

	out, err := f.run(t, "scripts", "install")
	require.NoError(t, err)

	for _, def := range scripts.All() {
		assert.True(t, f.srv.ScriptInstalled(def.Name()))
		assert.Contains(t, out, "primary: "+def.Name()+" created")
	}
}

func TestScriptsInstall_ReportsConflict(t *testing.T) {
	f := newFixture(t, testManifest)
	f.srv.InstallScript(scripts.MustGet(scripts.GetRepo).Name(), "return null")

	_, err := f.run(t, "scripts", "install", "--server", "primary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed on 1 of 1 servers")
}

func TestJournal_PrintsRecordedSteps(t *testing.T) {
	f := newFixture(t, `
version: "1"
repositories:
  - server: primary
    name: releases
`)
	_, err := f.run(t, "apply")
	require.NoError(t, err)

	out, err := f.run(t, "journal", "--since", "1h")
	require.NoError(t, err)

	for _, step := range []string{"observed", "decided", "executing", "executed"} {
		assert.Contains(t, out, step)
	}
	assert.Contains(t, out, "releases@"+f.srv.Endpoint())
}

func TestPrintScripts(t *testing.T) {
	var buf bytes.Buffer
	printScripts(&buf, scripts.All())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, len(scripts.All())+1)
	assert.Contains(t, lines[0], "SHA256")
	assert.Contains(t, buf.String(), scripts.MustGet(scripts.UpsertTask).Hash()[:12])
}

func TestPrintCycle(t *testing.T) {
	result := &orchestrator.CycleResult{
		Entries:   2,
		Unchanged: 1,
		Failed:    1,
		Duration:  1500 * time.Millisecond,
		Results: []reconciler.Result{
			{
				Kind: "repository", Resource: "releases@http://nexus", Action: types.ActionUpdate,
				Outcome: types.OutcomeUnchanged,
				Changes: []types.Change{{Field: "online"}, {Field: "attributes"}},
			},
			{
				Kind: "task", Resource: "cleanup@http://nexus", Action: types.ActionDelete,
				Outcome: types.OutcomeError, Error: "task cleanup is running",
			},
		},
	}

	var buf bytes.Buffer
	printCycle(&buf, result, true)

	out := buf.String()
	assert.Contains(t, out, "attributes,online")
	assert.Contains(t, out, "task cleanup is running")
	assert.Contains(t, out, "2 objects: 1 to change, 0 unchanged, 1 failed (1.5s)")
}
