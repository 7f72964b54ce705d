package orchestrator

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nexconv/config"
	"github.com/yairfalse/nexconv/internal/nexustest"
	"github.com/yairfalse/nexconv/reconciler"
	"github.com/yairfalse/nexconv/registry"
	"github.com/yairfalse/nexconv/types"
)

const manifestYAML = `
version: "1"
repositories:
  - server: primary
    name: releases
  - server: primary
    name: legacy
    type: npm-hosted
  - server: primary
    name: old
    ensure: absent
tasks:
  - server: primary
    name: cleanup
    source: v2
  - server: elsewhere
    name: orphan
`

func TestOrchestrator_RunCycle(t *testing.T) {
	srv := nexustest.New(t)
	srv.PutRepo(nexustest.Repo{Name: "legacy", Type: "maven2-hosted", Online: true})
	srv.PutRepo(nexustest.Repo{Name: "old", Type: "maven2-hosted", Online: true})
	srv.PutTask(nexustest.Task{Name: "cleanup", Source: "v1", Crontab: "0 1 * * * ?"})

	manifest, err := config.ParseYAML([]byte(manifestYAML))
	require.NoError(t, err)

	engine := reconciler.NewEngine(registry.NewConnector(0, nil), reconciler.Options{})
	orch := NewOrchestrator(engine, map[string]types.Server{"primary": srv.ServerConfig()}, nil)

	result, err := orch.RunCycle(context.Background(), manifest)
	require.NoError(t, err)

	_, err = uuid.Parse(result.ID)
	assert.NoError(t, err)
	assert.Equal(t, 5, result.Entries)
	assert.Equal(t, 3, result.Changed)
	assert.Equal(t, 0, result.Unchanged)
	assert.Equal(t, 2, result.Failed)
	assert.False(t, result.Success)
	require.Len(t, result.Results, 5)
	assert.Len(t, result.Errors, 2)

	byName := make(map[string]reconciler.Result)
	for _, r := range result.Results {
		byName[r.Resource] = r
	}
	assert.Equal(t, types.KindImmutable, byName["legacy@"+srv.Endpoint()].ErrorKind)
	assert.Equal(t, types.KindValidation, byName["orphan"].ErrorKind)

	_, ok := srv.Repo("releases")
	assert.True(t, ok)
	_, ok = srv.Repo("old")
	assert.False(t, ok)
	cleanup, _ := srv.Task("cleanup")
	assert.Equal(t, "v2", cleanup.Source)
}

func TestOrchestrator_SecondCycleIsUnchanged(t *testing.T) {
	srv := nexustest.New(t)
	manifest, err := config.ParseYAML([]byte("version: \"1\"\nrepositories:\n  - server: primary\n    name: releases\n"))
	require.NoError(t, err)

	engine := reconciler.NewEngine(registry.NewConnector(0, nil), reconciler.Options{})
	orch := NewOrchestrator(engine, map[string]types.Server{"primary": srv.ServerConfig()}, nil)
	ctx := context.Background()

	_, err = orch.RunCycle(ctx, manifest)
	require.NoError(t, err)
	result, err := orch.RunCycle(ctx, manifest)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 1, srv.MutatingRuns())
}

func TestOrchestrator_StopsOnCancelledContext(t *testing.T) {
	srv := nexustest.New(t)
	manifest, err := config.ParseYAML([]byte("version: \"1\"\nrepositories:\n  - server: primary\n    name: releases\n"))
	require.NoError(t, err)

	engine := reconciler.NewEngine(registry.NewConnector(0, nil), reconciler.Options{})
	orch := NewOrchestrator(engine, map[string]types.Server{"primary": srv.ServerConfig()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orch.RunCycle(ctx, manifest)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Success)
	assert.Zero(t, srv.Runs("get_repo"))
}
