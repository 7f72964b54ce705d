package scripts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_ContainsEveryOperation(t *testing.T) {
	var ops []string
	for _, def := range All() {
		ops = append(ops, def.Operation)
		assert.Equal(t, LanguageGroovy, def.Language)
		assert.NotEmpty(t, strings.TrimSpace(def.Body), def.Operation)
	}

	assert.Equal(t, []string{DeleteRepo, DeleteTask, GetRepo, GetTask, UpsertRepo, UpsertTask}, ops)
}

func TestDefinition_NameCarriesVersion(t *testing.T) {
	def := MustGet(GetRepo)
	assert.Equal(t, "get_repo_v1", def.Name())
}

func TestDefinition_HashIsStable(t *testing.T) {
	a := MustGet(UpsertTask)
	b := MustGet(UpsertTask)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 64)
	assert.NotEqual(t, a.Hash(), MustGet(DeleteTask).Hash())
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("drop_database")
	require.Error(t, err)
	assert.Panics(t, func() { MustGet("drop_database") })
}

func TestBodies_ReadArgumentsAsJSON(t *testing.T) {
	for _, def := range All() {
		assert.Contains(t, def.Body, "new JsonSlurper().parseText(args)", def.Operation)
	}
}

func TestUpsertRepo_ChecksRecipeBeforeMutating(t *testing.T) {
	body := MustGet(UpsertRepo).Body
	check := strings.Index(body, "getRecipeName() != params.type")
	stop := strings.Index(body, "repo.stop()")
	require.NotEqual(t, -1, check)
	require.NotEqual(t, -1, stop)
	assert.Less(t, check, stop)
}

func TestTaskScripts_ReportBusyInsteadOfThrowing(t *testing.T) {
	for _, op := range []string{UpsertTask, DeleteTask} {
		assert.Contains(t, MustGet(op).Body, "outcome: 'busy'", op)
	}
}
