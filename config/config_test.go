package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nexconv/types"
)

const yamlManifest = `
version: "1"
repositories:
  - server: primary
    name: releases
    type: maven2-hosted
    online: true
    attributes:
      storage:
        blobStoreName: default
        writePolicy: ALLOW_ONCE
  - server: primary
    name: old-snapshots
    ensure: absent
tasks:
  - server: primary
    name: cleanup
    source: "log.info('cleanup')"
    crontab: "0 2 * * * ?"
`

const jsoncManifest = `{
  // nightly jobs only
  "version": "1",
  "tasks": [
    {
      "server": "primary",
      "name": "cleanup",
      "source": "v2", /* replaced weekly */
    },
  ],
}`

func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	m, err := Load(writeManifest(t, "nexconv.yaml", yamlManifest))
	require.NoError(t, err)

	entries := m.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, "repository", entries[0].Kind)
	assert.Equal(t, "releases", entries[0].Name)
	assert.Equal(t, types.IntentPresent, entries[0].Intent)
	assert.Equal(t, true, entries[0].Desired["online"])
	storage := entries[0].Desired["attributes"].(map[string]any)["storage"].(map[string]any)
	assert.Equal(t, "ALLOW_ONCE", storage["writePolicy"])

	assert.Equal(t, types.IntentAbsent, entries[1].Intent)
	_, hasOnline := entries[1].Desired["online"]
	assert.False(t, hasOnline)

	assert.Equal(t, "task", entries[2].Kind)
	assert.Equal(t, "0 2 * * * ?", entries[2].Desired["crontab"])
}

func TestLoad_JSONC(t *testing.T) {
	m, err := Load(writeManifest(t, "nexconv.jsonc", jsoncManifest))
	require.NoError(t, err)

	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "cleanup", entries[0].Name)
	assert.Equal(t, "v2", entries[0].Desired["source"])
	_, hasCrontab := entries[0].Desired["crontab"]
	assert.False(t, hasCrontab)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/nexconv.yaml")
	assert.Error(t, err)
}

func TestParseYAML_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing version", "repositories: []\n", "version is required"},
		{"wrong version", "version: \"2\"\n", "unsupported version"},
		{"unknown key", "version: \"1\"\nrepos: []\n", "repos"},
		{"missing server", "version: \"1\"\ntasks:\n  - name: cleanup\n", "server is required"},
		{"missing name", "version: \"1\"\ntasks:\n  - server: primary\n", "name is required"},
		{"bad ensure", "version: \"1\"\ntasks:\n  - server: p\n    name: c\n    ensure: gone\n", "ensure must be"},
		{"duplicate", "version: \"1\"\ntasks:\n  - server: p\n    name: c\n  - server: p\n    name: c\n", "declared twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseYAML_SameNameOnDifferentServers(t *testing.T) {
	content := "version: \"1\"\ntasks:\n  - server: a\n    name: cleanup\n  - server: b\n    name: cleanup\n"
	m, err := ParseYAML([]byte(content))
	require.NoError(t, err)
	assert.Len(t, m.Entries(), 2)
}

func TestParseJSON_UnknownField(t *testing.T) {
	_, err := ParseJSON([]byte(`{"version": "1", "tasks": [{"server": "p", "name": "c", "schedule": "daily"}]}`))
	assert.Error(t, err)
}

func TestValidateServers(t *testing.T) {
	m, err := ParseYAML([]byte(yamlManifest))
	require.NoError(t, err)

	assert.NoError(t, m.ValidateServers(map[string]types.Server{"primary": {}}))

	err = m.ValidateServers(map[string]types.Server{"backup": {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown server "primary"`)
}
