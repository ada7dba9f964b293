package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a temporary config file
func createTempConfigFile(t *testing.T, dir string, filename string, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	tempFilePath := filepath.Join(dir, filename)
	err := os.WriteFile(tempFilePath, []byte(content), 0644)
	assert.NoError(t, err)
	return tempFilePath
}

// mockPaths points the loader at a temporary home and working directory.
func mockPaths(t *testing.T) (home, wd string) {
	t.Helper()
	home = t.TempDir()
	wd = t.TempDir()

	originalHome := osUserHomeDir
	originalWd := osGetwd
	t.Cleanup(func() {
		osUserHomeDir = originalHome
		osGetwd = originalWd
	})

	osUserHomeDir = func() (string, error) { return home, nil }
	osGetwd = func() (string, error) { return wd, nil }
	return home, wd
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	home, _ := mockPaths(t)

	loadedConfig, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "docker", loadedConfig.Runtime)
	assert.Equal(t, "info", loadedConfig.LogLevel)
	assert.Equal(t, 2, loadedConfig.Reconcile.Retries())
	assert.Equal(t, 4, loadedConfig.Reconcile.MaxParallel)
	assert.Equal(t, 2*time.Minute, loadedConfig.Reconcile.ActionTimeout)
	assert.Equal(t, MergeAppend, loadedConfig.Merge.Ports)
	assert.Equal(t, filepath.Join(home, defaultStateDir), loadedConfig.StateDir)
}

func TestLoadConfig_UserOverride(t *testing.T) {
	home, _ := mockPaths(t)

	createTempConfigFile(t, filepath.Join(home, userConfigDir), configFileName, `
runtime: podman
reconcile:
  maxRetries: 0
  retryDelay: 10ms
images:
  node: registry.example.com/node
`)

	loadedConfig, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "podman", loadedConfig.Runtime)
	// An explicit zero must survive the merge
	assert.Equal(t, 0, loadedConfig.Reconcile.Retries())
	assert.Equal(t, 10*time.Millisecond, loadedConfig.Reconcile.RetryDelay)
	// Untouched values keep their defaults
	assert.Equal(t, 2*time.Minute, loadedConfig.Reconcile.ActionTimeout)
	assert.Equal(t, "registry.example.com/node", loadedConfig.Images["node"])
}

func TestLoadConfig_ProjectOverridesUser(t *testing.T) {
	home, wd := mockPaths(t)

	createTempConfigFile(t, filepath.Join(home, userConfigDir), configFileName, `
runtime: podman
merge:
  ports: replace
images:
  node: user/node
  redis: user/redis
`)
	createTempConfigFile(t, filepath.Join(wd, projectConfigDir), configFileName, `
runtime: docker
stateDir: ~/custom-state
images:
  node: project/node
`)

	loadedConfig, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "docker", loadedConfig.Runtime)
	assert.Equal(t, MergeReplace, loadedConfig.Merge.Ports)
	assert.Equal(t, MergeAppend, loadedConfig.Merge.Volumes)
	assert.Equal(t, "project/node", loadedConfig.Images["node"])
	assert.Equal(t, "user/redis", loadedConfig.Images["redis"])
	assert.Equal(t, filepath.Join(home, "custom-state"), loadedConfig.StateDir)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed yaml", content: "runtime: [docker"},
		{name: "unknown runtime", content: "runtime: rkt"},
		{name: "bad merge mode", content: "merge:\n  ports: union"},
		{name: "negative retries", content: "reconcile:\n  maxRetries: -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home, _ := mockPaths(t)
			createTempConfigFile(t, filepath.Join(home, userConfigDir), configFileName, tt.content)

			_, err := LoadConfig()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestMergeConfigs_ImagesAreCopied(t *testing.T) {
	base := GetDefaultConfig()
	base.Images["php"] = "base/php"

	merged := mergeConfigs(base, DevstackConfig{Images: map[string]string{"go": "overlay/go"}})
	merged.Images["php"] = "changed"

	assert.Equal(t, "base/php", base.Images["php"])
	assert.Equal(t, "overlay/go", merged.Images["go"])
}
