package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"devstack/internal/app"
	"devstack/internal/backend/fakebackend"
	"devstack/internal/cli"
	"devstack/internal/descriptor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const landoTest = `name: lando-test
services:
  node:
    type: node:8.9
  redis:
    type: redis:4.0
`

type cliRun struct {
	stdout string
	stderr string
	code   int
}

// harness runs commands against a fake backend with state under a temporary
// home directory.
type harness struct {
	t       *testing.T
	backend *fakebackend.Backend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	h := &harness{t: t, backend: fakebackend.New()}
	orig := newApplication
	t.Cleanup(func() { newApplication = orig })
	newApplication = func(ctx context.Context, cfg *app.Config) (*app.Application, error) {
		cfg.Backend = h.backend
		return orig(ctx, cfg)
	}
	return h
}

func (h *harness) run(stdin string, args ...string) cliRun {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd := NewRootCmd()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	code := execute(context.Background(), rootCmd, args)
	return cliRun{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func writeApp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptor.FileNames[0]), []byte(content), 0o644))
	return dir
}

func TestRootCommand(t *testing.T) {
	rootCmd := NewRootCmd()

	assert.Equal(t, "devstack", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{
		"start", "stop", "restart", "rebuild", "destroy", "info", "list",
		"logs", "poweroff", "share", "version",
	}, names)
}

func TestVersion(t *testing.T) {
	orig := version
	t.Cleanup(func() { version = orig })
	SetVersion("1.2.3-test")

	h := newHarness(t)
	out := h.run("", "version")
	assert.Equal(t, 0, out.code)
	assert.Equal(t, "devstack version 1.2.3-test\n", out.stdout)

	out = h.run("", "--version")
	assert.Equal(t, "devstack version 1.2.3-test\n", out.stdout)
}

func TestDemoScenario(t *testing.T) {
	h := newHarness(t)
	dir := writeApp(t, landoTest)

	out := h.run("", "start", "-C", dir)
	require.Equal(t, cli.ExitOK, out.code, out.stderr)
	assert.Contains(t, out.stdout, "start lando-test: 2 succeeded, 0 failed")
	assert.ElementsMatch(t, []string{"landotest_node_1", "landotest_redis_1"}, h.backend.Names())

	out = h.run("", "info", "-C", dir)
	require.Equal(t, cli.ExitOK, out.code, out.stderr)
	var info map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.stdout), &info))
	assert.Equal(t, map[string]any{"host": "redis", "port": float64(6379)}, info["redis"]["internal_connection"])
	assert.Equal(t, "running", info["node"]["status"])

	out = h.run("", "list")
	require.Equal(t, cli.ExitOK, out.code, out.stderr)
	var apps []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.stdout), &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, "lando-test", apps[0]["name"])

	out = h.run("", "destroy", "-y", "-C", dir)
	require.Equal(t, cli.ExitOK, out.code, out.stderr)
	assert.Empty(t, h.backend.Names())

	out = h.run("", "list")
	assert.JSONEq(t, "[]", out.stdout)
}

func TestDestroyConfirmation(t *testing.T) {
	h := newHarness(t)
	dir := writeApp(t, landoTest)
	require.Equal(t, cli.ExitOK, h.run("", "start", "-C", dir).code)

	out := h.run("n\n", "destroy", "-C", dir)
	assert.Equal(t, cli.ExitOK, out.code)
	assert.Contains(t, out.stdout, "Are you sure you want to destroy lando-test?")
	assert.Contains(t, out.stdout, "Destroy aborted")
	assert.Len(t, h.backend.Names(), 2)

	out = h.run("yes\n", "destroy", "-C", dir)
	assert.Equal(t, cli.ExitOK, out.code, out.stderr)
	assert.Empty(t, h.backend.Names())
}

func TestExitCodes(t *testing.T) {
	h := newHarness(t)
	dir := writeApp(t, landoTest)

	t.Run("missing descriptor", func(t *testing.T) {
		out := h.run("", "start", "-C", t.TempDir())
		assert.Equal(t, cli.ExitConfig, out.code)
		assert.Contains(t, out.stderr, "Error:")
		assert.Empty(t, h.backend.Calls(), "backend must not be contacted")
	})

	t.Run("unknown type", func(t *testing.T) {
		bad := writeApp(t, "name: bad\nservices:\n  x:\n    type: cobol:1\n")
		out := h.run("", "start", "-C", bad)
		assert.Equal(t, cli.ExitConfig, out.code)
	})

	t.Run("bad flag", func(t *testing.T) {
		out := h.run("", "start", "--no-such-flag")
		assert.Equal(t, cli.ExitConfig, out.code)
	})

	t.Run("positional argument", func(t *testing.T) {
		out := h.run("", "stop", "extra")
		assert.Equal(t, cli.ExitConfig, out.code)
	})

	t.Run("bad format", func(t *testing.T) {
		out := h.run("", "list", "--format", "xml")
		assert.Equal(t, cli.ExitConfig, out.code)
	})

	t.Run("service failure", func(t *testing.T) {
		h.backend.FailAlways(fakebackend.OpStart, "landotest_redis_1", assert.AnError)
		out := h.run("", "start", "-C", dir)
		assert.Equal(t, cli.ExitFailed, out.code)
		assert.Contains(t, out.stdout, "1 failed")
	})
}

func TestLogsAndPoweroff(t *testing.T) {
	h := newHarness(t)
	dir := writeApp(t, landoTest)
	require.Equal(t, cli.ExitOK, h.run("", "start", "-C", dir).code)
	h.backend.SetLogs("landotest_redis_1", "Ready to accept connections\n")

	out := h.run("", "logs", "-s", "redis", "-C", dir)
	require.Equal(t, cli.ExitOK, out.code, out.stderr)
	assert.Equal(t, "landotest_redis_1 | Ready to accept connections\n", out.stdout)

	out = h.run("", "poweroff", "--log-level", "error")
	require.Equal(t, cli.ExitOK, out.code, out.stderr)
	assert.Contains(t, out.stdout, "poweroff lando-test: 2 succeeded")
	assert.ElementsMatch(t, []string{"landotest_redis_1", "landotest_node_1"}, h.backend.CallsFor(fakebackend.OpStop))
}
