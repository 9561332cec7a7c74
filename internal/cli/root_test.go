package cli

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/pkg/pprint"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	return root.Execute()
}

func quiet(t *testing.T) {
	t.Helper()
	pprint.SetOutput(io.Discard, io.Discard)
	t.Cleanup(func() { pprint.SetOutput(os.Stdout, os.Stderr) })
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()
	want := []string{
		"init", "build", "deploy", "start", "stop", "link", "unlink", "undeploy",
		"up", "down", "images", "targets", "registry", "history", "ui", "version",
	}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	add, _, err := root.Find([]string{"add"})
	require.NoError(t, err)
	assert.Equal(t, "deploy", add.Name())
	remove, _, err := root.Find([]string{"remove"})
	require.NoError(t, err)
	assert.Equal(t, "undeploy", remove.Name())
}

func TestInitWritesManifestOnce(t *testing.T) {
	quiet(t)
	dir := t.TempDir()

	require.NoError(t, run(t, "init", "--path", dir))
	_, err := os.Stat(filepath.Join(dir, config.ProjectFile))
	require.NoError(t, err)

	assert.Error(t, run(t, "init", "--path", dir))
}

func TestRuntimeCommandsOpenState(t *testing.T) {
	quiet(t)
	home := t.TempDir()
	t.Setenv("BERTH_HOME", home)
	dir := t.TempDir()
	require.NoError(t, run(t, "init", "--path", dir))
	manifest := filepath.Join(dir, config.ProjectFile)

	require.NoError(t, run(t, "--config", manifest, "history"))
	require.NoError(t, run(t, "--config", manifest, "targets", "add", "web-02", "ubuntu@203.0.113.12:2222"))

	_, err := os.Stat(filepath.Join(home, "state.db"))
	assert.NoError(t, err)
}

func TestBadConfigFails(t *testing.T) {
	quiet(t)
	t.Setenv("BERTH_HOME", t.TempDir())

	err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "history")
	assert.Error(t, err)
}

func TestVersionSkipsRuntime(t *testing.T) {
	quiet(t)
	t.Setenv("BERTH_HOME", filepath.Join(t.TempDir(), "never-created"))

	require.NoError(t, run(t, "version"))
	_, err := os.Stat(filepath.Join(os.Getenv("BERTH_HOME"), "state.db"))
	assert.True(t, os.IsNotExist(err))
}
