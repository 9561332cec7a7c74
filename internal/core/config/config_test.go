package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/pkg/errs"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	t.Setenv("BERTH_HOME", t.TempDir())
	dir := t.TempDir()
	p := filepath.Join(dir, ProjectFile)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadTemplate(t *testing.T) {
	require.NoError(t, CheckTemplate(DefaultConfigTemplate))
	p := writeManifest(t, DefaultConfigTemplate)

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.System.Namespace)
	assert.Equal(t, filepath.Dir(p), cfg.System.RepoPath)
	assert.Equal(t, "localhost:8011", cfg.RegistryAddress())
	assert.Equal(t, 4, cfg.Retention.Window)

	web, err := cfg.Definition("web")
	require.NoError(t, err)
	src, ok := web.Source()
	require.True(t, ok)
	assert.Equal(t, "build.sh", src.BuildScript)

	cache, err := cfg.Definition("cache")
	require.NoError(t, err)
	pull, ok := cache.Pull()
	require.True(t, ok)
	assert.Equal(t, "redis:7", pull.Name)

	assert.Equal(t, "10.0.0.11", cfg.Target("web-01").Address())
	assert.Equal(t, v1.Target{IPAddress: "10.9.9.9"}, cfg.Target("10.9.9.9"))
}

func TestLoadRejectsBothStrategies(t *testing.T) {
	p := writeManifest(t, `
system: {namespace: n, name: s}
definitions:
  - id: both
    repository_url: git@x:y/z.git
    image: redis
    execute: {args: -d}
`)
	_, err := Load(p)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrConfig))
}

func TestLoadRejectsMalformedDiscoveredManifest(t *testing.T) {
	p := writeManifest(t, "system: {namespace: n\ndefinitions: [\n")
	sub := filepath.Join(filepath.Dir(p), "services", "web")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	t.Chdir(sub)

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrConfig))
}

func TestLoadRejectsPullWithoutExecute(t *testing.T) {
	p := writeManifest(t, `
system: {namespace: n, name: s}
definitions:
  - id: cache
    image: redis
`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestValidateUnknownDefinition(t *testing.T) {
	p := writeManifest(t, `
system: {namespace: n, name: s}
definitions:
  - id: web
    repository_url: git@x:y/web.git
containers:
  - id: web-1
    definition: api
`)
	_, err := Load(p)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))
}

func TestValidateMissingSystem(t *testing.T) {
	p := writeManifest(t, `
definitions:
  - id: web
    repository_url: git@x:y/web.git
`)
	_, err := Load(p)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))
}

func TestEnvOverride(t *testing.T) {
	p := writeManifest(t, "system: {namespace: n, name: s}\n")
	t.Setenv("BERTH_TAG_APPEND", "canary")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "canary", cfg.TagAppend)
}
