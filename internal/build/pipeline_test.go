package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/command"
	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/shell"
	"github.com/f9-o/berth/pkg/errs"
)

type call struct{ cmd, dir string }

type fakeRunner struct {
	calls   []call
	results map[string]shell.Result
}

func (r *fakeRunner) Run(_ context.Context, mode v1.Mode, cmd, dir string, out v1.Output) (shell.Result, error) {
	out.Preview(v1.PreviewEvent{Cmd: cmd, Host: shell.LocalHost})
	if mode.IsPreview() {
		return shell.Result{}, nil
	}
	r.calls = append(r.calls, call{cmd, dir})
	for prefix, res := range r.results {
		if strings.HasPrefix(cmd, prefix) {
			return res, nil
		}
	}
	return shell.Result{}, nil
}

func (r *fakeRunner) cmds() []string {
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.cmd
	}
	return out
}

type fakeFinder struct {
	searches []string
	id       string
}

func (f *fakeFinder) FindImage(_ context.Context, search string) (string, bool, error) {
	f.searches = append(f.searches, search)
	return f.id, f.id != "", nil
}

type fakeGit struct {
	cloned []string
	head   string
}

func (g *fakeGit) Clone(_ context.Context, url, dir string, _ v1.Output) error {
	g.cloned = append(g.cloned, url+" "+dir)
	return os.MkdirAll(dir, 0o755)
}

func (g *fakeGit) Head(string) (string, error) { return g.head, nil }

type sink struct{ previews []string }

func (s *sink) Stdout(string)              {}
func (s *sink) Progress(string)            {}
func (s *sink) Preview(ev v1.PreviewEvent) { s.previews = append(s.previews, ev.Cmd) }

func newPipeline(t *testing.T, r *fakeRunner, f *fakeFinder, g Git, cfg *config.Config) *Pipeline {
	t.Helper()
	tpl := command.New("localhost:8011", "", 4, command.Unattended)
	p := New(r, f, g, tpl, cfg, logger.Nop())
	socket := filepath.Join(t.TempDir(), "docker.sock")
	require.NoError(t, os.WriteFile(socket, nil, 0o600))
	p.socket = socket
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return p
}

func initRepo(t *testing.T, dir string) string {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("Dockerfile")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "berth", Email: "berth@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	root := t.TempDir()
	checkout := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(checkout, 0o755))
	head := initRepo(t, checkout)
	require.NoError(t, os.WriteFile(filepath.Join(checkout, "package.json"), []byte(`{"name":"web","version":"1.4.2"}`), 0o644))

	cfg := &config.Config{}
	cfg.Build.Export = true
	r, f := &fakeRunner{}, &fakeFinder{id: "sha256:cafe"}
	p := newPipeline(t, r, f, GoGit{}, cfg)

	def := &v1.Definition{ID: "web", Build: v1.SourceBuild{RepositoryURL: "git@github.com:acme/web.git", CheckoutDir: checkout}}
	def.Artifact.ImageTags = []string{"localhost:8011/acme/web:1600000000000"}
	sys := v1.System{Namespace: "acme", Name: "shop", RepoPath: root}

	art, err := p.Run(context.Background(), Input{Mode: v1.ModeReal, System: sys, Definition: def, Out: &sink{}})
	require.NoError(t, err)

	binary := filepath.Join(root, "builds", "web-1700000000000.tar")
	assert.Equal(t, []string{
		"docker build -t localhost:8011/acme/web .",
		"docker tag localhost:8011/acme/web localhost:8011/acme/web:1700000000000",
		"docker push localhost:8011/acme/web",
		"docker save -o " + binary + " localhost:8011/acme/web",
	}, r.cmds())
	assert.Equal(t, filepath.Join(checkout, "."), r.calls[0].dir)
	assert.Equal(t, []string{"localhost:8011/acme/web:1700000000000"}, f.searches)

	assert.Equal(t, "sha256:cafe", art.DockerImageID)
	assert.Equal(t, "localhost:8011/acme/web", art.DockerLocalTag)
	assert.Equal(t, "1700000000000", art.BuildNumber)
	assert.Equal(t, head, art.BuildHead)
	assert.Equal(t, binary, art.Binary)
	assert.Equal(t, []string{"localhost:8011/acme/web:1600000000000", "localhost:8011/acme/web:1700000000000"}, art.ImageTags)

	assert.Equal(t, art, def.Artifact)
	assert.Equal(t, "1.4.2", def.Version)
	assert.DirExists(t, filepath.Join(root, "builds"))
}

func TestPipelineBuildScriptSelectsTargetPath(t *testing.T) {
	checkout := t.TempDir()
	r := &fakeRunner{results: map[string]shell.Result{"sh ./build.sh": {Last: "dist"}}}
	p := newPipeline(t, r, &fakeFinder{id: "sha256:1"}, &fakeGit{}, &config.Config{})
	def := &v1.Definition{ID: "web", Build: v1.SourceBuild{RepositoryURL: "git@github.com:acme/web.git", CheckoutDir: checkout, BuildScript: "build.sh"}}

	_, err := p.Run(context.Background(), Input{Mode: v1.ModeReal, System: v1.System{Namespace: "acme"}, Definition: def, Out: &sink{}})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(r.calls), 2)
	assert.Equal(t, call{"sh ./build.sh", checkout}, r.calls[0])
	assert.Equal(t, filepath.Join(checkout, "dist"), r.calls[1].dir)
	assert.Equal(t, UnspecifiedVersion, def.Version)
}

func TestPipelinePreviewLeavesDefinitionAlone(t *testing.T) {
	root := t.TempDir()
	r, f, g := &fakeRunner{}, &fakeFinder{id: "sha256:1"}, &fakeGit{}
	p := newPipeline(t, r, f, g, &config.Config{})
	def := &v1.Definition{ID: "web", Build: v1.SourceBuild{RepositoryURL: "git@github.com:acme/web.git", Commit: "abc123"}}
	out := &sink{}

	art, err := p.Run(context.Background(), Input{Mode: v1.ModePreview, System: v1.System{Namespace: "acme", RepoPath: root}, Definition: def, Out: out})
	require.NoError(t, err)

	assert.Empty(t, r.calls)
	assert.Empty(t, f.searches)
	assert.Empty(t, g.cloned)
	assert.Equal(t, v1.Artifact{}, def.Artifact)
	assert.Empty(t, def.Version)
	assert.Empty(t, art.DockerImageID)
	require.NotEmpty(t, out.previews)
	assert.Equal(t, "git clone git@github.com:acme/web.git "+filepath.Join(root, "workspace", "web"), out.previews[0])
	assert.Contains(t, out.previews[1], "git checkout -q abc123")
	assert.NoDirExists(t, filepath.Join(root, "workspace"))
}

func TestPipelineClonesMissingWorkspace(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{}
	p := newPipeline(t, &fakeRunner{}, &fakeFinder{id: "sha256:1"}, g, &config.Config{})
	def := &v1.Definition{ID: "web", Build: v1.SourceBuild{RepositoryURL: "https://github.com/acme/web.git"}}

	_, err := p.Run(context.Background(), Input{Mode: v1.ModeReal, System: v1.System{Namespace: "acme", RepoPath: root}, Definition: def, Out: &sink{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://github.com/acme/web.git " + filepath.Join(root, "workspace", "web")}, g.cloned)
}

func TestPipelinePrecheckFailsBeforeWork(t *testing.T) {
	t.Setenv("DOCKER_HOST", "")
	r := &fakeRunner{}
	p := newPipeline(t, r, &fakeFinder{}, &fakeGit{}, &config.Config{})
	p.socket = filepath.Join(t.TempDir(), "missing.sock")
	def := &v1.Definition{ID: "web", Build: v1.SourceBuild{RepositoryURL: "git@github.com:acme/web.git", CheckoutDir: t.TempDir()}}

	_, err := p.Run(context.Background(), Input{Mode: v1.ModeReal, System: v1.System{Namespace: "acme"}, Definition: def, Out: &sink{}})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrPrecheck))
	assert.Empty(t, r.calls)
}

func TestPipelineResolveMiss(t *testing.T) {
	p := newPipeline(t, &fakeRunner{}, &fakeFinder{}, &fakeGit{}, &config.Config{})
	def := &v1.Definition{ID: "web", Build: v1.SourceBuild{RepositoryURL: "git@github.com:acme/web.git", CheckoutDir: t.TempDir()}}
	_, err := p.Run(context.Background(), Input{Mode: v1.ModeReal, System: v1.System{Namespace: "acme"}, Definition: def, Out: &sink{}})
	assert.True(t, errs.IsCode(err, errs.ErrImageLookup))
	assert.Empty(t, def.Artifact.ImageTags)
}

func TestPipelineRejectsMalformedRepositoryURL(t *testing.T) {
	p := newPipeline(t, &fakeRunner{}, &fakeFinder{}, &fakeGit{}, &config.Config{})
	def := &v1.Definition{ID: "web", Build: v1.SourceBuild{RepositoryURL: "not-a-repo"}}
	_, err := p.Run(context.Background(), Input{Mode: v1.ModeReal, System: v1.System{Namespace: "acme", RepoPath: t.TempDir()}, Definition: def, Out: &sink{}})
	assert.True(t, errs.IsCode(err, errs.ErrConfig))
}

func TestReadVersion(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, UnspecifiedVersion, ReadVersion(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{not json"), 0o644))
	assert.Equal(t, UnspecifiedVersion, ReadVersion(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"version":"2.0.0"}`), 0o644))
	assert.Equal(t, "2.0.0", ReadVersion(dir))
}

func TestStageOrder(t *testing.T) {
	p := New(nil, nil, nil, nil, &config.Config{}, logger.Nop())
	var names []string
	for _, s := range p.Stages() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"precheck", "checkout", "prebuild", "image", "tag", "push", "export", "resolve", "version", "merge"}, names)
}
