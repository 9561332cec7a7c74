package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/command"
	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/shell"
	"github.com/f9-o/berth/pkg/errs"
)

const runID = "4f2a9c1e8b7d6a5f4e3d2c1b0a9f8e7d6c5b4a3f2e1d0c9b8a7f6e5d4c3b2a19"

var sys = v1.System{Namespace: "acme", Name: "shop", RepoPath: "/srv/shop"}

func templates() *command.Templates {
	return command.New("localhost:8011", "", 4, command.Unattended)
}

func sourceDef() *v1.Definition {
	return &v1.Definition{ID: "web", Name: "web", Build: v1.SourceBuild{RepositoryURL: "git@github.com:acme/web.git"}}
}

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func newLocal(r Runner) *Local {
	l := NewLocal(r, templates(), os.TempDir(), logger.Nop())
	l.now = fixedClock
	return l
}

func newRemote(sh RemoteShell, tun TunnelOpener, p Poller) *Remote {
	cfg := &config.Config{}
	cfg.Registry.Port = 8011
	cfg.SSH.IdentityFile = "keys/id_rsa"
	r := NewRemote(sh, tun, p, templates(), cfg, logger.Nop())
	r.now = fixedClock
	return r
}

func TestLocalStartRecordsContainerID(t *testing.T) {
	r := &fakeRunner{results: map[string]shell.Result{"docker run": {Last: runID, Output: runID + "\n"}}}
	c := &v1.Container{ID: "web-1"}
	out := &captureOutput{}

	err := newLocal(r).Start(context.Background(), Request{
		Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Container: c, Out: out,
	})
	require.NoError(t, err)
	require.Len(t, r.cmds, 1)
	assert.Equal(t,
		"docker run -d localhost:8011/acme/web && docker tag localhost:8011/acme/web localhost:8011/acme/web:1700000000000",
		r.cmds[0])
	assert.Equal(t, runID, c.DockerContainerID)
	assert.Equal(t, v1.StatusStarted, c.Status)
	require.Len(t, out.previews, 1)
	assert.Equal(t, "localhost", out.previews[0].Host)
}

func TestLocalStartExpandsTargetIP(t *testing.T) {
	r := &fakeRunner{}
	c := &v1.Container{ID: "web-1", Execute: &v1.ExecuteOptions{Args: "-p 8080:80 -e HOST=__TARGETIP__"}}
	err := newLocal(r).Start(context.Background(), Request{
		Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Container: c, Out: &captureOutput{},
	})
	require.NoError(t, err)
	assert.Contains(t, r.cmds[0], "-e HOST=127.0.0.1 -d localhost:8011/acme/web")
}

func TestStopWithoutContainerIDIsNoop(t *testing.T) {
	r := &fakeRunner{}
	sh, p := newFakeShell(), &fakePoller{}
	req := Request{Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Container: &v1.Container{ID: "web-1"}, Out: &captureOutput{}}

	require.NoError(t, newLocal(r).Stop(context.Background(), req))
	req.Target = v1.Target{IPAddress: "10.0.0.9"}
	require.NoError(t, newRemote(sh, &fakeTunnels{}, p).Stop(context.Background(), req))

	assert.Empty(t, r.cmds)
	assert.Empty(t, sh.cmds)
	assert.Zero(t, p.calls)
}

func TestLocalStopToleratesMissingContainer(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"exit code 2", &shell.ExitError{Cmd: "docker kill x", Code: 2}, false},
		{"no such container", &shell.ExitError{Cmd: "docker kill x", Code: 1, Output: "Error response from daemon: No such container: x\n"}, false},
		{"other failure", &shell.ExitError{Cmd: "docker kill x", Code: 1, Output: "permission denied\n"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{errs: map[string]error{"docker kill": tt.err}}
			c := &v1.Container{ID: "web-1", DockerContainerID: runID}
			err := newLocal(r).Stop(context.Background(), Request{
				Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Container: c, Out: &captureOutput{},
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsCode(err, errs.ErrCommand))
				code, ok := shell.ExitCode(err)
				assert.True(t, ok)
				assert.Equal(t, 1, code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"docker kill " + runID}, r.cmds)
			assert.Empty(t, c.DockerContainerID)
		})
	}
}

func TestLocalLinkPurgesOutsideWindow(t *testing.T) {
	def := sourceDef()
	def.Build = v1.SourceBuild{RepositoryURL: "git@github.com:acme/web.git", Commit: "cid4"}
	def.Artifact.ImageTags = []string{
		"repo:cid:100", "repo:cid:200", "repo:other:50:latest",
		"repo:cid2:300", "repo:cid3:400", "repo:cid4:500",
	}
	tags := append([]string(nil), def.Artifact.ImageTags...)
	c := &v1.Container{ID: "web-1"}
	r := &fakeRunner{}
	req := Request{Mode: v1.ModeReal, System: sys, Definition: def, Container: c, Out: &captureOutput{}}

	require.NoError(t, newLocal(r).Link(context.Background(), req))
	assert.Equal(t, []string{"docker rmi -f repo:cid:100"}, r.cmds)
	assert.Equal(t, []string{"repo:cid:100"}, c.PurgedTags)
	assert.Equal(t, tags, def.Artifact.ImageTags)

	require.NoError(t, newLocal(r).Link(context.Background(), req))
	assert.Len(t, r.cmds, 1)
}

func TestLinkPurgesEveryPlacement(t *testing.T) {
	def := sourceDef()
	def.Artifact.ImageTags = []string{"r:a:1", "r:b:2", "r:c:3", "r:d:4", "r:e:5", "r:f:6"}
	sh := newFakeShell()
	rem := newRemote(sh, &fakeTunnels{}, &fakePoller{})
	first := &v1.Container{ID: "web-1"}
	second := &v1.Container{ID: "web-2"}

	for _, p := range []struct {
		c    *v1.Container
		host string
	}{{first, "10.0.0.1"}, {second, "10.0.0.2"}} {
		require.NoError(t, rem.Link(context.Background(), Request{
			Mode: v1.ModeReal, System: sys, Definition: def, Container: p.c,
			Target: v1.Target{IPAddress: p.host}, Out: &captureOutput{},
		}))
	}

	var hosts []string
	for i, cmd := range sh.cmds {
		if cmd == "docker rmi -f r:a:1" {
			hosts = append(hosts, sh.endpoints[i].Host)
		}
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, hosts)
	assert.Equal(t, []string{"r:a:1", "r:b:2"}, first.PurgedTags)
	assert.Equal(t, []string{"r:a:1", "r:b:2"}, second.PurgedTags)
	assert.Len(t, def.Artifact.ImageTags, 6)
}

func TestLocalRunsInCacheDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "images")
	r := &fakeRunner{}
	l := NewLocal(r, templates(), dir, logger.Nop())
	req := Request{Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Out: &captureOutput{}}

	require.NoError(t, l.Start(context.Background(), req))
	assert.DirExists(t, dir)
	assert.Equal(t, []string{dir}, r.dirs)
}

func TestLocalPreviewLeavesCacheDirAlone(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "images")
	l := NewLocal(&fakeRunner{}, templates(), dir, logger.Nop())

	require.NoError(t, l.Start(context.Background(), Request{Mode: v1.ModePreview, System: sys, Definition: sourceDef(), Out: &captureOutput{}}))
	assert.NoDirExists(t, dir)
}

func TestLocalLinkWithinWindowRunsNothing(t *testing.T) {
	def := sourceDef()
	def.Artifact.ImageTags = []string{"repo:a:1", "repo:b:2"}
	r := &fakeRunner{}
	require.NoError(t, newLocal(r).Link(context.Background(), Request{Mode: v1.ModeReal, System: sys, Definition: def, Out: &captureOutput{}}))
	assert.Empty(t, r.cmds)
}

func TestLocalUndeploySwallowsExitCodes(t *testing.T) {
	r := &fakeRunner{errs: map[string]error{"docker ps": &shell.ExitError{Code: 123}}}
	err := newLocal(r).Undeploy(context.Background(), Request{Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Out: &captureOutput{}})
	require.NoError(t, err)
	assert.Len(t, r.cmds, 2)

	r = &fakeRunner{errs: map[string]error{"docker ps": errors.New("fork failed")}}
	err = newLocal(r).Undeploy(context.Background(), Request{Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Out: &captureOutput{}})
	assert.Error(t, err)
}

func TestRemoteDeployTransfersArtifactOnce(t *testing.T) {
	sh, p := newFakeShell(), &fakePoller{}
	rem := newRemote(sh, &fakeTunnels{}, p)
	def := sourceDef()
	def.Artifact.Binary = "/srv/shop/builds/web-1700000000000.tar"
	req := Request{
		Mode: v1.ModeReal, System: sys, Definition: def,
		Target: v1.Target{PrivateIPAddress: "10.0.0.9", IPAddress: "52.1.2.3"},
		Out:    &captureOutput{},
	}

	require.NoError(t, rem.Deploy(context.Background(), req))
	require.NoError(t, rem.Deploy(context.Background(), req))

	assert.Equal(t, 1, sh.copies)
	assert.Equal(t, []string{"/home/ubuntu/containers/web-1700000000000.tar"}, sh.loaded)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, 2, sh.checks)
	assert.Equal(t, "mkdir -p /home/ubuntu/containers", sh.cmds[0])
	assert.Equal(t, "10.0.0.9", sh.endpoints[0].Host)
	assert.Equal(t, "ubuntu", sh.endpoints[0].User)
	assert.Equal(t, "/srv/shop/keys/id_rsa", sh.endpoints[0].Identity)
}

func TestRemoteDeployReloadsMissingImage(t *testing.T) {
	sh := newFakeShell()
	sh.files["/home/ubuntu/containers/web.tar"] = true
	def := sourceDef()
	def.Artifact.Binary = "/builds/web.tar"

	err := newRemote(sh, &fakeTunnels{}, &fakePoller{}).Deploy(context.Background(), Request{
		Mode: v1.ModeReal, System: sys, Definition: def, Target: v1.Target{IPAddress: "10.0.0.9"}, Out: &captureOutput{},
	})
	require.NoError(t, err)
	assert.Zero(t, sh.copies)
	assert.Equal(t, []string{"/home/ubuntu/containers/web.tar"}, sh.loaded)
}

func TestRemoteDeployLoadsWhenOnlySimilarRepoPresent(t *testing.T) {
	sh := newFakeShell()
	sh.files["/home/ubuntu/containers/web.tar"] = true
	sh.images["localhost:8011/acme/web-api:latest"] = "fedcba987654"
	def := sourceDef()
	def.Artifact.Binary = "/builds/web.tar"

	err := newRemote(sh, &fakeTunnels{}, &fakePoller{}).Deploy(context.Background(), Request{
		Mode: v1.ModeReal, System: sys, Definition: def, Target: v1.Target{IPAddress: "10.0.0.9"}, Out: &captureOutput{},
	})
	require.NoError(t, err)
	assert.Contains(t, sh.cmds, "docker images -q localhost:8011/acme/web:latest")
	assert.Equal(t, []string{"/home/ubuntu/containers/web.tar"}, sh.loaded)
}

func TestRemoteDeployCopiesThroughPartFile(t *testing.T) {
	sh := newFakeShell()
	def := sourceDef()
	def.Artifact.Binary = "/builds/web.tar"

	err := newRemote(sh, &fakeTunnels{}, &fakePoller{}).Deploy(context.Background(), Request{
		Mode: v1.ModeReal, System: sys, Definition: def, Target: v1.Target{IPAddress: "10.0.0.9"}, Out: &captureOutput{},
	})
	require.NoError(t, err)
	assert.Contains(t, sh.cmds, "mv -f /home/ubuntu/containers/web.tar.part /home/ubuntu/containers/web.tar")
	assert.True(t, sh.files["/home/ubuntu/containers/web.tar"])
	assert.False(t, sh.files["/home/ubuntu/containers/web.tar.part"])
}

func TestRemoteDeployRetransfersAfterInterruptedCopy(t *testing.T) {
	sh := newFakeShell()
	sh.copyErr = errs.Newf(errs.ErrTransfer, "ssh.copy", "connection reset")
	def := sourceDef()
	def.Artifact.Binary = "/builds/web.tar"
	rem := newRemote(sh, &fakeTunnels{}, &fakePoller{})
	req := Request{Mode: v1.ModeReal, System: sys, Definition: def, Target: v1.Target{IPAddress: "10.0.0.9"}, Out: &captureOutput{}}

	require.Error(t, rem.Deploy(context.Background(), req))
	assert.Empty(t, sh.files)
	assert.Contains(t, sh.cmds, "rm -f /home/ubuntu/containers/web.tar.part")

	sh.copyErr = nil
	require.NoError(t, rem.Deploy(context.Background(), req))
	assert.Equal(t, 2, sh.copies)
	assert.Equal(t, []string{"/home/ubuntu/containers/web.tar"}, sh.loaded)
}

func TestRemoteDeployRetransfersAfterFailedLoad(t *testing.T) {
	sh := newFakeShell()
	sh.execErr["docker load"] = &shell.ExitError{Cmd: "docker load", Code: 1, Output: "unexpected EOF"}
	def := sourceDef()
	def.Artifact.Binary = "/builds/web.tar"
	rem := newRemote(sh, &fakeTunnels{}, &fakePoller{})
	req := Request{Mode: v1.ModeReal, System: sys, Definition: def, Target: v1.Target{IPAddress: "10.0.0.9"}, Out: &captureOutput{}}

	require.Error(t, rem.Deploy(context.Background(), req))
	assert.False(t, sh.files["/home/ubuntu/containers/web.tar"])

	delete(sh.execErr, "docker load")
	require.NoError(t, rem.Deploy(context.Background(), req))
	assert.Equal(t, 2, sh.copies)
	assert.Equal(t, []string{"/home/ubuntu/containers/web.tar"}, sh.loaded)
}

func TestRemoteDeployPullsThroughTunnel(t *testing.T) {
	sh, tun := newFakeShell(), &fakeTunnels{}
	err := newRemote(sh, tun, &fakePoller{}).Deploy(context.Background(), Request{
		Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Target: v1.Target{IPAddress: "10.0.0.9", User: "deploy"}, Out: &captureOutput{},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"docker pull localhost:8011/acme/web"}, sh.cmds)
	assert.Equal(t, "deploy", sh.endpoints[0].User)
	assert.Equal(t, 1, tun.opened)
	assert.Equal(t, 1, tun.closed)
}

func TestRemoteDeployClosesTunnelOnFailure(t *testing.T) {
	sh, tun := newFakeShell(), &fakeTunnels{}
	sh.execErr["docker pull"] = &shell.ExitError{Cmd: "docker pull", Code: 1}
	err := newRemote(sh, tun, &fakePoller{}).Deploy(context.Background(), Request{
		Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Target: v1.Target{IPAddress: "10.0.0.9"}, Out: &captureOutput{},
	})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCommand))
	assert.Equal(t, 1, tun.closed)
}

func TestRemoteRequiresIdentity(t *testing.T) {
	sh, p := newFakeShell(), &fakePoller{}
	rem := newRemote(sh, &fakeTunnels{}, p)
	rem.cfg.SSH.IdentityFile = ""

	err := rem.Start(context.Background(), Request{
		Mode: v1.ModePreview, System: sys, Definition: sourceDef(), Target: v1.Target{IPAddress: "10.0.0.9"},
		Container: &v1.Container{ID: "web-1"}, Out: &captureOutput{},
	})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrMissingIdentity))
	assert.Zero(t, p.calls)
}

func TestRemotePollTimeoutStopsOperation(t *testing.T) {
	sh := newFakeShell()
	p := &fakePoller{err: errs.Newf(errs.ErrConnectTimeout, "health.poll", "timeout").WithNode("10.0.0.9")}
	err := newRemote(sh, &fakeTunnels{}, p).Link(context.Background(), Request{
		Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Target: v1.Target{IPAddress: "10.0.0.9"}, Out: &captureOutput{},
	})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrConnectTimeout))
	assert.Empty(t, sh.cmds)
	assert.Zero(t, sh.checks)
}

func TestRemoteStartRecordsContainerID(t *testing.T) {
	sh := newFakeShell()
	sh.execOut["docker run"] = runID + "\n"
	c := &v1.Container{ID: "web-1"}
	err := newRemote(sh, &fakeTunnels{}, &fakePoller{}).Start(context.Background(), Request{
		Mode: v1.ModeReal, System: sys, Definition: sourceDef(), Target: v1.Target{PrivateIPAddress: "10.0.0.9"},
		Container: c, Out: &captureOutput{},
	})
	require.NoError(t, err)
	assert.Equal(t, runID, c.DockerContainerID)
}

func TestPreviewReportsWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	def := sourceDef()
	def.Artifact.Binary = "/builds/web.tar"
	def.Artifact.ImageTags = []string{"r:a:1", "r:b:2", "r:c:3", "r:d:4", "r:e:5", "r:f:6"}
	tags := append([]string(nil), def.Artifact.ImageTags...)

	r, sh, tun := &fakeRunner{}, newFakeShell(), &fakeTunnels{}
	out := &captureOutput{}
	c := &v1.Container{ID: "web-1", DockerContainerID: runID}
	local := newLocal(r)
	rem := newRemote(sh, tun, &fakePoller{})

	for _, e := range []Executor{local, rem} {
		req := Request{Mode: v1.ModePreview, System: sys, Definition: def, Container: c, Out: out}
		if e == rem {
			req.Target = v1.Target{IPAddress: "10.0.0.9"}
		}
		require.NoError(t, e.Deploy(ctx, req))
		require.NoError(t, e.Start(ctx, req))
		require.NoError(t, e.Stop(ctx, req))
		require.NoError(t, e.Link(ctx, req))
		require.NoError(t, e.Unlink(ctx, req))
		require.NoError(t, e.Undeploy(ctx, req))
	}

	assert.Empty(t, r.cmds)
	assert.Empty(t, sh.cmds)
	assert.Zero(t, sh.copies)
	assert.Zero(t, sh.checks)
	assert.Zero(t, tun.opened)
	assert.Equal(t, runID, c.DockerContainerID)
	assert.Equal(t, tags, def.Artifact.ImageTags)
	assert.Empty(t, c.PurgedTags)
	assert.NotEmpty(t, out.previews)
}

func TestRegistryPullBuild(t *testing.T) {
	r := &fakeRunner{}
	f := &fakeFinder{id: "sha256:feed"}
	p := NewRegistryPull(newLocal(r), f)
	def := &v1.Definition{ID: "cache", Build: v1.RegistryPull{Name: "redis:7"}, Execute: &v1.ExecuteOptions{Args: "-p 6379:6379"}}

	art, err := p.Build(context.Background(), Request{Mode: v1.ModeReal, System: sys, Definition: def, Out: &captureOutput{}})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"docker pull redis:7",
		"docker tag redis:7 shop/cache",
		"docker tag shop/cache localhost:8011/shop/cache && docker push localhost:8011/shop/cache",
	}, r.cmds)
	assert.Equal(t, []string{"shop/cache"}, f.searches)
	assert.Equal(t, v1.Artifact{DockerImageID: "sha256:feed", DockerLocalTag: "localhost:8011/shop/cache", ImageTag: "shop/cache"}, art)
}

func TestRegistryPullBuildRequiresExecute(t *testing.T) {
	p := NewRegistryPull(newLocal(&fakeRunner{}), &fakeFinder{})
	def := &v1.Definition{ID: "cache", Build: v1.RegistryPull{Name: "redis:7"}}
	_, err := p.Build(context.Background(), Request{Mode: v1.ModeReal, System: sys, Definition: def, Out: &captureOutput{}})
	assert.True(t, errs.IsCode(err, errs.ErrConfig))
}

func TestRegistryPullDeployRetags(t *testing.T) {
	r := &fakeRunner{}
	p := NewRegistryPull(newLocal(r), &fakeFinder{})
	def := &v1.Definition{ID: "cache", Build: v1.RegistryPull{Name: "redis:7"}, Execute: &v1.ExecuteOptions{}}
	require.NoError(t, p.Deploy(context.Background(), Request{Mode: v1.ModeReal, System: sys, Definition: def, Out: &captureOutput{}}))
	assert.Equal(t, []string{"docker pull redis:7 && docker tag -f redis:7 localhost:8011/acme/cache"}, r.cmds)
}

func TestSelectorRouting(t *testing.T) {
	local := newLocal(&fakeRunner{})
	s := &Selector{
		Local:      local,
		Pull:       NewRegistryPull(local, &fakeFinder{}),
		Remote:     newRemote(newFakeShell(), &fakeTunnels{}, &fakePoller{}),
		DockerHost: "tcp://192.168.59.103:2376",
	}
	src := sourceDef()
	pull := &v1.Definition{ID: "cache", Build: v1.RegistryPull{Name: "redis:7"}}

	for _, addr := range []string{"", "127.0.0.1", "localhost", "192.168.59.103"} {
		assert.Equal(t, "local", s.Select(v1.Target{IPAddress: addr}, src).Name(), addr)
		assert.Equal(t, "registry-pull", s.Select(v1.Target{IPAddress: addr}, pull).Name(), addr)
	}
	assert.Equal(t, "remote", s.Select(v1.Target{IPAddress: "10.0.0.9"}, src).Name())
	assert.Equal(t, "remote", s.Select(v1.Target{PrivateIPAddress: "10.0.0.9", IPAddress: "127.0.0.1"}, pull).Name())
	assert.Equal(t, "local", s.Select(v1.Target{PrivateIPAddress: "localhost", IPAddress: "52.1.2.3"}, src).Name())
}
