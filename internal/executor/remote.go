package executor

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/f9-o/berth/internal/command"
	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/metrics"
	"github.com/f9-o/berth/internal/remote"
	"github.com/f9-o/berth/internal/shell"
	"github.com/f9-o/berth/pkg/errs"
)

// Remote runs lifecycle commands on a target over SSH. Every operation waits
// for the target's SSH port before doing anything.
type Remote struct {
	shell   RemoteShell
	tunnels TunnelOpener
	poller  Poller
	tpl     *command.Templates
	cfg     *config.Config
	log     *logger.Logger
	now     func() time.Time
}

// NewRemote creates a Remote executor. Remote hosts always get the
// unattended command dialect.
func NewRemote(sh RemoteShell, tunnels TunnelOpener, poller Poller, tpl *command.Templates, cfg *config.Config, log *logger.Logger) *Remote {
	return &Remote{
		shell:   sh,
		tunnels: tunnels,
		poller:  poller,
		tpl:     tpl.WithPlatform(command.Unattended),
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Name implements Executor.
func (r *Remote) Name() string { return "remote" }

// endpoint resolves the login for req. A missing identity is a configuration
// error raised before any network activity.
func (r *Remote) endpoint(req Request) (remote.Endpoint, error) {
	address := req.Target.Address()
	user := req.Target.User
	if user == "" {
		user = r.cfg.SSH.User
	}
	if user == "" {
		user = r.tpl.Platform.DefaultUser()
	}
	identity := req.Target.IdentityFile
	if identity == "" {
		identity = r.cfg.SSH.IdentityFile
	}
	if identity == "" {
		return remote.Endpoint{}, errs.Newf(errs.ErrMissingIdentity, "remote.identity", "missing identity file for %s", address).
			WithNode(address).
			WithAdvice("set identity_file on the target or ssh.identity_file in berth.yaml")
	}
	identity = config.ExpandHome(identity)
	if !filepath.IsAbs(identity) {
		identity = filepath.Join(req.System.RepoPath, identity)
	}
	return remote.Endpoint{Host: address, User: user, Identity: identity}, nil
}

// connect resolves the endpoint, waits for the target and confirms the login.
func (r *Remote) connect(ctx context.Context, req Request) (remote.Endpoint, error) {
	ep, err := r.endpoint(req)
	if err != nil {
		return ep, err
	}
	if err := r.poller.WaitReachable(ctx, req.Mode, ep.Host); err != nil {
		return ep, err
	}
	if req.Mode.IsPreview() {
		return ep, nil
	}
	r.log.Info("target online", "host", ep.Host, "user", ep.User)
	if err := r.shell.Check(ctx, ep); err != nil {
		return ep, err
	}
	return ep, nil
}

func (r *Remote) exec(ctx context.Context, req Request, ep remote.Endpoint, cmd, op string) (string, error) {
	out, err := r.shell.Exec(ctx, req.Mode, ep, cmd, req.Out)
	if err != nil {
		return out, errs.Wrap(err, errs.ErrCommand, op)
	}
	return out, nil
}

// Deploy makes the definition's image available on the target. An exported
// tarball is copied at most once per host; otherwise the image is pulled
// from the local registry through a tunnel.
func (r *Remote) Deploy(ctx context.Context, req Request) error {
	ep, err := r.connect(ctx, req)
	if err != nil {
		return err
	}
	if req.Definition.Artifact.Binary != "" {
		return r.deployBinary(ctx, req, ep)
	}
	return r.deployFromRegistry(ctx, req, ep)
}

func (r *Remote) store(user string) string {
	if r.cfg.RemoteStore != "" {
		return r.cfg.RemoteStore
	}
	return path.Join("/home", user, "containers")
}

func (r *Remote) deployBinary(ctx context.Context, req Request, ep remote.Endpoint) error {
	local := req.Definition.Artifact.Binary
	store := r.store(ep.User)
	target := path.Join(store, filepath.Base(local))

	if _, err := r.exec(ctx, req, ep, "mkdir -p "+command.Quote(store), "remote.deploy.store"); err != nil {
		return err
	}
	resp, err := r.exec(ctx, req, ep, "test -f "+command.Quote(target)+" && echo found || echo notfound", "remote.deploy.check")
	if err != nil {
		return err
	}

	if strings.TrimSpace(resp) != "found" {
		if err := r.transfer(ctx, req, ep, local, target); err != nil {
			return err
		}
		if err := r.load(ctx, req, ep, target); err != nil {
			return err
		}
		if !req.Mode.IsPreview() {
			metrics.RecordTransfer(true)
		}
		return nil
	}

	repo := r.tpl.Tag(req.System, req.Definition)
	id, err := r.exec(ctx, req, ep, "docker images -q "+command.Quote(repo+":latest"), "remote.deploy.images")
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		r.log.Info("artifact present but not loaded", "host", ep.Host, "binary", target)
		if err := r.load(ctx, req, ep, target); err != nil {
			return err
		}
	}
	metrics.RecordTransfer(false)
	return nil
}

// transfer copies the tarball to a sibling .part file and renames it into
// place, so an interrupted copy never leaves a truncated file at target.
func (r *Remote) transfer(ctx context.Context, req Request, ep remote.Endpoint, local, target string) error {
	part := target + ".part"
	err := r.shell.Copy(ctx, req.Mode, ep, local, part, req.Out)
	if err == nil {
		_, err = r.exec(ctx, req, ep, "mv -f "+command.Quote(part)+" "+command.Quote(target), "remote.deploy.rename")
	}
	if err != nil {
		r.discard(ctx, req, ep, part)
		return err
	}
	return nil
}

// load imports the tarball and removes it when the import fails, so the
// next deploy transfers it again.
func (r *Remote) load(ctx context.Context, req Request, ep remote.Endpoint, target string) error {
	if _, err := r.exec(ctx, req, ep, command.Load(target), "remote.deploy.load"); err != nil {
		r.discard(ctx, req, ep, target)
		return err
	}
	return nil
}

func (r *Remote) discard(ctx context.Context, req Request, ep remote.Endpoint, file string) {
	if _, err := r.exec(ctx, req, ep, "rm -f "+command.Quote(file), "remote.deploy.cleanup"); err != nil {
		r.log.Warn("could not remove partial artifact", "host", ep.Host, "file", file, "err", err)
	}
}

func (r *Remote) deployFromRegistry(ctx context.Context, req Request, ep remote.Endpoint) error {
	h, err := r.tunnels.Open(ctx, req.Mode, ep.User, ep.Identity, ep.Host, r.cfg.Registry.Port)
	if err != nil {
		return err
	}
	defer h.Close()

	tag := r.imageTag(req)
	r.log.Info("pulling container", "host", ep.Host, "tag", tag)
	if _, err := r.exec(ctx, req, ep, command.Import(tag), "remote.deploy.pull"); err != nil {
		return err
	}
	r.log.Info("container pulled", "host", ep.Host, "tag", tag)
	return nil
}

// imageTag is the tag pulled and run on the target. Registry-pull images are
// pushed under the tag recorded at build time.
func (r *Remote) imageTag(req Request) string {
	if _, ok := req.Definition.Pull(); ok && req.Definition.Artifact.DockerLocalTag != "" {
		return req.Definition.Artifact.DockerLocalTag
	}
	return r.tpl.Tag(req.System, req.Definition)
}

// Start runs the container on the target and records its runtime id.
func (r *Remote) Start(ctx context.Context, req Request) error {
	ep, err := r.connect(ctx, req)
	if err != nil {
		return err
	}
	opts := req.Container.ExecuteFor(req.Definition)
	out, err := r.exec(ctx, req, ep, r.tpl.Start(r.imageTag(req), opts, ep.Host, r.now()), "remote.start")
	if err != nil {
		return err
	}
	recordStart(req, containerID(out))
	return nil
}

// Stop kills the recorded container. Without a recorded id nothing is contacted.
func (r *Remote) Stop(ctx context.Context, req Request) error {
	if req.Container == nil || req.Container.DockerContainerID == "" {
		return nil
	}
	ep, err := r.connect(ctx, req)
	if err != nil {
		return err
	}
	if _, err := r.shell.Exec(ctx, req.Mode, ep, command.Kill(req.Container.DockerContainerID), req.Out); err != nil && !stopTolerated(err) {
		return errs.Wrap(err, errs.ErrCommand, "remote.stop")
	}
	recordStop(req)
	return nil
}

// Link purges expired image tags on the target.
func (r *Remote) Link(ctx context.Context, req Request) error {
	ep, err := r.connect(ctx, req)
	if err != nil {
		return err
	}
	return purge(ctx, req, r.tpl, r.log, func(cmd string) error {
		_, err := r.shell.Exec(ctx, req.Mode, ep, cmd, req.Out)
		return err
	})
}

// Unlink only checks the target is reachable.
func (r *Remote) Unlink(ctx context.Context, req Request) error {
	_, err := r.connect(ctx, req)
	return err
}

// Undeploy clears exited containers and dangling images on the target.
// Non-zero exits are ignored.
func (r *Remote) Undeploy(ctx context.Context, req Request) error {
	ep, err := r.connect(ctx, req)
	if err != nil {
		return err
	}
	for _, cmd := range []string{r.tpl.Platform.DeleteExitedContainers(), r.tpl.Platform.DeleteUntaggedImages()} {
		if _, err := r.shell.Exec(ctx, req.Mode, ep, cmd, req.Out); err != nil {
			if _, exited := shell.ExitCode(err); !exited {
				return errs.Wrap(err, errs.ErrCommand, "remote.undeploy")
			}
			r.log.Debug("cleanup command failed", "host", ep.Host, "cmd", cmd, "err", err)
		}
	}
	return nil
}

var _ Executor = (*Remote)(nil)
