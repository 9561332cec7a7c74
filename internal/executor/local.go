package executor

import (
	"context"
	"os"
	"time"

	"github.com/f9-o/berth/internal/command"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/metrics"
	"github.com/f9-o/berth/internal/shell"
	"github.com/f9-o/berth/pkg/errs"
)

// Local runs lifecycle commands on this machine, in the image cache directory.
type Local struct {
	runner Runner
	tpl    *command.Templates
	dir    string
	log    *logger.Logger
	now    func() time.Time
}

// NewLocal creates a Local executor running commands in dir.
func NewLocal(runner Runner, tpl *command.Templates, dir string, log *logger.Logger) *Local {
	return &Local{runner: runner, tpl: tpl, dir: dir, log: log, now: time.Now}
}

// Name implements Executor.
func (l *Local) Name() string { return "local" }

// run executes cmd in the cache directory, creating it first in real mode.
func (l *Local) run(ctx context.Context, req Request, cmd string) (shell.Result, error) {
	if !req.Mode.IsPreview() && l.dir != "" {
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			return shell.Result{}, err
		}
	}
	return l.runner.Run(ctx, req.Mode, cmd, l.dir, req.Out)
}

// Deploy is a no-op: images built here are already resident.
func (l *Local) Deploy(context.Context, Request) error { return nil }

// Unlink is a no-op locally.
func (l *Local) Unlink(context.Context, Request) error { return nil }

// Start runs the container detached and records its runtime id.
func (l *Local) Start(ctx context.Context, req Request) error {
	ip := req.Target.Address()
	if ip == "" {
		ip = "127.0.0.1"
	}
	cmd := startLine(l.tpl, req, ip, l.now())
	res, err := l.run(ctx, req, cmd)
	if err != nil {
		return errs.Wrap(err, errs.ErrCommand, "local.start")
	}
	id := res.Last
	if !containerIDRe.MatchString(id) {
		id = containerID(res.Output)
	}
	recordStart(req, id)
	l.log.Debug("container started", "container", containerName(req), "id", id)
	return nil
}

// Stop kills the recorded container. Without a recorded id there is nothing to do.
func (l *Local) Stop(ctx context.Context, req Request) error {
	if req.Container == nil || req.Container.DockerContainerID == "" {
		l.log.Debug("no running container recorded, skipping stop", "container", containerName(req))
		return nil
	}
	_, err := l.run(ctx, req, command.Kill(req.Container.DockerContainerID))
	if err != nil && !stopTolerated(err) {
		return errs.Wrap(err, errs.ErrCommand, "local.stop")
	}
	recordStop(req)
	return nil
}

// Link purges image tags that fell out of the retention window, oldest first.
func (l *Local) Link(ctx context.Context, req Request) error {
	return purge(ctx, req, l.tpl, l.log, func(cmd string) error {
		_, err := l.run(ctx, req, cmd)
		return err
	})
}

// Undeploy clears exited containers and dangling images. Non-zero exits are ignored.
func (l *Local) Undeploy(ctx context.Context, req Request) error {
	for _, cmd := range []string{l.tpl.Platform.DeleteExitedContainers(), l.tpl.Platform.DeleteUntaggedImages()} {
		if _, err := l.run(ctx, req, cmd); err != nil {
			if _, exited := shell.ExitCode(err); !exited {
				return errs.Wrap(err, errs.ErrCommand, "local.undeploy")
			}
			l.log.Debug("cleanup command failed", "cmd", cmd, "err", err)
		}
	}
	return nil
}

// purge runs one rmi per doomed tag through run, in order, skipping the tags
// already purged on the container's host. A tag that is already gone counts
// as purged.
func purge(ctx context.Context, req Request, tpl *command.Templates, log *logger.Logger, run func(string) error) error {
	doomed := pending(req, tpl.PurgeTags(req.Definition))
	if len(doomed) == 0 {
		return nil
	}
	var purged []string
	defer func() {
		if !req.Mode.IsPreview() {
			recordPurged(req, purged)
			metrics.RecordPurge(len(purged))
		}
	}()
	for _, tag := range doomed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := run(command.Rmi(tag)); err != nil && !purgeTolerated(err) {
			return errs.Wrap(err, errs.ErrCommand, "purge")
		}
		purged = append(purged, tag)
	}
	log.Info("purge finished", "definition", req.Definition.ID, "purged", len(purged))
	return nil
}

func containerName(req Request) string {
	if req.Container != nil {
		return req.Container.ID
	}
	return req.Definition.ID
}

var _ Executor = (*Local)(nil)
