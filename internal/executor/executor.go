// Package executor carries lifecycle operations out on a target: on this
// machine through the local shell, on remote hosts over SSH, or by pulling
// upstream images for registry-pull definitions.
package executor

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/command"
	"github.com/f9-o/berth/internal/remote"
	"github.com/f9-o/berth/internal/shell"
)

// Request is everything an executor needs to act on one container.
type Request struct {
	Mode       v1.Mode
	Target     v1.Target
	System     v1.System
	Definition *v1.Definition
	Container  *v1.Container
	Out        v1.Output
}

// Executor implements the lifecycle operations for one execution context.
type Executor interface {
	Name() string
	Deploy(ctx context.Context, req Request) error
	Undeploy(ctx context.Context, req Request) error
	Start(ctx context.Context, req Request) error
	Stop(ctx context.Context, req Request) error
	Link(ctx context.Context, req Request) error
	Unlink(ctx context.Context, req Request) error
}

// Runner runs a command line on this machine.
type Runner interface {
	Run(ctx context.Context, mode v1.Mode, cmd, dir string, out v1.Output) (shell.Result, error)
}

// RemoteShell runs commands on and copies files to a remote endpoint.
type RemoteShell interface {
	Exec(ctx context.Context, mode v1.Mode, ep remote.Endpoint, cmd string, out v1.Output) (string, error)
	Copy(ctx context.Context, mode v1.Mode, ep remote.Endpoint, localPath, remotePath string, out v1.Output) error
	Check(ctx context.Context, ep remote.Endpoint) error
}

// TunnelOpener opens a reverse tunnel for the duration of one call.
type TunnelOpener interface {
	Open(ctx context.Context, mode v1.Mode, user, identity, host string, port int) (remote.Handle, error)
}

// Poller waits for a target to accept connections.
type Poller interface {
	WaitReachable(ctx context.Context, mode v1.Mode, address string) error
}

var containerIDRe = regexp.MustCompile(`^[0-9a-f]{12,64}$`)

// containerID picks the id `docker run -d` printed out of command output.
func containerID(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); containerIDRe.MatchString(l) {
			return l
		}
	}
	return ""
}

// stopTolerated reports whether a failed kill means the container is already gone.
func stopTolerated(err error) bool {
	code, ok := shell.ExitCode(err)
	if !ok {
		return false
	}
	if code == 2 {
		return true
	}
	var ee *shell.ExitError
	return errors.As(err, &ee) && strings.Contains(ee.Output, "No such container")
}

// purgeTolerated reports whether a failed rmi means there was nothing to purge.
func purgeTolerated(err error) bool {
	var ee *shell.ExitError
	return errors.As(err, &ee) && strings.Contains(ee.Output, "No such image")
}

// startLine builds the composite start command for req.
func startLine(tpl *command.Templates, req Request, targetIP string, now time.Time) string {
	opts := req.Container.ExecuteFor(req.Definition)
	return tpl.Start(tpl.Tag(req.System, req.Definition), opts, targetIP, now)
}

// pending drops the doomed tags the container's host has already purged.
func pending(req Request, doomed []string) []string {
	if req.Container == nil || len(req.Container.PurgedTags) == 0 {
		return doomed
	}
	left := doomed[:0:0]
	for _, t := range doomed {
		if !slices.Contains(req.Container.PurgedTags, t) {
			left = append(left, t)
		}
	}
	return left
}

// recordPurged adds purged to the container's record, forgetting tags the
// definition no longer lists. The definition itself is shared by every
// placement and is left untouched.
func recordPurged(req Request, purged []string) {
	if req.Container == nil || len(purged) == 0 {
		return
	}
	kept := make([]string, 0, len(req.Container.PurgedTags)+len(purged))
	for _, t := range req.Container.PurgedTags {
		if slices.Contains(req.Definition.Artifact.ImageTags, t) {
			kept = append(kept, t)
		}
	}
	req.Container.PurgedTags = append(kept, purged...)
}

// recordStart stores the runtime id on the container in real mode.
func recordStart(req Request, id string) {
	if req.Mode.IsPreview() || req.Container == nil {
		return
	}
	if id != "" {
		req.Container.DockerContainerID = id
	}
	req.Container.Status = v1.StatusStarted
}

func recordStop(req Request) {
	if req.Mode.IsPreview() || req.Container == nil {
		return
	}
	req.Container.DockerContainerID = ""
	req.Container.Status = v1.StatusStopped
}
