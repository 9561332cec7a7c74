// Package shell runs command lines on the local machine through `sh -c`.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/logger"
)

// LocalHost is the host name reported for local command echoes.
const LocalHost = "localhost"

// maxLine caps one streamed output line. The rest of a stream holding a
// longer line is drained unread.
const maxLine = 1024 * 1024

// waitDelay bounds how long Wait blocks on output pipes held open by
// children of a cancelled command.
const waitDelay = 5 * time.Second

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Cmd    string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Cmd, e.Code)
}

// ExitCode returns the exit status carried by err, if it is an ExitError.
func ExitCode(err error) (int, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return 0, false
}

// Result is what a finished command left behind.
type Result struct {
	Output string // combined stdout and stderr
	Last   string // last non-empty stdout line
}

// Runner executes commands locally.
type Runner struct {
	log   *logger.Logger
	Shell string
}

// NewRunner creates a Runner using /bin/sh.
func NewRunner(log *logger.Logger) *Runner {
	return &Runner{log: log, Shell: "/bin/sh"}
}

// Run executes cmd in dir, streaming each output line to out.Stdout.
// The command is echoed to out.Preview first; in preview mode nothing runs.
func (r *Runner) Run(ctx context.Context, mode v1.Mode, cmd, dir string, out v1.Output) (Result, error) {
	out.Preview(v1.PreviewEvent{Cmd: cmd, Host: LocalHost})
	if mode.IsPreview() {
		return Result{}, nil
	}

	r.log.Debug("shell exec", "cmd", cmd, "dir", dir)

	c := exec.CommandContext(ctx, r.Shell, "-c", cmd)
	c.Dir = dir
	c.WaitDelay = waitDelay

	stdout, err := c.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := c.Start(); err != nil {
		return Result{}, fmt.Errorf("start %q: %w", cmd, err)
	}

	var (
		mu   sync.Mutex
		all  strings.Builder
		last string
		wg   sync.WaitGroup
	)
	pump := func(rd io.Reader, isStdout bool) {
		defer wg.Done()
		sc := bufio.NewScanner(rd)
		sc.Buffer(make([]byte, 64*1024), maxLine)
		for sc.Scan() {
			line := sc.Text()
			out.Stdout(line)
			mu.Lock()
			all.WriteString(line + "\n")
			if isStdout && strings.TrimSpace(line) != "" {
				last = strings.TrimSpace(line)
			}
			mu.Unlock()
		}
		if err := sc.Err(); err != nil {
			r.log.Warn("output stream truncated", "cmd", cmd, "err", err)
			_, _ = io.Copy(io.Discard, rd)
		}
	}
	wg.Add(2)
	go pump(stdout, true)
	go pump(stderr, false)
	wg.Wait()

	res := Result{Output: all.String(), Last: last}
	if err := c.Wait(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return res, &ExitError{Cmd: cmd, Code: ee.ExitCode(), Output: res.Output}
		}
		return res, fmt.Errorf("run %q: %w", cmd, err)
	}
	return res, nil
}
