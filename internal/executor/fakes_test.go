package executor

import (
	"context"
	"strings"
	"sync"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/remote"
	"github.com/f9-o/berth/internal/shell"
)

type captureOutput struct {
	mu       sync.Mutex
	previews []v1.PreviewEvent
	lines    []string
}

func (o *captureOutput) Stdout(line string)   { o.mu.Lock(); o.lines = append(o.lines, line); o.mu.Unlock() }
func (o *captureOutput) Progress(line string) { o.mu.Lock(); o.lines = append(o.lines, line); o.mu.Unlock() }
func (o *captureOutput) Preview(ev v1.PreviewEvent) {
	o.mu.Lock()
	o.previews = append(o.previews, ev)
	o.mu.Unlock()
}

// fakeRunner echoes like shell.Runner and answers from a table keyed by command prefix.
type fakeRunner struct {
	cmds    []string
	dirs    []string
	results map[string]shell.Result
	errs    map[string]error
}

func (r *fakeRunner) Run(_ context.Context, mode v1.Mode, cmd, dir string, out v1.Output) (shell.Result, error) {
	out.Preview(v1.PreviewEvent{Cmd: cmd, Host: shell.LocalHost})
	if mode.IsPreview() {
		return shell.Result{}, nil
	}
	r.cmds = append(r.cmds, cmd)
	r.dirs = append(r.dirs, dir)
	for prefix, err := range r.errs {
		if strings.HasPrefix(cmd, prefix) {
			return shell.Result{}, err
		}
	}
	for prefix, res := range r.results {
		if strings.HasPrefix(cmd, prefix) {
			return res, nil
		}
	}
	return shell.Result{}, nil
}

// fakeShell emulates a target with a file store and an image list.
type fakeShell struct {
	cmds      []string
	endpoints []remote.Endpoint
	files     map[string]bool
	loaded    []string
	images    map[string]string
	copies    int
	checks    int
	copyErr   error
	execOut   map[string]string
	execErr   map[string]error
}

func newFakeShell() *fakeShell {
	return &fakeShell{
		files:   map[string]bool{},
		images:  map[string]string{},
		execOut: map[string]string{},
		execErr: map[string]error{},
	}
}

func (s *fakeShell) Exec(_ context.Context, mode v1.Mode, ep remote.Endpoint, cmd string, out v1.Output) (string, error) {
	out.Preview(v1.PreviewEvent{Cmd: cmd, Host: ep.Host, User: ep.User})
	if mode.IsPreview() {
		return "", nil
	}
	s.cmds = append(s.cmds, cmd)
	s.endpoints = append(s.endpoints, ep)
	for prefix, err := range s.execErr {
		if strings.HasPrefix(cmd, prefix) {
			return "", err
		}
	}
	switch {
	case strings.HasPrefix(cmd, "test -f "):
		path := strings.Fields(cmd)[2]
		if s.files[path] {
			return "found\n", nil
		}
		return "notfound\n", nil
	case strings.HasPrefix(cmd, "docker load < "):
		s.loaded = append(s.loaded, strings.TrimPrefix(cmd, "docker load < "))
		s.images["localhost:8011/acme/web:latest"] = "0123456789ab"
		return "Loaded image: localhost:8011/acme/web:latest\n", nil
	case strings.HasPrefix(cmd, "docker images -q "):
		if id, ok := s.images[strings.TrimPrefix(cmd, "docker images -q ")]; ok {
			return id + "\n", nil
		}
		return "", nil
	case strings.HasPrefix(cmd, "mv -f "):
		f := strings.Fields(cmd)
		if s.files[f[2]] {
			delete(s.files, f[2])
			s.files[f[3]] = true
		}
		return "", nil
	case strings.HasPrefix(cmd, "rm -f "):
		delete(s.files, strings.TrimPrefix(cmd, "rm -f "))
		return "", nil
	}
	for prefix, o := range s.execOut {
		if strings.HasPrefix(cmd, prefix) {
			return o, nil
		}
	}
	return "", nil
}

func (s *fakeShell) Copy(_ context.Context, mode v1.Mode, ep remote.Endpoint, _, remotePath string, out v1.Output) error {
	out.Preview(v1.PreviewEvent{Cmd: "scp " + remotePath, Host: ep.Host})
	if mode.IsPreview() {
		return nil
	}
	s.copies++
	s.files[remotePath] = true
	return s.copyErr
}

func (s *fakeShell) Check(context.Context, remote.Endpoint) error {
	s.checks++
	return nil
}

type fakePoller struct {
	calls int
	err   error
}

func (p *fakePoller) WaitReachable(_ context.Context, mode v1.Mode, _ string) error {
	p.calls++
	if mode.IsPreview() {
		return nil
	}
	return p.err
}

type fakeHandle struct{ closed *int }

func (h fakeHandle) Close() error { *h.closed++; return nil }

type fakeTunnels struct {
	opened, closed int
	err            error
}

func (t *fakeTunnels) Open(_ context.Context, mode v1.Mode, _, _, _ string, _ int) (remote.Handle, error) {
	if t.err != nil {
		return nil, t.err
	}
	if !mode.IsPreview() {
		t.opened++
	}
	return fakeHandle{closed: &t.closed}, nil
}

type fakeFinder struct {
	searches []string
	id       string
}

func (f *fakeFinder) FindImage(_ context.Context, search string) (string, bool, error) {
	f.searches = append(f.searches, search)
	return f.id, f.id != "", nil
}
