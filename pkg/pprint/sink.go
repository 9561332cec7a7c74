package pprint

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	v1 "github.com/f9-o/berth/api/v1"
)

// Sink renders operation output to a terminal, or as JSON lines when JSON is set.
// It satisfies v1.Output and is safe for concurrent use.
type Sink struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

var _ v1.Output = (*Sink)(nil)

// NewSink creates a Sink writing to w.
func NewSink(w io.Writer, jsonLines bool) *Sink {
	return &Sink{w: w, json: jsonLines}
}

type sinkEvent struct {
	Stream string `json:"stream"`
	Line   string `json:"line,omitempty"`
	Cmd    string `json:"cmd,omitempty"`
	Host   string `json:"host,omitempty"`
	User   string `json:"user,omitempty"`
}

// Stdout prints an announcement or a line of command output.
func (s *Sink) Stdout(line string) {
	s.write(sinkEvent{Stream: "stdout", Line: line}, func() string {
		return StyleText.Render(line)
	})
}

// Progress prints a dimmed progress line.
func (s *Sink) Progress(line string) {
	s.write(sinkEvent{Stream: "progress", Line: line}, func() string {
		return StyleMuted.Render("  " + line)
	})
}

// Preview prints a command echo in the form `user@host $ cmd`.
func (s *Sink) Preview(ev v1.PreviewEvent) {
	s.write(sinkEvent{Stream: "preview", Cmd: ev.Cmd, Host: ev.Host, User: ev.User}, func() string {
		who := ev.Host
		if ev.User != "" {
			who = ev.User + "@" + ev.Host
		}
		return StyleAccent.Render(who+" $ ") + StyleText.Render(strings.TrimSpace(ev.Cmd))
	})
}

func (s *Sink) write(ev sinkEvent, render func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.json {
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintln(s.w, string(b))
		return
	}
	fmt.Fprintln(s.w, render())
}
