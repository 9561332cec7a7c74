// Package logger provides the structured logging engine for berth.
// Uses log/slog writing to stderr and a log file, plus an append-only audit log.
package logger

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Logger
// ─────────────────────────────────────────────────────────────────────────────

// Logger wraps slog.Logger with berth-specific utilities.
type Logger struct {
	*slog.Logger

	mu     sync.Mutex
	auditW io.Writer // append-only audit log writer (nil = disabled)
}

// Init builds the process logger and installs it as the slog default.
func Init(level, format, logFile, berthHome string, debug bool) (*Logger, error) {
	lvl := parseLevel(level)
	if debug {
		lvl = slog.LevelDebug
	}

	writers := []io.Writer{os.Stderr}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0750); err == nil {
			if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640); err == nil {
				writers = append(writers, f)
			}
		}
	}
	out := io.MultiWriter(writers...)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl, AddSource: debug}
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	base := slog.New(handler)
	slog.SetDefault(base)

	var auditW io.Writer
	if berthHome != "" {
		auditPath := filepath.Join(berthHome, "audit.log")
		if af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640); err == nil {
			auditW = af
		}
	}

	return &Logger{Logger: base, auditW: auditW}, nil
}

// New wraps an arbitrary handler; audit entries go to auditW when non-nil.
func New(h slog.Handler, auditW io.Writer) *Logger {
	return &Logger{Logger: slog.New(h), auditW: auditW}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return New(slog.NewTextHandler(io.Discard, nil), nil)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Audit logging
// ─────────────────────────────────────────────────────────────────────────────

// AuditEntry represents a single audit log event.
type AuditEntry struct {
	Timestamp  time.Time `json:"ts"`
	Op         string    `json:"op"`
	User       string    `json:"user"`
	Target     string    `json:"target,omitempty"`
	Definition string    `json:"definition,omitempty"`
	Container  string    `json:"container,omitempty"`
	Mode       string    `json:"mode"`
	Result     string    `json:"result"` // success | failure
	Error      string    `json:"error,omitempty"`
}

// Audit writes an append-only audit log entry.
func (l *Logger) Audit(entry AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	l.Info("audit",
		"op", entry.Op,
		"target", entry.Target,
		"definition", entry.Definition,
		"container", entry.Container,
		"mode", entry.Mode,
		"result", entry.Result,
	)
	if l.auditW == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.auditW.Write(append(line, '\n'))
}
