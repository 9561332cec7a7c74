// Package plugin loads berth plugins and dispatches lifecycle hooks to them.
// Shared objects in ~/.berth/plugins/ must export a "BerthPlugin" symbol
// implementing api/v1.PluginV1. Plugins compiled into the binary use Register.
package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	goplugin "plugin"
	"sort"
	"sync"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/logger"
)

// Symbol is the exported name looked up in plugin shared objects.
const Symbol = "BerthPlugin"

// Host holds loaded plugins and their hooks in registration order.
type Host struct {
	mu      sync.RWMutex
	plugins map[string]v1.PluginV1
	hooks   map[string][]v1.HookFunc
	log     *logger.Logger
}

// NewHost returns a host with no plugins.
func NewHost(log *logger.Logger) *Host {
	return &Host{
		plugins: make(map[string]v1.PluginV1),
		hooks:   make(map[string][]v1.HookFunc),
		log:     log,
	}
}

// LoadDir loads every *.so in dir. A plugin that fails to load is logged and
// skipped; only an unreadable dir is an error.
func (h *Host) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		return fmt.Errorf("glob plugins: %w", err)
	}
	for _, path := range matches {
		if err := h.open(path); err != nil {
			h.log.Warn("plugin load failed, skipping", "path", path, "err", err)
		}
	}
	return nil
}

func (h *Host) open(path string) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("plugin panicked during load: %v", r)
		}
	}()

	so, err := goplugin.Open(path)
	if err != nil {
		return fmt.Errorf("open shared object: %w", err)
	}
	sym, err := so.Lookup(Symbol)
	if err != nil {
		return fmt.Errorf("symbol %s not found: %w", Symbol, err)
	}
	impl, ok := sym.(v1.PluginV1)
	if !ok {
		return fmt.Errorf("%s does not implement PluginV1", Symbol)
	}
	return h.Register(impl, nil)
}

// Register initialises p with cfg and subscribes its hooks. A second plugin
// with the same name is rejected.
func (h *Host) Register(p v1.PluginV1, cfg map[string]string) error {
	if p.APIVersion() != v1.PluginAPIVersion {
		return fmt.Errorf("plugin %q: API version mismatch: plugin=%q, host=%q",
			p.Name(), p.APIVersion(), v1.PluginAPIVersion)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	name := p.Name()
	if _, dup := h.plugins[name]; dup {
		return fmt.Errorf("plugin %q already registered", name)
	}
	if err := p.Init(cfg); err != nil {
		return fmt.Errorf("plugin %q Init: %w", name, err)
	}
	h.plugins[name] = p

	// map order is random; keep hook order stable per plugin
	hooks := p.Hooks()
	names := make([]string, 0, len(hooks))
	for hook := range hooks {
		names = append(names, hook)
	}
	sort.Strings(names)
	for _, hook := range names {
		h.hooks[hook] = append(h.hooks[hook], hooks[hook])
	}
	h.log.Info("plugin loaded", "name", name, "api_version", p.APIVersion())
	return nil
}

// Fire runs every hook subscribed to name. Hook errors and panics are logged
// and never stop the operation or later hooks.
func (h *Host) Fire(ctx context.Context, name string, hctx v1.HookContext) {
	h.mu.RLock()
	fns := h.hooks[name]
	h.mu.RUnlock()

	if hctx.Op == "" {
		hctx.Op = name
	}
	for _, fn := range fns {
		if ctx.Err() != nil {
			return
		}
		h.call(name, fn, hctx)
	}
}

func (h *Host) call(name string, fn v1.HookFunc, hctx v1.HookContext) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("plugin hook panicked", "hook", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	if err := fn(hctx); err != nil {
		h.log.Warn("plugin hook returned error", "hook", name, "err", err)
	}
}

// Shutdown calls Shutdown on every plugin.
func (h *Host) Shutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for name, p := range h.plugins {
		if err := p.Shutdown(); err != nil {
			h.log.Warn("plugin shutdown error", "name", name, "err", err)
		}
	}
}

// List returns the sorted names of the loaded plugins.
func (h *Host) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
