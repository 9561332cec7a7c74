package remote

import (
	"context"
	"sync"
	"time"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/health"
	"github.com/f9-o/berth/pkg/sshutil"
)

// WatchInterval is how often each watched target is probed.
const WatchInterval = 30 * time.Second

// TargetEvent is published when a watched target changes status.
type TargetEvent struct {
	Target string
	Status v1.TargetStatus
}

// Watcher probes the SSH port of registered targets and records their status.
type Watcher struct {
	inv      *Inventory
	probe    health.Probe
	interval time.Duration
	events   chan TargetEvent
	log      *logger.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewWatcher creates a Watcher. probe may be nil for a plain TCP probe.
func NewWatcher(inv *Inventory, probe health.Probe, log *logger.Logger) *Watcher {
	if probe == nil {
		probe = health.TCPProbe(health.DefaultTimeout)
	}
	return &Watcher{
		inv:      inv,
		probe:    probe,
		interval: WatchInterval,
		events:   make(chan TargetEvent, 64),
		log:      log,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Events returns the channel status changes are published on.
func (w *Watcher) Events() <-chan TargetEvent {
	return w.events
}

// Watch starts probing info. Watching an already watched target is a no-op.
func (w *Watcher) Watch(info v1.TargetInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.cancels[info.Name]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancels[info.Name] = cancel
	go w.loop(ctx, info)
}

// Unwatch stops probing name.
func (w *Watcher) Unwatch(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.cancels[name]; ok {
		cancel()
		delete(w.cancels, name)
	}
}

// StopAll stops every probe loop.
func (w *Watcher) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, cancel := range w.cancels {
		cancel()
		delete(w.cancels, name)
	}
}

// CheckOnce probes info a single time, records and returns the status.
func (w *Watcher) CheckOnce(ctx context.Context, info v1.TargetInfo) v1.TargetStatus {
	port := info.Port
	if port == 0 {
		port = sshutil.DefaultPort
	}
	online := w.probe(ctx, info.Target.Address(), port)
	if err := w.inv.Mark(info.Name, online); err != nil {
		w.log.Warn("target status update failed", "target", info.Name, "err", err)
	}
	if online {
		return v1.TargetOnline
	}
	return v1.TargetOffline
}

func (w *Watcher) loop(ctx context.Context, info v1.TargetInfo) {
	last := w.CheckOnce(ctx, info)
	w.emit(TargetEvent{Target: info.Name, Status: last})

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := w.CheckOnce(ctx, info)
			if status != last {
				w.log.Info("target status changed", "target", info.Name, "status", status)
				w.emit(TargetEvent{Target: info.Name, Status: status})
				last = status
			}
		}
	}
}

// emit never blocks; events are dropped when nobody drains the channel.
func (w *Watcher) emit(ev TargetEvent) {
	select {
	case w.events <- ev:
	default:
		w.log.Debug("target event dropped", "target", ev.Target)
	}
}
