package health

import (
	"context"
	"fmt"
	"time"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/metrics"
	"github.com/f9-o/berth/pkg/errs"
	"github.com/f9-o/berth/pkg/netutil"
)

const (
	// DefaultPort is the control port probed on targets.
	DefaultPort = 22
	// DefaultInterval is the wait between closed probes.
	DefaultInterval = 5 * time.Second
	// DeployAttempts bounds polls made by executor operations.
	DeployAttempts = 30
	// RegistryAttempts bounds polls made before the registry tunnel opens.
	RegistryAttempts = 14
)

// Poller waits for a host to accept connections on Port.
// It holds configuration only; attempt counters live in each WaitReachable call.
type Poller struct {
	Port        int
	Interval    time.Duration
	MaxAttempts int
	Probe       Probe
	log         *logger.Logger
}

// NewPoller returns a Poller probing port 22 every 5s up to maxAttempts times.
func NewPoller(log *logger.Logger, maxAttempts int) *Poller {
	return &Poller{
		Port:        DefaultPort,
		Interval:    DefaultInterval,
		MaxAttempts: maxAttempts,
		Probe:       TCPProbe(DefaultTimeout),
		log:         log,
	}
}

// WaitReachable blocks until address accepts a connection, the attempt budget
// is spent, or ctx ends. Preview mode and local addresses return at once.
func (p *Poller) WaitReachable(ctx context.Context, mode v1.Mode, address string) error {
	if mode.IsPreview() || netutil.IsLoopback(address) {
		return nil
	}

	budget := p.MaxAttempts
	if budget <= 0 {
		budget = DeployAttempts
	}
	p.log.Info("waiting for connectivity", "address", address, "port", p.Port, "attempts", budget)

	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		open := p.Probe(ctx, address, p.Port)
		metrics.RecordProbe(open)
		if open {
			p.log.Debug("target reachable", "address", address, "attempt", attempt)
			return nil
		}
		if attempt >= budget {
			metrics.RecordPollTimeout()
			return errs.New(errs.ErrConnectTimeout, "health.wait_reachable",
				fmt.Errorf("timeout exceeded - unable to connect to: %s after %d attempts", address, attempt)).
				WithNode(address).
				WithAdvice(fmt.Sprintf("check that %s accepts connections on port %d", address, p.Port))
		}

		p.log.Debug("target closed", "address", address, "attempt", attempt, "of", budget)
		timer.Reset(p.Interval)
		select {
		case <-ctx.Done():
			return errs.Wrap(ctx.Err(), errs.ErrConnectTimeout, "health.wait_reachable")
		case <-timer.C:
		}
	}
}
