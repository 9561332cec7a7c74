// Package health gates remote operations on a target accepting TCP connections.
package health

import (
	"context"
	"time"

	"github.com/f9-o/berth/pkg/netutil"
)

// DefaultTimeout bounds a single dial.
const DefaultTimeout = 3 * time.Second

// Probe reports whether host:port accepted a connection.
type Probe func(ctx context.Context, host string, port int) bool

// TCPProbe dials host:port with timeout and reports whether the port is open.
func TCPProbe(timeout time.Duration) Probe {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return func(ctx context.Context, host string, port int) bool {
		return netutil.ProbeTCP(ctx, host, port, timeout) == nil
	}
}
