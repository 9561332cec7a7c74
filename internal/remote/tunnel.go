package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/metrics"
	"github.com/f9-o/berth/pkg/errs"
	"github.com/f9-o/berth/pkg/sshutil"
)

const (
	// ExecutorTunnelRetries bounds tunnel attempts made by remote deploys.
	ExecutorTunnelRetries = 20
	// RegistryTunnelRetries bounds tunnel attempts made by the registry service.
	RegistryTunnelRetries = 50
	// DefaultRetryDelay separates tunnel attempts.
	DefaultRetryDelay = time.Second
)

// ForwardConn is the SSH connection a tunnel is carried over. *ssh.Client satisfies it.
type ForwardConn interface {
	Listen(network, addr string) (net.Listener, error)
	Dial(network, addr string) (net.Conn, error)
	Close() error
}

// Direction says which end of a tunnel listens.
type Direction int

const (
	// Reverse listens on the target and connects back to this machine (ssh -R).
	Reverse Direction = iota
	// Local listens on this machine and connects out from the target (ssh -L).
	Local
)

// TunnelDialer opens the SSH connection a tunnel is carried over.
type TunnelDialer interface {
	DialTunnel(ctx context.Context, ep Endpoint) (ForwardConn, error)
}

// Handle is an open tunnel. Close is idempotent.
type Handle interface {
	Close() error
}

// Tunnels opens SSH port forwards between 127.0.0.1:port on this machine and
// 127.0.0.1:port on a target. Executors use reverse forwards so targets can
// reach the local registry.
type Tunnels struct {
	Dialer     TunnelDialer
	Retries    int
	RetryDelay time.Duration
	log        *logger.Logger
}

// NewTunnels creates a tunnel manager that dials with d.
func NewTunnels(log *logger.Logger, d TunnelDialer, retries int) *Tunnels {
	return &Tunnels{Dialer: d, Retries: retries, RetryDelay: DefaultRetryDelay, log: log}
}

// WithRetries returns a copy using a different attempt bound.
func (t *Tunnels) WithRetries(n int) *Tunnels {
	c := *t
	c.Retries = n
	return &c
}

type noopHandle struct{}

func (noopHandle) Close() error { return nil }

// Open establishes a reverse forward. In preview mode it returns a no-op
// handle without touching the network. On exhaustion every connection opened
// along the way has been closed before the error is returned.
func (t *Tunnels) Open(ctx context.Context, mode v1.Mode, user, identity, host string, port int) (Handle, error) {
	return t.OpenDirection(ctx, mode, Reverse, user, identity, host, port)
}

// OpenDirection is Open with an explicit direction.
func (t *Tunnels) OpenDirection(ctx context.Context, mode v1.Mode, dir Direction, user, identity, host string, port int) (Handle, error) {
	if mode.IsPreview() {
		return noopHandle{}, nil
	}

	retries := t.Retries
	if retries <= 0 {
		retries = ExecutorTunnelRetries
	}
	ep := Endpoint{Host: host, User: user, Identity: identity}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	t.log.Debug("setting up ssh tunnel", "host", host, "user", user, "port", port, "retries", retries)

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				metrics.RecordTunnelFailure()
				return nil, errs.Wrap(ctx.Err(), errs.ErrTunnel, "remote.tunnel")
			case <-time.After(t.RetryDelay):
			}
		}

		conn, err := t.Dialer.DialTunnel(ctx, ep)
		if err != nil {
			lastErr = err
			t.log.Debug("tunnel dial failed", "host", host, "attempt", attempt, "err", err)
			continue
		}
		h := &tunnel{conn: conn, addr: addr, done: make(chan struct{}), log: t.log}
		if dir == Local {
			h.ln, err = net.Listen("tcp", addr)
			h.dial = func() (net.Conn, error) { return conn.Dial("tcp", addr) }
		} else {
			h.ln, err = conn.Listen("tcp", addr)
			h.dial = func() (net.Conn, error) { return net.DialTimeout("tcp", addr, sshutil.ConnectTimeout) }
		}
		if err != nil {
			lastErr = err
			conn.Close()
			t.log.Debug("tunnel listen failed", "host", host, "attempt", attempt, "err", err)
			continue
		}

		go h.serve()
		metrics.TunnelOpened()
		t.log.Info("ssh tunnel set up", "host", host, "port", port)
		return h, nil
	}

	metrics.RecordTunnelFailure()
	t.log.Warn("unable to set up the ssh tunnel", "host", host, "port", port)
	return nil, errs.New(errs.ErrTunnel, "remote.tunnel",
		fmt.Errorf("unable to set up tunnel after %d attempts: %w", retries, lastErr)).WithNode(host)
}

// tunnel proxies every connection accepted on ln to the far end through dial.
type tunnel struct {
	conn ForwardConn
	ln   net.Listener
	dial func() (net.Conn, error)
	addr string
	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
	log  *logger.Logger
}

func (t *tunnel) serve() {
	defer close(t.done)
	for {
		c, err := t.ln.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.proxy(c)
		}()
	}
}

func (t *tunnel) proxy(in net.Conn) {
	defer in.Close()
	far, err := t.dial()
	if err != nil {
		t.log.Warn("tunnel could not reach the far end", "addr", t.addr, "err", err)
		return
	}
	defer far.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(far, in); closeWrite(far) }()
	go func() { defer wg.Done(); _, _ = io.Copy(in, far); closeWrite(in) }()
	wg.Wait()
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}

// Close stops accepting, closes the SSH connection and waits for the accept loop.
func (t *tunnel) Close() error {
	var err error
	t.once.Do(func() {
		err = t.ln.Close()
		if cerr := t.conn.Close(); err == nil {
			err = cerr
		}
		<-t.done
		metrics.TunnelClosed()
	})
	return err
}

// SSHTunnelDialer dials real SSH connections for tunnels.
type SSHTunnelDialer struct {
	KnownHosts string
	Trusted    FingerprintLookup
}

// DialTunnel implements TunnelDialer.
func (d SSHTunnelDialer) DialTunnel(_ context.Context, ep Endpoint) (ForwardConn, error) {
	cfg, err := clientConfig(ep, d.KnownHosts, d.Trusted)
	if err != nil {
		return nil, err
	}
	return sshutil.Dial(ep.addr(), cfg)
}
