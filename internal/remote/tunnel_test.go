package remote

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/pkg/errs"
)

type fakeConn struct {
	mu        sync.Mutex
	closed    bool
	listener  net.Listener
	listenErr error
	dialAddr  string
}

func (c *fakeConn) Listen(_, _ string) (net.Listener, error) {
	if c.listenErr != nil {
		return nil, c.listenErr
	}
	return c.listener, nil
}

// Dial stands in for a connection opened from the target side.
func (c *fakeConn) Dial(network, _ string) (net.Conn, error) {
	return net.Dial(network, c.dialAddr)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeConn
	next  func(n int) (*fakeConn, error)
}

func (d *fakeDialer) DialTunnel(context.Context, Endpoint) (ForwardConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	c, err := d.next(d.dials)
	if err != nil {
		return nil, err
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func newTestTunnels(d TunnelDialer, retries int) *Tunnels {
	t := NewTunnels(logger.Nop(), d, retries)
	t.RetryDelay = time.Millisecond
	return t
}

func TestTunnelPreviewIsNoop(t *testing.T) {
	d := &fakeDialer{next: func(int) (*fakeConn, error) {
		t.Fatal("dial in preview mode")
		return nil, nil
	}}
	h, err := newTestTunnels(d, 3).Open(context.Background(), v1.ModePreview, "ubuntu", "/id", "10.0.0.2", 8011)
	require.NoError(t, err)
	assert.NoError(t, h.Close())
}

func TestTunnelExhaustionClosesPartialConnections(t *testing.T) {
	d := &fakeDialer{next: func(n int) (*fakeConn, error) {
		if n%2 == 1 {
			return nil, errors.New("connection refused")
		}
		return &fakeConn{listenErr: errors.New("remote port forwarding failed")}, nil
	}}
	_, err := newTestTunnels(d, 6).Open(context.Background(), v1.ModeReal, "ubuntu", "/id", "10.0.0.2", 8011)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrTunnel))
	assert.Equal(t, 6, d.dials)
	require.Len(t, d.conns, 3)
	for _, c := range d.conns {
		assert.True(t, c.closed)
	}
}

func echoService(t *testing.T) net.Listener {
	t.Helper()
	svc, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	go func() {
		for {
			c, err := svc.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, _ := bufio.NewReader(c).ReadString('\n')
				_, _ = c.Write([]byte("echo:" + line))
			}(c)
		}
	}()
	return svc
}

func roundTrip(t *testing.T, addr string) string {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("ping\n"))
	require.NoError(t, err)
	reply, err := bufio.NewReader(c).ReadString('\n')
	require.NoError(t, err)
	return reply
}

func TestTunnelForwardsToLocalPort(t *testing.T) {
	svc := echoService(t)
	port := svc.Addr().(*net.TCPAddr).Port

	// stands in for the listener opened on the target
	remoteLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	conn := &fakeConn{listener: remoteLn}
	d := &fakeDialer{next: func(int) (*fakeConn, error) { return conn, nil }}

	h, err := newTestTunnels(d, 3).Open(context.Background(), v1.ModeReal, "ubuntu", "/id", "10.0.0.2", port)
	require.NoError(t, err)

	assert.Equal(t, "echo:ping\n", roundTrip(t, remoteLn.Addr().String()))

	require.NoError(t, h.Close())
	assert.True(t, conn.closed)
	assert.NoError(t, h.Close())
}

func TestTunnelLocalDirectionListensHere(t *testing.T) {
	svc := echoService(t)

	// pick a free local port for the forward
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	conn := &fakeConn{dialAddr: svc.Addr().String()}
	d := &fakeDialer{next: func(int) (*fakeConn, error) { return conn, nil }}

	h, err := newTestTunnels(d, 3).OpenDirection(context.Background(), v1.ModeReal, Local, "docker", "/id", "192.168.99.100", port)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, "echo:ping\n", roundTrip(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port))))
}
