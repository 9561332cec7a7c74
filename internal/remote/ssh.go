// Package remote runs commands on targets over SSH and keeps the tunnels
// and target inventory that remote operations depend on.
// Each endpoint gets one persistent SSH connection with keepalive.
package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/shell"
	"github.com/f9-o/berth/pkg/errs"
	"github.com/f9-o/berth/pkg/sshutil"
)

// Endpoint identifies an SSH login on a target.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Identity string
}

func (e Endpoint) addr() string {
	port := e.Port
	if port == 0 {
		port = sshutil.DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

func (e Endpoint) key() string {
	return e.User + "@" + e.addr() + "#" + e.Identity
}

// FingerprintLookup returns the trusted host key fingerprint recorded for host.
type FingerprintLookup func(host string) (string, bool)

// connection holds a live SSH connection and its keepalive.
type connection struct {
	client   *ssh.Client
	lastUsed time.Time
	cancel   context.CancelFunc
}

// Pool manages persistent SSH connections and implements the remote shell.
type Pool struct {
	mu         sync.Mutex
	conns      map[string]*connection
	log        *logger.Logger
	knownHosts string
	trusted    FingerprintLookup
}

// NewPool creates an empty connection pool. knownHosts may be empty;
// trusted may be nil.
func NewPool(log *logger.Logger, knownHosts string, trusted FingerprintLookup) *Pool {
	return &Pool{
		conns:      make(map[string]*connection),
		log:        log,
		knownHosts: knownHosts,
		trusted:    trusted,
	}
}

// Connect establishes (or returns an existing) SSH connection for ep.
func (p *Pool) Connect(ctx context.Context, ep Endpoint) (*ssh.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := ep.key()
	if c, ok := p.conns[k]; ok {
		if _, _, err := c.client.Conn.SendRequest("keepalive@berth", true, nil); err == nil {
			c.lastUsed = time.Now()
			return c.client, nil
		}
		c.cancel()
		c.client.Close()
		delete(p.conns, k)
	}

	client, err := p.dial(ep)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	p.conns[k] = &connection{client: client, lastUsed: time.Now(), cancel: cancel}
	go p.keepalive(connCtx, ep.Host, client)

	p.log.Info("ssh connected", "host", ep.Host, "user", ep.User)
	return client, nil
}

// dial opens a new SSH connection, pinning the host key when the target was trusted.
func (p *Pool) dial(ep Endpoint) (*ssh.Client, error) {
	cfg, err := clientConfig(ep, p.knownHosts, p.trusted)
	if err != nil {
		return nil, err
	}
	client, err := sshutil.Dial(ep.addr(), cfg)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrTargetConnect, "remote.dial")
	}
	return client, nil
}

func clientConfig(ep Endpoint, knownHosts string, trusted FingerprintLookup) (*ssh.ClientConfig, error) {
	if ep.Identity == "" {
		return nil, errs.Newf(errs.ErrMissingIdentity, "remote.identity", "no identity file for %s", ep.Host).
			WithNode(ep.Host).
			WithAdvice("set identity_file on the target or ssh.identity_file in berth.yaml")
	}
	if _, err := os.Stat(ep.Identity); err != nil {
		return nil, errs.New(errs.ErrMissingIdentity, "remote.identity", err).WithNode(ep.Host)
	}
	cfg, err := sshutil.ClientConfig(ep.User, ep.Identity, knownHosts)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrTargetConnect, "remote.config")
	}
	if trusted != nil {
		if expect, ok := trusted(ep.Host); ok && expect != "" {
			cfg.HostKeyCallback = func(hostname string, _ net.Addr, key ssh.PublicKey) error {
				if got := sshutil.FingerprintMD5(key); got != expect {
					return errs.Newf(errs.ErrTargetKeyMismatch, "remote.hostkey",
						"host key mismatch for %s: got %s, expected %s", hostname, got, expect)
				}
				return nil
			}
		}
	}
	return cfg, nil
}

// Exec runs cmd on the endpoint, echoing it first and streaming its output
// to out. Non-zero exits are returned as *shell.ExitError.
func (p *Pool) Exec(ctx context.Context, mode v1.Mode, ep Endpoint, cmd string, out v1.Output) (string, error) {
	out.Preview(v1.PreviewEvent{Cmd: cmd, Host: ep.Host, User: ep.User})
	if mode.IsPreview() {
		return "", nil
	}

	client, err := p.Connect(ctx, ep)
	if err != nil {
		return "", err
	}
	p.log.Debug("ssh exec", "host", ep.Host, "cmd", cmd)

	output, code, err := sshutil.RunCommandContext(ctx, client, cmd, nil)
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if line != "" {
			out.Stdout(line)
		}
	}
	if err != nil {
		if code > 0 {
			return output, &shell.ExitError{Cmd: cmd, Code: code, Output: output}
		}
		return output, errs.Wrap(err, errs.ErrCommand, "remote.exec")
	}
	return output, nil
}

// Copy transfers localPath to remotePath on the endpoint.
func (p *Pool) Copy(ctx context.Context, mode v1.Mode, ep Endpoint, localPath, remotePath string, out v1.Output) error {
	out.Preview(v1.PreviewEvent{Cmd: fmt.Sprintf("scp %s %s@%s:%s", localPath, ep.User, ep.Host, remotePath), Host: ep.Host, User: ep.User})
	if mode.IsPreview() {
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return errs.Wrap(err, errs.ErrTransfer, "remote.copy")
	}
	defer f.Close()

	client, err := p.Connect(ctx, ep)
	if err != nil {
		return err
	}
	if err := sshutil.CopyFile(ctx, client, f, remotePath); err != nil {
		return errs.New(errs.ErrTransfer, "remote.copy", err).WithNode(ep.Host)
	}
	out.Progress("copied " + localPath + " to " + ep.Host + ":" + remotePath)
	return nil
}

// Check runs a trivial command to confirm the login works.
func (p *Pool) Check(ctx context.Context, ep Endpoint) error {
	client, err := p.Connect(ctx, ep)
	if err != nil {
		return err
	}
	_, _, err = sshutil.RunCommandContext(ctx, client, "true", nil)
	return errs.Wrap(err, errs.ErrTargetConnect, "remote.check")
}

// Disconnect closes every connection to host.
func (p *Pool) Disconnect(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, c := range p.conns {
		if strings.Contains(k, "@"+host+":") {
			c.cancel()
			c.client.Close()
			delete(p.conns, k)
			p.log.Info("ssh disconnected", "host", host)
		}
	}
}

// Close disconnects all managed connections.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, c := range p.conns {
		c.cancel()
		c.client.Close()
		delete(p.conns, k)
	}
}

// keepalive sends periodic keepalive packets to prevent session timeout.
func (p *Pool) keepalive(ctx context.Context, host string, client *ssh.Client) {
	ticker := time.NewTicker(sshutil.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := client.Conn.SendRequest("keepalive@berth", true, nil); err != nil {
				p.log.Warn("ssh keepalive failed, connection may be dead", "host", host, "err", err)
				return
			}
		}
	}
}
