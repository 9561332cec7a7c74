// Package sshutil provides reusable SSH client helpers for berth's remote layer.
package sshutil

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is the standard SSH port.
const DefaultPort = 22

// ConnectTimeout is the default dial timeout for SSH connections.
const ConnectTimeout = 15 * time.Second

// KeepAliveInterval is how often a keepalive packet is sent to the server.
const KeepAliveInterval = 15 * time.Second

// ClientConfig builds an ssh.ClientConfig from a private key file.
// If knownHostsFile is non-empty, strict host key verification is enabled.
func ClientConfig(user, keyPath, knownHostsFile string) (*ssh.ClientConfig, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key %q: %w", keyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User:    user,
		Auth:    []ssh.AuthMethod{ssh.PublicKeys(signer)},
		Timeout: ConnectTimeout,
	}

	if knownHostsFile != "" {
		if _, statErr := os.Stat(knownHostsFile); statErr == nil {
			hostKeyCallback, err := knownhosts.New(knownHostsFile)
			if err != nil {
				return nil, fmt.Errorf("load known_hosts %q: %w", knownHostsFile, err)
			}
			cfg.HostKeyCallback = hostKeyCallback
			return cfg, nil
		}
	}
	// Hosts not yet trusted with `berth targets trust` are accepted as-is.
	cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	return cfg, nil
}

// Dial establishes an SSH connection to addr (host:port) using cfg.
func Dial(addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %q: %w", addr, err)
	}
	return client, nil
}

// RunCommandContext runs cmd with an optional stdin, returning the combined
// output and exit code.
// The session is closed when ctx is done, which aborts the remote command.
func RunCommandContext(ctx context.Context, client *ssh.Client, cmd string, stdin io.Reader) (string, int, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return buf.String(), -1, ctx.Err()
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return buf.String(), exitErr.ExitStatus(), err
		}
		return buf.String(), -1, err
	}
	return buf.String(), 0, nil
}

// CopyFile streams r to remotePath on the host by piping it into `cat`.
func CopyFile(ctx context.Context, client *ssh.Client, r io.Reader, remotePath string) error {
	cmd := fmt.Sprintf("cat > '%s'", strings.ReplaceAll(remotePath, "'", `'\''`))
	out, _, err := RunCommandContext(ctx, client, cmd, r)
	if err != nil {
		return fmt.Errorf("copy to %s: %w: %s", remotePath, err, strings.TrimSpace(out))
	}
	return nil
}

// FingerprintMD5 computes the legacy MD5 fingerprint of an SSH public key.
func FingerprintMD5(key ssh.PublicKey) string {
	sum := md5.Sum(key.Marshal()) //nolint:gosec
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// EncodeHostKey serialises an ssh.PublicKey to a known_hosts line.
func EncodeHostKey(host string, key ssh.PublicKey) string {
	return fmt.Sprintf("%s %s %s",
		host,
		key.Type(),
		base64.StdEncoding.EncodeToString(key.Marshal()),
	)
}

// GatherHostKey dials addr and retrieves the server's host key without authentication.
// Used by `berth targets trust` to record the host fingerprint before full trust.
func GatherHostKey(addr string, timeout time.Duration) (ssh.PublicKey, error) {
	var capturedKey ssh.PublicKey

	cfg := &ssh.ClientConfig{
		User: "berth-probe",
		Auth: []ssh.AuthMethod{ssh.Password("")},
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			capturedKey = key
			return nil
		},
		Timeout: timeout,
	}

	// Authentication fails, but the key has been captured by then.
	conn, err := ssh.Dial("tcp", addr, cfg)
	if conn != nil {
		conn.Close()
	}
	if capturedKey == nil {
		return nil, fmt.Errorf("could not capture host key from %s: %w", addr, err)
	}
	return capturedKey, nil
}
