// Package netutil provides network utility helpers used across berth.
package netutil

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// targetNameRegex enforces DNS-label-safe target names.
var targetNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9\-_.]{0,62}$`)

// IsValidTargetName returns true if name is usable as a target key.
func IsValidTargetName(name string) bool {
	return targetNameRegex.MatchString(name)
}

// IsValidPort returns true if port is a usable TCP port.
func IsValidPort(port int) bool {
	return port > 0 && port <= 65535
}

// ProbeTCP dials host:port and returns nil if successful within the timeout.
func ProbeTCP(ctx context.Context, host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp probe to %s failed: %w", addr, err)
	}
	conn.Close()
	return nil
}

// IsLoopback reports whether host names the local machine: empty,
// "localhost" or a loopback IP literal.
func IsLoopback(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ParseDockerHost extracts host and port from a DOCKER_HOST value.
// Only tcp:// endpoints carry a host; unix sockets return ok=false.
func ParseDockerHost(dockerHost string) (host string, port int, ok bool) {
	if dockerHost == "" {
		return "", 0, false
	}
	u, err := url.Parse(dockerHost)
	if err != nil || u.Scheme != "tcp" || u.Hostname() == "" {
		return "", 0, false
	}
	port = 2375
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return u.Hostname(), port, true
}

// SplitHostPort wraps net.SplitHostPort with a default port fallback.
func SplitHostPort(addr string, defaultPort int) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		// No port in addr, treat the entire string as host
		return addr, defaultPort, nil
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q in %q", p, addr)
	}
	return h, n, nil
}
