// Package registry runs the local image registry that builds push to and
// targets pull from.
package registry

import (
	"context"
	"fmt"
	"os"
	"sync"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/engine"
	"github.com/f9-o/berth/internal/remote"
	"github.com/f9-o/berth/pkg/errs"
	"github.com/f9-o/berth/pkg/netutil"
)

const (
	// ContainerName names the registry container on the daemon.
	ContainerName = "berth-registry"
	// Image is the registry image started on the daemon.
	Image = "registry:2"
	// ContainerPort is the port the registry listens on inside its container.
	ContainerPort = 5000
	// DataDir is where the registry keeps its blobs inside the container.
	DataDir = "/var/lib/registry"
)

// Engine is the part of the Docker Engine client the service drives.
type Engine interface {
	EnsureService(ctx context.Context, spec engine.ServiceSpec) (id string, reused bool, err error)
	StopContainer(ctx context.Context, id string, remove bool) error
}

// TunnelOpener opens SSH port forwards.
type TunnelOpener interface {
	OpenDirection(ctx context.Context, mode v1.Mode, dir remote.Direction, user, identity, host string, port int) (remote.Handle, error)
}

// Poller waits for a host to accept SSH connections.
type Poller interface {
	WaitReachable(ctx context.Context, mode v1.Mode, address string) error
}

// Service owns the registry container and, when the daemon is remote, the
// tunnel that makes the registry port reachable on this machine.
type Service struct {
	eng     Engine
	tunnels TunnelOpener
	poller  Poller
	cfg     *config.Config
	log     *logger.Logger

	mu      sync.Mutex
	tunnel  remote.Handle
	id      string
	running bool
}

// New creates a registry service. tunnels should already carry the
// registry retry bound.
func New(eng Engine, tunnels TunnelOpener, poller Poller, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{eng: eng, tunnels: tunnels, poller: poller, cfg: cfg, log: log}
}

// DaemonHost returns the remote daemon host the registry runs on, or false
// when the daemon is local or tunnelling is disabled.
func (s *Service) DaemonHost() (string, bool) {
	if s.cfg.Registry.NoTunnel {
		return "", false
	}
	host, _, ok := netutil.ParseDockerHost(s.dockerHost())
	if !ok || netutil.IsLoopback(host) {
		return "", false
	}
	return host, true
}

func (s *Service) dockerHost() string {
	if s.cfg.DockerHost != "" {
		return s.cfg.DockerHost
	}
	return os.Getenv("DOCKER_HOST")
}

// Start brings up the registry. A running registry container is reused.
func (s *Service) Start(ctx context.Context, mode v1.Mode, out v1.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	port := s.cfg.Registry.Port
	if host, ok := s.DaemonHost(); ok {
		if err := s.poller.WaitReachable(ctx, mode, host); err != nil {
			return err
		}
		h, err := s.tunnels.OpenDirection(ctx, mode, remote.Local,
			s.cfg.Registry.TunnelUser, s.cfg.Registry.TunnelIdentity, host, port)
		if err != nil {
			return err
		}
		s.tunnel = h
	} else {
		s.log.Debug("registry tunnel not needed", "docker_host", s.dockerHost())
	}

	path := s.cfg.Registry.Path
	out.Preview(v1.PreviewEvent{
		Cmd: fmt.Sprintf("docker run -d --name %s -p %d:%d -v %s:%s %s",
			ContainerName, port, ContainerPort, path, DataDir, Image),
		Host: "localhost",
	})
	if mode.IsPreview() {
		s.closeTunnel()
		return nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		s.closeTunnel()
		return errs.Wrap(err, errs.ErrConfig, "registry.start")
	}
	id, reused, err := s.eng.EnsureService(ctx, engine.ServiceSpec{
		Name:          ContainerName,
		Image:         Image,
		HostPort:      port,
		ContainerPort: ContainerPort,
		Binds:         []string{path + ":" + DataDir},
		Labels:        map[string]string{"berth.role": "registry"},
	})
	if err != nil {
		s.closeTunnel()
		return err
	}
	s.id = id
	s.running = true
	s.log.Info("registry started", "port", port, "path", path, "reused", reused)
	out.Progress(fmt.Sprintf("registry listening on %s", s.cfg.RegistryAddress()))
	return nil
}

// Stop closes the tunnel and stops the registry container.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeTunnel()
	s.running = false
	if s.id == "" {
		return nil
	}
	id := s.id
	s.id = ""
	return s.eng.StopContainer(ctx, id, false)
}

func (s *Service) closeTunnel() {
	if s.tunnel == nil {
		return
	}
	if err := s.tunnel.Close(); err != nil {
		s.log.Warn("closing registry tunnel", "err", err)
	}
	s.tunnel = nil
}
