package executor

import (
	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/pkg/netutil"
)

// Selector picks the executor for a target.
type Selector struct {
	Local      *Local
	Pull       *RegistryPull
	Remote     *Remote
	DockerHost string // DOCKER_HOST of the local daemon, if any
}

// IsLocal reports whether address is this machine: empty, loopback, or the
// host the local docker daemon is advertised on.
func IsLocal(address, dockerHost string) bool {
	if netutil.IsLoopback(address) {
		return true
	}
	if host, _, ok := netutil.ParseDockerHost(dockerHost); ok && host == address {
		return true
	}
	return false
}

// Select returns the executor for target and def. Remote targets always use
// the unattended dialect.
func (s *Selector) Select(target v1.Target, def *v1.Definition) Executor {
	if IsLocal(target.Address(), s.DockerHost) {
		if _, ok := def.Pull(); ok && s.Pull != nil {
			return s.Pull
		}
		return s.Local
	}
	return s.Remote
}
