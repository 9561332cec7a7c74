// Package commands provides the shared runtime and all CLI subcommands.
package commands

import (
	"context"
	"os"
	"path/filepath"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/build"
	"github.com/f9-o/berth/internal/command"
	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/core/plugin"
	"github.com/f9-o/berth/internal/core/state"
	"github.com/f9-o/berth/internal/engine"
	"github.com/f9-o/berth/internal/executor"
	"github.com/f9-o/berth/internal/health"
	"github.com/f9-o/berth/internal/orchestrator"
	"github.com/f9-o/berth/internal/registry"
	"github.com/f9-o/berth/internal/remote"
	"github.com/f9-o/berth/internal/shell"
	"github.com/f9-o/berth/pkg/pprint"
)

// contextKey is the key type for values stored in a command context.
type contextKey string

const runtimeContextKey contextKey = "berth.runtime"

// GlobalFlags holds the parsed global flags for use by subcommands.
type GlobalFlags struct {
	Target     string
	Debug      bool
	JSONOutput bool
	DryRun     bool
}

// Runtime is the shared dependency bundle injected into each subcommand via context.
type Runtime struct {
	Config *config.Config
	Log    *logger.Logger
	State  *state.DB
	Flags  GlobalFlags

	svc *Services
}

// Services are the long-lived collaborators built on first use.
type Services struct {
	Engine       *engine.Client
	Pool         *remote.Pool
	Tunnels      *remote.Tunnels
	Inventory    *remote.Inventory
	Plugins      *plugin.Host
	Templates    *command.Templates
	Orchestrator *orchestrator.Orchestrator
	Registry     *registry.Service
}

// Mode maps --dry-run onto the execution mode.
func (rt *Runtime) Mode() v1.Mode {
	if rt.Flags.DryRun {
		return v1.ModePreview
	}
	return v1.ModeReal
}

// Output returns the sink operations write to.
func (rt *Runtime) Output() v1.Output {
	return pprint.NewSink(os.Stdout, rt.Flags.JSONOutput)
}

// Options returns orchestrator options for the global flags.
func (rt *Runtime) Options() orchestrator.Options {
	return orchestrator.Options{Mode: rt.Mode(), Out: rt.Output(), Target: rt.Flags.Target}
}

// DockerHost is the configured daemon address, falling back to $DOCKER_HOST.
func (rt *Runtime) DockerHost() string {
	if rt.Config.DockerHost != "" {
		return rt.Config.DockerHost
	}
	return os.Getenv("DOCKER_HOST")
}

// Services wires the executors, pipeline and orchestrator once per process.
func (rt *Runtime) Services() (*Services, error) {
	if rt.svc != nil {
		return rt.svc, nil
	}
	cfg, log := rt.Config, rt.Log

	eng, err := engine.NewClient(rt.DockerHost(), log)
	if err != nil {
		return nil, err
	}

	inv := remote.NewInventory(rt.State)
	if err := rt.adoptTargets(inv); err != nil {
		return nil, err
	}
	pool := remote.NewPool(log, cfg.SSH.KnownHosts, inv.FingerprintFor)
	tunnels := remote.NewTunnels(log,
		remote.SSHTunnelDialer{KnownHosts: cfg.SSH.KnownHosts, Trusted: inv.FingerprintFor},
		remote.ExecutorTunnelRetries)
	tpl := command.New(cfg.RegistryAddress(), cfg.TagAppend, cfg.Retention.Window, command.HostPlatform())
	runner := shell.NewRunner(log)

	local := localExecutor(cfg, runner, tpl, log)
	pull := executor.NewRegistryPull(local, eng)
	sel := &executor.Selector{
		Local:      local,
		Pull:       pull,
		Remote:     executor.NewRemote(pool, tunnels, health.NewPoller(log, health.DeployAttempts), tpl, cfg, log),
		DockerHost: rt.DockerHost(),
	}
	pipeline := build.New(runner, eng, build.GoGit{}, tpl, cfg, log)

	hooks := plugin.NewHost(log)
	if err := hooks.LoadDir(filepath.Join(config.BerthHome(), "plugins")); err != nil {
		log.Warn("plugins not loaded", "err", err)
	}

	rt.svc = &Services{
		Engine:       eng,
		Pool:         pool,
		Tunnels:      tunnels,
		Inventory:    inv,
		Plugins:      hooks,
		Templates:    tpl,
		Orchestrator: orchestrator.New(cfg, sel, pipeline, pull, hooks, rt.State, log),
		Registry: registry.New(eng, tunnels.WithRetries(remote.RegistryTunnelRetries),
			health.NewPoller(log, health.RegistryAttempts), cfg, log),
	}
	return rt.svc, nil
}

// adoptTargets makes targets registered with `berth targets add` addressable
// by name. Targets named in berth.yaml take precedence.
func (rt *Runtime) adoptTargets(inv *remote.Inventory) error {
	list, err := inv.List()
	if err != nil {
		return err
	}
	if rt.Config.Targets == nil {
		rt.Config.Targets = map[string]v1.Target{}
	}
	for _, info := range list {
		if _, ok := rt.Config.Targets[info.Name]; !ok {
			rt.Config.Targets[info.Name] = info.Target
		}
	}
	return nil
}

// Close releases everything the runtime opened.
func (rt *Runtime) Close() {
	if rt.svc != nil {
		rt.svc.Plugins.Shutdown()
		rt.svc.Pool.Close()
		_ = rt.svc.Engine.Close()
	}
	if rt.State != nil {
		_ = rt.State.Close()
	}
}

// NewContext returns a new context carrying the Runtime.
func NewContext(parent context.Context, rt *Runtime) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, runtimeContextKey, rt)
}

// FromContext extracts the Runtime from ctx. Panics if not present (programming error).
func FromContext(ctx context.Context) *Runtime {
	rt, ok := ctx.Value(runtimeContextKey).(*Runtime)
	if !ok || rt == nil {
		panic("berth: Runtime not found in context, missing PersistentPreRunE?")
	}
	return rt
}

// localExecutor runs local lifecycle commands in the image cache directory.
func localExecutor(cfg *config.Config, runner executor.Runner, tpl *command.Templates, log *logger.Logger) *executor.Local {
	return executor.NewLocal(runner, tpl, cfg.ImageCachePath, log)
}
