// Package orchestrator is the entry point for every build and lifecycle
// operation. It resolves containers against the manifest, picks the
// executor, and surrounds each call with hooks, metrics, audit and state.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/build"
	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/executor"
	"github.com/f9-o/berth/internal/metrics"
	"github.com/f9-o/berth/pkg/errs"
)

// SourceBuilder builds source definitions. *build.Pipeline satisfies it.
type SourceBuilder interface {
	Run(ctx context.Context, in build.Input) (v1.Artifact, error)
}

// PullBuilder builds registry-pull definitions. *executor.RegistryPull satisfies it.
type PullBuilder interface {
	Build(ctx context.Context, req executor.Request) (v1.Artifact, error)
}

// ExecutorSelector picks the executor for a placement.
type ExecutorSelector interface {
	Select(target v1.Target, def *v1.Definition) executor.Executor
}

// Hooks dispatches plugin hooks. *plugin.Host satisfies it.
type Hooks interface {
	Fire(ctx context.Context, name string, hctx v1.HookContext)
}

// Store persists artifacts, runtime state and history. *state.DB satisfies it.
type Store interface {
	GetArtifact(definitionID string) (*v1.Artifact, error)
	PutArtifact(definitionID string, a v1.Artifact) error
	GetContainer(id string) (*v1.Container, error)
	PutContainer(c v1.Container) error
	PutDeployment(rec v1.DeploymentRecord) error
}

// Options apply to one facade call.
type Options struct {
	Mode v1.Mode
	Out  v1.Output
	// Target overrides the placement recorded in the manifest.
	Target string
	// FromCWD builds the working directory instead of the workspace checkout.
	FromCWD bool
	// NoBuild makes Up skip the build step.
	NoBuild bool
}

// Orchestrator runs operations against the containers of one manifest.
type Orchestrator struct {
	cfg      *config.Config
	selector ExecutorSelector
	source   SourceBuilder
	pull     PullBuilder
	hooks    Hooks
	store    Store
	log      *logger.Logger
	now      func() time.Time
}

// New wires an orchestrator. hooks and store may be nil.
func New(cfg *config.Config, sel ExecutorSelector, source SourceBuilder, pull PullBuilder, hooks Hooks, store Store, log *logger.Logger) *Orchestrator {
	if hooks == nil {
		hooks = nopHooks{}
	}
	return &Orchestrator{
		cfg:      cfg,
		selector: sel,
		source:   source,
		pull:     pull,
		hooks:    hooks,
		store:    store,
		log:      log,
		now:      time.Now,
	}
}

type nopHooks struct{}

func (nopHooks) Fire(context.Context, string, v1.HookContext) {}

// lifecycleOp describes one container operation.
type lifecycleOp struct {
	name   string
	verb   string
	pre    string
	post   string
	status v1.ContainerStatus
	run    func(executor.Executor, context.Context, executor.Request) error
}

var (
	opDeploy   = lifecycleOp{"deploy", "deploying", v1.HookPreDeploy, v1.HookPostDeploy, v1.StatusDeployed, executor.Executor.Deploy}
	opStart    = lifecycleOp{"start", "starting", v1.HookPreStart, v1.HookPostStart, v1.StatusStarted, executor.Executor.Start}
	opStop     = lifecycleOp{"stop", "stopping", v1.HookPreStop, v1.HookPostStop, v1.StatusStopped, executor.Executor.Stop}
	opLink     = lifecycleOp{"link", "linking", "", v1.HookLink, v1.StatusLinked, executor.Executor.Link}
	opUnlink   = lifecycleOp{"unlink", "unlinking", "", v1.HookUnlink, v1.StatusUnlinked, executor.Executor.Unlink}
	opUndeploy = lifecycleOp{"undeploy", "undeploying", "", v1.HookUndeploy, v1.StatusUndeployed, executor.Executor.Undeploy}
)

// Build produces the image of a definition and merges the artifact into it.
func (o *Orchestrator) Build(ctx context.Context, definitionID string, opts Options) (v1.Artifact, error) {
	def, err := o.Definition(definitionID)
	if err != nil {
		return v1.Artifact{}, err
	}
	opts.Out.Stdout("--> building " + def.ID)
	hctx := v1.HookContext{Op: "build", System: &o.cfg.System, Definition: def, Mode: opts.Mode}
	o.hooks.Fire(ctx, v1.HookPreBuild, hctx)

	started := o.now()
	var (
		art  v1.Artifact
		kind string
	)
	if _, ok := def.Source(); ok {
		kind = "pipeline"
		art, err = o.source.Run(ctx, build.Input{
			Mode: opts.Mode, System: o.cfg.System, Definition: def, Out: opts.Out, FromCWD: opts.FromCWD,
		})
	} else {
		kind = "registry-pull"
		art, err = o.pull.Build(ctx, executor.Request{
			Mode: opts.Mode, System: o.cfg.System, Definition: def, Out: opts.Out,
		})
		if err == nil && !opts.Mode.IsPreview() {
			mergeArtifact(&def.Artifact, art)
		}
	}
	o.finish(outcome{op: "build", executor: kind, definition: def.ID, tag: art.ImageTag}, opts.Mode, started, err)
	if err != nil {
		return v1.Artifact{}, err
	}

	o.hooks.Fire(ctx, v1.HookPostBuild, hctx)
	o.hooks.Fire(ctx, v1.HookOperationOK, hctx)
	if !opts.Mode.IsPreview() && o.store != nil {
		if err := o.store.PutArtifact(def.ID, def.Artifact); err != nil {
			return art, err
		}
	}
	return art, nil
}

// Deploy makes the container's image available on its target.
func (o *Orchestrator) Deploy(ctx context.Context, containerID string, opts Options) error {
	return o.exec(ctx, opDeploy, containerID, opts)
}

// Add is Deploy.
func (o *Orchestrator) Add(ctx context.Context, containerID string, opts Options) error {
	return o.Deploy(ctx, containerID, opts)
}

// Start runs the container on its target.
func (o *Orchestrator) Start(ctx context.Context, containerID string, opts Options) error {
	return o.exec(ctx, opStart, containerID, opts)
}

// Stop kills the running container.
func (o *Orchestrator) Stop(ctx context.Context, containerID string, opts Options) error {
	return o.exec(ctx, opStop, containerID, opts)
}

// Link brings the container into service and purges old images.
func (o *Orchestrator) Link(ctx context.Context, containerID string, opts Options) error {
	return o.exec(ctx, opLink, containerID, opts)
}

// Unlink takes the container out of service.
func (o *Orchestrator) Unlink(ctx context.Context, containerID string, opts Options) error {
	return o.exec(ctx, opUnlink, containerID, opts)
}

// Undeploy cleans exited containers and untagged images off the target.
func (o *Orchestrator) Undeploy(ctx context.Context, containerID string, opts Options) error {
	return o.exec(ctx, opUndeploy, containerID, opts)
}

// Remove is Undeploy.
func (o *Orchestrator) Remove(ctx context.Context, containerID string, opts Options) error {
	return o.Undeploy(ctx, containerID, opts)
}

func (o *Orchestrator) exec(ctx context.Context, op lifecycleOp, containerID string, opts Options) error {
	req, target, err := o.request(containerID, opts)
	if err != nil {
		return err
	}
	exe := o.selector.Select(req.Target, req.Definition)
	o.log.Debug("operation", "op", op.name, "container", containerID, "target", target, "executor", exe.Name())

	opts.Out.Stdout(fmt.Sprintf("--> %s %s", op.verb, containerID))
	hctx := v1.HookContext{
		Op:         op.name,
		System:     &req.System,
		Definition: req.Definition,
		Container:  req.Container,
		Target:     &req.Target,
		Mode:       req.Mode,
		Metadata:   map[string]string{"executor": exe.Name()},
	}
	if op.pre != "" {
		o.hooks.Fire(ctx, op.pre, hctx)
	}

	started := o.now()
	err = op.run(exe, ctx, req)
	o.finish(outcome{
		op:         op.name,
		executor:   exe.Name(),
		definition: req.Definition.ID,
		container:  containerID,
		target:     target,
		tag:        req.Definition.Artifact.ImageTag,
	}, req.Mode, started, err)
	if err != nil {
		return err
	}

	o.hooks.Fire(ctx, op.post, hctx)
	o.hooks.Fire(ctx, v1.HookOperationOK, hctx)
	if req.Mode.IsPreview() {
		return nil
	}
	req.Container.Status = op.status
	return o.persist(req)
}

// request resolves a container id into an executor request.
func (o *Orchestrator) request(containerID string, opts Options) (executor.Request, string, error) {
	spec, err := o.cfg.Container(containerID)
	if err != nil {
		return executor.Request{}, "", err
	}
	def, err := o.Definition(spec.DefinitionID)
	if err != nil {
		return executor.Request{}, "", err
	}
	target := spec.Target
	if opts.Target != "" {
		target = opts.Target
	}
	ctr, err := o.container(spec, target)
	if err != nil {
		return executor.Request{}, "", err
	}
	return executor.Request{
		Mode:       opts.Mode,
		Target:     o.cfg.Target(target),
		System:     o.cfg.System,
		Definition: def,
		Container:  ctr,
		Out:        opts.Out,
	}, target, nil
}

// Definition returns the manifest definition, filling its artifact from the
// store when this process has not built it.
func (o *Orchestrator) Definition(id string) (*v1.Definition, error) {
	def, err := o.cfg.Definition(id)
	if err != nil {
		return nil, err
	}
	if o.store == nil || !artifactEmpty(def.Artifact) {
		return def, nil
	}
	a, err := o.store.GetArtifact(id)
	if err != nil {
		return nil, err
	}
	if a != nil {
		def.Artifact = *a
	}
	return def, nil
}

func (o *Orchestrator) container(spec *v1.ContainerSpec, target string) (*v1.Container, error) {
	ctr := &v1.Container{ID: spec.ID, Status: v1.StatusUnknown}
	if o.store != nil {
		stored, err := o.store.GetContainer(spec.ID)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			ctr = stored
		}
	}
	if ctr.Target != target {
		// purge history belongs to the previous host
		ctr.PurgedTags = nil
	}
	ctr.DefinitionID = spec.DefinitionID
	ctr.Target = target
	ctr.Execute = spec.Execute
	return ctr, nil
}

func (o *Orchestrator) persist(req executor.Request) error {
	if o.store == nil {
		return nil
	}
	return o.store.PutContainer(*req.Container)
}

// outcome is what finish records about one operation.
type outcome struct {
	op         string
	executor   string
	definition string
	container  string
	target     string
	tag        string
}

// finish records metrics, the audit entry and, in real mode, the deployment record.
func (o *Orchestrator) finish(oc outcome, mode v1.Mode, started time.Time, err error) {
	done := o.now()
	metrics.RecordOperation(oc.op, oc.executor, err, done.Sub(started))

	result, msg := "success", ""
	if err != nil {
		result, msg = "failure", err.Error()
		o.log.Error("operation failed", "op", oc.op, "container", oc.container, "definition", oc.definition, "err", err)
	}
	o.log.Audit(logger.AuditEntry{
		Timestamp:  done,
		Op:         oc.op,
		User:       currentUser(),
		Target:     oc.target,
		Definition: oc.definition,
		Container:  oc.container,
		Mode:       string(mode),
		Result:     result,
		Error:      msg,
	})

	if mode.IsPreview() || o.store == nil {
		return
	}
	rec := v1.DeploymentRecord{
		ID:          uuid.NewString(),
		Op:          oc.op,
		Definition:  oc.definition,
		Container:   oc.container,
		Target:      oc.target,
		ImageTag:    oc.tag,
		StartedAt:   started.UTC(),
		CompletedAt: done.UTC(),
		Result:      result,
		DurationMS:  done.Sub(started).Milliseconds(),
		Error:       msg,
	}
	if perr := o.store.PutDeployment(rec); perr != nil {
		o.log.Warn("could not record deployment", "op", oc.op, "err", perr)
	}
}

// mergeArtifact copies the non-empty fields of src into dst.
func mergeArtifact(dst *v1.Artifact, src v1.Artifact) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.DockerImageID, src.DockerImageID)
	set(&dst.DockerLocalTag, src.DockerLocalTag)
	set(&dst.ImageTag, src.ImageTag)
	set(&dst.BuildHead, src.BuildHead)
	set(&dst.BuildNumber, src.BuildNumber)
	set(&dst.Binary, src.Binary)
	if len(src.ImageTags) > 0 {
		dst.ImageTags = append([]string(nil), src.ImageTags...)
	}
}

func artifactEmpty(a v1.Artifact) bool {
	return a.DockerImageID == "" && a.DockerLocalTag == "" && a.Binary == "" && len(a.ImageTags) == 0
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// unknownContainer is returned by Up and Down for ids missing from the manifest.
func unknownContainer(id string) error {
	return errs.Newf(errs.ErrConfig, "orchestrator", "unknown container %q", id).
		WithAdvice("list containers under containers: in berth.yaml")
}
