package executor

import (
	"context"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/command"
	"github.com/f9-o/berth/pkg/errs"
)

// ImageFinder looks up a local image by a substring of one of its tags.
type ImageFinder interface {
	FindImage(ctx context.Context, search string) (id string, found bool, err error)
}

// RegistryPull serves definitions whose image comes from an upstream
// registry. Everything but Build and Deploy is done as Local does it.
type RegistryPull struct {
	*Local
	finder ImageFinder
}

// NewRegistryPull wraps local.
func NewRegistryPull(local *Local, finder ImageFinder) *RegistryPull {
	return &RegistryPull{Local: local, finder: finder}
}

// Name implements Executor.
func (p *RegistryPull) Name() string { return "registry-pull" }

// Build pulls the upstream image, tags it `system/id`, and pushes that tag to
// the local registry.
func (p *RegistryPull) Build(ctx context.Context, req Request) (v1.Artifact, error) {
	def := req.Definition
	pull, ok := def.Pull()
	if !ok || pull.Name == "" {
		return v1.Artifact{}, errs.Newf(errs.ErrConfig, "registry.build", "missing name for definition %s", def.ID)
	}
	if def.Execute == nil {
		return v1.Artifact{}, errs.Newf(errs.ErrConfig, "registry.build", "missing execute block in %s container definition", def.ID)
	}

	tag := req.System.Name + "/" + def.ID
	for _, cmd := range []string{command.Import(pull.Name), command.TagImage(pull.Name, tag)} {
		if _, err := p.run(ctx, req, cmd); err != nil {
			return v1.Artifact{}, errs.Wrap(err, errs.ErrBuild, "registry.build")
		}
	}

	var id string
	if !req.Mode.IsPreview() {
		found := false
		var err error
		id, found, err = p.finder.FindImage(ctx, tag)
		if err != nil {
			return v1.Artifact{}, errs.Wrap(err, errs.ErrImageLookup, "registry.build")
		}
		if !found {
			return v1.Artifact{}, errs.Newf(errs.ErrImageLookup, "registry.build", "no local image tagged %s", tag)
		}
	}

	registryTag := p.tpl.Registry + "/" + tag
	push := command.Pipeline{
		command.Docker("tag", tag, registryTag),
		command.Docker("push", registryTag),
	}.String()
	if _, err := p.run(ctx, req, push); err != nil {
		return v1.Artifact{}, errs.Wrap(err, errs.ErrBuild, "registry.build")
	}

	return v1.Artifact{DockerImageID: id, DockerLocalTag: registryTag, ImageTag: tag}, nil
}

// Deploy pulls the upstream image and re-tags it under the definition's tag.
// Nothing is transferred.
func (p *RegistryPull) Deploy(ctx context.Context, req Request) error {
	script, err := p.tpl.BuildScript(req.System, req.Definition)
	if err != nil {
		return err
	}
	if _, err := p.run(ctx, req, script); err != nil {
		return errs.Wrap(err, errs.ErrDockerPull, "registry.deploy")
	}
	return nil
}

var _ Executor = (*RegistryPull)(nil)
