package orchestrator

import (
	"context"
	"errors"
	"fmt"

	v1 "github.com/f9-o/berth/api/v1"
)

// Up drives the named containers, or every container of the manifest when
// ids is empty, through build, deploy, start and link. Each definition is
// built once. The first failure stops the run.
func (o *Orchestrator) Up(ctx context.Context, ids []string, opts Options) error {
	specs, err := o.placements(ids)
	if err != nil {
		return err
	}

	if !opts.NoBuild {
		built := map[string]bool{}
		for _, spec := range specs {
			if built[spec.DefinitionID] {
				continue
			}
			if _, err := o.Build(ctx, spec.DefinitionID, opts); err != nil {
				return fmt.Errorf("up %q: %w", spec.ID, err)
			}
			built[spec.DefinitionID] = true
		}
	}

	for _, spec := range specs {
		for _, op := range []lifecycleOp{opDeploy, opStart, opLink} {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.exec(ctx, op, spec.ID, opts); err != nil {
				return fmt.Errorf("up %q: %w", spec.ID, err)
			}
		}
	}
	return nil
}

// Down drives the containers through stop, unlink and undeploy in reverse
// manifest order. A failing container is logged and skipped so the rest
// still come down; the failures are returned together.
func (o *Orchestrator) Down(ctx context.Context, ids []string, opts Options) error {
	specs, err := o.placements(ids)
	if err != nil {
		return err
	}

	var failed []error
	for i := len(specs) - 1; i >= 0; i-- {
		spec := specs[i]
		for _, op := range []lifecycleOp{opStop, opUnlink, opUndeploy} {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(failed, err)...)
			}
			if err := o.exec(ctx, op, spec.ID, opts); err != nil {
				o.log.Warn("down failed", "container", spec.ID, "op", op.name, "err", err)
				failed = append(failed, fmt.Errorf("down %q: %w", spec.ID, err))
				break
			}
		}
	}
	return errors.Join(failed...)
}

func (o *Orchestrator) placements(ids []string) ([]v1.ContainerSpec, error) {
	if len(ids) == 0 {
		return o.cfg.Containers, nil
	}
	out := make([]v1.ContainerSpec, 0, len(ids))
	for _, id := range ids {
		spec, err := o.cfg.Container(id)
		if err != nil {
			return nil, unknownContainer(id)
		}
		out = append(out, *spec)
	}
	return out, nil
}
