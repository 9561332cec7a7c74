// Package build produces the image of a source-built definition as a linear
// pipeline of named stages sharing one error path.
package build

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/command"
	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/executor"
	"github.com/f9-o/berth/pkg/errs"
)

// DockerSocket is the local daemon socket checked before a build.
const DockerSocket = "/var/run/docker.sock"

// Input selects what a pipeline run builds.
type Input struct {
	Mode       v1.Mode
	System     v1.System
	Definition *v1.Definition
	Out        v1.Output
	// FromCWD builds the tree in the working directory instead of the workspace checkout.
	FromCWD bool
}

// run is the state threaded through the stages of one build.
type run struct {
	Input
	source      v1.SourceBuild
	checkout    string
	targetPath  string
	tag         string
	buildNumber string
	artifact    v1.Artifact
	version     string
}

// Stage is one named step of the pipeline.
type Stage struct {
	Name string
	Fn   func(ctx context.Context, r *run) error
}

// Pipeline builds source definitions.
type Pipeline struct {
	runner executor.Runner
	finder executor.ImageFinder
	git    Git
	tpl    *command.Templates
	cfg    *config.Config
	log    *logger.Logger

	socket string
	now    func() time.Time
}

// New creates a Pipeline.
func New(runner executor.Runner, finder executor.ImageFinder, git Git, tpl *command.Templates, cfg *config.Config, log *logger.Logger) *Pipeline {
	return &Pipeline{
		runner: runner,
		finder: finder,
		git:    git,
		tpl:    tpl,
		cfg:    cfg,
		log:    log,
		socket: DockerSocket,
		now:    time.Now,
	}
}

// Stages lists the pipeline in execution order.
func (p *Pipeline) Stages() []Stage {
	return []Stage{
		{"precheck", p.precheck},
		{"checkout", p.checkoutStage},
		{"prebuild", p.prebuild},
		{"image", p.image},
		{"tag", p.tagStage},
		{"push", p.push},
		{"export", p.export},
		{"resolve", p.resolve},
		{"version", p.versionStage},
		{"merge", p.merge},
	}
}

// Run executes every stage in order and returns the produced artifact. The
// first failing stage ends the run. In preview mode commands are reported but
// not run, the daemon is never queried and the definition is left untouched.
func (p *Pipeline) Run(ctx context.Context, in Input) (v1.Artifact, error) {
	src, ok := in.Definition.Source()
	if !ok {
		return v1.Artifact{}, errs.Newf(errs.ErrConfig, "build", "definition %q is not a source build", in.Definition.ID)
	}
	r := &run{Input: in, source: src}
	for _, st := range p.Stages() {
		if err := ctx.Err(); err != nil {
			return v1.Artifact{}, err
		}
		p.log.Debug("build stage", "definition", in.Definition.ID, "stage", st.Name)
		if err := st.Fn(ctx, r); err != nil {
			p.log.Error("build stage failed", "definition", in.Definition.ID, "stage", st.Name, "err", err)
			return v1.Artifact{}, err
		}
	}
	return r.artifact, nil
}

func (p *Pipeline) precheck(_ context.Context, _ *run) error {
	if _, err := os.Stat(p.socket); err == nil {
		return nil
	}
	if p.cfg.DockerHost != "" || os.Getenv("DOCKER_HOST") != "" {
		return nil
	}
	return errs.Newf(errs.ErrPrecheck, "build.precheck", "docker precheck failed").
		WithAdvice("ensure docker can run on this system or set DOCKER_HOST")
}

func (p *Pipeline) checkoutStage(ctx context.Context, r *run) error {
	switch {
	case r.source.CheckoutDir != "":
		r.checkout = r.source.CheckoutDir
		if !filepath.IsAbs(r.checkout) {
			r.checkout = filepath.Join(r.System.RepoPath, r.checkout)
		}
	case r.FromCWD:
		wd, err := os.Getwd()
		if err != nil {
			return errs.Wrap(err, errs.ErrBuild, "build.checkout")
		}
		r.checkout = wd
	default:
		name, err := command.CheckoutName(r.source.RepositoryURL)
		if err != nil {
			return err
		}
		r.checkout = filepath.Join(r.System.RepoPath, "workspace", name)
	}

	if _, err := os.Stat(r.checkout); err == nil {
		return nil
	}
	r.Out.Preview(v1.PreviewEvent{Cmd: "git clone " + r.source.RepositoryURL + " " + r.checkout, Host: "localhost"})
	if r.Mode.IsPreview() {
		return nil
	}
	if err := p.git.Clone(ctx, r.source.RepositoryURL, r.checkout, r.Out); err != nil {
		return errs.Wrap(err, errs.ErrBuild, "build.checkout")
	}
	return nil
}

func (p *Pipeline) prebuild(ctx context.Context, r *run) error {
	r.targetPath = "."
	if r.source.BuildScript == "" {
		r.Out.Progress("no build script present, skipping")
		return nil
	}
	r.Out.Progress("running build script: ./" + r.source.BuildScript)
	res, err := p.runner.Run(ctx, r.Mode, "sh ./"+r.source.BuildScript, r.checkout, r.Out)
	if err != nil {
		return errs.Wrap(err, errs.ErrBuild, "build.prebuild")
	}
	if res.Last != "" {
		r.targetPath = res.Last
	}
	return nil
}

func (p *Pipeline) dir(r *run) string {
	return filepath.Join(r.checkout, r.targetPath)
}

func (p *Pipeline) image(ctx context.Context, r *run) error {
	r.Out.Stdout("creating image")
	r.tag = p.tpl.Tag(r.System, r.Definition)
	script, err := p.tpl.BuildScript(r.System, r.Definition)
	if err != nil {
		return err
	}
	p.log.Debug("docker build script", "script", script)
	if _, err := p.runner.Run(ctx, r.Mode, script, p.dir(r), r.Out); err != nil {
		return errs.Wrap(err, errs.ErrBuild, "build.image")
	}
	return nil
}

func (p *Pipeline) tagStage(ctx context.Context, r *run) error {
	r.buildNumber = strconv.FormatInt(p.now().UnixMilli(), 10)
	numbered := r.tag + ":" + r.buildNumber
	if _, err := p.runner.Run(ctx, r.Mode, command.TagImage(r.tag, numbered), p.dir(r), r.Out); err != nil {
		return errs.Wrap(err, errs.ErrBuild, "build.tag")
	}
	r.artifact.ImageTags = append(append([]string(nil), r.Definition.Artifact.ImageTags...), numbered)
	return nil
}

func (p *Pipeline) push(ctx context.Context, r *run) error {
	r.Out.Progress("pushing to registry")
	script := p.tpl.PushScript(r.System, r.Definition)
	p.log.Debug("docker push script", "script", script)
	if _, err := p.runner.Run(ctx, r.Mode, script, p.dir(r), r.Out); err != nil {
		return errs.Wrap(err, errs.ErrBuild, "build.push")
	}
	r.Out.Progress("created image")
	return nil
}

func (p *Pipeline) export(ctx context.Context, r *run) error {
	if !p.cfg.Build.Export {
		return nil
	}
	builds := filepath.Join(r.System.RepoPath, "builds")
	if !r.Mode.IsPreview() {
		if err := os.MkdirAll(builds, 0o755); err != nil {
			return errs.Wrap(err, errs.ErrBuild, "build.export")
		}
	}
	binary := filepath.Join(builds, r.Definition.ID+"-"+r.buildNumber+".tar")
	if _, err := p.runner.Run(ctx, r.Mode, command.Save(r.tag, binary), p.dir(r), r.Out); err != nil {
		return errs.Wrap(err, errs.ErrBuild, "build.export")
	}
	r.artifact.Binary = binary
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, r *run) error {
	if r.Mode.IsPreview() {
		return nil
	}
	search := r.tag + ":" + r.buildNumber
	id, found, err := p.finder.FindImage(ctx, search)
	if err != nil {
		return errs.Wrap(err, errs.ErrImageLookup, "build.resolve")
	}
	if !found {
		return errs.Newf(errs.ErrImageLookup, "build.resolve", "no local image tagged %s", search)
	}
	r.artifact.DockerImageID = id
	r.artifact.DockerLocalTag = r.tag
	r.artifact.ImageTag = search
	r.artifact.BuildNumber = r.buildNumber
	return nil
}

func (p *Pipeline) versionStage(_ context.Context, r *run) error {
	r.version = ReadVersion(r.checkout)
	if head, err := p.git.Head(r.checkout); err == nil {
		r.artifact.BuildHead = head
	} else {
		p.log.Debug("no git head for checkout", "dir", r.checkout, "err", err)
	}
	return nil
}

func (p *Pipeline) merge(_ context.Context, r *run) error {
	if r.Mode.IsPreview() {
		return nil
	}
	r.Definition.Artifact = r.artifact
	r.Definition.Version = r.version
	return nil
}
