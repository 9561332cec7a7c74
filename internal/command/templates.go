// Package command turns definitions into the docker and git command lines run
// on build hosts and targets. Everything here is pure string generation.
package command

import (
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/retention"
	"github.com/f9-o/berth/pkg/errs"
)

// Platform selects the command dialect of a host.
type Platform string

const (
	// Interactive hosts are developer machines (macOS docker clients).
	Interactive Platform = "interactive"
	// Unattended hosts are servers; every remote target is treated as one.
	Unattended Platform = "unattended"
)

// HostPlatform returns the dialect of the machine berth runs on.
func HostPlatform() Platform {
	if runtime.GOOS == "darwin" {
		return Interactive
	}
	return Unattended
}

// DefaultUser is the SSH login used when neither target nor config name one.
func (p Platform) DefaultUser() string {
	if p == Interactive {
		return ""
	}
	return "ubuntu"
}

// DeleteExitedContainers removes every container that has exited.
func (p Platform) DeleteExitedContainers() string {
	if p == Interactive {
		return `docker ps -a --no-trunc | grep Exit | awk '{print $1}' | xargs -I {} docker rm {}`
	}
	return `docker ps -a -notrunc | grep 'Exit' | awk '{print $1}' | xargs -r docker rm`
}

// DeleteUntaggedImages removes dangling images.
func (p Platform) DeleteUntaggedImages() string {
	if p == Interactive {
		return `docker images --no-trunc| grep none | awk '{print $3}' | xargs -I {} docker rmi {}`
	}
	return `docker images -notrunc| grep none | awk '{print $3}' | xargs -r docker rmi`
}

// ─────────────────────────────────────────────────────────────────────────────
// Templates
// ─────────────────────────────────────────────────────────────────────────────

// Templates generates the command lines for one registry configuration.
type Templates struct {
	Registry  string // host:port
	TagAppend string
	Window    int
	Platform  Platform
}

// New creates a Templates value.
func New(registry, tagAppend string, window int, p Platform) *Templates {
	return &Templates{Registry: registry, TagAppend: tagAppend, Window: window, Platform: p}
}

// WithPlatform returns a copy using platform p.
func (t *Templates) WithPlatform(p Platform) *Templates {
	c := *t
	c.Platform = p
	return &c
}

// Tag returns `registry/namespace/id[-tagAppend]`. Only the first space,
// dollar and slash of the id are rewritten, matching tags already in use.
func (t *Templates) Tag(sys v1.System, def *v1.Definition) string {
	id := strings.Replace(def.ID, " ", "_", 1)
	id = strings.Replace(id, "$", "-", 1)
	id = strings.Replace(id, "/", ".", 1)
	tag := strings.Join([]string{t.Registry, sys.Namespace, id}, "/")
	if t.TagAppend != "" {
		tag += "-" + t.TagAppend
	}
	return tag
}

// BuildScript returns the image build command for def.
//
// A pinned commit checks the commit out, builds, and restores the tree before
// exiting with the build's status. An unpinned source build builds the tree
// as it stands. A registry-pull definition pulls and re-tags the upstream image.
func (t *Templates) BuildScript(sys v1.System, def *v1.Definition) (string, error) {
	tag := t.Tag(sys, def)
	switch b := def.Build.(type) {
	case v1.SourceBuild:
		if b.Commit == "" {
			return Docker("build", "-t", tag, ".").String(), nil
		}
		return Pipeline{
			Git("checkout", "-q", b.Commit),
			Command{Name: "echo", Args: []string{"checked", "out", b.Commit}},
			Docker("build", "-t", tag, "."),
			Raw("RESULT=$?"),
			Git("reset", "-q", "HEAD", "."),
			Raw("(exit $RESULT)"),
		}.String(), nil
	case v1.RegistryPull:
		return Pipeline{
			Docker("pull", b.Name),
			Docker("tag", "-f", b.Name, tag),
		}.String(), nil
	default:
		return "", errs.Newf(errs.ErrConfig, "command.build_script",
			"definition %q has no build strategy", def.ID)
	}
}

// PushScript pushes the definition's tag to the registry.
func (t *Templates) PushScript(sys v1.System, def *v1.Definition) string {
	return Push(t.Tag(sys, def))
}

// Start is the composite start line: run the image detached, then stamp the
// running image with a millisecond tag so retention can age it out later.
// __TARGETIP__ in the user arguments is replaced with targetIP.
func (t *Templates) Start(tag string, opts v1.ExecuteOptions, targetIP string, now time.Time) string {
	args := opts.Args
	if args == "" {
		args = "-d"
	} else if !strings.Contains(args, "-d") {
		args += " -d"
	}

	run := Raw(strings.TrimSpace(strings.Join([]string{"docker run", strings.TrimSpace(args), Quote(tag), opts.Exec}, " ")))
	line := Pipeline{
		run,
		Docker("tag", tag, tag+":"+strconv.FormatInt(now.UnixMilli(), 10)),
	}.String()
	return Expand(line, Vars{TargetIP: targetIP})
}

// PurgeTags returns the tags the retention policy selects for def, oldest first.
func (t *Templates) PurgeTags(def *v1.Definition) []string {
	return retention.Select(def.Artifact.ImageTags, def.Commit(), t.Window)
}

// PurgeCommands returns one rmi per tag selected by the retention policy, oldest first.
func (t *Templates) PurgeCommands(def *v1.Definition) []string {
	doomed := t.PurgeTags(def)
	cmds := make([]string, 0, len(doomed))
	for _, tag := range doomed {
		cmds = append(cmds, Rmi(tag))
	}
	return cmds
}

// ─────────────────────────────────────────────────────────────────────────────
// Single commands
// ─────────────────────────────────────────────────────────────────────────────

// Import pulls tag onto the host.
func Import(tag string) string { return Docker("pull", tag).String() }

// Push pushes tag to its registry.
func Push(tag string) string { return Docker("push", tag).String() }

// Kill stops the container with the given runtime id.
func Kill(id string) string { return Docker("kill", id).String() }

// Run starts a container with a verbatim argument list.
func Run(args string) string { return "docker run " + args }

// Rmi force-removes an image tag.
func Rmi(tag string) string { return Docker("rmi", "-f", tag).String() }

// TagImage points dst at src.
func TagImage(src, dst string) string { return Docker("tag", src, dst).String() }

// Load imports an image tarball that is already on the host.
func Load(binary string) string { return "docker load < " + Quote(binary) }

// Save exports tag into a tarball.
func Save(tag, binary string) string { return Docker("save", "-o", binary, tag).String() }

// ─────────────────────────────────────────────────────────────────────────────
// Placeholders
// ─────────────────────────────────────────────────────────────────────────────

// Vars are the values substituted into user-supplied text. Empty fields leave
// their placeholder untouched.
type Vars struct {
	Namespace   string
	TargetName  string
	BuildNumber string
	BuildPath   string
	Registry    string
	Arguments   string
	TargetIP    string
	TargetID    string
	Tag         string
	Binary      string
}

// Expand substitutes every __PLACEHOLDER__ in text textually.
func Expand(text string, v Vars) string {
	pairs := []struct{ token, value string }{
		{"__NAMESPACE__", v.Namespace},
		{"__TARGETNAME__", v.TargetName},
		{"__BUILDNUMBER__", v.BuildNumber},
		{"__BUILDPATH__", v.BuildPath},
		{"__REGISTRY__", v.Registry},
		{"__ARGUMENTS__", v.Arguments},
		{"__TARGETIP__", v.TargetIP},
		{"__TARGETID__", v.TargetID},
		{"__TAG__", v.Tag},
		{"__BINARY__", v.Binary},
	}
	var oldnew []string
	for _, p := range pairs {
		if p.value != "" {
			oldnew = append(oldnew, p.token, p.value)
		}
	}
	if len(oldnew) == 0 {
		return text
	}
	return strings.NewReplacer(oldnew...).Replace(text)
}

var checkoutRe = regexp.MustCompile(`(?i).*?/([^/]*?)\.git`)

// CheckoutName extracts the repository directory name from a clone URL.
func CheckoutName(repositoryURL string) (string, error) {
	m := checkoutRe.FindStringSubmatch(repositoryURL)
	if m == nil || m[1] == "" {
		return "", errs.New(errs.ErrConfig, "command.checkout_name",
			fmt.Errorf("cannot derive a checkout directory from %q", repositoryURL))
	}
	return m[1], nil
}
