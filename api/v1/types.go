// Package v1 defines the public data types shared across all berth layers.
package v1

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Execution mode
// ─────────────────────────────────────────────────────────────────────────────

// Mode selects between real execution and preview (dry-run) execution.
type Mode string

const (
	ModeReal    Mode = "real"
	ModePreview Mode = "preview"
)

// IsPreview reports whether m is the preview mode.
func (m Mode) IsPreview() bool { return m == ModePreview }

// ─────────────────────────────────────────────────────────────────────────────
// Specification types (derived from berth.yaml)
// ─────────────────────────────────────────────────────────────────────────────

// System identifies the application and its source-tree root.
type System struct {
	Namespace string `yaml:"namespace" mapstructure:"namespace" json:"namespace" validate:"required"`
	RepoPath  string `yaml:"repo_path" mapstructure:"repo_path" json:"repo_path"`
	Name      string `yaml:"name"      mapstructure:"name"      json:"name"      validate:"required"`
}

// ExecuteOptions are the arguments handed to `docker run` when a container starts.
type ExecuteOptions struct {
	Args string `yaml:"args" mapstructure:"args" json:"args,omitempty"`
	Exec string `yaml:"exec" mapstructure:"exec" json:"exec,omitempty"`
}

// BuildStrategy is the sum type of the ways a definition produces its image.
// Implemented by SourceBuild and RegistryPull only.
type BuildStrategy interface {
	strategy() string
}

// SourceBuild builds the image from a checked-out source repository.
type SourceBuild struct {
	RepositoryURL string `json:"repository_url"`
	Commit        string `json:"commit,omitempty"`
	BuildScript   string `json:"build_script,omitempty"`
	CheckoutDir   string `json:"checkout_dir,omitempty"`
}

func (SourceBuild) strategy() string { return "source" }

// RegistryPull resolves the image by pulling an existing image from a registry.
type RegistryPull struct {
	Name string `json:"name"`
}

func (RegistryPull) strategy() string { return "registry" }

// StrategyName returns "source", "registry" or "" for a nil strategy.
func StrategyName(s BuildStrategy) string {
	if s == nil {
		return ""
	}
	return s.strategy()
}

// Artifact is the build output merged back into a Definition.
type Artifact struct {
	DockerImageID  string   `json:"docker_image_id,omitempty"`
	DockerLocalTag string   `json:"docker_local_tag,omitempty"`
	ImageTag       string   `json:"image_tag,omitempty"`
	BuildHead      string   `json:"build_head,omitempty"`
	BuildNumber    string   `json:"build_number,omitempty"`
	ImageTags      []string `json:"image_tags,omitempty"` // oldest first, append-only
	Binary         string   `json:"binary,omitempty"`     // exported image tarball
}

// Definition is the declarative spec for one container's build and runtime strategy.
type Definition struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Version  string          `json:"version,omitempty"`
	Build    BuildStrategy   `json:"-"`
	Execute  *ExecuteOptions `json:"execute,omitempty"`
	Artifact Artifact        `json:"artifact"`
}

// Source returns the SourceBuild strategy, if that is the one in use.
func (d *Definition) Source() (SourceBuild, bool) {
	s, ok := d.Build.(SourceBuild)
	return s, ok
}

// Pull returns the RegistryPull strategy, if that is the one in use.
func (d *Definition) Pull() (RegistryPull, bool) {
	p, ok := d.Build.(RegistryPull)
	return p, ok
}

// Commit returns the pinned source commit, or "" for registry-pull definitions.
func (d *Definition) Commit() string {
	if s, ok := d.Source(); ok {
		return s.Commit
	}
	return ""
}

// DefinitionSpec is the on-disk shape of a definition. Exactly one of
// RepositoryURL and Image must be set; ResolveDefinition enforces this.
type DefinitionSpec struct {
	ID            string          `yaml:"id"             mapstructure:"id"             validate:"required"`
	Name          string          `yaml:"name"           mapstructure:"name"`
	RepositoryURL string          `yaml:"repository_url" mapstructure:"repository_url"`
	Commit        string          `yaml:"commit"         mapstructure:"commit"`
	BuildScript   string          `yaml:"build_script"   mapstructure:"build_script"`
	CheckoutDir   string          `yaml:"checkout_dir"   mapstructure:"checkout_dir"`
	Image         string          `yaml:"image"          mapstructure:"image"`
	Execute       *ExecuteOptions `yaml:"execute"        mapstructure:"execute"`
}

// ResolveDefinition turns a DefinitionSpec into a Definition with a single
// resolved BuildStrategy.
func ResolveDefinition(spec DefinitionSpec) (Definition, error) {
	def := Definition{ID: spec.ID, Name: spec.Name, Execute: spec.Execute}
	if def.Name == "" {
		def.Name = spec.ID
	}
	switch {
	case spec.RepositoryURL != "" && spec.Image != "":
		return Definition{}, fmt.Errorf("definition %q: repository_url and image are mutually exclusive", spec.ID)
	case spec.RepositoryURL != "":
		def.Build = SourceBuild{
			RepositoryURL: spec.RepositoryURL,
			Commit:        spec.Commit,
			BuildScript:   spec.BuildScript,
			CheckoutDir:   spec.CheckoutDir,
		}
	case spec.Image != "":
		if spec.Execute == nil {
			return Definition{}, fmt.Errorf("definition %q: missing execute block", spec.ID)
		}
		def.Build = RegistryPull{Name: spec.Image}
	default:
		return Definition{}, fmt.Errorf("definition %q: missing mandatory setting repository_url or image", spec.ID)
	}
	return def, nil
}

// Target identifies where lifecycle operations execute.
type Target struct {
	PrivateIPAddress string `yaml:"private_ip_address" mapstructure:"private_ip_address" json:"private_ip_address,omitempty"`
	IPAddress        string `yaml:"ip_address"         mapstructure:"ip_address"         json:"ip_address,omitempty"`
	User             string `yaml:"user"               mapstructure:"user"               json:"user,omitempty"`
	IdentityFile     string `yaml:"identity_file"      mapstructure:"identity_file"      json:"identity_file,omitempty"`
}

// Address returns the private address, falling back to the public one.
func (t Target) Address() string {
	if t.PrivateIPAddress != "" {
		return t.PrivateIPAddress
	}
	return t.IPAddress
}

// ContainerSpec places a definition on a target.
type ContainerSpec struct {
	ID           string          `yaml:"id"         mapstructure:"id"         validate:"required"`
	DefinitionID string          `yaml:"definition" mapstructure:"definition" validate:"required"`
	Target       string          `yaml:"target"     mapstructure:"target"`
	Execute      *ExecuteOptions `yaml:"execute"    mapstructure:"execute"`
}

// Container is a placed instance of a Definition within a topology.
// PurgedTags lists the retention-selected tags already removed from the
// container's host; the definition keeps its full tag history.
type Container struct {
	ID                string          `json:"id"`
	DefinitionID      string          `json:"definition_id"`
	Target            string          `json:"target"`
	Execute           *ExecuteOptions `json:"execute,omitempty"`
	DockerContainerID string          `json:"docker_container_id,omitempty"`
	Status            ContainerStatus `json:"status"`
	PurgedTags        []string        `json:"purged_tags,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ExecuteFor returns the per-instance execute options, falling back to the definition's.
func (c *Container) ExecuteFor(def *Definition) ExecuteOptions {
	if c != nil && c.Execute != nil {
		return *c.Execute
	}
	if def != nil && def.Execute != nil {
		return *def.Execute
	}
	return ExecuteOptions{}
}

// ─────────────────────────────────────────────────────────────────────────────
// Output sink
// ─────────────────────────────────────────────────────────────────────────────

// PreviewEvent describes a command that ran, or would have run, on a host.
type PreviewEvent struct {
	Cmd  string `json:"cmd"`
	Host string `json:"host"`
	User string `json:"user,omitempty"`
}

// Output is the write-only sink for operation progress.
type Output interface {
	Stdout(line string)
	Progress(line string)
	Preview(ev PreviewEvent)
}

// ─────────────────────────────────────────────────────────────────────────────
// Status enumerations
// ─────────────────────────────────────────────────────────────────────────────

// ContainerStatus is the last lifecycle state reached by a container.
type ContainerStatus string

const (
	StatusDeployed   ContainerStatus = "deployed"
	StatusStarted    ContainerStatus = "started"
	StatusStopped    ContainerStatus = "stopped"
	StatusLinked     ContainerStatus = "linked"
	StatusUnlinked   ContainerStatus = "unlinked"
	StatusUndeployed ContainerStatus = "undeployed"
	StatusUnknown    ContainerStatus = "unknown"
)

// TargetStatus represents the connectivity state of a registered target.
type TargetStatus string

const (
	TargetOnline  TargetStatus = "online"
	TargetOffline TargetStatus = "offline"
)

// ─────────────────────────────────────────────────────────────────────────────
// Runtime state types (persisted in BoltDB)
// ─────────────────────────────────────────────────────────────────────────────

// TargetInfo is the persisted record for a named target host.
type TargetInfo struct {
	Name           string       `json:"name"`
	Target         Target       `json:"target"`
	Port           int          `json:"port"`
	Status         TargetStatus `json:"status"`
	LastSeen       time.Time    `json:"last_seen"`
	KeyFingerprint string       `json:"key_fingerprint"`
	HostKey        string       `json:"host_key"`
	HostKeyKnown   bool         `json:"host_key_known"`
}

// DeploymentRecord is an immutable audit record of a lifecycle operation.
type DeploymentRecord struct {
	ID          string    `json:"id"`
	Op          string    `json:"op"`
	Definition  string    `json:"definition"`
	Container   string    `json:"container,omitempty"`
	Target      string    `json:"target"`
	ImageTag    string    `json:"image_tag,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Result      string    `json:"result"` // success | failure
	DurationMS  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}
