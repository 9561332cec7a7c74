// Package config provides the berth configuration loader.
// Config is loaded by merging defaults, ~/.berth/config.yaml, berth.yaml and BERTH_* env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/pkg/errs"
)

// ProjectFile is the manifest name searched for from the working directory upwards.
const ProjectFile = "berth.yaml"

// Defaults contains factory-default values applied before any config file is loaded.
var Defaults = map[string]any{
	"image_cache_path":         "",
	"tag_append":               "",
	"docker_host":              "",
	"remote_store":             "",
	"ssh.user":                 "",
	"ssh.identity_file":        "",
	"registry.host":            "localhost",
	"registry.port":            8011,
	"registry.tunnel_user":     "docker",
	"registry.tunnel_identity": "~/.ssh/id_boot2docker",
	"retention.window":         4,
	"build.export":             false,
	"metrics.enabled":          false,
	"metrics.port":             9091,
	"log.level":                "info",
	"log.format":               "text",
}

// ─────────────────────────────────────────────────────────────────────────────
// Config types
// ─────────────────────────────────────────────────────────────────────────────

// Config is the fully-decoded project configuration.
type Config struct {
	Version        string               `mapstructure:"version"`
	System         v1.System            `mapstructure:"system"      validate:"-"`
	Registry       RegistryConfig       `mapstructure:"registry"`
	SSH            SSHConfig            `mapstructure:"ssh"`
	ImageCachePath string               `mapstructure:"image_cache_path"`
	TagAppend      string               `mapstructure:"tag_append"`
	DockerHost     string               `mapstructure:"docker_host"`
	RemoteStore    string               `mapstructure:"remote_store"`
	Retention      RetentionConfig      `mapstructure:"retention"`
	Build          BuildConfig          `mapstructure:"build"`
	Targets        map[string]v1.Target `mapstructure:"targets"`
	Definitions    []v1.DefinitionSpec  `mapstructure:"definitions" validate:"dive"`
	Containers     []v1.ContainerSpec   `mapstructure:"containers"  validate:"dive"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Log            LogConfig            `mapstructure:"log"`
	resolved       map[string]*v1.Definition
}

// RegistryConfig describes the local image registry images are pushed to.
type RegistryConfig struct {
	Host           string `mapstructure:"host"            validate:"required"`
	Port           int    `mapstructure:"port"            validate:"min=1,max=65535"`
	Path           string `mapstructure:"path"`
	NoTunnel       bool   `mapstructure:"no_tunnel"`
	TunnelUser     string `mapstructure:"tunnel_user"`
	TunnelIdentity string `mapstructure:"tunnel_identity"`
}

// SSHConfig holds the fleet-wide SSH defaults.
type SSHConfig struct {
	User         string `mapstructure:"user"`
	IdentityFile string `mapstructure:"identity_file"`
	KnownHosts   string `mapstructure:"known_hosts"`
}

// RetentionConfig controls image purging on link.
type RetentionConfig struct {
	Window int `mapstructure:"window" validate:"min=1"`
}

// BuildConfig holds build pipeline toggles.
type BuildConfig struct {
	Export bool `mapstructure:"export"`
}

// MetricsConfig controls the optional Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig controls logging behaviour.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"omitempty,oneof=debug info warn error"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Loader
// ─────────────────────────────────────────────────────────────────────────────

// Load discovers and loads the configuration, walking up directories to find
// berth.yaml, then merging it with the global config and environment variables.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()

	for k, val := range Defaults {
		v.SetDefault(k, val)
	}

	// BERTH_REGISTRY_PORT → registry.port
	v.SetEnvPrefix("BERTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	globalCfg := filepath.Join(BerthHome(), "config.yaml")
	if _, err := os.Stat(globalCfg); err == nil {
		v.SetConfigFile(globalCfg)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(err, errs.ErrConfig, "config.global")
		}
	}

	projectPath := explicitPath
	if projectPath == "" {
		if p, err := discoverProjectConfig(); err == nil {
			projectPath = p
		}
	}
	if projectPath != "" {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, errs.Wrap(err, errs.ErrConfig, "config.project")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(err, errs.ErrConfig, "config.unmarshal")
	}
	if err := cfg.finalize(projectPath); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize applies derived defaults, validates and resolves definitions.
func (c *Config) finalize(projectPath string) error {
	if c.System.RepoPath == "" {
		if projectPath != "" {
			if abs, err := filepath.Abs(filepath.Dir(projectPath)); err == nil {
				c.System.RepoPath = abs
			}
		} else if wd, err := os.Getwd(); err == nil {
			c.System.RepoPath = wd
		}
	}
	if c.DockerHost == "" {
		c.DockerHost = os.Getenv("DOCKER_HOST")
	}
	if c.ImageCachePath == "" {
		c.ImageCachePath = filepath.Join(BerthHome(), "images")
	}
	if c.Registry.Path == "" {
		c.Registry.Path = filepath.Join(c.System.RepoPath, "registry")
	}
	c.Registry.TunnelIdentity = ExpandHome(c.Registry.TunnelIdentity)
	c.SSH.IdentityFile = ExpandHome(c.SSH.IdentityFile)
	if c.SSH.KnownHosts == "" {
		c.SSH.KnownHosts = filepath.Join(BerthHome(), "known_hosts")
	}

	if err := c.Validate(); err != nil {
		return err
	}
	return c.resolve()
}

// Validate runs struct-tag validation plus cross-reference checks.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return errs.Wrap(err, errs.ErrValidation, "config.validate")
	}
	if len(c.Definitions) > 0 || len(c.Containers) > 0 {
		if err := validate.Struct(c.System); err != nil {
			return errs.Wrap(err, errs.ErrValidation, "config.validate.system")
		}
	}

	defs := map[string]bool{}
	for _, d := range c.Definitions {
		if defs[d.ID] {
			return errs.Newf(errs.ErrValidation, "config.validate", "duplicate definition id %q", d.ID)
		}
		defs[d.ID] = true
	}
	seen := map[string]bool{}
	for _, ct := range c.Containers {
		if seen[ct.ID] {
			return errs.Newf(errs.ErrValidation, "config.validate", "duplicate container id %q", ct.ID)
		}
		seen[ct.ID] = true
		if !defs[ct.DefinitionID] {
			return errs.Newf(errs.ErrValidation, "config.validate",
				"container %q references unknown definition %q", ct.ID, ct.DefinitionID)
		}
		if ct.Target != "" {
			if _, ok := c.Targets[ct.Target]; !ok && !isAddress(ct.Target) {
				return errs.Newf(errs.ErrValidation, "config.validate",
					"container %q references unknown target %q", ct.ID, ct.Target)
			}
		}
	}
	return nil
}

func (c *Config) resolve() error {
	c.resolved = make(map[string]*v1.Definition, len(c.Definitions))
	for _, spec := range c.Definitions {
		def, err := v1.ResolveDefinition(spec)
		if err != nil {
			return errs.Wrap(err, errs.ErrConfig, "config.definitions")
		}
		c.resolved[def.ID] = &def
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Accessors
// ─────────────────────────────────────────────────────────────────────────────

// RegistryAddress is the derived `host:port` of the local registry.
func (c *Config) RegistryAddress() string {
	return c.Registry.Host + ":" + strconv.Itoa(c.Registry.Port)
}

// Definition returns the resolved definition with the given id.
func (c *Config) Definition(id string) (*v1.Definition, error) {
	if d, ok := c.resolved[id]; ok {
		return d, nil
	}
	return nil, errs.Newf(errs.ErrConfig, "config.definition", "unknown definition %q", id)
}

// AddDefinition registers an already-resolved definition; used by callers
// that build definitions programmatically.
func (c *Config) AddDefinition(def v1.Definition) {
	if c.resolved == nil {
		c.resolved = map[string]*v1.Definition{}
	}
	c.resolved[def.ID] = &def
}

// Container returns the container spec with the given id.
func (c *Config) Container(id string) (*v1.ContainerSpec, error) {
	for i := range c.Containers {
		if c.Containers[i].ID == id {
			return &c.Containers[i], nil
		}
	}
	return nil, errs.Newf(errs.ErrConfig, "config.container", "unknown container %q", id)
}

// Target resolves a named target, or treats name as a bare address.
// The empty name is the local machine.
func (c *Config) Target(name string) v1.Target {
	if t, ok := c.Targets[name]; ok {
		return t
	}
	return v1.Target{IPAddress: name}
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// discoverProjectConfig walks up from the CWD looking for berth.yaml.
func discoverProjectConfig() (string, error) {
	start, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for dir := start; ; {
		candidate := filepath.Join(dir, ProjectFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%s not found (searched up from %s)", ProjectFile, start)
}

func isAddress(s string) bool {
	return strings.ContainsAny(s, ".:") || s == "localhost"
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// BerthHome returns the berth home directory: $BERTH_HOME or ~/.berth.
func BerthHome() string {
	if h := os.Getenv("BERTH_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".berth"
	}
	return filepath.Join(home, ".berth")
}
