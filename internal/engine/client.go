// Package engine talks to the Docker Engine API for the few operations that
// need structured answers: image lookup and the local registry container.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	networktypes "github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/pkg/errs"
)

// API is the subset of the Docker client berth uses.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageList(ctx context.Context, opts image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ContainerList(ctx context.Context, opts containertypes.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, cfg *containertypes.Config, host *containertypes.HostConfig,
		net *networktypes.NetworkingConfig, platform *ocispec.Platform, name string) (containertypes.CreateResponse, error)
	ContainerStart(ctx context.Context, id string, opts containertypes.StartOptions) error
	ContainerStop(ctx context.Context, id string, opts containertypes.StopOptions) error
	ContainerRemove(ctx context.Context, id string, opts containertypes.RemoveOptions) error
	Close() error
}

// Client wraps the Docker API client with berth-specific helpers.
type Client struct {
	api API
	log *logger.Logger
}

// NewClient connects to host, or to the daemon named by the environment when host is empty.
func NewClient(host string, log *logger.Logger) (*Client, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	} else {
		opts = append(opts, dockerclient.FromEnv)
	}
	dc, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrDockerConnect, "engine.client")
	}
	return &Client{api: dc, log: log}, nil
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api API, log *logger.Logger) *Client {
	return &Client{api: api, log: log}
}

// Ping verifies the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.Ping(ctx)
	return errs.Wrap(err, errs.ErrDockerConnect, "engine.ping")
}

// Close releases the client.
func (c *Client) Close() error {
	return c.api.Close()
}

// FindImage returns the id of the first local image with a tag containing search.
func (c *Client) FindImage(ctx context.Context, search string) (string, bool, error) {
	images, err := c.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return "", false, errs.Wrap(err, errs.ErrImageLookup, "engine.find_image")
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if strings.Contains(tag, search) {
				return img.ID, true, nil
			}
		}
	}
	return "", false, nil
}

// Image is one tagged local image.
type Image struct {
	Tag     string `json:"tag"     yaml:"tag"`
	ID      string `json:"id"      yaml:"id"`
	Created int64  `json:"created" yaml:"created"`
	Size    int64  `json:"size"    yaml:"size"`
}

// ListTagged returns every local tag starting with repo, newest first.
func (c *Client) ListTagged(ctx context.Context, repo string) ([]Image, error) {
	images, err := c.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrImageLookup, "engine.list_images")
	}
	var out []Image
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if strings.HasPrefix(tag, repo) {
				out = append(out, Image{Tag: tag, ID: img.ID, Created: img.Created, Size: img.Size})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created > out[j].Created })
	return out, nil
}

// PullImage pulls ref, logging progress at debug level.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	c.log.Info("pulling image", "image", ref)
	rc, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errs.Wrap(fmt.Errorf("image pull %q: %w", ref, err), errs.ErrDockerPull, "engine.pull")
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg struct {
			Status   string `json:"status"`
			Progress string `json:"progress"`
			Error    string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errs.Wrap(err, errs.ErrDockerPull, "engine.pull")
		}
		if msg.Error != "" {
			return errs.Newf(errs.ErrDockerPull, "engine.pull", "image pull error: %s", msg.Error)
		}
		if msg.Status != "" {
			c.log.Debug("pull", "status", msg.Status, "progress", msg.Progress)
		}
	}
}

// ServiceSpec describes a long-running helper container published on one port.
type ServiceSpec struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	Binds         []string
	Labels        map[string]string
}

// EnsureService returns the id of the running container named spec.Name,
// starting an existing stopped one or creating it when absent.
func (c *Client) EnsureService(ctx context.Context, spec ServiceSpec) (id string, reused bool, err error) {
	existing, err := c.api.ContainerList(ctx, containertypes.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+spec.Name+"$")),
	})
	if err != nil {
		return "", false, errs.Wrap(err, errs.ErrDockerConnect, "engine.ensure")
	}
	if len(existing) > 0 {
		ctr := existing[0]
		if ctr.State == "running" {
			c.log.Info("reusing running container", "name", spec.Name, "id", short(ctr.ID))
			return ctr.ID, true, nil
		}
		if err := c.api.ContainerStart(ctx, ctr.ID, containertypes.StartOptions{}); err != nil {
			return "", false, errs.Wrap(err, errs.ErrDockerRun, "engine.ensure")
		}
		c.log.Info("restarted container", "name", spec.Name, "id", short(ctr.ID))
		return ctr.ID, true, nil
	}

	if found, err := c.hasImage(ctx, spec.Image); err != nil {
		return "", false, err
	} else if !found {
		if err := c.PullImage(ctx, spec.Image); err != nil {
			return "", false, err
		}
	}

	port := nat.Port(strconv.Itoa(spec.ContainerPort) + "/tcp")
	cfg := &containertypes.Config{
		Image:        spec.Image,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &containertypes.HostConfig{
		PortBindings:  nat.PortMap{port: []nat.PortBinding{{HostPort: strconv.Itoa(spec.HostPort)}}},
		Binds:         spec.Binds,
		RestartPolicy: containertypes.RestartPolicy{Name: containertypes.RestartPolicyUnlessStopped},
	}

	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, &networktypes.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return "", false, errs.Wrap(fmt.Errorf("container create %q: %w", spec.Name, err), errs.ErrDockerRun, "engine.ensure")
	}
	if err := c.api.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		_ = c.api.ContainerRemove(ctx, resp.ID, containertypes.RemoveOptions{Force: true})
		return "", false, errs.Wrap(fmt.Errorf("container start %q: %w", short(resp.ID), err), errs.ErrDockerRun, "engine.ensure")
	}
	c.log.Info("container started", "name", spec.Name, "id", short(resp.ID))
	return resp.ID, false, nil
}

// StopContainer stops a container and optionally removes it.
func (c *Client) StopContainer(ctx context.Context, id string, remove bool) error {
	timeout := 10
	if err := c.api.ContainerStop(ctx, id, containertypes.StopOptions{Timeout: &timeout}); err != nil {
		return errs.Wrap(fmt.Errorf("container stop %q: %w", short(id), err), errs.ErrDockerRemove, "engine.stop")
	}
	c.log.Info("container stopped", "id", short(id))
	if remove {
		if err := c.api.ContainerRemove(ctx, id, containertypes.RemoveOptions{}); err != nil {
			return errs.Wrap(fmt.Errorf("container remove %q: %w", short(id), err), errs.ErrDockerRemove, "engine.stop")
		}
	}
	return nil
}

func (c *Client) hasImage(ctx context.Context, ref string) (bool, error) {
	images, err := c.api.ImageList(ctx, image.ListOptions{Filters: filters.NewArgs(filters.Arg("reference", ref))})
	if err != nil {
		return false, errs.Wrap(err, errs.ErrImageLookup, "engine.has_image")
	}
	return len(images) > 0, nil
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
