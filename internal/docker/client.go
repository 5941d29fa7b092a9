// Package docker wraps the engine SDK behind the narrow surface the deploy
// pipeline needs: find/stop/remove/rename/run containers, build images, and
// verify a replacement came up healthy.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
	imageapi "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slipway/slipway/internal/logging"
)

// Client is the interface used by the deployer for engine operations.
type Client interface {
	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error

	// FindContainerByName returns the container (running or not) with the
	// given name, and whether one exists.
	FindContainerByName(ctx context.Context, name string) (Container, bool, error)

	// StopContainer stops a container. A missing container is not an error.
	StopContainer(ctx context.Context, id string, timeout time.Duration) error

	// RemoveContainer force-removes a container. A missing container is not
	// an error.
	RemoveContainer(ctx context.Context, id string) error

	RenameContainer(ctx context.Context, id, newName string) error
	StartContainer(ctx context.Context, id string) error

	// BuildImage builds an image from a local context and returns the built
	// image ID.
	BuildImage(ctx context.Context, opts BuildOptions) (string, error)

	// RunContainer creates and starts a container, returning its ID.
	RunContainer(ctx context.Context, opts RunOptions) (string, error)

	// VerifyRunning polls the container until it is running (and healthy when
	// it declares a healthcheck), fails fast if it exits, or times out.
	VerifyRunning(ctx context.Context, id string, opts VerifyOptions) error

	// ImageID resolves an image reference to its ID, or "" when unknown.
	ImageID(ctx context.Context, ref string) (string, error)

	RemoveImage(ctx context.Context, imageID string) error
}

// dockerAPI is the subset of the SDK client the implementation uses; tests
// substitute a fake.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageInspectWithRaw(ctx context.Context, image string) (types.ImageInspect, []byte, error)
	ImageRemove(ctx context.Context, image string, options imageapi.RemoveOptions) ([]imageapi.DeleteResponse, error)
	ContainerList(ctx context.Context, options containertypes.ListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (containertypes.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options containertypes.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options containertypes.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options containertypes.RemoveOptions) error
	ContainerRename(ctx context.Context, containerID, newName string) error
}

// sdkClient is the production implementation backed by the official SDK.
type sdkClient struct {
	cli dockerAPI
}

// NewClient returns an SDK-backed client configured from the environment
// (DOCKER_HOST etc.) with API version negotiation.
func NewClient() (Client, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &sdkClient{cli: c}, nil
}

// NewClientForHost returns a client for a specific engine endpoint; an empty
// host falls back to environment configuration.
func NewClientForHost(host string) (Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}
	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &sdkClient{cli: c}, nil
}

func (s *sdkClient) Ping(ctx context.Context) error {
	if _, err := s.cli.Ping(ctx); err != nil {
		return fmt.Errorf("engine ping: %w", err)
	}
	return nil
}

func (s *sdkClient) FindContainerByName(ctx context.Context, name string) (Container, bool, error) {
	list, err := s.cli.ContainerList(ctx, containertypes.ListOptions{All: true})
	if err != nil {
		return Container{}, false, fmt.Errorf("list containers: %w", err)
	}
	for _, c := range list {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				return Container{
					ID:      c.ID,
					Image:   c.Image,
					ImageID: c.ImageID,
					Names:   c.Names,
					State:   c.State,
					Labels:  c.Labels,
				}, true, nil
			}
		}
	}
	return Container{}, false, nil
}

// StopContainer stops the container, treating "no such container" as success:
// stopping an absent instance is part of the normal first-deploy path.
func (s *sdkClient) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	opts := containertypes.StopOptions{}
	if timeout > 0 {
		secs := int(timeout.Seconds())
		opts.Timeout = &secs
	}
	if err := s.cli.ContainerStop(ctx, id, opts); err != nil {
		if errdefs.IsNotFound(err) {
			logging.Get().Debug().Str("container", id).Msg("stop: container already gone")
			return nil
		}
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

// RemoveContainer force-removes the container, tolerating absence the same
// way StopContainer does.
func (s *sdkClient) RemoveContainer(ctx context.Context, id string) error {
	if err := s.cli.ContainerRemove(ctx, id, containertypes.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			logging.Get().Debug().Str("container", id).Msg("remove: container already gone")
			return nil
		}
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

func (s *sdkClient) RenameContainer(ctx context.Context, id, newName string) error {
	if err := s.cli.ContainerRename(ctx, id, newName); err != nil {
		return fmt.Errorf("rename container %s: %w", id, err)
	}
	return nil
}

func (s *sdkClient) StartContainer(ctx context.Context, id string) error {
	if err := s.cli.ContainerStart(ctx, id, containertypes.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

func (s *sdkClient) ImageID(ctx context.Context, ref string) (string, error) {
	insp, _, err := s.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("inspect image %s: %w", ref, err)
	}
	return insp.ID, nil
}

func (s *sdkClient) RemoveImage(ctx context.Context, imageID string) error {
	logging.Get().Info().Str("image", imageID).Msg("removing image")
	if _, err := s.cli.ImageRemove(ctx, imageID, imageapi.RemoveOptions{}); err != nil {
		return fmt.Errorf("remove image %s: %w", imageID, err)
	}
	return nil
}

// VerifyRunning polls the container until it is running and, when a
// healthcheck is declared, reports healthy. It fails immediately when the
// container exits, and on deadline otherwise.
func (s *sdkClient) VerifyRunning(ctx context.Context, id string, opts VerifyOptions) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(opts.Timeout)
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("verification canceled: %w", ctx.Err())
		}
		insp, err := s.cli.ContainerInspect(ctx, id)
		if err != nil {
			return fmt.Errorf("inspect container %s: %w", id, err)
		}
		if st := insp.State; st != nil {
			if st.Status == "exited" || st.Status == "dead" {
				return fmt.Errorf("container %s exited with code %d during verification", id, st.ExitCode)
			}
			if st.Running {
				if st.Health == nil {
					return nil
				}
				switch st.Health.Status {
				case "healthy":
					return nil
				case "unhealthy":
					return fmt.Errorf("container %s reported unhealthy", id)
				}
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("container %s not running after %s", id, opts.Timeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("verification canceled: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}
