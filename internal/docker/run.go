package docker

import (
	"context"
	"fmt"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/slipway/slipway/internal/logging"
)

// RunContainer creates and starts a container from opts, wiring environment,
// restart policy, published ports and binds the way `docker run` would.
func (s *sdkClient) RunContainer(ctx context.Context, opts RunOptions) (string, error) {
	exposed, bindings, err := parsePorts(opts.Ports)
	if err != nil {
		return "", err
	}

	cfg := &containertypes.Config{
		Image:        opts.Image,
		Env:          opts.Env,
		Labels:       opts.Labels,
		ExposedPorts: exposed,
	}
	hostCfg := &containertypes.HostConfig{
		Binds:        opts.Binds,
		PortBindings: bindings,
	}
	if opts.RestartPolicy != "" {
		hostCfg.RestartPolicy = containertypes.RestartPolicy{
			Name: containertypes.RestartPolicyMode(opts.RestartPolicy),
		}
	}

	resp, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", opts.Name, err)
	}
	if err := s.cli.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", opts.Name, err)
	}
	logging.Get().Info().Str("container", resp.ID).Str("name", opts.Name).Str("image", opts.Image).Msg("started container")
	return resp.ID, nil
}

// parsePorts turns `docker run -p` style specs into SDK port structures.
func parsePorts(specs []string) (nat.PortSet, nat.PortMap, error) {
	if len(specs) == 0 {
		return nil, nil, nil
	}
	exposed, bindings, err := nat.ParsePortSpecs(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("parse port specs: %w", err)
	}
	return exposed, bindings, nil
}
