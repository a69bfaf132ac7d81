// Package docker restarts a service that runs in a Docker container.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/sakif/fixjam/internal/servicectl"
)

// containerAPI is the part of the Docker client the controller uses.
type containerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	Close() error
}

// Controller reloads the web server inside a container.
//
// The release directory is bind-mounted into the container, so the cutover
// is already visible inside it. A running container gets SIGHUP (Apache's
// graceful restart); a stopped one is started.
type Controller struct {
	cli       containerAPI
	container string
	timeout   time.Duration
	logger    *slog.Logger
}

var _ servicectl.Controller = (*Controller)(nil)

// New connects to the Docker daemon described by the DOCKER_* environment.
func New(containerName string, logger *slog.Logger) (*Controller, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newController(cli, containerName, logger), nil
}

func newController(cli containerAPI, containerName string, logger *slog.Logger) *Controller {
	return &Controller{
		cli:       cli,
		container: containerName,
		timeout:   30 * time.Second,
		logger:    logger,
	}
}

// Close closes the docker client.
func (c *Controller) Close() error {
	return c.cli.Close()
}

func (c *Controller) Restart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	info, err := c.cli.ContainerInspect(ctx, c.container)
	if err != nil {
		return fmt.Errorf("docker: inspecting %s: %w", c.container, err)
	}

	if info.ContainerJSONBase != nil && info.State != nil && info.State.Running {
		c.logger.Info("sending SIGHUP", slog.String("container", c.container))
		if err := c.cli.ContainerKill(ctx, c.container, "SIGHUP"); err != nil {
			return fmt.Errorf("docker: signalling %s: %w", c.container, err)
		}
		return nil
	}

	c.logger.Info("container not running, starting it", slog.String("container", c.container))
	if err := c.cli.ContainerStart(ctx, c.container, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker: starting %s: %w", c.container, err)
	}
	return nil
}
