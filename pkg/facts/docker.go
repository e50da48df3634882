package facts

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
)

// RuntimeProbe lists the runtimes registered with the Docker daemon.
type RuntimeProbe interface {
	Runtimes(ctx context.Context) (names []string, defaultRuntime string, err error)
}

// dockerAPITimeout bounds the Engine API call when the daemon is unresponsive.
const dockerAPITimeout = 10 * time.Second

// DockerAPIProbe queries the local Docker Engine API.
type DockerAPIProbe struct {
	opts []client.Opt
}

// NewDockerAPIProbe creates a probe configured from DOCKER_HOST and friends.
func NewDockerAPIProbe() *DockerAPIProbe {
	return &DockerAPIProbe{
		opts: []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()},
	}
}

// Runtimes implements RuntimeProbe.
func (p *DockerAPIProbe) Runtimes(ctx context.Context) ([]string, string, error) {
	cli, err := client.NewClientWithOpts(p.opts...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create docker client: %w", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(ctx, dockerAPITimeout)
	defer cancel()

	info, err := cli.Info(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query docker info: %w", err)
	}
	return sortedKeys(info.Runtimes), info.DefaultRuntime, nil
}
