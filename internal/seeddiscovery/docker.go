package seeddiscovery

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

// mongosPort is the container-side port a mongos router listens on;
// only mappings of this port are treated as usable endpoints.
var mongosPort = nat.Port("27017/tcp")

// DockerProvider lists running containers carrying a mongos role label
// and turns their published ports into seed endpoints.
type DockerProvider struct {
	client *dockerclient.Client
	label  string // e.g. "com.mongostopo.role=mongos"
}

// NewDockerProvider dials the local Docker daemon. host may be empty
// to use the environment's default (DOCKER_HOST or the unix socket).
func NewDockerProvider(host, label string) (*DockerProvider, error) {
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("seeddiscovery: docker client: %w", err)
	}
	return &DockerProvider{client: cli, label: label}, nil
}

// List returns one seed per running, labeled container: the first
// host mapping of its 27017/tcp port. A container with no matching
// published port is skipped
// rather than failing the whole discovery pass, since a still-starting
// proxy container is a normal transient state, not an error.
func (p *DockerProvider) List(ctx context.Context) ([]proxyhandle.Seed, error) {
	f := filters.NewArgs(filters.Arg("label", p.label), filters.Arg("status", "running"))
	containers, err := p.client.ContainerList(ctx, container.ListOptions{Filters: f})
	if err != nil {
		return nil, fmt.Errorf("seeddiscovery: list containers: %w", err)
	}

	var seeds []proxyhandle.Seed
	for _, c := range containers {
		for _, port := range c.Ports {
			if port.IP == "" || port.PublicPort == 0 {
				continue
			}
			if int(port.PrivatePort) != mongosPort.Int() || port.Type != mongosPort.Proto() {
				continue
			}
			host := port.IP
			if host == "0.0.0.0" || host == "::" {
				host = "127.0.0.1"
			}
			seeds = append(seeds, proxyhandle.Seed{Host: host, Port: int(port.PublicPort)})
			break
		}
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("seeddiscovery: no running containers labeled %s published a port", p.label)
	}
	return seeds, nil
}
