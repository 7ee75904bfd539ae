// Package dockerapi talks to the remote Docker Engine API through the SSH
// connection, without exposing the daemon on the network.
package dockerapi

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// SocketPath is the daemon socket on the remote host.
const SocketPath = "/var/run/docker.sock"

// Dialer opens a connection from the remote host, e.g. ssh.Client.DialRemote.
type Dialer func(network, addr string) (net.Conn, error)

// ContainerSummary is the part of a container listing worth logging.
type ContainerSummary struct {
	ID     string
	Name   string
	Image  string
	State  string
	Status string
	Ports  []string
}

func (c ContainerSummary) String() string {
	ports := strings.Join(c.Ports, ",")
	if ports == "" {
		ports = "-"
	}
	return fmt.Sprintf("%s %s image=%s state=%s (%s) ports=%s", c.ID, c.Name, c.Image, c.State, c.Status, ports)
}

// Client wraps the Docker SDK client.
type Client struct {
	inner *client.Client
}

// New creates a Docker client whose connections are dialled through dial.
func New(dial Dialer) (*Client, error) {
	inner, err := client.NewClientWithOpts(
		client.WithHost("unix://"+SocketPath),
		client.WithDialContext(func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dial("unix", SocketPath)
		}),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// ServerVersion returns the engine version.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	v, err := c.inner.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("docker version: %w", err)
	}
	return v.Version, nil
}

// Containers lists containers, running or not, whose name is exactly name.
func (c *Client) Containers(ctx context.Context, name string) ([]ContainerSummary, error) {
	return c.list(ctx, filters.NewArgs(filters.Arg("name", "^/?"+name+"$")))
}

// ProjectContainers lists the containers of a compose project.
func (c *Client) ProjectContainers(ctx context.Context, project string) ([]ContainerSummary, error) {
	return c.list(ctx, filters.NewArgs(filters.Arg("label", "com.docker.compose.project="+project)))
}

func (c *Client) list(ctx context.Context, args filters.Args) ([]ContainerSummary, error) {
	list, err := c.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("docker container list: %w", err)
	}

	out := make([]ContainerSummary, 0, len(list))
	for _, ctr := range list {
		out = append(out, summarize(ctr))
	}
	return out, nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

func summarize(ctr types.Container) ContainerSummary {
	s := ContainerSummary{
		ID:     shortID(ctr.ID),
		Image:  ctr.Image,
		State:  ctr.State,
		Status: ctr.Status,
	}
	if len(ctr.Names) > 0 {
		s.Name = strings.TrimPrefix(ctr.Names[0], "/")
	}
	for _, p := range ctr.Ports {
		s.Ports = append(s.Ports, formatPort(p))
	}
	sort.Strings(s.Ports)
	return s
}

func formatPort(p types.Port) string {
	if p.PublicPort == 0 {
		return fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)
	}
	return fmt.Sprintf("%s:%d->%d/%s", p.IP, p.PublicPort, p.PrivatePort, p.Type)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
