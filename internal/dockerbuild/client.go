// Package dockerbuild is a minimal wrapper around the Docker Engine API,
// trimmed down from the teacher's agents/shared/docker.Client to the
// one-shot "create container, run build, collect logs, remove container"
// lifecycle the site publisher's DockerBuilder needs (spec §4.4 step 4's
// "no-network sandbox if available"). Long-lived dyad/session concerns
// (workspace mounts, TTY exec, volumes) stay with the teacher; this package
// only grounds the publisher's sandboxed build backend.
package dockerbuild

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

type Client struct {
	api *client.Client
}

func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{api: cli}, nil
}

func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

func (c *Client) CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error) {
	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	return c.api.ContainerStart(ctx, containerID, container.StartOptions{})
}

// Wait blocks until containerID exits (naturally or via its own timeout)
// and returns its exit code.
func (c *Client) Wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := c.api.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, err
	case status := <-statusCh:
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Client) Logs(ctx context.Context, containerID string) (string, error) {
	reader, err := c.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer reader.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		_, _ = io.Copy(&buf, reader)
	}
	return buf.String(), nil
}

func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	return c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force, RemoveVolumes: true})
}
