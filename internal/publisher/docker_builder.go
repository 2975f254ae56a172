package publisher

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"

	"contentpipe/internal/dockerbuild"
)

// DockerBuilder runs the generator inside a throwaway, network-disabled
// container: create it with the build command, start, wait, collect logs,
// remove — the
// same one-shot lifecycle as the teacher's agents/shared/docker.Client
// (ContainerByName/Exec/RemoveContainer) and agents/manager/internal/beam's
// docker-backed sandbox, adapted from long-lived dyad containers to a
// single build-and-discard run. Chosen over ExecBuilder when
// PUBLISH_BUILD_BACKEND=docker, so an untrusted generator binary cannot
// reach the network or the host filesystem outside its two bind mounts.
type DockerBuilder struct {
	Client  *dockerbuild.Client
	Image   string
	Command []string
	Timeout time.Duration
}

func (b *DockerBuilder) Build(ctx context.Context, contentDir, outputDir string) (BuildResult, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: contentDir, Target: "/content", ReadOnly: true},
			{Type: mount.TypeBind, Source: outputDir, Target: "/output"},
		},
	}
	containerCfg := &container.Config{
		Image: b.Image,
		Cmd:   b.Command,
		Tty:   false,
	}
	containerID, err := b.Client.CreateContainer(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, "")
	if err != nil {
		return BuildResult{}, fmt.Errorf("create build container: %w", err)
	}
	defer func() { _ = b.Client.RemoveContainer(context.Background(), containerID, true) }()

	if err := b.Client.StartContainer(ctx, containerID); err != nil {
		return BuildResult{}, fmt.Errorf("start build container: %w", err)
	}

	var stdout, stderr bytes.Buffer
	exitCode, waitErr := b.Client.Wait(ctx, containerID)
	logs, logErr := b.Client.Logs(ctx, containerID)
	if logErr == nil {
		stdout.WriteString(logs)
	}
	result := BuildResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}
	if waitErr != nil {
		return result, fmt.Errorf("wait for build container: %w", waitErr)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("build container exited %d", exitCode)
	}
	return result, nil
}
