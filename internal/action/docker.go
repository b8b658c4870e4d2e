package action

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/aristath/distrogate/internal/config"
)

// ContainerWorkspace is where the host workdir is mounted inside containers.
const ContainerWorkspace = "/workspace"

// DockerAPI is the subset of the Docker Engine client the docker action
// needs. *client.Client satisfies it.
type DockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// NewDockerClient connects to the daemon described by the DOCKER_* environment.
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// DockerAction runs a command inside a fresh container of a distro image,
// with the workdir bind-mounted at ContainerWorkspace.
type DockerAction struct {
	Image   string
	Command []string
	Workdir string // Host directory to mount; overrides Invocation.Workdir
	Env     map[string]string

	api    DockerAPI
	logger *zap.Logger

	// ReadyTimeout bounds how long the first invocation waits for the daemon.
	ReadyTimeout time.Duration

	readyMu sync.Mutex
	ready   bool
}

// NewDockerAction builds a docker action from its config. logger may be nil.
func NewDockerAction(cfg config.ActionConfig, api DockerAPI, logger *zap.Logger) *DockerAction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DockerAction{
		Image:        cfg.Image,
		Command:      cfg.Command,
		Workdir:      cfg.Workdir,
		Env:          cfg.Env,
		api:          api,
		logger:       logger,
		ReadyTimeout: 30 * time.Second,
	}
}

// Invoke pulls the image, runs the command to completion and removes the
// container. A non-zero container exit yields *ExitError.
func (a *DockerAction) Invoke(ctx context.Context, inv Invocation) error {
	if err := a.waitReady(ctx); err != nil {
		return err
	}

	ref := inv.Expand(a.Image)
	if err := a.pull(ctx, ref); err != nil {
		return err
	}

	hostDir := inv.Workdir
	if a.Workdir != "" {
		hostDir = inv.Expand(a.Workdir)
	}

	cmd := make([]string, len(a.Command))
	for i, arg := range a.Command {
		cmd[i] = inv.Expand(arg)
	}

	containerCfg := &container.Config{
		Image:      ref,
		Cmd:        cmd,
		Env:        append(inv.Env(), expandEnv(a.Env, inv)...),
		WorkingDir: ContainerWorkspace,
		Tty:        false,
		Labels: map[string]string{
			"distrogate.repo":   inv.Repo,
			"distrogate.distro": inv.Distro,
			"distrogate.option": inv.Option,
		},
	}
	hostCfg := &container.HostConfig{}
	if hostDir != "" {
		hostCfg.Binds = []string{hostDir + ":" + ContainerWorkspace}
	}

	resp, err := a.api.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return fmt.Errorf("failed to create container from %s: %w", ref, err)
	}
	defer a.remove(ctx, resp.ID)

	if err := a.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", shortID(resp.ID), err)
	}

	a.logger.Debug("container started",
		zap.String("container", shortID(resp.ID)),
		zap.String("image", ref),
		zap.String("distro", inv.Distro),
	)

	statusCode, err := a.wait(ctx, resp.ID)
	if err != nil {
		return err
	}

	tail, err := a.logs(ctx, resp.ID, inv)
	if err != nil {
		return err
	}

	if statusCode != 0 {
		return &ExitError{Code: int(statusCode), Output: tail}
	}
	return nil
}

// waitReady pings the daemon with exponential backoff until it answers.
// A successful ping is remembered for the lifetime of the action.
func (a *DockerAction) waitReady(ctx context.Context) error {
	a.readyMu.Lock()
	defer a.readyMu.Unlock()
	if a.ready {
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = a.ReadyTimeout

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := a.api.Ping(ctx)
		if err != nil {
			a.logger.Debug("docker daemon not ready", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}

	a.ready = true
	return nil
}

func (a *DockerAction) pull(ctx context.Context, ref string) error {
	rc, err := a.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()

	// The pull only completes once its progress stream is consumed.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

func (a *DockerAction) wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := a.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, fmt.Errorf("failed waiting for container %s: %w", shortID(id), err)
		}
		return 0, nil
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return 0, fmt.Errorf("container %s: %s", shortID(id), status.Error.Message)
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// logs demultiplexes the container's stdout/stderr into inv.Output and
// returns the output tail.
func (a *DockerAction) logs(ctx context.Context, id string, inv Invocation) (string, error) {
	rc, err := a.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("failed to read logs of container %s: %w", shortID(id), err)
	}
	defer rc.Close()

	tail := newTailBuffer(outputTailLines)
	emit := func(line string) {
		tail.add(line)
		inv.emit(line)
	}
	stdout := &lineWriter{emit: emit}
	stderr := &lineWriter{emit: emit}
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return "", fmt.Errorf("failed to read logs of container %s: %w", shortID(id), err)
	}
	stdout.Flush()
	stderr.Flush()
	return tail.String(), nil
}

func (a *DockerAction) remove(ctx context.Context, id string) {
	// Clean up even when the run was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := a.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		a.logger.Warn("failed to remove container", zap.String("container", shortID(id)), zap.Error(err))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

