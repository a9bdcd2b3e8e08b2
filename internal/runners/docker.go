package runners

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

const (
	containerNamePrefix = "titan-module-"
	labelModuleName     = "titan.module.name"
	labelManaged        = "titan.managed"
	defaultNetwork       = "titan-network"
	defaultStopTimeout  = 30 * time.Second
)

func containerName(module string) string { return containerNamePrefix + module }

// DockerRunner supervises modules as Docker containers, one container
// per module instance. Grounded on the reference hosting runtime's
// Docker backend (container create/start/stop/inspect/logs), adapted
// from per-tenant bot containers to per-module coordination-core
// worker containers.
type DockerRunner struct {
	client *client.Client
}

var _ Runner = (*DockerRunner)(nil)

// NewDockerRunner dials the local Docker daemon.
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRunner{client: cli}, nil
}

func (d *DockerRunner) ensureNetwork(ctx context.Context) error {
	list, err := d.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", defaultNetwork)),
	})
	if err != nil {
		return err
	}
	if len(list) > 0 {
		return nil
	}
	_, err = d.client.NetworkCreate(ctx, defaultNetwork, network.CreateOptions{})
	return err
}

func (d *DockerRunner) pullImage(ctx context.Context, ref string) error {
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *DockerRunner) CreateModule(ctx context.Context, spec ModuleSpec) error {
	if err := d.ensureNetwork(ctx); err != nil {
		return fmt.Errorf("ensure network: %w", err)
	}
	if err := d.pullImage(ctx, spec.Image); err != nil {
		return fmt.Errorf("pull image %s: %w", spec.Image, err)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Args,
		Env:   env,
		Labels: map[string]string{
			labelModuleName: spec.Name,
			labelManaged:    "true",
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(defaultNetwork),
		Resources: container.Resources{
			Memory: spec.MemoryBytes,
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(spec.Name))
	if err != nil {
		return fmt.Errorf("create container for %s: %w", spec.Name, err)
	}
	return d.client.ContainerStart(ctx, resp.ID, container.StartOptions{})
}

func (d *DockerRunner) DeleteModule(ctx context.Context, name string) error {
	_ = d.client.ContainerStop(ctx, containerName(name), container.StopOptions{})
	return d.client.ContainerRemove(ctx, containerName(name), container.RemoveOptions{Force: true})
}

func (d *DockerRunner) StartModule(ctx context.Context, name string) error {
	return d.client.ContainerStart(ctx, containerName(name), container.StartOptions{})
}

func (d *DockerRunner) StopModule(ctx context.Context, name string) error {
	timeout := int(defaultStopTimeout.Seconds())
	return d.client.ContainerStop(ctx, containerName(name), container.StopOptions{Timeout: &timeout})
}

func (d *DockerRunner) RestartModule(ctx context.Context, name string) error {
	timeout := int(defaultStopTimeout.Seconds())
	return d.client.ContainerRestart(ctx, containerName(name), container.StopOptions{Timeout: &timeout})
}

func (d *DockerRunner) GetModuleStatus(ctx context.Context, name string) (*ModuleStatus, error) {
	info, err := d.client.ContainerInspect(ctx, containerName(name))
	if err != nil {
		return nil, fmt.Errorf("inspect module %s: %w", name, err)
	}
	status := StatusStopped
	healthy := false
	switch info.State.Status {
	case "running":
		status = StatusRunning
		healthy = info.State.Health == nil || info.State.Health.Status == "healthy"
	case "created", "restarting":
		status = StatusCreating
	case "exited", "dead":
		status = StatusError
	}
	var startedAt *time.Time
	if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
		startedAt = &t
	}
	return &ModuleStatus{
		Name:         name,
		Status:       status,
		InstanceID:   info.ID,
		Healthy:      healthy,
		ErrorMessage: info.State.Error,
		StartedAt:    startedAt,
	}, nil
}

func (d *DockerRunner) GetModuleLogs(ctx context.Context, name string, opts LogOptions) (*LogReader, error) {
	tail := "all"
	if opts.Tail > 0 {
		tail = fmt.Sprintf("%d", opts.Tail)
	}
	reader, err := d.client.ContainerLogs(ctx, containerName(name), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       tail,
		Timestamps: opts.Timestamps,
	})
	if err != nil {
		return nil, err
	}
	return &LogReader{ReadCloser: reader}, nil
}

func (d *DockerRunner) ListModules(ctx context.Context) ([]ModuleStatus, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return nil, err
	}
	out := make([]ModuleStatus, 0, len(containers))
	for _, c := range containers {
		name := c.Labels[labelModuleName]
		s, err := d.GetModuleStatus(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (d *DockerRunner) HealthCheck(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

func (d *DockerRunner) Close() error { return d.client.Close() }

func (d *DockerRunner) Type() string { return "docker" }
