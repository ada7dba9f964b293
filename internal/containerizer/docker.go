// Package containerizer implements backend.Backend on top of the docker or
// podman command line.
package containerizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"devstack/internal/backend"
	"devstack/pkg/logging"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir

const stopTimeoutSeconds = 10

// DockerRuntime drives a docker compatible CLI.
type DockerRuntime struct {
	binary string
	runner CommandRunner
}

// NewDockerRuntime returns a runtime for binary ("docker" or "podman").
func NewDockerRuntime(binary string) *DockerRuntime {
	return NewDockerRuntimeWithRunner(binary, execRunner{})
}

// NewDockerRuntimeWithRunner is NewDockerRuntime with a custom command runner.
func NewDockerRuntimeWithRunner(binary string, runner CommandRunner) *DockerRuntime {
	if binary == "" {
		binary = "docker"
	}
	return &DockerRuntime{binary: binary, runner: runner}
}

// Binary returns the CLI the runtime drives.
func (d *DockerRuntime) Binary() string {
	return d.binary
}

func (d *DockerRuntime) run(ctx context.Context, op, container string, args ...string) (string, error) {
	stdout, stderr, err := d.runner.Run(ctx, d.binary, args)
	if err != nil {
		return stdout, classify(ctx, op, container, stderr, err)
	}
	return stdout, nil
}

// pullImage pulls image from its registry.
func (d *DockerRuntime) pullImage(ctx context.Context, image string) error {
	logging.Info("Containerizer", "Pulling image %s", image)
	_, err := d.run(ctx, "pull", image, "pull", image)
	return err
}

func (d *DockerRuntime) ListContainers(ctx context.Context, filter backend.Filter) ([]backend.Container, error) {
	args := []string{"ps", "-q", "--no-trunc"}
	if filter.All {
		args = append(args, "-a")
	}
	keys := make([]string, 0, len(filter.Labels))
	for k := range filter.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := filter.Labels[k]; v != "" {
			args = append(args, "--filter", "label="+k+"="+v)
		} else {
			args = append(args, "--filter", "label="+k)
		}
	}

	out, err := d.run(ctx, "list", "", args...)
	if err != nil {
		return nil, err
	}
	ids := strings.Fields(out)
	if len(ids) == 0 {
		return nil, nil
	}

	containers, err := d.inspect(ctx, ids...)
	if err != nil {
		return nil, err
	}
	if len(filter.Names) == 0 {
		return containers, nil
	}

	wanted := make(map[string]bool, len(filter.Names))
	for _, n := range filter.Names {
		wanted[n] = true
	}
	var matched []backend.Container
	for _, c := range containers {
		if wanted[c.Name] {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (d *DockerRuntime) InspectContainer(ctx context.Context, id string) (backend.Container, error) {
	containers, err := d.inspect(ctx, id)
	if err != nil {
		return backend.Container{}, err
	}
	if len(containers) == 0 {
		return backend.Container{}, fmt.Errorf("%s: %w", id, backend.ErrNotFound)
	}
	return containers[0], nil
}

func (d *DockerRuntime) inspect(ctx context.Context, ids ...string) ([]backend.Container, error) {
	container := ""
	if len(ids) == 1 {
		container = ids[0]
	}
	out, err := d.run(ctx, "inspect", container, append([]string{"inspect", "--type", "container"}, ids...)...)
	if err != nil {
		return nil, err
	}
	return parseInspect([]byte(out))
}

// inspectOutput holds the fields read from `inspect` output.
type inspectOutput struct {
	ID      string    `json:"Id"`
	Name    string    `json:"Name"`
	Created time.Time `json:"Created"`
	Config  struct {
		Image  string            `json:"Image"`
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
	State struct {
		Status string `json:"Status"`
	} `json:"State"`
	NetworkSettings struct {
		Ports map[string][]struct {
			HostIP   string `json:"HostIp"`
			HostPort string `json:"HostPort"`
		} `json:"Ports"`
	} `json:"NetworkSettings"`
}

func parseInspect(data []byte) ([]backend.Container, error) {
	var raw []inspectOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, backend.Fatalf("inspect", "", "decoding output: %v", err)
	}

	containers := make([]backend.Container, 0, len(raw))
	for _, r := range raw {
		c := backend.Container{
			ID:      r.ID,
			Name:    strings.TrimPrefix(r.Name, "/"),
			Image:   r.Config.Image,
			Status:  parseStatus(r.State.Status),
			Labels:  r.Config.Labels,
			Created: r.Created,
		}
		for portProto, bindings := range r.NetworkSettings.Ports {
			portStr, proto, _ := strings.Cut(portProto, "/")
			containerPort, err := strconv.Atoi(portStr)
			if err != nil {
				continue
			}
			for _, b := range bindings {
				hostPort, err := strconv.Atoi(b.HostPort)
				if err != nil {
					continue
				}
				c.Ports = append(c.Ports, backend.PortBinding{
					HostIP:        b.HostIP,
					HostPort:      hostPort,
					ContainerPort: containerPort,
					Protocol:      proto,
				})
			}
		}
		sort.Slice(c.Ports, func(i, j int) bool {
			if c.Ports[i].ContainerPort != c.Ports[j].ContainerPort {
				return c.Ports[i].ContainerPort < c.Ports[j].ContainerPort
			}
			return c.Ports[i].HostIP < c.Ports[j].HostIP
		})
		containers = append(containers, c)
	}
	return containers, nil
}

// parseStatus maps runtime states. Paused and restarting containers hold
// their resources and can be stopped, so they count as running.
func parseStatus(s string) backend.Status {
	switch strings.ToLower(s) {
	case "running", "restarting", "paused":
		return backend.StatusRunning
	case "exited", "stopped", "dead":
		return backend.StatusExited
	case "created", "configured":
		return backend.StatusCreated
	default:
		return backend.StatusUnknown
	}
}

// CreateContainer creates the container, its network and named volumes.
func (d *DockerRuntime) CreateContainer(ctx context.Context, spec backend.ContainerSpec) (string, error) {
	if spec.Name == "" || spec.Image == "" {
		return "", backend.Fatalf("create", spec.Name, "name and image are required")
	}

	project := spec.Labels[backend.LabelProject]
	if spec.Network != "" {
		if err := d.ensureNetwork(ctx, spec.Network, project); err != nil {
			return "", err
		}
	}
	for _, m := range spec.Mounts {
		if isNamedVolume(m.Source) {
			if err := d.ensureVolume(ctx, m.Source, project); err != nil {
				return "", err
			}
		}
	}

	if spec.Pull == backend.PullAlways {
		if err := d.pullImage(ctx, spec.Image); err != nil {
			return "", err
		}
	}

	out, err := d.run(ctx, "create", spec.Name, createArgs(spec)...)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(out)
	if i := strings.LastIndex(id, "\n"); i >= 0 {
		// Pull progress may precede the ID.
		id = strings.TrimSpace(id[i+1:])
	}
	logging.Debug("Containerizer", "Created container %s (%s)", spec.Name, id)
	return id, nil
}

func createArgs(spec backend.ContainerSpec) []string {
	args := []string{"create", "--name", spec.Name, "--pull", "missing"}

	labelKeys := make([]string, 0, len(spec.Labels))
	for k := range spec.Labels {
		labelKeys = append(labelKeys, k)
	}
	sort.Strings(labelKeys)
	for _, k := range labelKeys {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}

	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
		if spec.NetworkAlias != "" {
			args = append(args, "--network-alias", spec.NetworkAlias)
		}
	}

	envKeys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		args = append(args, "-e", k+"="+spec.Env[k])
	}

	for _, p := range spec.Ports {
		args = append(args, "-p", formatPort(p))
	}

	for _, m := range spec.Mounts {
		v := expandPath(m.Source) + ":" + m.Target
		if m.ReadOnly {
			v += ":ro"
		}
		args = append(args, "-v", v)
	}

	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

func formatPort(p backend.PortBinding) string {
	s := strconv.Itoa(p.ContainerPort)
	if p.HostPort != 0 {
		s = strconv.Itoa(p.HostPort) + ":" + s
	}
	if p.HostIP != "" {
		if p.HostPort == 0 {
			s = ":" + s
		}
		s = p.HostIP + ":" + s
	}
	if p.Protocol != "" && p.Protocol != "tcp" {
		s += "/" + p.Protocol
	}
	return s
}

func (d *DockerRuntime) ensureNetwork(ctx context.Context, network, project string) error {
	if _, err := d.run(ctx, "network", network, "network", "inspect", network); err == nil {
		return nil
	} else if !errors.Is(err, backend.ErrNotFound) {
		return err
	}

	args := []string{"network", "create"}
	if project != "" {
		args = append(args, "--label", backend.LabelProject+"="+project)
	}
	_, err := d.run(ctx, "network", network, append(args, network)...)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return err
}

func (d *DockerRuntime) ensureVolume(ctx context.Context, volume, project string) error {
	if _, err := d.run(ctx, "volume", volume, "volume", "inspect", volume); err == nil {
		return nil
	} else if !errors.Is(err, backend.ErrNotFound) {
		return err
	}

	args := []string{"volume", "create"}
	if project != "" {
		args = append(args, "--label", backend.LabelProject+"="+project)
	}
	_, err := d.run(ctx, "volume", volume, append(args, volume)...)
	return err
}

func (d *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	_, err := d.run(ctx, "start", id, "start", id)
	return err
}

func (d *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	_, err := d.run(ctx, "stop", id, "stop", "-t", strconv.Itoa(stopTimeoutSeconds), id)
	return err
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	_, err := d.run(ctx, "remove", id, "rm", "-v", id)
	return err
}

func (d *DockerRuntime) StreamLogs(ctx context.Context, id string, opts backend.LogOptions) (io.ReadCloser, error) {
	args := []string{"logs"}
	if opts.Follow {
		args = append(args, "--follow")
	}
	if opts.Timestamps {
		args = append(args, "--timestamps")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", strconv.Itoa(opts.Tail))
	}
	args = append(args, id)

	rc, err := d.runner.Stream(ctx, d.binary, args)
	if err != nil {
		return nil, classify(ctx, "logs", id, "", err)
	}
	return rc, nil
}

// PruneApp removes the project network and the volumes labeled with the
// project. Missing resources are not an error.
func (d *DockerRuntime) PruneApp(ctx context.Context, project string) error {
	var errs []error

	network := project + "_default"
	if _, err := d.run(ctx, "network", network, "network", "rm", network); err != nil && !errors.Is(err, backend.ErrNotFound) {
		errs = append(errs, err)
	}

	out, err := d.run(ctx, "volume", "", "volume", "ls", "-q", "--filter", "label="+backend.LabelProject+"="+project)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, volume := range strings.Fields(out) {
		if _, err := d.run(ctx, "volume", volume, "volume", "rm", volume); err != nil && !errors.Is(err, backend.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var notFoundMarkers = []string{"no such container", "no such object", "no such network", "no such volume", "not found"}

var transientMarkers = []string{
	"cannot connect to the docker daemon",
	"connection reset",
	"connection refused",
	"i/o timeout",
	"tls handshake timeout",
	"timed out",
	"toomanyrequests",
	"503 service unavailable",
	"is already in progress",
}

// classify turns a failed CLI call into a backend error.
func classify(ctx context.Context, op, container, stderr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, container, ctxErr)
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	for _, marker := range notFoundMarkers {
		if strings.Contains(lower, marker) && !strings.Contains(lower, "manifest") && !strings.Contains(lower, "executable file") {
			return fmt.Errorf("%s %s: %s: %w", op, container, msg, backend.ErrNotFound)
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return &backend.Error{Op: op, Container: container, Transient: true, Err: errors.New(msg)}
		}
	}
	return &backend.Error{Op: op, Container: container, Err: errors.New(msg)}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := osUserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func isNamedVolume(source string) bool {
	return source != "" && !strings.ContainsAny(source, `/\`) && !strings.HasPrefix(source, ".") && !strings.HasPrefix(source, "~")
}

var (
	_ backend.Backend = (*DockerRuntime)(nil)
	_ backend.Pruner  = (*DockerRuntime)(nil)
)
