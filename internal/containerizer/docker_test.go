package containerizer

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"

	"devstack/internal/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Helper to check if Docker is available
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// Helper to skip test if Docker is not available
func skipIfNoDocker(t *testing.T) {
	if !dockerAvailable() {
		t.Skip("Docker not available, skipping test")
	}
}

// Mock CommandRunner
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, name string, args []string) (string, string, error) {
	ret := m.Called(name, args)
	return ret.String(0), ret.String(1), ret.Error(2)
}

func (m *mockRunner) Stream(ctx context.Context, name string, args []string) (io.ReadCloser, error) {
	ret := m.Called(name, args)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(io.ReadCloser), ret.Error(1)
}

var errExit = errors.New("exit status 1")

const inspectJSON = `[{
  "Id": "abc123",
  "Name": "/demo_web_1",
  "Created": "2024-05-01T10:00:00Z",
  "Config": {"Image": "nginx:1.25", "Labels": {"io.devstack.app": "demo", "io.devstack.service": "web"}},
  "State": {"Status": "running"},
  "NetworkSettings": {"Ports": {
    "80/tcp": [{"HostIp": "0.0.0.0", "HostPort": "32768"}, {"HostIp": "::", "HostPort": "32768"}],
    "443/tcp": null
  }}
}]`

func TestDockerRuntime_InspectContainer(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "docker", []string{"inspect", "--type", "container", "demo_web_1"}).Return(inspectJSON, "", nil)

	d := NewDockerRuntimeWithRunner("docker", runner)
	c, err := d.InspectContainer(context.Background(), "demo_web_1")
	require.NoError(t, err)

	assert.Equal(t, "abc123", c.ID)
	assert.Equal(t, "demo_web_1", c.Name)
	assert.Equal(t, backend.StatusRunning, c.Status)
	assert.Equal(t, "web", c.Labels[backend.LabelService])
	assert.Equal(t, []backend.PortBinding{
		{HostIP: "0.0.0.0", HostPort: 32768, ContainerPort: 80, Protocol: "tcp"},
		{HostIP: "::", HostPort: 32768, ContainerPort: 80, Protocol: "tcp"},
	}, c.Ports)
	runner.AssertExpectations(t)
}

func TestDockerRuntime_InspectNotFound(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "podman", mock.Anything).Return("[]", "Error: no such container demo_web_1", errExit)

	d := NewDockerRuntimeWithRunner("podman", runner)
	_, err := d.InspectContainer(context.Background(), "demo_web_1")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestDockerRuntime_ListContainers(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "docker", []string{"ps", "-q", "--no-trunc", "-a", "--filter", "label=io.devstack.app=demo"}).
		Return("abc123\n", "", nil)
	runner.On("Run", "docker", []string{"inspect", "--type", "container", "abc123"}).Return(inspectJSON, "", nil)

	d := NewDockerRuntimeWithRunner("docker", runner)
	containers, err := d.ListContainers(context.Background(), backend.Filter{
		All:    true,
		Labels: map[string]string{backend.LabelApp: "demo"},
		Names:  []string{"demo_web_1", "demo_db_1"},
	})
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "demo_web_1", containers[0].Name)
}

func TestDockerRuntime_ListContainersEmpty(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "docker", []string{"ps", "-q", "--no-trunc"}).Return("\n", "", nil)

	d := NewDockerRuntimeWithRunner("docker", runner)
	containers, err := d.ListContainers(context.Background(), backend.Filter{})
	require.NoError(t, err)
	assert.Empty(t, containers)
	runner.AssertNumberOfCalls(t, "Run", 1)
}

func TestDockerRuntime_CreateContainer(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "docker", []string{"network", "inspect", "demo_default"}).Return("", "Error: No such network: demo_default", errExit)
	runner.On("Run", "docker", []string{"network", "create", "--label", "io.devstack.project=demo", "demo_default"}).Return("netid\n", "", nil)
	runner.On("Run", "docker", []string{"volume", "inspect", "demo_db_data"}).Return("[]", "", nil)
	runner.On("Run", "docker", []string{"pull", "mysql:8.0"}).Return("", "", nil)
	runner.On("Run", "docker", mock.MatchedBy(func(args []string) bool {
		return len(args) > 0 && args[0] == "create"
	})).Return("Status: Downloaded newer image\ndeadbeef\n", "", nil)

	d := NewDockerRuntimeWithRunner("docker", runner)
	id, err := d.CreateContainer(context.Background(), backend.ContainerSpec{
		Name:         "demo_db_1",
		Image:        "mysql:8.0",
		Command:      []string{"mysqld"},
		Env:          map[string]string{"B": "2", "A": "1"},
		Ports:        []backend.PortBinding{{ContainerPort: 3306, Protocol: "tcp"}, {HostPort: 53, ContainerPort: 53, Protocol: "udp"}},
		Mounts:       []backend.Mount{{Source: "demo_db_data", Target: "/var/lib/mysql"}, {Source: "/src", Target: "/app", ReadOnly: true}},
		Labels:       map[string]string{backend.LabelProject: "demo", backend.LabelApp: "demo"},
		Network:      "demo_default",
		NetworkAlias: "db",
		Pull:         backend.PullAlways,
	})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", id)

	var createCall []string
	for _, call := range runner.Calls {
		args := call.Arguments.Get(1).([]string)
		if args[0] == "create" {
			createCall = args
		}
	}
	assert.Equal(t, []string{
		"create", "--name", "demo_db_1", "--pull", "missing",
		"--label", "io.devstack.app=demo", "--label", "io.devstack.project=demo",
		"--network", "demo_default", "--network-alias", "db",
		"-e", "A=1", "-e", "B=2",
		"-p", "3306", "-p", "53:53/udp",
		"-v", "demo_db_data:/var/lib/mysql", "-v", "/src:/app:ro",
		"mysql:8.0", "mysqld",
	}, createCall)
	runner.AssertExpectations(t)
}

func TestDockerRuntime_CreateContainerPullFailure(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "docker", []string{"network", "inspect", "demo_default"}).Return("[]", "", nil)
	runner.On("Run", "docker", []string{"pull", "redis:7"}).Return("", "toomanyrequests: You have reached your pull rate limit", errExit)

	d := NewDockerRuntimeWithRunner("docker", runner)
	_, err := d.CreateContainer(context.Background(), backend.ContainerSpec{
		Name:    "demo_cache_1",
		Image:   "redis:7",
		Labels:  map[string]string{backend.LabelProject: "demo"},
		Network: "demo_default",
		Pull:    backend.PullAlways,
	})
	require.Error(t, err)
	assert.True(t, backend.IsTransient(err))
	for _, call := range runner.Calls {
		assert.NotEqual(t, "create", call.Arguments.Get(1).([]string)[0])
	}
	runner.AssertExpectations(t)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		state string
		want  backend.Status
	}{
		{state: "running", want: backend.StatusRunning},
		{state: "paused", want: backend.StatusRunning},
		{state: "restarting", want: backend.StatusRunning},
		{state: "exited", want: backend.StatusExited},
		{state: "dead", want: backend.StatusExited},
		{state: "created", want: backend.StatusCreated},
		{state: "Running", want: backend.StatusRunning},
		{state: "removing", want: backend.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, tt.want, parseStatus(tt.state))
		})
	}
}

func TestDockerRuntime_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		stderr        string
		wantNotFound  bool
		wantTransient bool
	}{
		{name: "missing container", stderr: "Error response from daemon: No such container: x", wantNotFound: true},
		{name: "daemon down", stderr: "Cannot connect to the Docker daemon at unix:///var/run/docker.sock", wantTransient: true},
		{name: "rate limited", stderr: "toomanyrequests: You have reached your pull rate limit", wantTransient: true},
		{name: "bad image", stderr: "invalid reference format"},
		{name: "missing manifest", stderr: "manifest for node:99 not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(mockRunner)
			runner.On("Run", "docker", []string{"start", "x"}).Return("", tt.stderr, errExit)

			err := NewDockerRuntimeWithRunner("docker", runner).StartContainer(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, backend.ErrNotFound))
			assert.Equal(t, tt.wantTransient, backend.IsTransient(err))
		})
	}
}

func TestDockerRuntime_CancelledContext(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "docker", []string{"stop", "-t", "10", "x"}).Return("", "", errors.New("signal: killed"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewDockerRuntimeWithRunner("docker", runner).StopContainer(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, backend.IsTransient(err))
}

func TestDockerRuntime_StreamLogs(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Stream", "docker", []string{"logs", "--follow", "--timestamps", "--tail", "5", "demo_web_1"}).
		Return(io.NopCloser(strings.NewReader("hello\n")), nil)

	rc, err := NewDockerRuntimeWithRunner("docker", runner).StreamLogs(context.Background(), "demo_web_1",
		backend.LogOptions{Follow: true, Timestamps: true, Tail: 5})
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestDockerRuntime_PruneApp(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "docker", []string{"network", "rm", "demo_default"}).Return("", "Error: No such network: demo_default", errExit)
	runner.On("Run", "docker", []string{"volume", "ls", "-q", "--filter", "label=io.devstack.project=demo"}).Return("demo_db_data\n", "", nil)
	runner.On("Run", "docker", []string{"volume", "rm", "demo_db_data"}).Return("demo_db_data\n", "", nil)

	err := NewDockerRuntimeWithRunner("docker", runner).PruneApp(context.Background(), "demo")
	require.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestExpandPath(t *testing.T) {
	original := osUserHomeDir
	t.Cleanup(func() { osUserHomeDir = original })
	osUserHomeDir = func() (string, error) { return "/home/dev", nil }

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no tilde",
			input:    "/absolute/path",
			expected: "/absolute/path",
		},
		{
			name:     "relative path",
			input:    "relative/path",
			expected: "relative/path",
		},
		{
			name:     "tilde prefix",
			input:    "~/projects/app",
			expected: "/home/dev/projects/app",
		},
		{
			name:     "tilde inside a name",
			input:    "~user/app",
			expected: "~user/app",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if result != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDockerRuntime_Integration(t *testing.T) {
	skipIfNoDocker(t)

	d := NewDockerRuntime("docker")
	ctx := context.Background()

	_, err := d.InspectContainer(ctx, "devstack_does_not_exist_1")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = d.ListContainers(ctx, backend.Filter{Labels: map[string]string{backend.LabelApp: "devstack-integration-none"}})
	assert.NoError(t, err)
}
