package fakebackend

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"devstack/internal/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend_Lifecycle(t *testing.T) {
	ctx := context.Background()
	b := New()

	id, err := b.CreateContainer(ctx, backend.ContainerSpec{
		Name:   "demo_web_1",
		Image:  "nginx:1.25",
		Labels: map[string]string{backend.LabelApp: "demo"},
		Ports:  []backend.PortBinding{{ContainerPort: 80, Protocol: "tcp"}},
	})
	require.NoError(t, err)

	_, err = b.CreateContainer(ctx, backend.ContainerSpec{Name: "demo_web_1", Image: "nginx"})
	assert.Error(t, err, "duplicate names are rejected")

	require.NoError(t, b.StartContainer(ctx, "demo_web_1"))
	c, err := b.InspectContainer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusRunning, c.Status)
	assert.Equal(t, 32768, c.Ports[0].HostPort)

	running, err := b.ListContainers(ctx, backend.Filter{Labels: map[string]string{backend.LabelApp: "demo"}})
	require.NoError(t, err)
	assert.Len(t, running, 1)

	assert.Error(t, b.RemoveContainer(ctx, id), "running containers cannot be removed")
	require.NoError(t, b.StopContainer(ctx, id))

	running, err = b.ListContainers(ctx, backend.Filter{})
	require.NoError(t, err)
	assert.Empty(t, running)

	require.NoError(t, b.RemoveContainer(ctx, id))
	_, err = b.InspectContainer(ctx, id)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	// Failed calls are recorded too.
	assert.Equal(t, 6, b.Mutations())
	assert.Equal(t, []string{"demo_web_1"}, b.CallsFor(OpStart))
}

func TestBackend_FailureInjection(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.Seed(backend.Container{Name: "a", Status: backend.StatusExited})

	boom := errors.New("boom")
	b.FailNext(OpStart, "a", boom, boom)

	assert.ErrorIs(t, b.StartContainer(ctx, "a"), boom)
	assert.ErrorIs(t, b.StartContainer(ctx, "a"), boom)
	assert.NoError(t, b.StartContainer(ctx, "a"))

	b.FailAlways(OpStop, "", boom)
	assert.ErrorIs(t, b.StopContainer(ctx, "a"), boom)
	assert.ErrorIs(t, b.StopContainer(ctx, "a"), boom)
}

func TestBackend_StreamLogs(t *testing.T) {
	b := New()
	b.Seed(backend.Container{Name: "a", Status: backend.StatusRunning})
	b.SetLogs("a", "one\ntwo\nthree\n")

	rc, err := b.StreamLogs(context.Background(), "a", backend.LogOptions{Tail: 2})
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "two\nthree\n", string(data))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rc, err = b.StreamLogs(ctx, "a", backend.LogOptions{Follow: true})
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", string(data))
}
