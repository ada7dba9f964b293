package orchestrator

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedDemo(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	o, b, _ := newTestOrchestrator(t)
	dir := writeApp(t, demoApp)
	_, err := o.Start(context.Background(), dir)
	require.NoError(t, err)
	b.SetLogs("landotest_node_1", "listening on 80\nGET /\n")
	b.SetLogs("landotest_redis_1", "Ready to accept connections\n")
	return o, dir
}

func TestLogs_AllServicesPrefixed(t *testing.T) {
	o, dir := startedDemo(t)

	var out bytes.Buffer
	require.NoError(t, o.Logs(context.Background(), dir, LogsOptions{}, &out))

	assert.Equal(t, strings.Join([]string{
		"landotest_node_1  | listening on 80",
		"landotest_node_1  | GET /",
		"landotest_redis_1 | Ready to accept connections",
		"",
	}, "\n"), out.String())
}

func TestLogs_Options(t *testing.T) {
	tests := []struct {
		name    string
		opts    LogsOptions
		want    []string
		notWant []string
	}{
		{
			name:    "filter by service",
			opts:    LogsOptions{Services: []string{"node"}},
			want:    []string{"landotest_node_1 | listening on 80"},
			notWant: []string{"landotest_redis_1"},
		},
		{
			name: "timestamps",
			opts: LogsOptions{Services: []string{"redis"}, Timestamps: true},
			want: []string{"landotest_redis_1 | 2024-01-01T00:00:00.000000000Z Ready"},
		},
		{
			name:    "tail",
			opts:    LogsOptions{Services: []string{"node"}, Tail: 1},
			want:    []string{"GET /"},
			notWant: []string{"listening"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, dir := startedDemo(t)
			var out bytes.Buffer
			require.NoError(t, o.Logs(context.Background(), dir, tt.opts, &out))
			for _, s := range tt.want {
				assert.Contains(t, out.String(), s)
			}
			for _, s := range tt.notWant {
				assert.NotContains(t, out.String(), s)
			}
		})
	}
}

func TestLogs_UnknownService(t *testing.T) {
	o, dir := startedDemo(t)
	err := o.Logs(context.Background(), dir, LogsOptions{Services: []string{"mysql"}}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestLogs_FollowEndsWithContext(t *testing.T) {
	o, dir := startedDemo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out safeBuffer
	require.NoError(t, o.Logs(ctx, dir, LogsOptions{Follow: true}, &out))
	assert.Contains(t, out.String(), "landotest_node_1  | GET /")
	assert.Contains(t, out.String(), "landotest_redis_1 | Ready to accept connections")
}

func TestLogs_SkipsMissingContainers(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	dir := writeApp(t, demoApp)

	var out bytes.Buffer
	require.NoError(t, o.Logs(context.Background(), dir, LogsOptions{}, &out))
	assert.Empty(t, out.String())
}
