package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"devstack/internal/backend"
	"devstack/internal/backend/fakebackend"
	"devstack/internal/descriptor"
	"devstack/internal/inspector"
	"devstack/internal/reconciler"
	"devstack/internal/registry"
	"devstack/internal/registry/memory"
	"devstack/internal/servicegraph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoApp = `
name: lando-test
services:
  node:
    type: node:8.9
  redis:
    type: redis:4.0
`

// parallelism runs scenarios both one service at a time and with independent
// services acted on concurrently.
var parallelism = []int{1, 4}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakebackend.Backend, *registry.Registry) {
	t.Helper()
	return newParallelOrchestrator(t, 1)
}

func newParallelOrchestrator(t *testing.T, maxParallel int) (*Orchestrator, *fakebackend.Backend, *registry.Registry) {
	t.Helper()
	b := fakebackend.New()
	reg := registry.New(memory.New(), filepath.Join(t.TempDir(), "locks"))
	o := New(Config{
		Backend:  b,
		Registry: reg,
		Policy:   servicegraph.DefaultPolicy(),
		Reconcile: reconciler.Options{
			MaxRetries:    1,
			RetryDelay:    time.Millisecond,
			ActionTimeout: time.Second,
			MaxParallel:   maxParallel,
		},
	})
	return o, b, reg
}

func writeApp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptor.FileNames[0]), []byte(content), 0o644))
	return dir
}

func statusOf(t *testing.T, b *fakebackend.Backend, name string) backend.Status {
	t.Helper()
	c, err := b.InspectContainer(context.Background(), name)
	require.NoError(t, err)
	return c.Status
}

func TestDemoScenario(t *testing.T) {
	for _, n := range parallelism {
		t.Run(fmt.Sprintf("parallel=%d", n), func(t *testing.T) {
			testDemoScenario(t, n)
		})
	}
}

func testDemoScenario(t *testing.T, maxParallel int) {
	o, b, reg := newParallelOrchestrator(t, maxParallel)
	ctx := context.Background()
	dir := writeApp(t, demoApp)

	// start
	res, err := o.Start(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"node", "redis"}, res.Succeeded)
	assert.Equal(t, backend.StatusRunning, statusOf(t, b, "landotest_node_1"))
	assert.Equal(t, backend.StatusRunning, statusOf(t, b, "landotest_redis_1"))

	rec, err := reg.Find(ctx, "lando-test")
	require.NoError(t, err)
	assert.Equal(t, []string{"node", "redis"}, rec.Services)
	assert.Equal(t, dir, rec.RootPath)

	// info
	info, err := o.Info(ctx, dir)
	require.NoError(t, err)
	require.Contains(t, info, "node")
	require.Contains(t, info, "redis")
	assert.Equal(t, Connection{Host: "redis", Port: 6379}, info["redis"].InternalConnection)
	assert.Equal(t, "running", info["redis"].Status)
	assert.Equal(t, "landotest_redis_1", info["redis"].Container)

	data, err := json.Marshal(info)
	require.NoError(t, err)
	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded["redis"], "internal_connection")

	// stop
	res, err = o.Stop(ctx, dir)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, backend.StatusExited, statusOf(t, b, "landotest_node_1"))
	assert.Equal(t, backend.StatusExited, statusOf(t, b, "landotest_redis_1"))

	// destroy
	res, err = o.Destroy(ctx, dir)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Empty(t, b.Names())
	_, err = reg.Find(ctx, "lando-test")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStart_IsIdempotent(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	dir := writeApp(t, demoApp)

	_, err := o.Start(context.Background(), dir)
	require.NoError(t, err)
	b.ResetCalls()

	res, err := o.Start(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, res.Mutations)
	assert.Zero(t, b.Mutations())
}

func TestStart_ConfigErrorNeverTouchesBackend(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown type", content: "name: x\nservices:\n  a:\n    type: cobol:85\n"},
		{name: "cycle", content: "name: x\nservices:\n  a:\n    type: redis\n    depends_on: b\n  b:\n    type: redis\n    depends_on: a\n"},
		{name: "malformed", content: "name: [x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, b, _ := newTestOrchestrator(t)
			_, err := o.Start(context.Background(), writeApp(t, tt.content))
			assert.ErrorIs(t, err, descriptor.ErrConfig)
			assert.Empty(t, b.Calls())
		})
	}

	t.Run("no descriptor", func(t *testing.T) {
		o, b, _ := newTestOrchestrator(t)
		_, err := o.Start(context.Background(), t.TempDir())
		assert.ErrorIs(t, err, descriptor.ErrNotFound)
		assert.Empty(t, b.Calls())
	})
}

func TestStart_PartialFailureStillRegisters(t *testing.T) {
	o, b, reg := newTestOrchestrator(t)
	b.FailAlways(fakebackend.OpStart, "landotest_redis_1", backend.Fatalf("start", "landotest_redis_1", "port is already allocated"))
	dir := writeApp(t, demoApp)

	res, err := o.Start(context.Background(), dir)
	require.Error(t, err)
	var se *reconciler.ServiceError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"node"}, res.Succeeded)
	assert.Equal(t, []string{"redis"}, res.FailedServices())

	_, err = reg.Find(context.Background(), "lando-test")
	assert.NoError(t, err)
}

func TestDestroy_KeepsRegistrationOnFailure(t *testing.T) {
	for _, n := range parallelism {
		t.Run(fmt.Sprintf("parallel=%d", n), func(t *testing.T) {
			o, b, reg := newParallelOrchestrator(t, n)
			dir := writeApp(t, demoApp)
			_, err := o.Start(context.Background(), dir)
			require.NoError(t, err)
			b.FailAlways(fakebackend.OpRemove, "landotest_node_1", backend.Fatalf("remove", "landotest_node_1", "device or resource busy"))

			res, err := o.Destroy(context.Background(), dir)
			require.Error(t, err)
			assert.Equal(t, []string{"node"}, res.FailedServices())
			assert.Equal(t, reconciler.StateRemoved, res.States["redis"])

			_, err = reg.Find(context.Background(), "lando-test")
			assert.NoError(t, err)
			assert.Empty(t, b.CallsFor(fakebackend.OpPrune))
		})
	}
}

func TestDestroy_KeepsRegistrationWhileContainersRemain(t *testing.T) {
	o, b, reg := newTestOrchestrator(t)
	dir := writeApp(t, demoApp)
	_, err := o.Start(context.Background(), dir)
	require.NoError(t, err)

	// Something recreates the node container right after the prune.
	b.OnCall(func(c fakebackend.Call) {
		if c.Op == fakebackend.OpPrune {
			b.Seed(backend.Container{
				Name:   "landotest_node_1",
				Status: backend.StatusCreated,
				Labels: map[string]string{backend.LabelApp: "lando-test", backend.LabelService: "node"},
			})
		}
	})

	res, err := o.Destroy(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, res.OK())

	_, err = reg.Find(context.Background(), "lando-test")
	assert.NoError(t, err)
}

func TestStop_NeverRegisters(t *testing.T) {
	o, b, reg := newTestOrchestrator(t)
	dir := writeApp(t, demoApp)

	res, err := o.Stop(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Zero(t, b.Mutations())

	_, err = reg.Find(context.Background(), "lando-test")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	apps, err := o.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestStart_SharedProjectNameIsAConflict(t *testing.T) {
	o, b, reg := newTestOrchestrator(t)
	ctx := context.Background()
	owner := writeApp(t, "name: my-app\nservices:\n  cache:\n    type: redis\n")
	other := writeApp(t, "name: myapp\nservices:\n  cache:\n    type: redis\n")

	_, err := o.Start(ctx, owner)
	require.NoError(t, err)
	b.ResetCalls()

	res, err := o.Start(ctx, other)
	require.Error(t, err)
	assert.ErrorIs(t, err, inspector.ErrConflict)
	assert.Equal(t, []string{"cache"}, res.FailedServices())
	assert.Zero(t, b.Mutations())

	// Destroying the other app leaves the owner's container alone.
	res, err = o.Destroy(ctx, other)
	require.Error(t, err)
	assert.ErrorIs(t, res.Failed["cache"], inspector.ErrConflict)
	assert.Zero(t, b.Mutations())
	assert.Equal(t, backend.StatusRunning, statusOf(t, b, "myapp_cache_1"))

	_, err = reg.Find(ctx, "my-app")
	assert.NoError(t, err)
}

func TestRestartAndRebuild(t *testing.T) {
	for _, n := range parallelism {
		t.Run(fmt.Sprintf("parallel=%d", n), func(t *testing.T) {
			testRestartAndRebuild(t, n)
		})
	}
}

func testRestartAndRebuild(t *testing.T, maxParallel int) {
	o, b, _ := newParallelOrchestrator(t, maxParallel)
	dir := writeApp(t, demoApp)
	_, err := o.Start(context.Background(), dir)
	require.NoError(t, err)

	b.ResetCalls()
	res, err := o.Restart(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OpRestart, res.Op)
	if maxParallel == 1 {
		assert.Equal(t, []string{"landotest_redis_1", "landotest_node_1"}, b.CallsFor(fakebackend.OpStop))
	} else {
		assert.ElementsMatch(t, []string{"landotest_redis_1", "landotest_node_1"}, b.CallsFor(fakebackend.OpStop))
	}
	assert.Len(t, b.CallsFor(fakebackend.OpStart), 2)

	b.ResetCalls()
	res, err = o.Rebuild(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, b.CallsFor(fakebackend.OpRemove), 2)
	assert.Len(t, b.CallsFor(fakebackend.OpCreate), 2)
	for _, c := range b.Calls() {
		if c.Op == fakebackend.OpCreate {
			assert.Equal(t, backend.PullAlways, c.Pull)
		}
	}
	assert.Equal(t, reconciler.StateRunning, res.States["node"])
}

func TestList(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	ctx := context.Background()
	first := writeApp(t, demoApp)
	second := writeApp(t, "name: second-lando-test\nservices:\n  node:\n    type: node:8.9\n  redis:\n    type: redis:4.0\n")

	_, err := o.Start(ctx, first)
	require.NoError(t, err)
	_, err = o.Start(ctx, second)
	require.NoError(t, err)

	// A container of an app that is not registered any more.
	b.Seed(backend.Container{
		Name:   "ghost_web_1",
		Status: backend.StatusExited,
		Labels: map[string]string{backend.LabelApp: "ghost", backend.LabelService: "web", backend.LabelRoot: "/srv/ghost"},
	})

	apps, err := o.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []AppSummary{
		{Name: "ghost", Location: "/srv/ghost", Services: []string{"web"}},
		{Name: "lando-test", Location: first, Services: []string{"node", "redis"}},
		{Name: "second-lando-test", Location: second, Services: []string{"node", "redis"}},
	}, apps)

	data, err := json.Marshal(apps)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"location":"/srv/ghost"`)
}

func TestList_Empty(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	apps, err := o.List(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(apps)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestPoweroff(t *testing.T) {
	for _, n := range parallelism {
		t.Run(fmt.Sprintf("parallel=%d", n), func(t *testing.T) {
			testPoweroff(t, n)
		})
	}
}

func testPoweroff(t *testing.T, maxParallel int) {
	o, b, _ := newParallelOrchestrator(t, maxParallel)
	ctx := context.Background()
	first := writeApp(t, demoApp)
	second := writeApp(t, "name: shop\nservices:\n  db:\n    type: postgres\n  web:\n    type: nginx\n    depends_on: db\n")
	_, err := o.Start(ctx, first)
	require.NoError(t, err)
	_, err = o.Start(ctx, second)
	require.NoError(t, err)
	b.Seed(backend.Container{
		Name:   "ghost_web_1",
		Status: backend.StatusRunning,
		Labels: map[string]string{backend.LabelApp: "ghost", backend.LabelService: "web"},
	})
	b.ResetCalls()

	results, err := o.Poweroff(ctx)
	require.NoError(t, err)

	apps := make([]string, len(results))
	for i, r := range results {
		apps[i] = r.App
		assert.True(t, r.Result.OK(), r.App)
	}
	assert.Equal(t, []string{"ghost", "lando-test", "shop"}, apps)
	for _, name := range b.Names() {
		assert.Equal(t, backend.StatusExited, statusOf(t, b, name), name)
	}

	// Apps are powered off one after the other; web depends on db.
	stops := b.CallsFor(fakebackend.OpStop)
	require.Len(t, stops, 5)
	assert.Equal(t, "ghost_web_1", stops[0])
	assert.ElementsMatch(t, []string{"landotest_redis_1", "landotest_node_1"}, stops[1:3])
	assert.Equal(t, []string{"shop_web_1", "shop_db_1"}, stops[3:])
	if maxParallel == 1 {
		assert.Equal(t, []string{"landotest_redis_1", "landotest_node_1"}, stops[1:3])
	}
}

func TestPoweroff_UndeclaredServiceKeepsDependencyOrder(t *testing.T) {
	for _, n := range parallelism {
		t.Run(fmt.Sprintf("parallel=%d", n), func(t *testing.T) {
			o, b, _ := newParallelOrchestrator(t, n)
			ctx := context.Background()
			dir := writeApp(t, "name: shop\nservices:\n  db:\n    type: postgres\n  web:\n    type: nginx\n    depends_on: db\n")
			_, err := o.Start(ctx, dir)
			require.NoError(t, err)

			// Left over from a service the descriptor no longer declares.
			b.Seed(backend.Container{
				Name:   "shop_old_1",
				Status: backend.StatusRunning,
				Labels: map[string]string{backend.LabelApp: "shop", backend.LabelService: "old", backend.LabelRoot: dir},
			})
			b.FailAlways(fakebackend.OpStop, "shop_web_1", backend.Fatalf("stop", "shop_web_1", "permission denied"))

			results, err := o.Poweroff(ctx)
			require.Error(t, err)
			require.Len(t, results, 1)
			res := results[0].Result

			assert.Equal(t, []string{"db", "web"}, res.FailedServices())
			assert.ErrorIs(t, res.Failed["db"], reconciler.ErrDependentFailed)
			assert.Equal(t, backend.StatusRunning, statusOf(t, b, "shop_db_1"))
			assert.Equal(t, backend.StatusExited, statusOf(t, b, "shop_old_1"))
			assert.NotContains(t, b.CallsFor(fakebackend.OpStop), "shop_db_1")
		})
	}
}

func TestPoweroff_WithoutDescriptor(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	dir := writeApp(t, demoApp)
	_, err := o.Start(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, descriptor.FileNames[0])))

	results, err := o.Poweroff(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, backend.StatusExited, statusOf(t, b, "landotest_node_1"))
	assert.Equal(t, backend.StatusExited, statusOf(t, b, "landotest_redis_1"))
}

func TestInfo_Connections(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	dir := writeApp(t, "name: site\nservices:\n  web:\n    type: nginx\n  cache:\n    type: redis\n")

	info, err := o.Info(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "missing", info["web"].Status)
	assert.Nil(t, info["web"].ExternalConnection)
	assert.Empty(t, info["web"].URLs)

	_, err = o.Start(context.Background(), dir)
	require.NoError(t, err)

	info, err = o.Info(context.Background(), dir)
	require.NoError(t, err)
	web := info["web"]
	assert.Equal(t, "nginx", web.Type)
	assert.Equal(t, "1.25", web.Version)
	require.NotNil(t, web.ExternalConnection)
	assert.Equal(t, "127.0.0.1", web.ExternalConnection.Host)
	assert.NotZero(t, web.ExternalConnection.Port)
	require.Len(t, web.URLs, 1)
	assert.Contains(t, web.URLs[0], "http://localhost:")

	data, err := json.Marshal(info["cache"])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"external_connection":null`)
	assert.Contains(t, string(data), `"urls":[]`)
}
