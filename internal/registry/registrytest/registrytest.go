// Package registrytest provides contract tests for registry.Store
// implementations.
package registrytest

import (
	"context"
	"sync"
	"testing"
	"time"

	"devstack/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory creates a fresh store for each test invocation.
type Factory func(t *testing.T) registry.Store

// Run exercises the registry.Store contract.
func Run(t *testing.T, factory Factory) {
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)

	t.Run("UpsertAndFind", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		rec := registry.AppRecord{Name: "demo", RootPath: "/srv/demo", Services: []string{"node", "redis"}, UpdatedAt: stamp}

		require.NoError(t, s.Upsert(ctx, rec))
		got, err := s.Find(ctx, "demo")
		require.NoError(t, err)
		assert.Equal(t, "/srv/demo", got.RootPath)
		assert.Equal(t, []string{"node", "redis"}, got.Services)
		assert.True(t, stamp.Equal(got.UpdatedAt))
	})

	t.Run("UpsertReplaces", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, registry.AppRecord{Name: "demo", RootPath: "/old", Services: []string{"a"}, UpdatedAt: stamp}))
		require.NoError(t, s.Upsert(ctx, registry.AppRecord{Name: "demo", RootPath: "/new", Services: []string{"b", "c"}, UpdatedAt: stamp}))

		got, err := s.Find(ctx, "demo")
		require.NoError(t, err)
		assert.Equal(t, "/new", got.RootPath)
		assert.Equal(t, []string{"b", "c"}, got.Services)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("FindNotFound", func(t *testing.T) {
		s := factory(t)
		_, err := s.Find(context.Background(), "nope")
		assert.ErrorIs(t, err, registry.ErrNotFound)
	})

	t.Run("Remove", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, registry.AppRecord{Name: "demo", RootPath: "/srv/demo", UpdatedAt: stamp}))

		require.NoError(t, s.Remove(ctx, "demo"))
		_, err := s.Find(ctx, "demo")
		assert.ErrorIs(t, err, registry.ErrNotFound)
		assert.ErrorIs(t, s.Remove(ctx, "demo"), registry.ErrNotFound)
	})

	t.Run("ListOrderedByName", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		for _, name := range []string{"zeta", "alpha", "mid"} {
			require.NoError(t, s.Upsert(ctx, registry.AppRecord{Name: name, RootPath: "/" + name, UpdatedAt: stamp}))
		}

		all, err := s.List(ctx)
		require.NoError(t, err)
		names := make([]string, len(all))
		for i, rec := range all {
			names[i] = rec.Name
		}
		assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
	})

	t.Run("ListEmpty", func(t *testing.T) {
		s := factory(t)
		all, err := s.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("ConcurrentUpserts", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				name := []string{"a", "b", "c", "d"}[i%4]
				errs <- s.Upsert(ctx, registry.AppRecord{Name: name, RootPath: "/" + name, UpdatedAt: stamp})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})
}
