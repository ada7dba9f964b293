// Package registry persists which apps devstack manages, so that list and
// poweroff work from any directory.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"devstack/pkg/logging"
)

var (
	// ErrNotFound is returned by Find and Remove for an unknown app.
	ErrNotFound = errors.New("app not registered")
	// ErrRegistry wraps every storage failure.
	ErrRegistry = errors.New("registry error")
)

// AppRecord is the registered state of one app.
type AppRecord struct {
	Name      string
	RootPath  string
	Services  []string // Declaration order
	UpdatedAt time.Time
}

// Store persists app records. Implementations must be safe for concurrent use
// and must wrap storage failures with ErrRegistry.
type Store interface {
	Upsert(ctx context.Context, rec AppRecord) error
	Remove(ctx context.Context, name string) error
	Find(ctx context.Context, name string) (AppRecord, error)
	// List returns every record ordered by name.
	List(ctx context.Context) ([]AppRecord, error)
	Close() error
}

// Registry adds per-app serialization on top of a Store.
type Registry struct {
	store   Store
	lockDir string
	now     func() time.Time

	mu    sync.Mutex
	gates map[string]chan struct{}
}

// New creates a registry. Lock files live in lockDir; an empty lockDir limits
// locking to the current process.
func New(store Store, lockDir string) *Registry {
	return &Registry{
		store:   store,
		lockDir: lockDir,
		now:     time.Now,
		gates:   make(map[string]chan struct{}),
	}
}

// Upsert records rec, stamping UpdatedAt.
func (r *Registry) Upsert(ctx context.Context, rec AppRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("%w: app name is empty", ErrRegistry)
	}
	rec.UpdatedAt = r.now().UTC()
	if err := r.store.Upsert(ctx, rec); err != nil {
		return err
	}
	logging.Debug("Registry", "Registered %s at %s with services %v", rec.Name, rec.RootPath, rec.Services)
	return nil
}

// Remove deregisters name. Removing an unknown app is not an error.
func (r *Registry) Remove(ctx context.Context, name string) error {
	err := r.store.Remove(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err == nil {
		logging.Debug("Registry", "Deregistered %s", name)
	}
	return err
}

// Find returns the record of name or ErrNotFound.
func (r *Registry) Find(ctx context.Context, name string) (AppRecord, error) {
	return r.store.Find(ctx, name)
}

// List returns every registered app ordered by name.
func (r *Registry) List(ctx context.Context) ([]AppRecord, error) {
	return r.store.List(ctx)
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

// Lock serializes operations on app across goroutines and, through an
// advisory file lock, across processes. Distinct apps never block each other.
// The returned function releases the lock.
func (r *Registry) Lock(ctx context.Context, app string) (func(), error) {
	gate := r.gate(app)
	select {
	case gate <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for lock on %s: %w", app, ctx.Err())
	}

	if r.lockDir == "" {
		var once sync.Once
		return func() { once.Do(func() { <-gate }) }, nil
	}

	if err := os.MkdirAll(r.lockDir, 0o755); err != nil {
		<-gate
		return nil, fmt.Errorf("%w: creating lock directory: %v", ErrRegistry, err)
	}
	path := filepath.Join(r.lockDir, lockFileName(app))
	fl, err := acquireFileLock(ctx, path)
	if err != nil {
		<-gate
		return nil, err
	}
	logging.Debug("Registry", "Locked %s", app)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := fl.release(); err != nil {
				logging.Warn("Registry", "Releasing lock on %s: %v", app, err)
			}
			<-gate
		})
	}, nil
}

func (r *Registry) gate(app string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[app]
	if !ok {
		g = make(chan struct{}, 1)
		r.gates[app] = g
	}
	return g
}

var unsafeLockChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func lockFileName(app string) string {
	return unsafeLockChars.ReplaceAllString(app, "_") + ".lock"
}
