// Package fakebackend provides an in-memory backend.Backend with call
// recording and failure injection, for tests.
package fakebackend

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"devstack/internal/backend"
)

// Operation names used in Call records and failure injection.
const (
	OpList    = "list"
	OpInspect = "inspect"
	OpCreate  = "create"
	OpStart   = "start"
	OpStop    = "stop"
	OpRemove  = "remove"
	OpLogs    = "logs"
	OpPrune   = "prune"
)

var mutatingOps = []string{OpCreate, OpStart, OpStop, OpRemove, OpPrune}

// Call records one backend invocation. Container is the container name, or the
// project for OpPrune.
type Call struct {
	Op        string
	Container string
	Pull      backend.PullPolicy
}

type failureKey struct {
	op   string
	name string
}

// Backend is safe for concurrent use.
type Backend struct {
	mu         sync.Mutex
	containers map[string]*backend.Container // keyed by name
	logs       map[string]string
	nextID     int
	nextPort   int
	calls      []Call
	failures   map[failureKey][]error
	always     map[failureKey]error
	hook       func(Call)
	now        func() time.Time
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		containers: make(map[string]*backend.Container),
		logs:       make(map[string]string),
		failures:   make(map[failureKey][]error),
		always:     make(map[failureKey]error),
		nextPort:   32768,
		now:        time.Now,
	}
}

// FailNext makes the next len(errs) calls of op on the named container fail
// with errs, in order. An empty name matches every container.
func (b *Backend) FailNext(op, name string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := failureKey{op, name}
	b.failures[key] = append(b.failures[key], errs...)
}

// FailAlways makes every call of op on the named container fail with err.
func (b *Backend) FailAlways(op, name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.always[failureKey{op, name}] = err
}

// OnCall registers fn to run, outside the lock, before every call is served.
func (b *Backend) OnCall(fn func(Call)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
}

// SetLogs sets the log output of the named container.
func (b *Backend) SetLogs(name, logs string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs[name] = logs
}

// Calls returns every recorded call.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// CallsFor returns the recorded calls of op, in order.
func (b *Backend) CallsFor(op string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for _, c := range b.calls {
		if c.Op == op {
			names = append(names, c.Container)
		}
	}
	return names
}

// Mutations counts recorded state-changing calls.
func (b *Backend) Mutations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if slices.Contains(mutatingOps, c.Op) {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Names returns the names of all containers, sorted.
func (b *Backend) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.containers))
	for name := range b.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Seed adds a container directly, without recording a call.
func (b *Backend) Seed(c backend.Container) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.ID == "" {
		b.nextID++
		c.ID = fmt.Sprintf("fake%06d", b.nextID)
	}
	b.containers[c.Name] = &c
}

// record logs the call and returns the injected failure, if any.
func (b *Backend) record(call Call) error {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	hook := b.hook
	err := b.injectedLocked(call.Op, call.Container)
	b.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}

func (b *Backend) injectedLocked(op, name string) error {
	for _, key := range []failureKey{{op, name}, {op, ""}} {
		if queue := b.failures[key]; len(queue) > 0 {
			b.failures[key] = queue[1:]
			return queue[0]
		}
		if err, ok := b.always[key]; ok {
			return err
		}
	}
	return nil
}

func (b *Backend) lookupLocked(id string) (*backend.Container, bool) {
	if c, ok := b.containers[id]; ok {
		return c, true
	}
	for _, c := range b.containers {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

func (b *Backend) nameOf(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.lookupLocked(id); ok {
		return c.Name
	}
	return id
}

func copyContainer(c *backend.Container) backend.Container {
	out := *c
	out.Labels = maps.Clone(c.Labels)
	out.Ports = slices.Clone(c.Ports)
	return out
}

func (b *Backend) ListContainers(ctx context.Context, filter backend.Filter) ([]backend.Container, error) {
	if err := b.record(Call{Op: OpList}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []backend.Container
	for _, c := range b.containers {
		if !filter.All && c.Status != backend.StatusRunning {
			continue
		}
		if len(filter.Names) > 0 && !slices.Contains(filter.Names, c.Name) {
			continue
		}
		matches := true
		for k, v := range filter.Labels {
			got, ok := c.Labels[k]
			if !ok || (v != "" && got != v) {
				matches = false
				break
			}
		}
		if matches {
			out = append(out, copyContainer(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) InspectContainer(ctx context.Context, id string) (backend.Container, error) {
	if err := b.record(Call{Op: OpInspect, Container: b.nameOf(id)}); err != nil {
		return backend.Container{}, err
	}
	if err := ctx.Err(); err != nil {
		return backend.Container{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.lookupLocked(id)
	if !ok {
		return backend.Container{}, fmt.Errorf("%s: %w", id, backend.ErrNotFound)
	}
	return copyContainer(c), nil
}

func (b *Backend) CreateContainer(ctx context.Context, spec backend.ContainerSpec) (string, error) {
	if err := b.record(Call{Op: OpCreate, Container: spec.Name, Pull: spec.Pull}); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if spec.Image == "" {
		return "", backend.Fatalf("create", spec.Name, "no image")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.containers[spec.Name]; exists {
		return "", backend.Fatalf("create", spec.Name, "name already in use")
	}

	b.nextID++
	c := &backend.Container{
		ID:      fmt.Sprintf("fake%06d", b.nextID),
		Name:    spec.Name,
		Image:   spec.Image,
		Status:  backend.StatusCreated,
		Labels:  maps.Clone(spec.Labels),
		Ports:   slices.Clone(spec.Ports),
		Created: b.now(),
	}
	b.containers[spec.Name] = c
	return c.ID, nil
}

func (b *Backend) StartContainer(ctx context.Context, id string) error {
	if err := b.record(Call{Op: OpStart, Container: b.nameOf(id)}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.lookupLocked(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, backend.ErrNotFound)
	}
	for i := range c.Ports {
		if c.Ports[i].HostPort == 0 {
			c.Ports[i].HostPort = b.nextPort
			b.nextPort++
		}
	}
	c.Status = backend.StatusRunning
	return nil
}

func (b *Backend) StopContainer(ctx context.Context, id string) error {
	if err := b.record(Call{Op: OpStop, Container: b.nameOf(id)}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.lookupLocked(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, backend.ErrNotFound)
	}
	c.Status = backend.StatusExited
	return nil
}

func (b *Backend) RemoveContainer(ctx context.Context, id string) error {
	if err := b.record(Call{Op: OpRemove, Container: b.nameOf(id)}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.lookupLocked(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, backend.ErrNotFound)
	}
	if c.Status == backend.StatusRunning {
		return backend.Fatalf("remove", c.Name, "container is running")
	}
	delete(b.containers, c.Name)
	return nil
}

// StreamLogs returns the configured logs. With Follow set, the stream stays
// open until ctx is done.
func (b *Backend) StreamLogs(ctx context.Context, id string, opts backend.LogOptions) (io.ReadCloser, error) {
	if err := b.record(Call{Op: OpLogs, Container: b.nameOf(id)}); err != nil {
		return nil, err
	}

	b.mu.Lock()
	c, ok := b.lookupLocked(id)
	var content string
	if ok {
		content = b.logs[c.Name]
	}
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, backend.ErrNotFound)
	}

	lines := strings.SplitAfter(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if opts.Tail > 0 && len(lines) > opts.Tail {
		lines = lines[len(lines)-opts.Tail:]
	}
	if opts.Timestamps {
		for i, line := range lines {
			lines[i] = "2024-01-01T00:00:00.000000000Z " + line
		}
	}
	content = strings.Join(lines, "")

	if !opts.Follow {
		return io.NopCloser(strings.NewReader(content)), nil
	}

	pr, pw := io.Pipe()
	go func() {
		if _, err := io.WriteString(pw, content); err != nil {
			return
		}
		<-ctx.Done()
		pw.Close()
	}()
	return pr, nil
}

// PruneApp records the call; the fake keeps no networks or volumes.
func (b *Backend) PruneApp(ctx context.Context, project string) error {
	if err := b.record(Call{Op: OpPrune, Container: project}); err != nil {
		return err
	}
	return ctx.Err()
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Pruner  = (*Backend)(nil)
)
