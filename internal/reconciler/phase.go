package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"devstack/internal/backend"
	"devstack/internal/inspector"
	"devstack/internal/reporting"
	"devstack/internal/servicegraph"
	"devstack/pkg/logging"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type phaseKind int

const (
	phaseStart phaseKind = iota
	phaseStop
	phaseDestroy
)

// phase is one pass over the graph. Start passes run in dependency order;
// stop and destroy passes in reverse.
type phase struct {
	r    *Reconciler
	g    *servicegraph.ServiceGraph
	snap inspector.Snapshot
	op   Op
	kind phaseKind
	pull backend.PullPolicy

	// Failures carried over from an earlier pass of the same operation.
	carried map[string]error

	mu        sync.Mutex
	states    map[string]State
	failed    map[string]error
	mutations int
}

func (r *Reconciler) runPhase(ctx context.Context, g *servicegraph.ServiceGraph, snap inspector.Snapshot, op Op, kind phaseKind, pull backend.PullPolicy, carried map[string]error) Result {
	p := &phase{
		r:       r,
		g:       g,
		snap:    snap,
		op:      op,
		kind:    kind,
		pull:    pull,
		carried: carried,
		states:  make(map[string]State, len(g.Order)),
		failed:  make(map[string]error),
	}
	for _, name := range g.Order {
		p.transition(name, StatePlanned, "", 0, nil)
	}

	if r.opts.MaxParallel <= 1 {
		for _, name := range p.order() {
			p.process(ctx, name)
		}
	} else {
		p.runConcurrently(ctx)
	}
	return p.result()
}

func (p *phase) order() []string {
	if p.kind == phaseStart {
		return p.g.StartOrder()
	}
	return p.g.StopOrder()
}

// prerequisites are the services that must be resolved before name is visited.
func (p *phase) prerequisites(name string) []string {
	if p.kind == phaseStart {
		return p.g.Dependencies(name)
	}
	return p.g.Dependents(name)
}

// runConcurrently starts one goroutine per service. Each waits for its
// prerequisites to resolve, then holds a semaphore slot while it acts, so
// services on independent branches overlap up to MaxParallel.
func (p *phase) runConcurrently(ctx context.Context) {
	order := p.order()
	done := make(map[string]chan struct{}, len(order))
	for _, name := range order {
		done[name] = make(chan struct{})
	}
	sem := semaphore.NewWeighted(int64(p.r.opts.MaxParallel))

	var eg errgroup.Group
	for _, name := range order {
		eg.Go(func() error {
			defer close(done[name])
			for _, pre := range p.prerequisites(name) {
				<-done[pre]
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				p.fail(name, "", ErrAborted)
				return nil
			}
			defer sem.Release(1)
			p.process(ctx, name)
			return nil
		})
	}
	_ = eg.Wait()
}

// process drives one service to the terminal state of the phase.
func (p *phase) process(ctx context.Context, name string) {
	if err, ok := p.carried[name]; ok {
		p.fail(name, "", err)
		return
	}
	if ctx.Err() != nil {
		p.fail(name, "", ErrAborted)
		return
	}

	blocker := p.failedPrerequisite(name)
	if p.kind == phaseStart && blocker != "" {
		p.fail(name, "", fmt.Errorf("%w: %s", ErrDependencyFailed, blocker))
		return
	}

	st, err := p.observe(ctx, name)
	if err != nil {
		p.fail(name, "inspect", err)
		return
	}

	switch p.kind {
	case phaseStart:
		p.start(ctx, name, st)
	case phaseStop:
		p.stop(ctx, name, st, blocker)
	case phaseDestroy:
		p.destroy(ctx, name, st, blocker)
	}
}

func (p *phase) failedPrerequisite(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pre := range p.prerequisites(name) {
		if p.states[pre] == StateFailed {
			return pre
		}
	}
	return ""
}

func (p *phase) start(ctx context.Context, name string, st inspector.ObservedState) {
	if st.Status == inspector.StatusRunning {
		p.transition(name, StateRunning, "", 0, nil)
		return
	}

	id := st.ContainerID
	if !st.Exists {
		spec, ok := p.g.Spec(name)
		if !ok {
			p.fail(name, "create", &ServiceError{Service: name, Action: "create", Err: ErrNoSpec})
			return
		}
		p.transition(name, StateCreating, "create", 0, nil)
		cs := ContainerSpec(p.g, spec, p.pull)
		err := p.act(ctx, name, "create", func(ctx context.Context, attempt int) error {
			if attempt > 1 {
				// An earlier attempt may have created the container before failing.
				if c, err := p.r.backend.InspectContainer(ctx, cs.Name); err == nil && ownedBy(c, p.g.AppName) {
					id = c.ID
					return nil
				}
			}
			var err error
			id, err = p.r.backend.CreateContainer(ctx, cs)
			return err
		})
		if err != nil {
			p.fail(name, "create", err)
			return
		}
	}
	if id == "" {
		id = p.g.ContainerName(name)
	}

	if ctx.Err() != nil {
		p.fail(name, "", ErrAborted)
		return
	}
	p.transition(name, StateStarting, "start", 0, nil)
	if err := p.act(ctx, name, "start", func(ctx context.Context, _ int) error {
		return p.r.backend.StartContainer(ctx, id)
	}); err != nil {
		p.fail(name, "start", err)
		return
	}
	p.transition(name, StateRunning, "start", 0, nil)
}

func ownedBy(c backend.Container, app string) bool {
	owner := c.Labels[backend.LabelApp]
	return owner == "" || owner == app
}

func (p *phase) stop(ctx context.Context, name string, st inspector.ObservedState, blocker string) {
	if st.Status != inspector.StatusRunning {
		p.transition(name, StateStopped, "", 0, nil)
		return
	}
	if blocker != "" {
		p.fail(name, "", fmt.Errorf("%w: %s", ErrDependentFailed, blocker))
		return
	}
	if p.stopContainer(ctx, name, st) {
		p.transition(name, StateStopped, "stop", 0, nil)
	}
}

func (p *phase) destroy(ctx context.Context, name string, st inspector.ObservedState, blocker string) {
	if !st.Exists {
		p.transition(name, StateRemoved, "", 0, nil)
		return
	}
	if blocker != "" {
		p.fail(name, "", fmt.Errorf("%w: %s", ErrDependentFailed, blocker))
		return
	}
	if st.Status == inspector.StatusRunning && !p.stopContainer(ctx, name, st) {
		return
	}

	if ctx.Err() != nil {
		p.fail(name, "", ErrAborted)
		return
	}
	p.transition(name, StateRemoving, "remove", 0, nil)
	err := p.act(ctx, name, "remove", func(ctx context.Context, _ int) error {
		err := p.r.backend.RemoveContainer(ctx, containerRef(p.g, name, st))
		if errors.Is(err, backend.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		p.fail(name, "remove", err)
		return
	}
	p.transition(name, StateRemoved, "remove", 0, nil)
}

// stopContainer stops a running container and reports false after marking the
// service failed.
func (p *phase) stopContainer(ctx context.Context, name string, st inspector.ObservedState) bool {
	p.transition(name, StateStopping, "stop", 0, nil)
	if err := p.act(ctx, name, "stop", func(ctx context.Context, _ int) error {
		return p.r.backend.StopContainer(ctx, containerRef(p.g, name, st))
	}); err != nil {
		p.fail(name, "stop", err)
		return false
	}
	return true
}

func containerRef(g *servicegraph.ServiceGraph, name string, st inspector.ObservedState) string {
	if st.ContainerID != "" {
		return st.ContainerID
	}
	return g.ContainerName(name)
}

// observe returns the snapshot entry of name, inspecting the container when
// the snapshot has none or its query had failed.
func (p *phase) observe(ctx context.Context, name string) (inspector.ObservedState, error) {
	if st, ok := p.snap[name]; ok && st.Status != inspector.StatusUnknown {
		return st, nil
	}

	var st inspector.ObservedState
	_, err := p.r.retry.Execute(ctx, func(ctx context.Context) error {
		st = p.r.inspector.Observe(ctx, p.g, []string{name})[name]
		if st.Status == inspector.StatusUnknown {
			if st.Err != nil {
				return st.Err
			}
			return fmt.Errorf("container %s is in an unknown state", st.ContainerName)
		}
		return nil
	})
	if err != nil {
		return st, &ServiceError{Service: name, Action: "inspect", Err: err}
	}
	return st, nil
}

// act runs one backend mutation under the retry policy, counting every
// attempt as a mutation.
func (p *phase) act(ctx context.Context, name, action string, fn func(ctx context.Context, attempt int) error) error {
	attempt := 0
	_, err := p.r.retry.Execute(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			p.r.opts.Metrics.IncRetry(action)
			p.report(name, p.stateOf(name), action, attempt, nil)
		}

		start := time.Now()
		err := fn(ctx, attempt)
		p.r.opts.Metrics.ObserveAction(action, time.Since(start), err)

		p.mu.Lock()
		p.mutations++
		p.mu.Unlock()

		if err != nil {
			logging.Debug("Reconciler", "%s %s attempt %d failed: %v", action, name, attempt, err)
		}
		return err
	})
	if err != nil {
		return &ServiceError{Service: name, Action: action, Err: err}
	}
	return nil
}

func (p *phase) stateOf(name string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[name]
}

func (p *phase) fail(name, action string, err error) {
	p.mu.Lock()
	p.failed[name] = err
	p.mu.Unlock()
	p.transition(name, StateFailed, action, 0, err)
}

func (p *phase) transition(name string, state State, action string, attempt int, err error) {
	p.mu.Lock()
	p.states[name] = state
	p.mu.Unlock()
	p.report(name, state, action, attempt, err)
}

func (p *phase) report(name string, state State, action string, attempt int, err error) {
	p.r.opts.Reporter.Report(reporting.ServiceUpdate{
		Timestamp:     time.Now(),
		CorrelationID: p.r.opts.CorrelationID,
		App:           p.g.AppName,
		Service:       name,
		Op:            string(p.op),
		State:         string(state),
		Action:        action,
		Attempt:       attempt,
		Err:           err,
	})
}

func (p *phase) result() Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := Result{
		App:       p.g.AppName,
		Op:        p.op,
		Failed:    make(map[string]error, len(p.failed)),
		States:    make(map[string]State, len(p.states)),
		Mutations: p.mutations,
	}
	for _, name := range p.g.Order {
		res.States[name] = p.states[name]
		if err, ok := p.failed[name]; ok {
			res.Failed[name] = err
		} else {
			res.Succeeded = append(res.Succeeded, name)
		}
	}
	return res
}
