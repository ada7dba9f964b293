// Package reconciler drives the containers of an app towards the state a
// lifecycle operation asks for. It walks the service graph in dependency
// order, issues only the backend actions needed and reports every transition.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"devstack/internal/backend"
	"devstack/internal/config"
	"devstack/internal/inspector"
	"devstack/internal/metrics"
	"devstack/internal/reporting"
	"devstack/internal/resilience"
	"devstack/internal/servicegraph"
	"devstack/pkg/logging"
)

// Options tunes a Reconciler.
type Options struct {
	MaxRetries    int
	RetryDelay    time.Duration
	ActionTimeout time.Duration
	MaxParallel   int // 1 or less runs services one at a time

	Reporter      reporting.ServiceReporter
	Metrics       *metrics.Recorder
	CorrelationID string
}

// OptionsFromConfig maps the reconcile settings onto Options.
func OptionsFromConfig(s config.ReconcileSettings) Options {
	return Options{
		MaxRetries:    s.Retries(),
		RetryDelay:    s.RetryDelay,
		ActionTimeout: s.ActionTimeout,
		MaxParallel:   s.MaxParallel,
	}
}

// Reconciler executes lifecycle operations against a backend.
type Reconciler struct {
	backend   backend.Backend
	inspector *inspector.Inspector
	opts      Options
	retry     *resilience.RetryPolicy
}

// New creates a reconciler.
func New(b backend.Backend, opts Options) *Reconciler {
	if opts.Reporter == nil {
		opts.Reporter = reporting.NopReporter{}
	}
	if opts.CorrelationID == "" {
		opts.CorrelationID = reporting.GenerateCorrelationID()
	}

	backoff := resilience.DefaultBackoffConfig()
	backoff.MaxRetries = opts.MaxRetries
	if opts.RetryDelay > 0 {
		backoff.InitialDelay = opts.RetryDelay
	}

	return &Reconciler{
		backend:   b,
		inspector: inspector.New(b),
		opts:      opts,
		retry: resilience.NewRetryPolicy("backend-action", backoff,
			resilience.WithRetryable(backend.IsTransient),
			resilience.WithAttemptTimeout(opts.ActionTimeout),
			resilience.WithDetachedAttempts(),
		),
	}
}

// CorrelationID returns the ID attached to every reported update.
func (r *Reconciler) CorrelationID() string {
	return r.opts.CorrelationID
}

// Apply runs op on every service of g. snap is the state observed before the
// call; services absent from it are inspected on demand. The returned error is
// only set when op cannot run at all; per-service failures are in the Result.
func (r *Reconciler) Apply(ctx context.Context, g *servicegraph.ServiceGraph, snap inspector.Snapshot, op Op) (Result, error) {
	logging.Info("Reconciler", "Running %s for %s (%d services, correlation %s)", op, g.AppName, len(g.Order), r.opts.CorrelationID)
	retried := r.retry.GetMetrics().TotalRetryAttempts

	var res Result
	switch op {
	case OpStart:
		res = r.runPhase(ctx, g, snap, op, phaseStart, backend.PullIfMissing, nil)
	case OpStop, OpPoweroff:
		res = r.runPhase(ctx, g, snap, op, phaseStop, "", nil)
	case OpDestroy:
		res = r.destroy(ctx, g, snap, op)
	case OpRestart:
		res = r.restart(ctx, g, snap)
	case OpRebuild:
		res = r.rebuild(ctx, g, snap)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}

	res.Retries = int(r.retry.GetMetrics().TotalRetryAttempts - retried)

	for _, name := range g.Order {
		r.opts.Metrics.ObserveServiceOutcome(string(op), string(res.States[name]))
	}
	if res.OK() {
		logging.Info("Reconciler", "%s of %s finished with %d backend mutations (%d retried)", op, g.AppName, res.Mutations, res.Retries)
	} else {
		logging.Warn("Reconciler", "%s of %s finished with failures: %v", op, g.AppName, res.FailedServices())
	}
	return res, nil
}

func (r *Reconciler) destroy(ctx context.Context, g *servicegraph.ServiceGraph, snap inspector.Snapshot, op Op) Result {
	res := r.runPhase(ctx, g, snap, op, phaseDestroy, "", nil)
	if res.OK() {
		res.Mutations += r.prune(ctx, g)
	}
	return res
}

// prune removes the app network and data volumes once every container is gone.
// Failures are logged; leftovers are harmless and removed by the next destroy.
func (r *Reconciler) prune(ctx context.Context, g *servicegraph.ServiceGraph) int {
	pruner, ok := r.backend.(backend.Pruner)
	if !ok || ctx.Err() != nil {
		return 0
	}
	start := time.Now()
	err := pruner.PruneApp(ctx, g.Project)
	r.opts.Metrics.ObserveAction("prune", time.Since(start), err)
	if err != nil {
		logging.Warn("Reconciler", "Pruning resources of %s: %v", g.AppName, err)
	}
	return 1
}

func (r *Reconciler) restart(ctx context.Context, g *servicegraph.ServiceGraph, snap inspector.Snapshot) Result {
	if len(snap.Running(g.Order)) == 0 {
		logging.Debug("Reconciler", "Nothing of %s is running, restart is a start", g.AppName)
		return r.runPhase(ctx, g, snap, OpRestart, phaseStart, backend.PullIfMissing, nil)
	}

	stopped := r.runPhase(ctx, g, snap, OpRestart, phaseStop, "", nil)
	fresh := r.inspector.ObserveGraph(ctx, g)
	started := r.runPhase(ctx, g, fresh, OpRestart, phaseStart, backend.PullIfMissing, stopped.Failed)
	started.Mutations += stopped.Mutations
	return started
}

func (r *Reconciler) rebuild(ctx context.Context, g *servicegraph.ServiceGraph, snap inspector.Snapshot) Result {
	destroyed := r.destroy(ctx, g, snap, OpRebuild)
	fresh := r.inspector.ObserveGraph(ctx, g)
	started := r.runPhase(ctx, g, fresh, OpRebuild, phaseStart, backend.PullAlways, destroyed.Failed)
	started.Mutations += destroyed.Mutations
	return started
}

// ContainerSpec renders the backend spec of service.
func ContainerSpec(g *servicegraph.ServiceGraph, spec servicegraph.ServiceSpec, pull backend.PullPolicy) backend.ContainerSpec {
	cs := backend.ContainerSpec{
		Name:    g.ContainerName(spec.Name),
		Image:   spec.Image,
		Command: append([]string(nil), spec.Command...),
		Env:     make(map[string]string, len(spec.Env)),
		Labels: map[string]string{
			backend.LabelApp:     g.AppName,
			backend.LabelService: spec.Name,
			backend.LabelProject: g.Project,
			backend.LabelRoot:    g.RootPath,
		},
		Network:      g.NetworkName(),
		NetworkAlias: spec.Name,
		Pull:         pull,
	}
	for k, v := range spec.Env {
		cs.Env[k] = v
	}
	for _, p := range spec.Ports {
		cs.Ports = append(cs.Ports, backend.PortBinding{
			HostIP:        "127.0.0.1",
			HostPort:      p.HostPort,
			ContainerPort: p.ContainerPort,
			Protocol:      p.Protocol,
		})
	}
	for _, v := range spec.Volumes {
		cs.Mounts = append(cs.Mounts, backend.Mount{Source: v.Source, Target: v.Target, ReadOnly: v.ReadOnly})
	}
	return cs
}
