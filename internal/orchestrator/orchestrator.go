package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"devstack/internal/backend"
	"devstack/internal/descriptor"
	"devstack/internal/inspector"
	"devstack/internal/metrics"
	"devstack/internal/reconciler"
	"devstack/internal/registry"
	"devstack/internal/reporting"
	"devstack/internal/servicegraph"
	"devstack/pkg/logging"
)

// ErrUnknownService is returned when a command names a service the app does
// not declare.
var ErrUnknownService = fmt.Errorf("%w: unknown service", descriptor.ErrConfig)

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Backend   backend.Backend
	Registry  *registry.Registry
	Policy    servicegraph.Policy
	Reconcile reconciler.Options
	Reporter  reporting.ServiceReporter
	Metrics   *metrics.Recorder
}

// Orchestrator executes the CLI verbs. It keeps no state between calls; every
// call observes the backend afresh.
type Orchestrator struct {
	backend   backend.Backend
	registry  *registry.Registry
	policy    servicegraph.Policy
	inspector *inspector.Inspector
	opts      reconciler.Options
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	opts := cfg.Reconcile
	if cfg.Reporter != nil {
		opts.Reporter = cfg.Reporter
	}
	if cfg.Metrics != nil {
		opts.Metrics = cfg.Metrics
	}
	return &Orchestrator{
		backend:   cfg.Backend,
		registry:  cfg.Registry,
		policy:    cfg.Policy,
		inspector: inspector.New(cfg.Backend),
		opts:      opts,
	}
}

// LoadApp finds the descriptor at or above rootPath and builds its graph.
// Errors wrap descriptor.ErrConfig; the backend is not contacted.
func (o *Orchestrator) LoadApp(rootPath string) (*servicegraph.ServiceGraph, error) {
	desc, err := descriptor.Load(rootPath)
	if err != nil {
		return nil, err
	}
	g, err := servicegraph.Build(desc, o.policy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", desc.File, err)
	}
	return g, nil
}

func (o *Orchestrator) newReconciler() *reconciler.Reconciler {
	return reconciler.New(o.backend, o.opts)
}

// Start brings every service of the app at rootPath to Running and registers
// the app.
func (o *Orchestrator) Start(ctx context.Context, rootPath string) (reconciler.Result, error) {
	return o.lifecycle(ctx, rootPath, reconciler.OpStart)
}

// Stop stops every running service of the app at rootPath.
func (o *Orchestrator) Stop(ctx context.Context, rootPath string) (reconciler.Result, error) {
	return o.lifecycle(ctx, rootPath, reconciler.OpStop)
}

// Restart stops and then starts the app at rootPath.
func (o *Orchestrator) Restart(ctx context.Context, rootPath string) (reconciler.Result, error) {
	return o.lifecycle(ctx, rootPath, reconciler.OpRestart)
}

// Rebuild destroys the app at rootPath and starts it from a freshly loaded
// descriptor with fresh images.
func (o *Orchestrator) Rebuild(ctx context.Context, rootPath string) (reconciler.Result, error) {
	return o.lifecycle(ctx, rootPath, reconciler.OpRebuild)
}

// Destroy removes every container and resource of the app at rootPath and
// deregisters it once nothing is left.
func (o *Orchestrator) Destroy(ctx context.Context, rootPath string) (reconciler.Result, error) {
	return o.lifecycle(ctx, rootPath, reconciler.OpDestroy)
}

// lifecycle runs op under the app's registry lock and updates the registry.
// The returned error is set when the op could not run, when the registry
// could not be updated or when any service failed.
func (o *Orchestrator) lifecycle(ctx context.Context, rootPath string, op reconciler.Op) (reconciler.Result, error) {
	g, err := o.LoadApp(rootPath)
	if err != nil {
		return reconciler.Result{Op: op}, err
	}

	unlock, err := o.registry.Lock(ctx, g.AppName)
	if err != nil {
		return reconciler.Result{App: g.AppName, Op: op}, err
	}
	defer unlock()

	snap := o.inspector.ObserveGraph(ctx, g)
	res, err := o.newReconciler().Apply(ctx, g, snap, op)
	if err != nil {
		return res, err
	}

	regErr := o.updateRegistry(ctx, g, op, res)
	return res, errors.Join(res.Err(), regErr)
}

// updateRegistry keeps the app registered while any of its containers may
// exist and removes it after a complete destroy. A start that failed half way
// still registers the app so that poweroff can find what it created. Only
// start, restart and rebuild create a registration.
func (o *Orchestrator) updateRegistry(ctx context.Context, g *servicegraph.ServiceGraph, op reconciler.Op, res reconciler.Result) error {
	switch op {
	case reconciler.OpDestroy:
		if !res.OK() {
			logging.Warn("Orchestrator", "Keeping %s registered, %d service(s) could not be removed", g.AppName, len(res.Failed))
			return nil
		}
		if left := o.inspector.ObserveGraph(ctx, g); !left.AllMissing() {
			logging.Warn("Orchestrator", "Keeping %s registered, containers are still present", g.AppName)
			return nil
		}
		return o.registry.Remove(ctx, g.AppName)
	case reconciler.OpStop:
		// Stopping changes nothing a registration records and never creates one.
		if _, err := o.registry.Find(ctx, g.AppName); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		return nil
	}
	return o.registry.Upsert(ctx, registry.AppRecord{
		Name:     g.AppName,
		RootPath: g.RootPath,
		Services: g.Services(),
	})
}
