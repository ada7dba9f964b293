package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"devstack/internal/backend"
	"devstack/internal/inspector"
	"devstack/internal/reconciler"
	"devstack/internal/registry"
	"devstack/internal/servicegraph"
	"devstack/pkg/logging"
)

// AppResult is the outcome of an operation on one app.
type AppResult struct {
	App    string
	Result reconciler.Result
}

// Poweroff stops every service of every registered app and of every app that
// only left labelled containers behind. It works from any directory.
func (o *Orchestrator) Poweroff(ctx context.Context) ([]AppResult, error) {
	records, err := o.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	managed, err := o.inspector.ObserveManaged(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]registry.AppRecord, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}
	for app := range managed {
		if _, ok := byName[app]; !ok {
			byName[app] = registry.AppRecord{Name: app, RootPath: rootOf(managed[app])}
		}
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []AppResult
	var errs []error
	for _, name := range names {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, reconciler.ErrAborted))
			continue
		}
		res, err := o.poweroffApp(ctx, byName[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if res.Op != "" {
			results = append(results, AppResult{App: name, Result: res})
		}
	}
	return results, errors.Join(errs...)
}

func (o *Orchestrator) poweroffApp(ctx context.Context, rec registry.AppRecord) (reconciler.Result, error) {
	unlock, err := o.registry.Lock(ctx, rec.Name)
	if err != nil {
		return reconciler.Result{}, err
	}
	defer unlock()

	// Containers may have appeared since the app was listed.
	labelled, err := o.inspector.ObserveApp(ctx, rec.Name)
	if err != nil {
		return reconciler.Result{}, err
	}
	g := o.graphFor(rec, labelled)

	snap := o.inspector.ObserveGraph(ctx, g)
	res, err := o.newReconciler().Apply(ctx, g, snap, reconciler.OpPoweroff)
	if err != nil {
		return res, err
	}
	return res, res.Err()
}

// graphFor prefers the app's descriptor, so that dependencies stop in order,
// and falls back to the service names known from the registry and labels.
func (o *Orchestrator) graphFor(rec registry.AppRecord, labelled inspector.Snapshot) *servicegraph.ServiceGraph {
	if rec.RootPath != "" {
		g, err := o.LoadApp(rec.RootPath)
		if err == nil && g.AppName == rec.Name && g.RootPath == rec.RootPath {
			return withExtraServices(g, labelled)
		}
		logging.Debug("Orchestrator", "Descriptor of %s unavailable at %s, stopping by name: %v", rec.Name, rec.RootPath, err)
	}

	services := append([]string(nil), rec.Services...)
	for _, name := range labelled.Services() {
		if !slices.Contains(services, name) {
			services = append(services, name)
		}
	}
	return servicegraph.FromServices(rec.Name, rec.RootPath, services)
}

// withExtraServices adds labelled containers of services the descriptor no
// longer declares. They have no dependencies; declared services keep theirs.
func withExtraServices(g *servicegraph.ServiceGraph, labelled inspector.Snapshot) *servicegraph.ServiceGraph {
	var extra []string
	for _, name := range labelled.Services() {
		if _, ok := g.Spec(name); !ok {
			extra = append(extra, name)
		}
	}
	if len(extra) == 0 {
		return g
	}
	logging.Debug("Orchestrator", "%s has containers of undeclared services %v", g.AppName, extra)
	return g.WithExtraServices(extra...)
}

func rootOf(snap inspector.Snapshot) string {
	for _, name := range snap.Services() {
		if root := snap[name].Labels[backend.LabelRoot]; root != "" {
			return root
		}
	}
	return ""
}
