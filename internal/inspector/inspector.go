// Package inspector reads the live state of an app's containers from the
// backend. It never changes backend state.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"devstack/internal/backend"
	"devstack/internal/servicegraph"
	"devstack/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// Status is the observed status of a service.
type Status string

const (
	StatusRunning Status = "Running"
	StatusExited  Status = "Exited"
	StatusMissing Status = "Missing"
	StatusUnknown Status = "Unknown"
)

// ObservedState is a point in time view of one service.
type ObservedState struct {
	Service       string
	Exists        bool
	Status        Status
	ContainerID   string
	ContainerName string
	Image         string
	Ports         []backend.PortBinding
	Labels        map[string]string
	Err           error // Set when Status is Unknown because the query failed
}

// ErrConflict marks a service whose container name is taken by a container
// of another app. Such a container is never adopted.
var ErrConflict = errors.New("container belongs to another app")

// Snapshot maps service names to their observed state.
type Snapshot map[string]ObservedState

// Running returns the running services among names, preserving their order.
func (s Snapshot) Running(names []string) []string {
	var running []string
	for _, name := range names {
		if s[name].Status == StatusRunning {
			running = append(running, name)
		}
	}
	return running
}

// AllMissing reports whether every service in the snapshot is Missing.
func (s Snapshot) AllMissing() bool {
	for _, st := range s {
		if st.Status != StatusMissing {
			return false
		}
	}
	return true
}

// Services returns the service names in the snapshot, sorted.
func (s Snapshot) Services() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const defaultConcurrency = 8

// Inspector queries container state.
type Inspector struct {
	backend     backend.Backend
	concurrency int
}

// New returns an inspector for b.
func New(b backend.Backend) *Inspector {
	return &Inspector{backend: b, concurrency: defaultConcurrency}
}

// ObserveGraph observes every service of g.
func (i *Inspector) ObserveGraph(ctx context.Context, g *servicegraph.ServiceGraph) Snapshot {
	return i.Observe(ctx, g, g.Order)
}

// Observe inspects the container of every named service of g. A failed query
// marks that service Unknown with the error attached, and so does a container
// labelled for another app (ErrConflict); the call itself never fails.
func (i *Inspector) Observe(ctx context.Context, g *servicegraph.ServiceGraph, services []string) Snapshot {
	results := make([]ObservedState, len(services))

	var eg errgroup.Group
	eg.SetLimit(i.concurrency)
	for idx, service := range services {
		eg.Go(func() error {
			results[idx] = i.observeOne(ctx, g, service)
			return nil
		})
	}
	_ = eg.Wait()

	snap := make(Snapshot, len(services))
	for _, st := range results {
		snap[st.Service] = st
	}
	return snap
}

func (i *Inspector) observeOne(ctx context.Context, g *servicegraph.ServiceGraph, service string) ObservedState {
	name := g.ContainerName(service)
	st := ObservedState{Service: service, ContainerName: name}

	c, err := i.backend.InspectContainer(ctx, name)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		st.Status = StatusMissing
		return st
	case err != nil:
		logging.Debug("Inspector", "Inspecting %s failed: %v", name, err)
		st.Status = StatusUnknown
		st.Err = err
		return st
	}

	// Distinct app names can share a project prefix. Unlabelled containers
	// are adopted.
	if owner := c.Labels[backend.LabelApp]; owner != "" && owner != g.AppName {
		logging.Warn("Inspector", "Container %s belongs to app %s, not %s", name, owner, g.AppName)
		st.Status = StatusUnknown
		st.Err = fmt.Errorf("%w: %s is owned by %s", ErrConflict, name, owner)
		return st
	}
	return fromContainer(service, c)
}

func fromContainer(service string, c backend.Container) ObservedState {
	st := ObservedState{
		Service:       service,
		Exists:        true,
		ContainerID:   c.ID,
		ContainerName: c.Name,
		Image:         c.Image,
		Ports:         c.Ports,
		Labels:        c.Labels,
	}
	switch c.Status {
	case backend.StatusRunning:
		st.Status = StatusRunning
	case backend.StatusExited, backend.StatusCreated:
		st.Status = StatusExited
	default:
		st.Status = StatusUnknown
	}
	return st
}

// ObserveApp finds the containers of an app by label, for apps whose
// descriptor is not at hand.
func (i *Inspector) ObserveApp(ctx context.Context, appName string) (Snapshot, error) {
	containers, err := i.backend.ListContainers(ctx, backend.Filter{
		All:    true,
		Labels: map[string]string{backend.LabelApp: appName},
	})
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot, len(containers))
	for _, c := range containers {
		service := serviceOf(c)
		snap[service] = fromContainer(service, c)
	}
	return snap, nil
}

// ObserveManaged groups every container carrying the app label by app name.
func (i *Inspector) ObserveManaged(ctx context.Context) (map[string]Snapshot, error) {
	containers, err := i.backend.ListContainers(ctx, backend.Filter{
		All:    true,
		Labels: map[string]string{backend.LabelApp: ""},
	})
	if err != nil {
		return nil, err
	}

	apps := make(map[string]Snapshot)
	for _, c := range containers {
		app := c.Labels[backend.LabelApp]
		if apps[app] == nil {
			apps[app] = make(Snapshot)
		}
		service := serviceOf(c)
		apps[app][service] = fromContainer(service, c)
	}
	return apps, nil
}

// serviceOf reads the service label, falling back to the container name.
func serviceOf(c backend.Container) string {
	if s := c.Labels[backend.LabelService]; s != "" {
		return s
	}
	name := strings.TrimSuffix(c.Name, "_1")
	if _, after, ok := strings.Cut(name, "_"); ok {
		return after
	}
	return name
}
