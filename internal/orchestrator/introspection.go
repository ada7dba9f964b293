package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"devstack/internal/backend"
	"devstack/internal/inspector"
	"devstack/internal/servicegraph"
)

// Connection is a host and port a client can reach a service on.
type Connection struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// ServiceInfo describes one service for the info command.
type ServiceInfo struct {
	Type               string      `json:"type" yaml:"type"`
	Version            string      `json:"version" yaml:"version"`
	Image              string      `json:"image" yaml:"image"`
	Status             string      `json:"status" yaml:"status"`
	Container          string      `json:"container" yaml:"container"`
	InternalConnection Connection  `json:"internal_connection" yaml:"internal_connection"`
	ExternalConnection *Connection `json:"external_connection" yaml:"external_connection"`
	URLs               []string    `json:"urls" yaml:"urls"`
}

// AppSummary describes one app for the list command.
type AppSummary struct {
	Name     string   `json:"name" yaml:"name"`
	Location string   `json:"location" yaml:"location"`
	Services []string `json:"services" yaml:"services"`
}

const localHost = "127.0.0.1"

// Info describes every service of the app at rootPath, keyed by service name.
// Services that do not exist yet are reported with status "missing".
func (o *Orchestrator) Info(ctx context.Context, rootPath string) (map[string]ServiceInfo, error) {
	g, err := o.LoadApp(rootPath)
	if err != nil {
		return nil, err
	}
	snap := o.inspector.ObserveGraph(ctx, g)

	info := make(map[string]ServiceInfo, len(g.Order))
	for _, name := range g.Order {
		info[name] = describe(g, g.Specs[name], snap[name])
	}
	return info, nil
}

func describe(g *servicegraph.ServiceGraph, spec servicegraph.ServiceSpec, st inspector.ObservedState) ServiceInfo {
	si := ServiceInfo{
		Type:      string(spec.Kind),
		Version:   spec.Version,
		Image:     spec.Image,
		Status:    strings.ToLower(string(st.Status)),
		Container: g.ContainerName(spec.Name),
		InternalConnection: Connection{
			Host: spec.Name,
			Port: spec.InternalPort,
		},
		URLs: []string{},
	}
	if st.Image != "" {
		si.Image = st.Image
	}
	if st.Status != inspector.StatusRunning {
		return si
	}

	published := publishedPorts(st.Ports)
	if len(published) == 0 {
		return si
	}
	external := published[0]
	for _, p := range published {
		if p.ContainerPort == spec.InternalPort {
			external = p
			break
		}
	}
	si.ExternalConnection = &Connection{Host: hostOf(external), Port: external.HostPort}

	if spec.HTTP {
		for _, p := range published {
			if p.Protocol == "" || p.Protocol == "tcp" {
				si.URLs = append(si.URLs, fmt.Sprintf("http://localhost:%d", p.HostPort))
			}
		}
	}
	return si
}

func publishedPorts(ports []backend.PortBinding) []backend.PortBinding {
	var out []backend.PortBinding
	for _, p := range ports {
		if p.HostPort != 0 {
			out = append(out, p)
		}
	}
	return out
}

func hostOf(p backend.PortBinding) string {
	if p.HostIP == "" || p.HostIP == "0.0.0.0" || p.HostIP == "::" {
		return localHost
	}
	return p.HostIP
}

// List returns every registered app plus every app that only left labelled
// containers behind, ordered by name.
func (o *Orchestrator) List(ctx context.Context) ([]AppSummary, error) {
	records, err := o.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	managed, err := o.inspector.ObserveManaged(ctx)
	if err != nil {
		return nil, err
	}

	apps := make([]AppSummary, 0, len(records)+len(managed))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[rec.Name] = true
		services := append([]string{}, rec.Services...)
		apps = append(apps, AppSummary{Name: rec.Name, Location: rec.RootPath, Services: services})
	}
	for app, snap := range managed {
		if seen[app] {
			continue
		}
		apps = append(apps, AppSummary{Name: app, Location: rootOf(snap), Services: snap.Services()})
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps, nil
}
