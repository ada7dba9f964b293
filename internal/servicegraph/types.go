package servicegraph

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"devstack/internal/dependency"
)

// PortMapping publishes a container port. HostPort 0 asks the runtime for a
// random free port.
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string
}

// ParsePort parses "[host:]container[/proto]".
func ParsePort(s string) (PortMapping, error) {
	spec, proto, hasProto := strings.Cut(strings.TrimSpace(s), "/")
	if !hasProto || proto == "" {
		proto = "tcp"
	}
	proto = strings.ToLower(proto)
	if proto != "tcp" && proto != "udp" {
		return PortMapping{}, fmt.Errorf("port %q: protocol must be tcp or udp", s)
	}

	var hostPart, containerPart string
	if i := strings.LastIndex(spec, ":"); i >= 0 {
		hostPart, containerPart = spec[:i], spec[i+1:]
	} else {
		containerPart = spec
	}

	containerPort, err := parsePortNumber(containerPart)
	if err != nil {
		return PortMapping{}, fmt.Errorf("port %q: %w", s, err)
	}
	p := PortMapping{ContainerPort: containerPort, Protocol: proto}
	if hostPart != "" {
		if p.HostPort, err = parsePortNumber(hostPart); err != nil {
			return PortMapping{}, fmt.Errorf("port %q: %w", s, err)
		}
	}
	return p, nil
}

func parsePortNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%q is not a port number", s)
	}
	return n, nil
}

// String renders the mapping in the form accepted by ParsePort.
func (p PortMapping) String() string {
	s := strconv.Itoa(p.ContainerPort)
	if p.HostPort != 0 {
		s = strconv.Itoa(p.HostPort) + ":" + s
	}
	if p.Protocol != "" && p.Protocol != "tcp" {
		s += "/" + p.Protocol
	}
	return s
}

func (p PortMapping) key() string {
	return strconv.Itoa(p.ContainerPort) + "/" + p.Protocol
}

// VolumeMapping mounts Source at Target. A Source without a path separator is a
// named volume.
type VolumeMapping struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ParseVolume parses "source:target[:ro|rw]".
func ParseVolume(s string) (VolumeMapping, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return VolumeMapping{}, fmt.Errorf("volume %q: expected source:target[:ro]", s)
	}
	v := VolumeMapping{Source: parts[0], Target: parts[1]}
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			v.ReadOnly = true
		case "rw":
		default:
			return VolumeMapping{}, fmt.Errorf("volume %q: unknown mode %q", s, parts[2])
		}
	}
	if !strings.HasPrefix(v.Target, "/") {
		return VolumeMapping{}, fmt.Errorf("volume %q: target must be an absolute path", s)
	}
	return v, nil
}

// Named reports whether the source is a named volume rather than a host path.
func (v VolumeMapping) Named() bool {
	return !strings.ContainsAny(v.Source, `/\`) && !strings.HasPrefix(v.Source, ".") && !strings.HasPrefix(v.Source, "~")
}

func (v VolumeMapping) String() string {
	s := v.Source + ":" + v.Target
	if v.ReadOnly {
		s += ":ro"
	}
	return s
}

// ServiceSpec is the runnable form of a declared service.
type ServiceSpec struct {
	Name         string
	Kind         ServiceKind
	Version      string
	Role         Role
	Image        string
	Command      []string
	Env          map[string]string
	Ports        []PortMapping
	Volumes      []VolumeMapping
	DependsOn    []string // Sorted, deduplicated
	InternalPort int
	HTTP         bool
}

// Type renders the resolved "kind:version".
func (s ServiceSpec) Type() string {
	return string(s.Kind) + ":" + s.Version
}

// ServiceGraph holds the specs of one app. It is built per invocation and is
// read-only after Build returns.
type ServiceGraph struct {
	AppName  string
	Project  string
	RootPath string
	Order    []string // Declaration order
	Specs    map[string]ServiceSpec

	deps *dependency.Graph
}

// Services returns the service names in declaration order.
func (g *ServiceGraph) Services() []string {
	return append([]string(nil), g.Order...)
}

// Spec returns the spec of service.
func (g *ServiceGraph) Spec(service string) (ServiceSpec, bool) {
	s, ok := g.Specs[service]
	return s, ok
}

// StartOrder lists services with dependencies first, ties in declaration order.
func (g *ServiceGraph) StartOrder() []string {
	// Cycles are rejected by Build, so the error cannot occur.
	order, _ := g.deps.TopologicalOrder()
	return toStrings(order)
}

// StopOrder is the reverse of StartOrder.
func (g *ServiceGraph) StopOrder() []string {
	order, _ := g.deps.ReverseTopologicalOrder()
	return toStrings(order)
}

// Dependencies returns the direct dependencies of service.
func (g *ServiceGraph) Dependencies(service string) []string {
	return toStrings(g.deps.Dependencies(dependency.NodeID(service)))
}

// Dependents returns the services that directly depend on service, in
// declaration order.
func (g *ServiceGraph) Dependents(service string) []string {
	return toStrings(g.deps.Dependents(dependency.NodeID(service)))
}

// ContainerName returns the backend identifier of service.
func (g *ServiceGraph) ContainerName(service string) string {
	return ContainerName(g.Project, service)
}

// NetworkName returns the name of the app network.
func (g *ServiceGraph) NetworkName() string {
	return NetworkName(g.Project)
}

func toStrings(ids []dependency.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

var nonProjectChars = regexp.MustCompile(`[^a-z0-9]`)

// ProjectName derives the container name prefix of an app: the name lower-cased
// with everything outside [a-z0-9] removed, so "lando-test" becomes "landotest".
func ProjectName(appName string) string {
	return nonProjectChars.ReplaceAllString(strings.ToLower(appName), "")
}

// ContainerName returns "<project>_<service>_1".
func ContainerName(project, service string) string {
	return project + "_" + service + "_1"
}

// NetworkName returns "<project>_default".
func NetworkName(project string) string {
	return project + "_default"
}

// DataVolumeName returns the named data volume of a database service.
func DataVolumeName(project, service string) string {
	return project + "_" + service + "_data"
}
