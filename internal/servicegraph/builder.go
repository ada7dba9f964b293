package servicegraph

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"devstack/internal/config"
	"devstack/internal/dependency"
	"devstack/internal/descriptor"
	"devstack/pkg/logging"
)

// Policy controls how list-valued options combine with kind defaults.
type Policy struct {
	Ports   config.MergeMode
	Volumes config.MergeMode
	Images  map[string]string // Kind -> repository override
}

// DefaultPolicy appends explicit ports and volumes to the defaults.
func DefaultPolicy() Policy {
	return Policy{Ports: config.MergeAppend, Volumes: config.MergeAppend}
}

// PolicyFromConfig reads the merge policy from the devstack configuration.
func PolicyFromConfig(cfg config.DevstackConfig) Policy {
	p := DefaultPolicy()
	if cfg.Merge.Ports != "" {
		p.Ports = cfg.Merge.Ports
	}
	if cfg.Merge.Volumes != "" {
		p.Volumes = cfg.Merge.Volumes
	}
	p.Images = maps.Clone(cfg.Images)
	return p
}

const (
	optImage       = "image"
	optCommand     = "command"
	optEnvironment = "environment"
	optPorts       = "ports"
	optVolumes     = "volumes"
	optPortforward = "portforward"
	optDependsOn   = "depends_on"
	optBackend     = "backend"
	optDatabase    = "database"
	optCache       = "cache"
)

var knownOptions = []string{
	optImage, optCommand, optEnvironment, optPorts, optVolumes,
	optPortforward, optDependsOn, optBackend, optDatabase, optCache,
}

// Implicit dependency options read per role.
var conventionOptions = map[Role][]string{
	RoleWebserver: {optBackend},
	RoleAppserver: {optDatabase, optCache},
}

// Build resolves every declared service into a ServiceSpec and validates the
// dependency graph. The same descriptor always yields the same graph.
func Build(desc *descriptor.AppDescriptor, policy Policy) (*ServiceGraph, error) {
	project := ProjectName(desc.Name)
	g := &ServiceGraph{
		AppName:  desc.Name,
		Project:  project,
		RootPath: desc.RootPath,
		Order:    append([]string(nil), desc.Order...),
		Specs:    make(map[string]ServiceSpec, len(desc.Order)),
		deps:     dependency.New(),
	}

	for _, name := range desc.Order {
		spec, err := buildSpec(desc.Name, project, desc.RootPath, name, desc.Services[name], policy)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		g.Specs[name] = spec
	}

	for _, name := range desc.Order {
		spec := g.Specs[name]
		deps := make([]dependency.NodeID, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			deps = append(deps, dependency.NodeID(dep))
		}
		g.deps.AddNode(dependency.Node{
			ID:           dependency.NodeID(name),
			FriendlyName: name,
			Kind:         string(spec.Kind),
			DependsOn:    deps,
		})
	}

	if missing := g.deps.MissingDependencies(); len(missing) > 0 {
		for _, name := range desc.Order {
			if deps := missing[dependency.NodeID(name)]; len(deps) > 0 {
				return nil, fmt.Errorf("%w: service %q depends on %q, which is not declared", ErrUnknownDependency, name, deps[0])
			}
		}
	}

	if cycle := g.deps.FindCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: toStrings(cycle)}
	}

	logging.Debug("ServiceGraph", "Built graph for %s with %d services: %s", desc.Name, len(g.Order), strings.Join(g.StartOrder(), ", "))
	return g, nil
}

func buildSpec(appName, project, rootPath, name string, decl descriptor.ServiceDecl, policy Policy) (ServiceSpec, error) {
	opts := decl.Options
	imageOverride, err := optionString(opts, optImage)
	if err != nil {
		return ServiceSpec{}, err
	}

	kind, version, err := ParseType(decl.Type, imageOverride != "")
	if err != nil {
		return ServiceSpec{}, err
	}
	defaults := kindTable[kind]

	spec := ServiceSpec{
		Name:         name,
		Kind:         kind,
		Version:      version,
		Role:         defaults.Role,
		Image:        defaults.ImageRef(version, policy.Images[string(kind)]),
		Command:      slices.Clone(defaults.Command),
		InternalPort: defaults.InternalPort,
		HTTP:         defaults.HTTP,
	}
	if imageOverride != "" {
		spec.Image = imageOverride
	}

	if raw, ok := opts[optCommand]; ok {
		if spec.Command, err = parseCommand(raw); err != nil {
			return ServiceSpec{}, err
		}
	}

	if spec.Env, err = buildEnv(defaults, opts); err != nil {
		return ServiceSpec{}, err
	}
	spec.Env["DEVSTACK_APP"] = appName
	spec.Env["DEVSTACK_SERVICE"] = name

	if spec.Ports, err = buildPorts(defaults, opts, policy.Ports); err != nil {
		return ServiceSpec{}, err
	}
	if spec.Volumes, err = buildVolumes(project, rootPath, name, defaults, opts, policy.Volumes); err != nil {
		return ServiceSpec{}, err
	}
	if spec.DependsOn, err = buildDependsOn(defaults.Role, opts); err != nil {
		return ServiceSpec{}, err
	}

	for key := range opts {
		if !slices.Contains(knownOptions, key) {
			logging.Debug("ServiceGraph", "Ignoring unknown option %q on service %s", key, name)
		}
	}
	return spec, nil
}

func buildEnv(defaults KindDefaults, opts map[string]any) (map[string]string, error) {
	env := maps.Clone(defaults.Env)
	if env == nil {
		env = make(map[string]string)
	}

	raw, ok := opts[optEnvironment]
	if !ok || raw == nil {
		return env, nil
	}

	switch v := raw.(type) {
	case map[string]any:
		for key, value := range v {
			if value == nil {
				env[key] = ""
			} else {
				env[key] = fmt.Sprint(value)
			}
		}
	case []any:
		for _, item := range v {
			entry, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: environment entries must be KEY=VALUE strings", ErrInvalidOption)
			}
			key, value, _ := strings.Cut(entry, "=")
			if key == "" {
				return nil, fmt.Errorf("%w: environment entry %q has no key", ErrInvalidOption, entry)
			}
			env[key] = value
		}
	default:
		return nil, fmt.Errorf("%w: environment must be a mapping or a list", ErrInvalidOption)
	}
	return env, nil
}

// buildPorts starts from the kind defaults (unless replaced), then applies
// portforward and finally the explicit ports. A later entry replaces an earlier
// one publishing the same container port.
func buildPorts(defaults KindDefaults, opts map[string]any, mode config.MergeMode) ([]PortMapping, error) {
	explicit, err := optionStrings(opts, optPorts)
	if err != nil {
		return nil, err
	}

	var ports []PortMapping
	if _, replaced := opts[optPorts]; !(replaced && mode == config.MergeReplace) {
		for _, s := range defaults.Ports {
			p, err := ParsePort(s)
			if err != nil {
				return nil, err
			}
			ports = upsertPort(ports, p)
		}
	}

	switch v := opts[optPortforward].(type) {
	case nil:
	case bool:
		if v {
			ports = upsertPort(ports, PortMapping{ContainerPort: defaults.InternalPort, Protocol: "tcp"})
		}
	case int:
		if v < 1 || v > 65535 {
			return nil, fmt.Errorf("%w: portforward %d is not a port number", ErrInvalidOption, v)
		}
		ports = upsertPort(ports, PortMapping{HostPort: v, ContainerPort: defaults.InternalPort, Protocol: "tcp"})
	default:
		return nil, fmt.Errorf("%w: portforward must be true or a host port", ErrInvalidOption)
	}

	for _, s := range explicit {
		p, err := ParsePort(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
		ports = upsertPort(ports, p)
	}
	return ports, nil
}

func upsertPort(ports []PortMapping, p PortMapping) []PortMapping {
	for i := range ports {
		if ports[i].key() == p.key() {
			ports[i] = p
			return ports
		}
	}
	return append(ports, p)
}

func buildVolumes(project, rootPath, name string, defaults KindDefaults, opts map[string]any, mode config.MergeMode) ([]VolumeMapping, error) {
	explicit, err := optionStrings(opts, optVolumes)
	if err != nil {
		return nil, err
	}

	var defaultEntries []string
	if defaults.Role == RoleAppserver && rootPath != "" {
		defaultEntries = append(defaultEntries, rootPath+":/app")
	}
	for _, v := range defaults.Volumes {
		defaultEntries = append(defaultEntries, strings.ReplaceAll(v, dataVolumePlaceholder, DataVolumeName(project, name)))
	}

	var volumes []VolumeMapping
	if _, replaced := opts[optVolumes]; !(replaced && mode == config.MergeReplace) {
		for _, s := range defaultEntries {
			v, err := ParseVolume(s)
			if err != nil {
				return nil, err
			}
			volumes = upsertVolume(volumes, v)
		}
	}

	for _, s := range explicit {
		v, err := ParseVolume(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
		if strings.HasPrefix(v.Source, ".") && rootPath != "" {
			v.Source = filepath.Join(rootPath, v.Source)
		}
		volumes = upsertVolume(volumes, v)
	}
	return volumes, nil
}

func upsertVolume(volumes []VolumeMapping, v VolumeMapping) []VolumeMapping {
	for i := range volumes {
		if volumes[i].Target == v.Target {
			volumes[i] = v
			return volumes
		}
	}
	return append(volumes, v)
}

func buildDependsOn(role Role, opts map[string]any) ([]string, error) {
	deps, err := optionStrings(opts, optDependsOn)
	if err != nil {
		return nil, err
	}

	for _, key := range conventionOptions[role] {
		dep, err := optionString(opts, key)
		if err != nil {
			return nil, err
		}
		if dep != "" {
			deps = append(deps, dep)
		}
	}

	for _, key := range []string{optBackend, optDatabase, optCache} {
		if _, ok := opts[key]; ok && !slices.Contains(conventionOptions[role], key) {
			logging.Debug("ServiceGraph", "Option %q has no meaning for %s services, ignoring", key, role)
		}
	}

	sort.Strings(deps)
	return slices.Compact(deps), nil
}

func parseCommand(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: command is empty", ErrInvalidOption)
		}
		return []string{"/bin/sh", "-c", v}, nil
	case []any:
		cmd := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				return nil, fmt.Errorf("%w: command contains an empty entry", ErrInvalidOption)
			}
			cmd = append(cmd, fmt.Sprint(item))
		}
		if len(cmd) == 0 {
			return nil, fmt.Errorf("%w: command is empty", ErrInvalidOption)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("%w: command must be a string or a list", ErrInvalidOption)
	}
}

func optionString(opts map[string]any, key string) (string, error) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidOption, key)
	}
	return strings.TrimSpace(s), nil
}

// optionStrings accepts a single scalar or a list of scalars.
func optionStrings(opts map[string]any, key string) ([]string, error) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		return []string{strings.TrimSpace(v)}, nil
	case int:
		return []string{fmt.Sprint(v)}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				out = append(out, strings.TrimSpace(s))
			case int:
				out = append(out, fmt.Sprint(s))
			default:
				return nil, fmt.Errorf("%w: %s entries must be strings", ErrInvalidOption, key)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a string or a list", ErrInvalidOption, key)
	}
}

// FromServices builds a graph without specs or dependencies, for apps known
// only by name whose descriptor is not at hand. Such a graph can be stopped or
// destroyed but not started.
func FromServices(appName, rootPath string, services []string) *ServiceGraph {
	g := &ServiceGraph{
		AppName:  appName,
		Project:  ProjectName(appName),
		RootPath: rootPath,
		Order:    append([]string(nil), services...),
		Specs:    make(map[string]ServiceSpec, len(services)),
		deps:     dependency.New(),
	}
	for _, name := range services {
		g.deps.AddNode(dependency.Node{ID: dependency.NodeID(name), FriendlyName: name})
	}
	return g
}

// WithExtraServices returns a copy of g that also holds the given services
// without specs or dependencies, for containers of services the descriptor no
// longer declares. The edges of g are kept. Services g already has are
// ignored.
func (g *ServiceGraph) WithExtraServices(services ...string) *ServiceGraph {
	out := &ServiceGraph{
		AppName:  g.AppName,
		Project:  g.Project,
		RootPath: g.RootPath,
		Order:    g.Services(),
		Specs:    maps.Clone(g.Specs),
		deps:     dependency.New(),
	}
	for _, id := range g.deps.IDs() {
		out.deps.AddNode(*g.deps.Get(id))
	}
	for _, name := range services {
		if out.deps.Get(dependency.NodeID(name)) != nil {
			continue
		}
		out.Order = append(out.Order, name)
		out.deps.AddNode(dependency.Node{ID: dependency.NodeID(name), FriendlyName: name})
	}
	return out
}
