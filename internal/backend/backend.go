// Package backend defines the capability set the orchestrator needs from a
// container runtime. Any runtime implementing Backend can host apps.
package backend

import (
	"context"
	"io"
	"time"
)

// Labels set on every managed container.
const (
	LabelApp     = "io.devstack.app"
	LabelService = "io.devstack.service"
	LabelProject = "io.devstack.project"
	LabelRoot    = "io.devstack.root"
)

// Status is the runtime status of a container.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusCreated Status = "created"
	StatusUnknown Status = "unknown"
)

// PullPolicy controls image pulls on create.
type PullPolicy string

const (
	PullIfMissing PullPolicy = "missing"
	PullAlways    PullPolicy = "always"
)

// PortBinding publishes ContainerPort on HostPort. HostPort 0 lets the runtime
// choose.
type PortBinding struct {
	HostIP        string
	HostPort      int
	ContainerPort int
	Protocol      string
}

// Mount attaches a host path or named volume.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec is everything needed to create a container.
type ContainerSpec struct {
	Name         string
	Image        string
	Command      []string
	Env          map[string]string
	Ports        []PortBinding
	Mounts       []Mount
	Labels       map[string]string
	Network      string
	NetworkAlias string
	Pull         PullPolicy
}

// Container describes an existing container.
type Container struct {
	ID      string
	Name    string
	Image   string
	Status  Status
	Labels  map[string]string
	Ports   []PortBinding // Published ports, with the host port the runtime chose
	Created time.Time
}

// Filter selects containers. Empty fields match everything. Every label must
// be present and, unless its value is empty, equal.
type Filter struct {
	Names  []string
	Labels map[string]string
	All    bool // Include stopped containers
}

// LogOptions tunes a log stream.
type LogOptions struct {
	Follow     bool
	Timestamps bool
	Tail       int // 0 means everything
}

// Backend is the container runtime boundary. Container identifiers accepted by
// the mutating calls may be IDs or names.
type Backend interface {
	ListContainers(ctx context.Context, filter Filter) ([]Container, error)
	InspectContainer(ctx context.Context, id string) (Container, error)
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	StreamLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error)
}

// Pruner is implemented by backends that can clean up app-level resources
// (network, data volumes) after every container of a project is gone.
type Pruner interface {
	PruneApp(ctx context.Context, project string) error
}
