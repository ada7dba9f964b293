package config

import (
	"time"
)

// DevstackConfig is the top-level configuration structure for devstack.
// It controls how the orchestrator talks to the container runtime and how
// descriptors are resolved; it never describes an app (that is the job of
// the .devstack.yml descriptor).
type DevstackConfig struct {
	Runtime         string            `yaml:"runtime,omitempty" validate:"omitempty,oneof=docker podman"` // Container CLI driving the backend
	StateDir        string            `yaml:"stateDir,omitempty"`                                          // Registry database and lock files
	LogLevel        string            `yaml:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn warning error"`
	Reconcile       ReconcileSettings `yaml:"reconcile,omitempty"`
	Merge           MergeSettings     `yaml:"merge,omitempty"`
	Images          map[string]string `yaml:"images,omitempty"`          // Service kind -> image repository override, e.g. node: "myregistry/node"
	MetricsTextfile string            `yaml:"metricsTextfile,omitempty"` // Optional Prometheus textfile written after every command
}

// ReconcileSettings tunes how backend actions are executed.
type ReconcileSettings struct {
	MaxRetries    *int          `yaml:"maxRetries,omitempty" validate:"omitempty,min=0,max=10"` // Retries per action on transient errors
	RetryDelay    time.Duration `yaml:"retryDelay,omitempty" validate:"min=0"`
	ActionTimeout time.Duration `yaml:"actionTimeout,omitempty" validate:"min=0"` // Bound for a single backend call
	MaxParallel   int           `yaml:"maxParallel,omitempty" validate:"min=0,max=64"`
}

// MergeMode selects how list-valued service options combine with the
// defaults of a service kind.
type MergeMode string

const (
	MergeAppend  MergeMode = "append"
	MergeReplace MergeMode = "replace"
)

// MergeSettings holds the option merge policy for list-valued options.
type MergeSettings struct {
	Ports   MergeMode `yaml:"ports,omitempty" validate:"omitempty,oneof=append replace"`
	Volumes MergeMode `yaml:"volumes,omitempty" validate:"omitempty,oneof=append replace"`
}

// Retries returns the configured retry bound, falling back to the default.
func (r ReconcileSettings) Retries() int {
	if r.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *r.MaxRetries
}
