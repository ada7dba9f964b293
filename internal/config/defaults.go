package config

import (
	"time"
)

const (
	defaultRuntime       = "docker"
	defaultLogLevel      = "info"
	defaultMaxRetries    = 2
	defaultRetryDelay    = 500 * time.Millisecond
	defaultActionTimeout = 2 * time.Minute
	defaultMaxParallel   = 4
)

// GetDefaultConfig returns the built-in configuration. StateDir is left empty
// and resolved against the user's home directory by LoadConfig.
func GetDefaultConfig() DevstackConfig {
	retries := defaultMaxRetries
	return DevstackConfig{
		Runtime:  defaultRuntime,
		LogLevel: defaultLogLevel,
		Reconcile: ReconcileSettings{
			MaxRetries:    &retries,
			RetryDelay:    defaultRetryDelay,
			ActionTimeout: defaultActionTimeout,
			MaxParallel:   defaultMaxParallel,
		},
		Merge: MergeSettings{
			Ports:   MergeAppend,
			Volumes: MergeAppend,
		},
		Images: map[string]string{},
	}
}
