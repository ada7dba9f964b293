// Package config provides configuration management for devstack.
//
// This package implements a layered configuration system that allows users to
// customize how devstack drives the container runtime. Configuration is loaded
// from multiple sources and merged in a specific order, with later sources
// overriding earlier ones.
//
// # Configuration Layers
//
// Configuration is loaded and merged in the following order:
//
//  1. Default Configuration (embedded in binary)
//     - docker runtime, 2 retries per action, 4 parallel actions
//
//  2. User Configuration (~/.config/devstack/config.yaml)
//     - User-specific settings that apply to all apps
//
//  3. Project Configuration (./.devstack/config.yaml)
//     - Settings for the app in the current directory
//
// # Configuration Structure
//
//	runtime: podman
//	stateDir: ~/.local/share/devstack
//	logLevel: debug
//	reconcile:
//	  maxRetries: 2
//	  retryDelay: 500ms
//	  actionTimeout: 2m
//	  maxParallel: 4
//	merge:
//	  ports: append     # or "replace"
//	  volumes: append   # or "replace"
//	images:
//	  node: registry.example.com/library/node
//	metricsTextfile: /var/lib/node_exporter/devstack.prom
//
// # Merge Policy
//
// The merge section decides how the ports and volumes options of a service
// combine with the defaults of its kind. With "append" the defaults are kept
// and explicit entries win on the same container port or mount target. With
// "replace" any explicit list discards the defaults entirely.
//
// The app itself (its name and services) is never part of this configuration;
// see package descriptor.
package config
