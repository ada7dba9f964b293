package app

import (
	"io"
	"os"

	"devstack/internal/backend"
	"devstack/internal/config"
)

// Config holds the application configuration taken from the command line
type Config struct {
	// LogLevel overrides the configured level when set
	LogLevel string

	// Debug is a shortcut for LogLevel "debug"
	Debug bool

	// Stderr receives diagnostics; defaults to os.Stderr
	Stderr io.Writer

	// Devstack configuration, loaded by NewApplication
	DevstackConfig *config.DevstackConfig

	// Backend replaces the container CLI backend, for tests
	Backend backend.Backend
}

// NewConfig creates a new application configuration
func NewConfig(logLevel string, debug bool) *Config {
	return &Config{
		LogLevel: logLevel,
		Debug:    debug,
		Stderr:   os.Stderr,
	}
}
