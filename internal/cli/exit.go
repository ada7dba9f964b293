package cli

import (
	"errors"

	"devstack/internal/config"
	"devstack/internal/descriptor"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1 // A service failed, or the runtime or registry did
	ExitConfig = 2 // Descriptor, config or usage error; the backend was not contacted
)

// ErrUsage marks invalid command line input.
var ErrUsage = errors.New("usage error")

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, descriptor.ErrConfig),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, ErrUsage):
		return ExitConfig
	default:
		return ExitFailed
	}
}
