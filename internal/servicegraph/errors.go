package servicegraph

import (
	"fmt"
	"strings"

	"devstack/internal/descriptor"
)

var (
	// ErrUnknownServiceType is returned for an unknown kind or unsupported version.
	ErrUnknownServiceType = fmt.Errorf("%w: unknown service type", descriptor.ErrConfig)

	// ErrUnknownDependency is returned when a service depends on a service that
	// is not declared.
	ErrUnknownDependency = fmt.Errorf("%w: unknown dependency", descriptor.ErrConfig)

	// ErrInvalidOption is returned when a known option has a malformed value.
	ErrInvalidOption = fmt.Errorf("%w: invalid service option", descriptor.ErrConfig)
)

// CyclicDependencyError reports a dependency cycle. Cycle starts and ends with
// the same service.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Unwrap() error {
	return descriptor.ErrConfig
}
