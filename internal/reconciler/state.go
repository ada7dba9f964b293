package reconciler

import (
	"errors"
	"fmt"
	"sort"
)

// Op is a lifecycle operation.
type Op string

const (
	OpStart    Op = "start"
	OpStop     Op = "stop"
	OpRestart  Op = "restart"
	OpRebuild  Op = "rebuild"
	OpDestroy  Op = "destroy"
	OpPoweroff Op = "poweroff"
)

// State is the per-service state during an operation.
type State string

const (
	StatePlanned  State = "Planned"
	StateCreating State = "Creating"
	StateStarting State = "Starting"
	StateRunning  State = "Running"
	StateStopping State = "Stopping"
	StateStopped  State = "Stopped"
	StateRemoving State = "Removing"
	StateRemoved  State = "Removed"
	StateFailed   State = "Failed"
)

// Terminal reports whether s ends a service's part in an operation.
func (s State) Terminal() bool {
	switch s {
	case StateRunning, StateStopped, StateRemoved, StateFailed:
		return true
	}
	return false
}

var (
	// ErrDependencyFailed marks a service not started because a dependency
	// did not reach Running.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrDependentFailed marks a service left alone because a service
	// depending on it could not be stopped or removed.
	ErrDependentFailed = errors.New("dependent service could not be stopped")
	// ErrAborted marks a service whose action was never issued because the
	// operation was cancelled.
	ErrAborted = errors.New("operation aborted")
	// ErrNoSpec is returned when starting a service known only by name.
	ErrNoSpec = errors.New("service has no spec")
	// ErrUnknownOp is returned for an operation the reconciler does not know.
	ErrUnknownOp = errors.New("unknown operation")
)

// ServiceError is the failure of one backend action on one service.
type ServiceError struct {
	Service string
	Action  string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Result summarizes an operation.
type Result struct {
	App       string
	Op        Op
	Succeeded []string         // Declaration order
	Failed    map[string]error // Reason per failed service
	States    map[string]State // Final state per service
	Mutations int              // Backend mutation calls issued, retries included
	Retries   int              // Backend calls repeated after a transient failure
}

// OK reports whether every service succeeded.
func (r Result) OK() bool {
	return len(r.Failed) == 0
}

// FailedServices returns the failed service names, sorted.
func (r Result) FailedServices() []string {
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Err joins the failures into one error, or returns nil.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, name := range r.FailedServices() {
		err := r.Failed[name]
		var se *ServiceError
		if !errors.As(err, &se) {
			err = &ServiceError{Service: name, Action: string(r.Op), Err: err}
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("%s failed for %d service(s): %w", r.Op, len(r.Failed), errors.Join(errs...))
}
