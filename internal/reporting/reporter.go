// Package reporting carries service state transitions from the reconciler to
// whoever renders them.
package reporting

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServiceUpdate is one state transition of one service during an operation.
type ServiceUpdate struct {
	// Timestamp of when the transition happened.
	Timestamp time.Time
	// CorrelationID ties together every update of one command invocation.
	CorrelationID string

	App     string
	Service string
	Op      string // Lifecycle operation, e.g. "start"
	State   string // New state, e.g. "Starting"

	// Action names the backend call that led here, if any.
	Action  string
	Attempt int
	Err     error
}

// String provides a simple representation for debugging.
func (u ServiceUpdate) String() string {
	return fmt.Sprintf("Update(%s %s/%s %s -> %s, action=%s, attempt=%d, err=%v, id=%s)",
		u.Timestamp.Format(time.RFC3339), u.App, u.Service, u.Op, u.State, u.Action, u.Attempt, u.Err, u.CorrelationID)
}

// ServiceReporter receives updates. Implementations must be safe for
// concurrent use.
type ServiceReporter interface {
	Report(update ServiceUpdate)
}

// GenerateCorrelationID returns a new random correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// NopReporter discards every update.
type NopReporter struct{}

func (NopReporter) Report(ServiceUpdate) {}

// MultiReporter fans updates out to several reporters.
type MultiReporter []ServiceReporter

func (m MultiReporter) Report(update ServiceUpdate) {
	for _, r := range m {
		if r != nil {
			r.Report(update)
		}
	}
}

// Recorder keeps every update in memory.
type Recorder struct {
	mu      sync.Mutex
	updates []ServiceUpdate
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Report(update ServiceUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

// Updates returns the recorded updates in arrival order.
func (r *Recorder) Updates() []ServiceUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ServiceUpdate(nil), r.updates...)
}

// States returns the sequence of states reported for service.
func (r *Recorder) States(service string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []string
	for _, u := range r.updates {
		if u.Service == service {
			states = append(states, u.State)
		}
	}
	return states
}
