// Package metrics counts backend actions and command outcomes. A command can
// export them as a Prometheus textfile for node_exporter style collection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "devstack"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder owns a private registry so that concurrent recorders never share
// state. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	actions         *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	serviceOutcomes *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
}

// New creates a recorder with all collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		// Labels: action (create, start, stop, remove), outcome (success, error)
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "actions_total",
			Help:      "Backend actions issued, by action and outcome",
		}, []string{"action", "outcome"}),

		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "action_duration_seconds",
			Help:      "Latency of single backend actions",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"action"}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "retries_total",
			Help:      "Retries of backend actions after transient errors",
		}, []string{"action"}),

		// Labels: op (start, stop, ...), state (Running, Stopped, Removed, Failed)
		serviceOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "service_outcomes_total",
			Help:      "Final per-service states of lifecycle operations",
		}, []string{"op", "state"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cli",
			Name:      "command_duration_seconds",
			Help:      "Duration of CLI commands by exit code",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"command", "exit_code"}),
	}
}

// ObserveAction records one backend action attempt.
func (r *Recorder) ObserveAction(action string, d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	r.actions.WithLabelValues(action, outcome).Inc()
	r.actionDuration.WithLabelValues(action).Observe(d.Seconds())
}

// IncRetry records a retry of action.
func (r *Recorder) IncRetry(action string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(action).Inc()
}

// ObserveServiceOutcome records the final state of a service after op.
func (r *Recorder) ObserveServiceOutcome(op, state string) {
	if r == nil {
		return
	}
	r.serviceOutcomes.WithLabelValues(op, state).Inc()
}

// ObserveCommand records a finished CLI command.
func (r *Recorder) ObserveCommand(command string, d time.Duration, exitCode int) {
	if r == nil {
		return
	}
	r.commandDuration.WithLabelValues(command, exitCodeLabel(exitCode)).Observe(d.Seconds())
}

func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "other"
	}
}

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// WriteTextfile atomically writes the metrics in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Gatherer())
}
