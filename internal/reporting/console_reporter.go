package reporting

import (
	"fmt"
	"time"

	"devstack/pkg/logging"
)

// ConsoleReporter logs updates through pkg/logging, so they reach stderr and
// never mix with command output.
type ConsoleReporter struct{}

// NewConsoleReporter creates a new ConsoleReporter.
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{}
}

// Report logs the update at a level matching its state.
func (c *ConsoleReporter) Report(update ServiceUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}

	subsystem := "Service"
	if update.Service != "" {
		subsystem = "Service-" + update.Service
	}

	logMessage := "State: " + update.State
	if update.Action != "" {
		logMessage += ", Action: " + update.Action
	}
	if update.Attempt > 1 {
		logMessage += fmt.Sprintf(", Attempt: %d", update.Attempt)
	}
	if update.CorrelationID != "" {
		logMessage += ", CorrelationID: " + update.CorrelationID
	}

	switch update.State {
	case "Failed":
		logging.Error(subsystem, update.Err, "%s", logMessage)
	case "Running", "Stopped", "Removed":
		logging.Info(subsystem, "%s", logMessage)
	default:
		if update.Err != nil {
			logging.Warn(subsystem, "%s: %v", logMessage, update.Err)
			return
		}
		logging.Debug(subsystem, "%s", logMessage)
	}
}
