package session

import "time"

// Observer receives lifecycle notifications for monitoring. The telemetry
// package provides the production implementation; a nil observer disables
// instrumentation entirely.
type Observer interface {
	ManagerCreated(userID string)
	ManagerCleaned(userID string)
	ConnectionAdded(userID string)
	ConnectionRemoved(userID string)
	EventEmitted(eventType string, delivered, failed int, elapsed time.Duration)
}
