package session

import (
	"time"
)

// Agent lifecycle event types. These are the "never drop" set: delivery is
// always attempted to every live connection, even degraded ones.
const (
	EventAgentStarted   = "agent_started"
	EventAgentThinking  = "agent_thinking"
	EventToolExecuting  = "tool_executing"
	EventToolCompleted  = "tool_completed"
	EventAgentCompleted = "agent_completed"
)

var criticalEvents = map[string]struct{}{
	EventAgentStarted:   {},
	EventAgentThinking:  {},
	EventToolExecuting:  {},
	EventToolCompleted:  {},
	EventAgentCompleted: {},
}

// IsCriticalEvent reports whether an event type belongs to the agent
// lifecycle set that must always be attempted for delivery.
func IsCriticalEvent(eventType string) bool {
	_, ok := criticalEvents[eventType]
	return ok
}

// EventMessage is the outbound envelope written to each connection. The
// payload is opaque to this package; only the message type matters for
// ordering and drop decisions.
type EventMessage struct {
	MessageType string    `json:"message_type"`
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data,omitempty"`
}

// DeliveryFailure records one connection that could not be reached during a
// broadcast.
type DeliveryFailure struct {
	ConnectionID string `json:"connection_id"`
	Error        string `json:"error"`
}

// EmitReport is the per-call result of EmitEvent. Partial delivery failures
// are reported here, never raised: one dead connection must not abort
// delivery to the rest.
type EmitReport struct {
	EventType string            `json:"event_type"`
	Attempted int               `json:"attempted"`
	Delivered int               `json:"delivered"`
	Skipped   []string          `json:"skipped,omitempty"`
	Failures  []DeliveryFailure `json:"failures,omitempty"`
}
