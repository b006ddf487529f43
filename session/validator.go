package session

import (
	"fmt"
)

// ValidateContext is the gatekeeper in front of manager construction. It
// accepts any value so that call sites holding a look-alike context type
// still compile and get rejected at runtime with a ContextTypeError instead
// of silently fragmenting state across incompatible context classes.
//
// Validation order: type identity, then completeness, then value checks.
// Pure; never mutates the context.
func ValidateContext(v any) error {
	if v == nil {
		return &ContextTypeError{GotType: "<nil>"}
	}

	uctx, ok := v.(*UserExecutionContext)
	if !ok {
		return &ContextTypeError{GotType: fmt.Sprintf("%T", v)}
	}
	if uctx == nil {
		return &ContextIncompleteError{Field: "context"}
	}

	required := []struct {
		name  string
		value string
	}{
		{"user_id", uctx.UserID},
		{"thread_id", uctx.ThreadID},
		{"run_id", uctx.RunID},
	}
	for _, f := range required {
		if f.value == "" {
			return &ContextValueError{Field: f.name, Reason: "must not be empty"}
		}
	}

	// websocket_client_id may be absent, but never empty once set.
	if uctx.WebSocketClientID != nil && *uctx.WebSocketClientID == "" {
		return &ContextValueError{Field: "websocket_client_id", Reason: "must not be empty when present"}
	}

	return nil
}
