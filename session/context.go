package session

import (
	"fmt"
	"time"
)

// UserExecutionContext is the canonical identity bundle that scopes every
// manager, registry and connection in this package. It is produced once per
// logical unit of work (request or connection negotiation) by the caller and
// treated as read-only after it is handed to the factory.
//
// WebSocketClientID is the only optional field. A nil pointer means the
// client id was never supplied; a pointer to an empty string is invalid and
// rejected by ValidateContext.
type UserExecutionContext struct {
	UserID   string
	ThreadID string
	RunID    string

	WebSocketClientID *string

	CreatedAt time.Time
}

// NewUserExecutionContext builds a context without a websocket client id.
func NewUserExecutionContext(userID, threadID, runID string) *UserExecutionContext {
	return &UserExecutionContext{
		UserID:    userID,
		ThreadID:  threadID,
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserExecutionContextWithClient builds a context bound to a specific
// websocket client id.
func NewUserExecutionContextWithClient(userID, threadID, runID, wsClientID string) *UserExecutionContext {
	uctx := NewUserExecutionContext(userID, threadID, runID)
	uctx.WebSocketClientID = &wsClientID
	return uctx
}

// ContextFromClaims builds a context from an authenticated claim set, as
// handed over by the auth layer. Required claims are user_id, thread_id and
// run_id; websocket_client_id is optional. Missing claims fail with
// ContextIncompleteError, empty ones with ContextValueError.
func ContextFromClaims(claims map[string]any) (*UserExecutionContext, error) {
	required := [3]string{"user_id", "thread_id", "run_id"}
	values := [3]string{}

	for i, name := range required {
		raw, ok := claims[name]
		if !ok || raw == nil {
			return nil, &ContextIncompleteError{Field: name}
		}
		s, ok := raw.(string)
		if !ok {
			return nil, &ContextValueError{Field: name, Reason: fmt.Sprintf("expected string, got %T", raw)}
		}
		if s == "" {
			return nil, &ContextValueError{Field: name, Reason: "must not be empty"}
		}
		values[i] = s
	}

	uctx := NewUserExecutionContext(values[0], values[1], values[2])

	if raw, ok := claims["websocket_client_id"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return nil, &ContextValueError{Field: "websocket_client_id", Reason: fmt.Sprintf("expected string, got %T", raw)}
		}
		if s == "" {
			return nil, &ContextValueError{Field: "websocket_client_id", Reason: "must not be empty when present"}
		}
		uctx.WebSocketClientID = &s
	}

	return uctx, nil
}

// IsolationKey identifies the logical session a manager belongs to. Two
// contexts with equal keys resolve to the same manager instance. It is a
// comparable struct rather than a joined string so identifiers containing
// delimiter characters can never collide across fields.
type IsolationKey struct {
	UserID   string
	ThreadID string
	RunID    string

	WSClientID    string
	HasWSClientID bool
}

// IsolationKey derives the deterministic composite key for this context.
// The presence flag keeps a context without a websocket client id distinct
// from any context that has one.
func (c *UserExecutionContext) IsolationKey() IsolationKey {
	key := IsolationKey{
		UserID:   c.UserID,
		ThreadID: c.ThreadID,
		RunID:    c.RunID,
	}
	if c.WebSocketClientID != nil {
		key.WSClientID = *c.WebSocketClientID
		key.HasWSClientID = true
	}
	return key
}

// String renders the key for logs and error messages.
func (k IsolationKey) String() string {
	wsPart := "-"
	if k.HasWSClientID {
		wsPart = "ws:" + k.WSClientID
	}
	return fmt.Sprintf("%q|%q|%q|%s", k.UserID, k.ThreadID, k.RunID, wsPart)
}
