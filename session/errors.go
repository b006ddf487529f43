package session

import (
	"fmt"
)

// ContextTypeError reports an object that is not the canonical
// *UserExecutionContext type. The check is deliberately type identity, not
// attribute presence: a second, structurally identical context type
// circulating in the codebase is exactly the failure mode this guards
// against.
type ContextTypeError struct {
	// GotType is the %T of the rejected value.
	GotType string
}

func (e *ContextTypeError) Error() string {
	return fmt.Sprintf("invalid context type %s: expected *session.UserExecutionContext", e.GotType)
}

// ContextIncompleteError reports a required context attribute that is
// missing entirely.
type ContextIncompleteError struct {
	Field string
}

func (e *ContextIncompleteError) Error() string {
	return fmt.Sprintf("incomplete execution context: missing required field %q", e.Field)
}

// ContextValueError reports a context attribute that is present but holds an
// unusable value (empty string, wrong kind).
type ContextValueError struct {
	Field  string
	Reason string
}

func (e *ContextValueError) Error() string {
	return fmt.Sprintf("invalid execution context field %q: %s", e.Field, e.Reason)
}

// OwnershipViolationError reports an attempt to attach a connection whose
// claimed user does not match the manager's owner. This is a security
// boundary: the connection is never stored and never silently reassigned.
type OwnershipViolationError struct {
	ConnectionID  string
	ClaimedUserID string
	OwnerUserID   string
}

func (e *OwnershipViolationError) Error() string {
	return fmt.Sprintf("connection %s claims user %s but manager is owned by user %s",
		e.ConnectionID, e.ClaimedUserID, e.OwnerUserID)
}

// ManagerInactiveError reports a mutating operation attempted on a manager
// that has already been cleaned up.
type ManagerInactiveError struct {
	ManagerID string
	Operation string
}

func (e *ManagerInactiveError) Error() string {
	return fmt.Sprintf("manager %s is inactive: %s rejected", e.ManagerID, e.Operation)
}

// ResourceLimitExceededError reports that a user already owns the maximum
// number of active managers. This is a hard cap, not a queue; the eviction
// policy belongs to the caller.
type ResourceLimitExceededError struct {
	UserID string
	Limit  int
}

func (e *ResourceLimitExceededError) Error() string {
	return fmt.Sprintf("user %s already owns %d active session managers", e.UserID, e.Limit)
}

// FactoryInitializationError is the single error kind the factory surfaces
// for validation failures and unexpected internal failures. The original
// cause is preserved for errors.Is/errors.As and logging; raw internal
// errors never cross the factory boundary.
type FactoryInitializationError struct {
	IsolationKey string
	Cause        error
	// Unexpected marks wrapped internal failures as opposed to wrapped
	// validation failures.
	Unexpected bool
}

func (e *FactoryInitializationError) Error() string {
	if e.Unexpected {
		return fmt.Sprintf("unexpected internal failure creating session manager for key %s: %v", e.IsolationKey, e.Cause)
	}
	return fmt.Sprintf("failed to create session manager for key %s: %v", e.IsolationKey, e.Cause)
}

func (e *FactoryInitializationError) Unwrap() error {
	return e.Cause
}
