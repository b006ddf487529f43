package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDContextKey is the key for the authenticated user id in the Gin context
	UserIDContextKey ContextKey = "user_id"
	// ClaimsContextKey is the key for the JWT claims in the Gin context
	ClaimsContextKey ContextKey = "claims"
)

// Claims are the token claims this service consumes. Tokens are issued by
// the separate auth service; only verification happens here. The thread and
// run identifiers scope the caller's execution context.
type Claims struct {
	jwt.RegisteredClaims

	ThreadID string `json:"thread_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

// UserID returns the authenticated user identifier (the subject claim).
func (c *Claims) UserID() string {
	return c.Subject
}
