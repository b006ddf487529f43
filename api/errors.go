package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatcore/sessionhub/session"
)

// Error is the JSON error response body
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleSessionError maps session-layer errors onto HTTP responses. The
// mapping mirrors the error taxonomy: context shape and ownership problems
// are client errors, quota is its own condition, inactive managers read as
// gone, anything wrapped as unexpected is a server error.
func HandleSessionError(c *gin.Context, err error) {
	var (
		typeErr       *session.ContextTypeError
		incompleteErr *session.ContextIncompleteError
		valueErr      *session.ContextValueError
		ownershipErr  *session.OwnershipViolationError
		inactiveErr   *session.ManagerInactiveError
		limitErr      *session.ResourceLimitExceededError
		factoryErr    *session.FactoryInitializationError
	)

	switch {
	case errors.As(err, &limitErr):
		c.JSON(http.StatusTooManyRequests, Error{
			Error:   "too_many_sessions",
			Message: limitErr.Error(),
		})
	case errors.As(err, &ownershipErr):
		c.JSON(http.StatusForbidden, Error{
			Error:   "ownership_violation",
			Message: ownershipErr.Error(),
		})
	case errors.As(err, &inactiveErr):
		c.JSON(http.StatusGone, Error{
			Error:   "session_ended",
			Message: inactiveErr.Error(),
		})
	case errors.As(err, &typeErr), errors.As(err, &incompleteErr), errors.As(err, &valueErr):
		c.JSON(http.StatusBadRequest, Error{
			Error:   "invalid_context",
			Message: err.Error(),
		})
	case errors.As(err, &factoryErr):
		if factoryErr.Unexpected {
			c.JSON(http.StatusInternalServerError, Error{
				Error:   "internal_error",
				Message: "Failed to initialize session",
			})
			return
		}
		// Wrapped validation failure
		c.JSON(http.StatusBadRequest, Error{
			Error:   "invalid_context",
			Message: factoryErr.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, Error{
			Error:   "internal_error",
			Message: "Unexpected error",
		})
	}
}
