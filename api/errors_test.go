package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/sessionhub/session"
)

func TestHandleSessionError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "resource limit",
			err:        &session.ResourceLimitExceededError{UserID: "u1", Limit: 5},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "too_many_sessions",
		},
		{
			name:       "ownership violation",
			err:        &session.OwnershipViolationError{ConnectionID: "c1", ClaimedUserID: "u2", OwnerUserID: "u1"},
			wantStatus: http.StatusForbidden,
			wantCode:   "ownership_violation",
		},
		{
			name:       "inactive manager",
			err:        &session.ManagerInactiveError{ManagerID: "m1", Operation: "emit_event"},
			wantStatus: http.StatusGone,
			wantCode:   "session_ended",
		},
		{
			name:       "context type error",
			err:        &session.ContextTypeError{GotType: "string"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_context",
		},
		{
			name:       "context incomplete error",
			err:        &session.ContextIncompleteError{Field: "user_id"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_context",
		},
		{
			name:       "context value error",
			err:        &session.ContextValueError{Field: "thread_id", Reason: "must not be empty"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_context",
		},
		{
			name: "wrapped validation failure",
			err: &session.FactoryInitializationError{
				IsolationKey: "<invalid>",
				Cause:        &session.ContextTypeError{GotType: "int"},
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_context",
		},
		{
			name: "unexpected factory failure",
			err: &session.FactoryInitializationError{
				IsolationKey: "u1|t1|r1|-",
				Cause:        errors.New("boom"),
				Unexpected:   true,
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
		{
			name:       "unknown error",
			err:        errors.New("something else"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			HandleSessionError(c, tc.err)

			assert.Equal(t, tc.wantStatus, w.Code)
			var body Error
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.wantCode, body.Error)
		})
	}
}

func TestHandleSessionErrorDoesNotLeakInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	HandleSessionError(c, &session.FactoryInitializationError{
		IsolationKey: "u1|t1|r1|-",
		Cause:        errors.New("dial tcp 10.0.0.5:5432: connection refused"),
		Unexpected:   true,
	})

	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}
