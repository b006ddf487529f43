package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject string, expiry time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
		ThreadID: "t1",
		RunID:    "r1",
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken(t *testing.T) {
	m := NewMiddleware("secret")

	t.Run("valid token", func(t *testing.T) {
		claims, err := m.ValidateToken(signToken(t, "secret", "u1", time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID())
		assert.Equal(t, "t1", claims.ThreadID)
		assert.Equal(t, "r1", claims.RunID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := m.ValidateToken(signToken(t, "other-secret", "u1", time.Hour))
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		_, err := m.ValidateToken(signToken(t, "secret", "u1", -time.Minute))
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		_, err := m.ValidateToken(signToken(t, "secret", "", time.Hour))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subject")
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := m.ValidateToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestAuthRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMiddleware("secret")

	r := gin.New()
	r.GET("/protected", m.AuthRequired(), func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID()})
	})

	t.Run("bearer header accepted", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "u1", time.Hour))
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "u1")
	})

	t.Run("token query parameter accepted", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet,
			"/protected?token="+signToken(t, "secret", "u1", time.Hour), nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing credentials rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", "u1", time.Hour))
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
