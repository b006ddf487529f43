package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/chatcore/sessionhub/internal/slogging"
)

// Middleware provides bearer-token authentication for Gin. It verifies
// HS256 tokens issued by the external auth service and places the claims in
// the request context; it never issues tokens.
type Middleware struct {
	secret []byte
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(secret string) *Middleware {
	slogging.Get().Info("Initializing authentication middleware")
	return &Middleware{
		secret: []byte(secret),
	}
}

// AuthRequired is a middleware that requires a valid bearer token
func (m *Middleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := slogging.Get()

		// Extract the token from the Authorization header. WebSocket
		// browser clients cannot set headers, so a token query parameter
		// is accepted for upgrade requests as well.
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		switch {
		case authHeader != "":
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				logger.Warn("Authentication failed: invalid authorization header format client_ip=%v", c.ClientIP())
				c.Header("WWW-Authenticate", "Bearer")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Authorization header format must be Bearer {token}",
				})
				return
			}
			tokenString = parts[1]
		case c.Query("token") != "":
			tokenString = c.Query("token")
		default:
			logger.Warn("Authentication failed: missing credentials client_ip=%v", c.ClientIP())
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization is required",
			})
			return
		}

		claims, err := m.ValidateToken(tokenString)
		if err != nil {
			logger.Warn("Authentication failed: token validation error client_ip=%v error=%v", c.ClientIP(), err)
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": fmt.Sprintf("Invalid token: %v", err),
			})
			return
		}

		c.Set(string(ClaimsContextKey), claims)
		c.Set(string(UserIDContextKey), claims.UserID())
		c.Next()
	}
}

// ValidateToken parses and verifies a bearer token, returning its claims.
func (m *Middleware) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject claim")
	}
	return claims, nil
}

// ClaimsFromContext retrieves the verified claims placed by AuthRequired.
func ClaimsFromContext(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(string(ClaimsContextKey))
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
