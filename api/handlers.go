package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatcore/sessionhub/auth"
	"github.com/chatcore/sessionhub/internal/slogging"
	"github.com/chatcore/sessionhub/session"
)

// EmitRequest is the body for POST /api/events, used by agent-orchestration
// callers to notify a user's connected clients.
type EmitRequest struct {
	EventType string         `json:"event_type" binding:"required"`
	ThreadID  string         `json:"thread_id" binding:"required"`
	RunID     string         `json:"run_id" binding:"required"`
	ClientID  string         `json:"websocket_client_id"`
	Payload   map[string]any `json:"payload"`
}

// Handlers bundles the HTTP surface around one factory instance.
type Handlers struct {
	factory *session.SessionManagerFactory
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(factory *session.SessionManagerFactory) *Handlers {
	return &Handlers{factory: factory}
}

// GetStats handles GET /ws/stats, the monitoring hook for factory counters.
func (h *Handlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.factory.Stats())
}

// PostEvent handles POST /api/events: resolve the caller's manager through
// the factory and broadcast the event to the user's connections. The
// delivery report is returned as-is; partial failures are data, not errors.
func (h *Handlers) PostEvent(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Error{
			Error:   "unauthorized",
			Message: "User not authenticated",
		})
		return
	}

	var req EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{
			Error:   "invalid_input",
			Message: err.Error(),
		})
		return
	}

	claimSet := map[string]any{
		"user_id":   claims.UserID(),
		"thread_id": req.ThreadID,
		"run_id":    req.RunID,
	}
	if req.ClientID != "" {
		claimSet["websocket_client_id"] = req.ClientID
	}

	uctx, err := session.ContextFromClaims(claimSet)
	if err != nil {
		HandleSessionError(c, err)
		return
	}

	manager, err := h.factory.CreateManager(uctx)
	if err != nil {
		HandleSessionError(c, err)
		return
	}

	report, err := manager.EmitEvent(c.Request.Context(), req.EventType, req.Payload)
	if err != nil {
		HandleSessionError(c, err)
		return
	}

	slogging.Get().Debug("Event %s emitted for user %s: %d delivered, %d failed",
		req.EventType, claims.UserID(), report.Delivered, len(report.Failures))
	c.JSON(http.StatusOK, report)
}

// GetHealthz handles GET /healthz.
func (h *Handlers) GetHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRoutes wires the HTTP surface onto a Gin engine. The /metrics
// endpoint serves the given Prometheus registry when one is provided.
func RegisterRoutes(r *gin.Engine, h *Handlers, ws *WebSocketHandler, authMw *auth.Middleware, registry *prometheus.Registry) {
	r.GET("/healthz", h.GetHealthz)
	if registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	protected := r.Group("/")
	protected.Use(authMw.AuthRequired())
	{
		protected.GET("/ws", ws.HandleWS)
		protected.GET("/ws/stats", h.GetStats)
		protected.POST("/api/events", h.PostEvent)
	}
}
