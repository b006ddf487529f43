package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chatcore/sessionhub/auth"
	"github.com/chatcore/sessionhub/internal/config"
	"github.com/chatcore/sessionhub/internal/slogging"
	"github.com/chatcore/sessionhub/internal/telemetry"
	"github.com/chatcore/sessionhub/internal/uuidgen"
	"github.com/chatcore/sessionhub/session"
)

// Upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development; restrict in production
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsTransport adapts a gorilla connection to the session.Transport
// interface. gorilla allows one concurrent writer, so every write (event or
// ping) goes through writeMu.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Send writes one text message, bounded by the context deadline.
func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(3 * time.Second)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ping(timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame best-effort and closes the connection.
func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return t.conn.Close()
}

// WebSocketHandler owns the upgrade path: it builds the execution context
// from authenticated claims, obtains the session manager through the
// factory, admits the connection and runs the read pump until disconnect.
type WebSocketHandler struct {
	factory *session.SessionManagerFactory
	wsCfg   config.WebSocketConfig
	metrics *telemetry.HubMetrics
}

// NewWebSocketHandler creates the WebSocket upgrade handler. metrics may be
// nil, which disables connection tracing.
func NewWebSocketHandler(factory *session.SessionManagerFactory, wsCfg config.WebSocketConfig, metrics *telemetry.HubMetrics) *WebSocketHandler {
	return &WebSocketHandler{
		factory: factory,
		wsCfg:   wsCfg,
		metrics: metrics,
	}
}

// contextFromRequest assembles the claim set for the execution context.
// Thread and run identifiers come from query parameters with token claims
// as fallback; the client id is optional and query-only.
func contextFromRequest(c *gin.Context, claims *auth.Claims) (*session.UserExecutionContext, error) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		threadID = claims.ThreadID
	}
	runID := c.Query("run_id")
	if runID == "" {
		runID = claims.RunID
	}

	claimSet := map[string]any{
		"user_id":   claims.UserID(),
		"thread_id": threadID,
		"run_id":    runID,
	}
	if clientID := c.Query("client_id"); clientID != "" {
		claimSet["websocket_client_id"] = clientID
	}
	return session.ContextFromClaims(claimSet)
}

// HandleWS handles WebSocket connection requests on GET /ws.
func (h *WebSocketHandler) HandleWS(c *gin.Context) {
	logger := slogging.Get()

	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Error{
			Error:   "unauthorized",
			Message: "User not authenticated",
		})
		return
	}

	uctx, err := contextFromRequest(c, claims)
	if err != nil {
		HandleSessionError(c, err)
		return
	}

	// Resolve the manager before upgrading so context and quota failures
	// surface as clean HTTP errors instead of abnormal closures.
	manager, err := h.factory.CreateManager(uctx)
	if err != nil {
		HandleSessionError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection for user %s: %v", claims.UserID(), err)
		return
	}

	transport := &wsTransport{conn: conn}
	connectionID := uuidgen.MustNewForEntity(uuidgen.EntityTypeConnection).String()
	record := session.NewConnectionRecord(connectionID, claims.UserID(), transport)

	if err := manager.AddConnection(record); err != nil {
		logger.Warn("Connection %s rejected after upgrade: %v", connectionID, err)
		_ = transport.Close()
		return
	}

	logger.Info("Connection %s attached for user %s", connectionID, claims.UserID())

	endSpan := func(error) {}
	if h.metrics != nil {
		_, endSpan = h.metrics.TraceConnection(c.Request.Context(), claims.UserID(), connectionID)
	}

	go h.writePinger(manager, connectionID, transport)
	go h.readPump(manager, connectionID, claims.UserID(), conn, endSpan)
}

// readPump drains inbound frames to keep pong handling alive and detaches
// the connection when the peer goes away. Inbound payloads are logged at
// debug level and otherwise ignored; event flow in this service is outbound
// only.
func (h *WebSocketHandler) readPump(manager *session.IsolatedSessionManager, connectionID, userID string, conn *websocket.Conn, done func(error)) {
	var termErr error
	defer func() {
		manager.RemoveConnection(connectionID)
		_ = conn.Close()
		done(termErr)
		slogging.Get().Info("Connection %s detached for user %s", connectionID, userID)
	}()

	conn.SetReadLimit(h.wsCfg.ReadLimitBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.wsCfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.wsCfg.PongTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slogging.Get().Warn("WebSocket read error on connection %s: %v", connectionID, err)
				termErr = err
			}
			return
		}

		slogging.LogWebSocketMessage(slogging.WSMessageInbound, manager.ID(), userID, "client_message", message,
			slogging.WebSocketLoggingConfig{
				Enabled:        h.wsCfg.LogMessages,
				RedactTokens:   h.wsCfg.RedactTokensInLogs,
				MaxMessageSize: h.wsCfg.MaxLoggedBytes,
			})
	}
}

// writePinger keeps the connection alive with periodic pings. It stops when
// a ping fails or the connection is no longer registered.
func (h *WebSocketHandler) writePinger(manager *session.IsolatedSessionManager, connectionID string, transport *wsTransport) {
	ticker := time.NewTicker(h.wsCfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !manager.HasConnection(connectionID) {
			return
		}
		if err := transport.ping(h.wsCfg.WriteTimeout); err != nil {
			slogging.Get().Debug("Ping failed on connection %s: %v", connectionID, err)
			return
		}
	}
}
