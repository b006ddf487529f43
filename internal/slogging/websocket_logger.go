package slogging

import (
	"encoding/json"
	"log/slog"
)

// WebSocketLoggingConfig holds configuration for WebSocket message logging
type WebSocketLoggingConfig struct {
	Enabled        bool
	RedactTokens   bool
	MaxMessageSize int64 // Max message size to log (in bytes)
}

// WSMessageDirection indicates the direction of the WebSocket message
type WSMessageDirection string

const (
	WSMessageInbound  WSMessageDirection = "INBOUND"
	WSMessageOutbound WSMessageDirection = "OUTBOUND"
)

// LogWebSocketMessage logs WebSocket messages at debug level with optional
// token redaction.
func LogWebSocketMessage(direction WSMessageDirection, managerID, userID, messageType string, data []byte, config WebSocketLoggingConfig) {
	if !config.Enabled {
		return
	}

	logger := Get()
	if logger.level > LogLevelDebug {
		return
	}

	// Check message size limits
	if config.MaxMessageSize > 0 && int64(len(data)) > config.MaxMessageSize {
		logger.slogger.Debug("WebSocket message truncated due to size",
			slog.String("direction", string(direction)),
			slog.String("user_id", userID),
			slog.String("manager_id", managerID),
			slog.String("message_type", messageType),
			slog.Int("size_bytes", len(data)),
			slog.Bool("truncated", true),
		)
		return
	}

	messageStr := string(data)
	if config.RedactTokens {
		messageStr = RedactTokens(messageStr)
	}

	// Try to parse as JSON for better formatting
	var messageData any
	if json.Unmarshal([]byte(messageStr), &messageData) == nil {
		logger.slogger.Debug("WebSocket message",
			slog.String("direction", string(direction)),
			slog.String("user_id", userID),
			slog.String("manager_id", managerID),
			slog.String("message_type", messageType),
			slog.Int("size_bytes", len(data)),
			slog.Any("message_data", messageData),
		)
		return
	}

	logger.slogger.Debug("WebSocket message",
		slog.String("direction", string(direction)),
		slog.String("user_id", userID),
		slog.String("manager_id", managerID),
		slog.String("message_type", messageType),
		slog.Int("size_bytes", len(data)),
		slog.String("message_content", messageStr),
	)
}
