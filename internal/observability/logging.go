// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetLogger replaces the handler behind GlobalLogger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	GlobalLogger = &Logger{Logger: l}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// CorrelationID is the context key carrying the request or connection correlation id.
const CorrelationID LogContextKey = "correlation_id"

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableWSLogging      bool
	EnableMessageLogging bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableWSLogging:      true,
	EnableMessageLogging: false,
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
	logger  *Logger
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{
		hubName: hubName,
		logger:  GlobalLogger,
	}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID, connID string, soft bool) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("conn_id", connID),
		slog.Bool("unverified_token", soft),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID, connID string, wentOffline bool) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("conn_id", connID),
		slog.Bool("went_offline", wentOffline),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogRejected logs a handshake that failed authentication or capacity checks.
func (l *WSLogger) LogRejected(ctx context.Context, reason string, err error) {
	if !Config.EnableWSLogging {
		return
	}
	attrs := []any{
		slog.String("hub", l.hubName),
		slog.String("reason", reason),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.WarnContext(ctx, "websocket rejected", attrs...)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID, roomID string, err error, eventType string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.ErrorContext(ctx, "websocket error",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("room_id", roomID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogMessage logs an incoming WebSocket event. Disabled by default.
func (l *WSLogger) LogMessage(ctx context.Context, userID, eventType string) {
	if !Config.EnableWSLogging || !Config.EnableMessageLogging {
		return
	}
	l.logger.DebugContext(ctx, "websocket message",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("event_type", eventType),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogLifecycle logs a WebSocket hub lifecycle event.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	if !Config.EnableWSLogging {
		return
	}
	attrs := []any{
		slog.String("hub", l.hubName),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "websocket lifecycle", attrs...)
}

// LogAsyncOperationError logs an error in a best-effort background operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.WarnContext(ctx, "async operation failed", attrs...)
}
