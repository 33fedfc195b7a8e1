// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the global structured logger instance used throughout the application.
var Logger *slog.Logger

type contextKey string

// Context keys read by the logging handler.
const (
	RequestIDKey contextKey = "request_id"
	ViewerIDKey  contextKey = "viewer_id"
	TraceIDKey   contextKey = "trace_id"
)

// ctxHandler is a slog.Handler that adds context values to the log record.
type ctxHandler struct {
	slog.Handler
}

// Handle adds context values to the record before passing it to the underlying handler.
func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if rid, ok := ctx.Value(RequestIDKey).(string); ok {
		r.AddAttrs(slog.String("request_id", rid))
	}
	if vid, ok := ctx.Value(ViewerIDKey).(uint); ok {
		r.AddAttrs(slog.Any("viewer_id", vid))
	}
	if tid, ok := ctx.Value(TraceIDKey).(string); ok {
		r.AddAttrs(slog.String("trace_id", tid))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{h.Handler.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{h.Handler.WithGroup(name)}
}

func init() {
	Logger = NewLogger(os.Getenv("APP_ENV"))
}

// NewLogger builds a context-aware logger: JSON in production, text elsewhere.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	level := slog.LevelInfo

	switch env {
	case "production", "prod":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	case "development", "":
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(&ctxHandler{handler})
}

// SetupLogger replaces the global logger for the given environment and makes it
// the slog default.
func SetupLogger(env string) *slog.Logger {
	Logger = NewLogger(env)
	slog.SetDefault(Logger)
	return Logger
}

// WithRequestID returns a context carrying the request ID for log records.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithViewerID returns a context carrying the viewer ID for log records.
func WithViewerID(ctx context.Context, id uint) context.Context {
	return context.WithValue(ctx, ViewerIDKey, id)
}

// WithTraceID returns a context whose log records carry the trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
