package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"colloquy/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ContextMiddleware copies the request ID set by the requestid middleware into
// the request context so the context-aware logger picks it up.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			c.SetUserContext(observability.WithRequestID(c.UserContext(), rid))
		}
		return c.Next()
	}
}

// StructuredLogger returns a Fiber middleware for logging requests using slog
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
		}

		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
			observability.Logger.ErrorContext(c.UserContext(), "request failed", fields...)
		} else {
			observability.Logger.InfoContext(c.UserContext(), "request processed", fields...)
		}
		return err
	}
}

// TracingMiddleware adds OpenTelemetry tracing to requests
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))

		spanName := fmt.Sprintf("%s %s", c.Method(), c.Path())
		ctx, span := observability.Tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.path", c.Path()),
				attribute.String("http.ip", c.IP()),
			),
		)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		c.Set("X-Trace-ID", traceID)
		ctx = observability.WithTraceID(ctx, traceID)
		c.SetUserContext(ctx)

		err := c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Response().StatusCode()))
		if err != nil {
			span.RecordError(err)
		}
		if vid := c.Locals(ViewerLocal); vid != nil {
			span.SetAttributes(attribute.String("viewer.id", fmt.Sprintf("%v", vid)))
		}
		return err
	}
}
