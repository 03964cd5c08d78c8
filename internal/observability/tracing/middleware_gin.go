package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/allowance/internal/observability/context"
	obslogger "github.com/smallbiznis/allowance/internal/observability/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request. Must run after the request
// logger so the request id is already in the context, and before the quota
// middleware so the metering outcome lands on the span.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("allowance/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)
		span.SetAttributes(SafeAttributes(requestAttributes(c, method, route, status, time.Since(started))...)...)

		if c.GetString(obslogger.ContextKeyOutcome) == "denied" {
			span.AddEvent("quota_exceeded", trace.WithAttributes(
				attribute.String("feature", c.GetString(obslogger.ContextKeyFeature)),
			))
		}
		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, "request error")
		}
	}
}

func requestAttributes(c *gin.Context, method, route string, status int, elapsed time.Duration) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
		attribute.Int64("http.server_duration_ms", elapsed.Milliseconds()),
	}
	ctx := c.Request.Context()
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if workspaceID := obscontext.WorkspaceIDFromContext(ctx); workspaceID != "" {
		attrs = append(attrs, attribute.String("workspace_id", workspaceID))
	}
	if feature := c.GetString(obslogger.ContextKeyFeature); feature != "" {
		attrs = append(attrs, attribute.String("feature", feature))
	}
	if outcome := c.GetString(obslogger.ContextKeyOutcome); outcome != "" {
		attrs = append(attrs, attribute.String("outcome", outcome))
	}
	return attrs
}
