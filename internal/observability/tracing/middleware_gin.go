package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/paycapture/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request. Capture and webhook handlers
// put the processor, order and invoice on the request context; they are
// copied onto the span once the handler chain returns.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("paycapture/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withBaggageMember(ctx, "request_id", requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + strings.ToUpper(c.Request.Method) + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		span.SetAttributes(SafeAttributes(append(attrs, captureAttributes(c)...)...)...)

		if status < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, "request error")
	}
}

// captureAttributes reads identifiers set by handlers. The request context
// wins; gin keys cover handlers that only call c.Set.
func captureAttributes(c *gin.Context) []attribute.KeyValue {
	ctx := c.Request.Context()
	values := []struct {
		key   string
		value string
	}{
		{"org_id", obscontext.OrgIDFromContext(ctx)},
		{"processor", firstNonEmpty(obscontext.ProcessorFromContext(ctx), c.GetString("processor"))},
		{"order_id", firstNonEmpty(obscontext.OrderIDFromContext(ctx), c.GetString("order_id"))},
		{"invoice_id", firstNonEmpty(obscontext.InvoiceIDFromContext(ctx), c.GetString("invoice_id"))},
	}

	attrs := make([]attribute.KeyValue, 0, len(values))
	for _, v := range values {
		if v.value != "" {
			attrs = append(attrs, attribute.String(v.key, v.value))
		}
	}
	return attrs
}

func withBaggageMember(ctx context.Context, key, value string) context.Context {
	member, err := baggage.NewMember(key, value)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
