package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/autumn/internal/observability/context"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware instruments inbound HTTP requests.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("autumn/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))

		requestID := obscontext.RequestIDFromContext(ctx)
		if requestID != "" {
			member, err := baggage.NewMember("request_id", requestID)
			if err == nil {
				bag, bagErr := baggage.New(member)
				if bagErr == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + strings.ToUpper(c.Request.Method) + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)...)
		span.SetAttributes(RequestAttributes(c)...)

		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}

// requestKeys maps the gin keys set by balance handlers to span attributes.
var requestKeys = []struct {
	key  string
	attr attribute.Key
}{
	{"customer_id", "autumn.customer_id"},
	{"feature_id", "autumn.feature_id"},
	{"entity_id", "autumn.entity_id"},
	{"event_name", "autumn.event_name"},
}

// RequestAttributes describes which tenant and customer a request touched.
func RequestAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if scope, ok := orgcontext.ScopeFromContext(c.Request.Context()); ok {
		attrs = append(attrs,
			attribute.String("autumn.org_id", scope.OrgID.String()),
			attribute.String("autumn.env", scope.Env),
		)
	}
	for _, k := range requestKeys {
		if value := strings.TrimSpace(c.GetString(k.key)); value != "" {
			attrs = append(attrs, k.attr.String(value))
		}
	}
	return attrs
}
