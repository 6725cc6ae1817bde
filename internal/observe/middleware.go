package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Route path parameters that name an interview. Routes declare them as
// {session_id} and {conversation_id}.
const (
	SessionIDParam      = "session_id"
	ConversationIDParam = "conversation_id"
)

// quietRoutes are polled by infrastructure and logged at debug level only.
var quietRoutes = map[string]bool{
	"GET /metrics": true,
	"GET /healthz": true,
	"GET /readyz":  true,
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware traces, times and logs every API request.
//
// W3C trace context is taken from the request headers when present, and the
// trace ID is echoed in X-Correlation-ID. Once the mux has routed the
// request, the span is renamed to the route pattern and tagged with the
// session and conversation named by the path, and the request duration is
// recorded in [Metrics.HTTPRequestDuration] by method, route and status
// class. Server errors mark the span as failed.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			// The mux fills in the pattern and path values on r.
			route := r.URL.Path
			if r.Pattern != "" {
				route = r.Pattern
				span.SetName(spanName(r.Method, r.Pattern))
				span.SetAttributes(semconv.HTTPRoute(r.Pattern))
			}
			iv := Interview{
				SessionID:      r.PathValue(SessionIDParam),
				ConversationID: r.PathValue(ConversationIDParam),
			}
			span.SetAttributes(iv.attributes()...)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))
			if rec.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.statusCode))
			}

			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
					attribute.String("status", statusClass(rec.statusCode)),
				),
			)

			level := slog.LevelInfo
			if quietRoutes[r.Pattern] {
				level = slog.LevelDebug
			}
			attrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			}
			if iv.SessionID != "" {
				attrs = append(attrs, slog.String("session_id", iv.SessionID))
			}
			if iv.ConversationID != "" {
				attrs = append(attrs, slog.String("conversation_id", iv.ConversationID))
			}
			slog.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}

// spanName returns "POST /api/sessions/{session_id}/start" for a pattern
// with or without its method.
func spanName(method, pattern string) string {
	if strings.HasPrefix(pattern, method+" ") {
		return pattern
	}
	return method + " " + pattern
}

// statusClass returns "2xx", "4xx" and so on.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
