package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name of the application tracer.
const tracerName = "github.com/nwang783/just-in-case"

// Span attribute keys naming the interview a span belongs to.
const (
	SessionIDKey      = attribute.Key("casecoach.session_id")
	ConversationIDKey = attribute.Key("casecoach.conversation_id")
)

// Interview identifies the session and transcript conversation that work in
// a context is done for. Either field may be empty.
type Interview struct {
	SessionID      string
	ConversationID string
}

func (iv Interview) attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if iv.SessionID != "" {
		attrs = append(attrs, SessionIDKey.String(iv.SessionID))
	}
	if iv.ConversationID != "" {
		attrs = append(attrs, ConversationIDKey.String(iv.ConversationID))
	}
	return attrs
}

type interviewKey struct{}

// WithInterview returns a copy of ctx carrying iv. Empty fields of iv keep
// the value already in ctx. The span active in ctx, if any, is tagged with
// the ids as well.
func WithInterview(ctx context.Context, iv Interview) context.Context {
	prev, _ := InterviewFrom(ctx)
	if iv.SessionID == "" {
		iv.SessionID = prev.SessionID
	}
	if iv.ConversationID == "" {
		iv.ConversationID = prev.ConversationID
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(iv.attributes()...)
	}
	return context.WithValue(ctx, interviewKey{}, iv)
}

// InterviewFrom returns the interview carried by ctx.
func InterviewFrom(ctx context.Context) (Interview, bool) {
	iv, ok := ctx.Value(interviewKey{}).(Interview)
	return iv, ok
}

// Tracer returns the application tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span tagged with the interview carried by ctx. The
// caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if iv, ok := InterviewFrom(ctx); ok {
		opts = append(opts, trace.WithAttributes(iv.attributes()...))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the span in ctx. Without one it
// falls back to the conversation ID and then the session ID, so bot log
// lines outside a request still correlate. It is empty when ctx carries
// none of them.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	iv, _ := InterviewFrom(ctx)
	if iv.ConversationID != "" {
		return iv.ConversationID
	}
	return iv.SessionID
}

// Logger returns the default logger with the trace and interview ids found
// in ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if iv, ok := InterviewFrom(ctx); ok {
		if iv.SessionID != "" {
			args = append(args, slog.String("session_id", iv.SessionID))
		}
		if iv.ConversationID != "" {
			args = append(args, slog.String("conversation_id", iv.ConversationID))
		}
	}
	l := slog.Default()
	if len(args) > 0 {
		l = l.With(args...)
	}
	return l
}
