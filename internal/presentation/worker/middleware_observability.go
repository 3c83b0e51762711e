// Package workerpresentation prepares contexts for event handlers run by the outbox.
package workerpresentation

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/coffeeshop/internal/domain/outbox"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// WithEventContext injects an event-scoped logger for background executions.
// Fields: event_id (generated if empty), trace_id/span_id when valid, plus the low-cardinality attrs.
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	traceID trace.TraceID,
	spanID trace.SpanID,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = logctx.FromOr(ctx, nil)
	}

	fields := make([]observability.Field, 0, 3+len(attrs))

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))

	if traceID.IsValid() {
		fields = append(fields, observability.F("trace_id", traceID.String()))
	}
	if spanID.IsValid() {
		fields = append(fields, observability.F("span_id", spanID.String()))
	}

	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}

// Handler wraps h so every delivery runs with an event-scoped logger.
func Handler(base observability.Logger, h domoutbox.Handler) domoutbox.Handler {
	return func(ctx context.Context, e domoutbox.Event) error {
		sc := trace.SpanContextFromContext(ctx)
		ctx = WithEventContext(ctx, base, sc.TraceID(), sc.SpanID(), map[string]string{
			"event": e.EventName(),
		})
		return h(ctx, e)
	}
}

// Subscribe registers h on sub through Handler.
func Subscribe(sub domoutbox.Subscriber, base observability.Logger, eventName string, h domoutbox.Handler) {
	sub.Subscribe(eventName, Handler(base, h))
}
