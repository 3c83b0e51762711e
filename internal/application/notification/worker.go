// Package notification sends buyer and staff notices for committed placements.
package notification

import (
	"context"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/coffeeshop/internal/domain/outbox"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	workerService = "notification_worker"
	spanPrefix    = "UC."
	notifierPeer  = "notifier"

	useCaseConfirmation = "notification.order_confirmation"
	useCaseDepleted     = "notification.stock_depleted"
)

// Notifier delivers notices. A returned error makes the outbox redeliver the event.
type Notifier interface {
	OrderConfirmation(ctx context.Context, e domorder.OrderPlacedEvent) error
	StockDepleted(ctx context.Context, e dominv.StockDepletedEvent) error
}

type Worker struct {
	subscriber domoutbox.Subscriber
	notifier   Notifier
	tel        observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewWorker(subscriber domoutbox.Subscriber, notifier Notifier, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &Worker{
		subscriber:   subscriber,
		notifier:     notifier,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", workerService)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	w.subscriber.Subscribe(domorder.EventOrderPlaced, w.handleOrderPlaced)
	w.subscriber.Subscribe(dominv.EventStockDepleted, w.handleStockDepleted)
}

func (w *Worker) handleOrderPlaced(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.OrderPlacedEvent)
	if !ok {
		w.count(useCaseConfirmation, "ignored")
		return nil
	}
	return w.run(ctx, useCaseConfirmation, "OrderConfirmation", e.EventName(),
		[]observability.Field{
			observability.F("order_ids", evt.OrderIDs()),
			observability.F("source", evt.Source),
		},
		func(ctx context.Context) error { return w.notifier.OrderConfirmation(ctx, evt) },
	)
}

func (w *Worker) handleStockDepleted(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dominv.StockDepletedEvent)
	if !ok {
		w.count(useCaseDepleted, "ignored")
		return nil
	}
	return w.run(ctx, useCaseDepleted, "StockDepleted", e.EventName(),
		[]observability.Field{observability.F("product_id", evt.ProductID)},
		func(ctx context.Context) error { return w.notifier.StockDepleted(ctx, evt) },
	)
}

func (w *Worker) run(
	ctx context.Context,
	useCase, spanName, eventName string,
	fields []observability.Field,
	send func(context.Context) error,
) (err error) {
	ctx, span := w.tel.Tracer().Start(ctx, spanPrefix+spanName,
		attribute.String("use_case", useCase),
		attribute.String("event", eventName),
	)
	start := time.Now()
	outcome, status := "success", "OK"

	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("use_case", useCase),
		observability.F("event", eventName),
	).With(fields...)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx = logctx.With(ctx, logger)

	defer func() {
		lat := time.Since(start).Seconds()
		w.observe(useCase, outcome, lat)

		done := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		}
		if err != nil {
			done = append(done, observability.F("error", err.Error()))
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		logger.Info("use_case_done", done...)
		span.End()
	}()

	callStart := time.Now()
	sendErr := send(ctx)
	callOutcome := "success"
	if sendErr != nil {
		callOutcome = "error"
	}
	w.extCounter.Add(1,
		observability.L("peer", notifierPeer),
		observability.L("endpoint", eventName),
		observability.L("outcome", callOutcome),
	)
	w.extHistogram.Observe(time.Since(callStart).Seconds(),
		observability.L("peer", notifierPeer),
		observability.L("endpoint", eventName),
	)

	if sendErr != nil {
		outcome, status = "error", "NOTIFY_FAILED"
		logger.Warn("notification_failed", observability.F("error", sendErr.Error()))
		return fmt.Errorf("notification: %s: %w", eventName, sendErr)
	}
	return nil
}

func (w *Worker) count(useCase, outcome string) {
	w.reqCounter.Add(1,
		observability.L("use_case", useCase),
		observability.L("outcome", outcome),
	)
}

func (w *Worker) observe(useCase string, outcome string, latencySeconds float64) {
	w.count(useCase, outcome)
	w.durHistogram.Observe(latencySeconds, observability.L("use_case", useCase))
}
