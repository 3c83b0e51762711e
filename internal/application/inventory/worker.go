package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/coffeeshop/internal/application"
	domorder "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/coffeeshop/internal/domain/outbox"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const workerService = "inventory_worker"

// Worker feeds committed placements to the depletion use case.
type Worker struct {
	subscriber domoutbox.Subscriber
	useCase    application.UseCase[domorder.OrderPlacedEvent, *DepletionResult]
	tel        observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewWorker(
	subscriber domoutbox.Subscriber,
	useCase application.UseCase[domorder.OrderPlacedEvent, *DepletionResult],
	tel observability.Observability,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	metricsProvider := tel.Metrics()
	return &Worker{
		subscriber:   subscriber,
		useCase:      useCase,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", workerService)),
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.useCase == nil {
		return
	}
	w.subscriber.Subscribe(domorder.EventOrderPlaced, w.handleOrderPlaced)
}

func (w *Worker) handleOrderPlaced(ctx context.Context, e domoutbox.Event) error {
	const useCase = "inventory.worker.order_placed"
	evt, ok := e.(domorder.OrderPlacedEvent)
	if !ok {
		w.count(useCase, "ignored")
		return nil
	}

	ctx, span := w.tel.Tracer().Start(ctx, spanPrefix+"OrderPlaced",
		attribute.String("use_case", useCase),
		attribute.String("event", e.EventName()),
	)
	start := time.Now()
	outcome, status := "success", "OK"
	var depleted []string

	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("use_case", useCase),
		observability.F("event", e.EventName()),
		observability.F("order_ids", evt.OrderIDs()),
	)
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

		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
			observability.F("depleted", depleted),
		)

		if outcome == "error" {
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()
	}()

	res, err := w.useCase.Execute(ctx, evt)
	if res != nil {
		depleted = res.Depleted
	}
	if err != nil {
		outcome, status = "error", "DEPLETION_PUBLISH_FAILED"
		return fmt.Errorf("worker: stock depletion: %w", err)
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
