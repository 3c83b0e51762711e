package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
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
	inventoryService  = "inventory-service"
	useCaseDepletion  = "inventory.detect_depletion"
	depletionSpanName = "DetectDepletion"
	spanPrefix        = "UC."
	publishPeer       = "outbox"
	endpointDepleted  = dominv.EventStockDepleted
	publishTimeout    = 300 * time.Millisecond
)

// DepletionResult lists the products a placement sold out.
type DepletionResult struct {
	Depleted []string
}

// DetectDepletionUseCase announces products whose stock reached zero in a committed placement.
type DetectDepletionUseCase struct {
	publisher    domoutbox.Publisher
	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewDetectDepletionUseCase(publisher domoutbox.Publisher, tel observability.Observability) *DetectDepletionUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metricsProvider := tel.Metrics()
	return &DetectDepletionUseCase{
		publisher:    publisher,
		log:          tel.Logger().With(observability.F("service", inventoryService)),
		tracer:       tel.Tracer(),
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute publishes one StockDepletedEvent per product left at zero units.
// A failed publish is returned so the relay redelivers the placement.
func (uc *DetectDepletionUseCase) Execute(ctx context.Context, e domorder.OrderPlacedEvent) (_ *DepletionResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseDepletion),
		observability.F("user_id", e.UserID),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+depletionSpanName,
		attribute.String("use_case", useCaseDepletion),
		attribute.Int("order.lines", len(e.Lines)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &DepletionResult{}

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseDepletion),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(latency, observability.L("use_case", useCaseDepletion))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("depleted", result.Depleted),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	for productID, left := range e.Remaining {
		if left <= 0 {
			result.Depleted = append(result.Depleted, productID)
		}
	}
	sort.Strings(result.Depleted)

	orderIDs := e.OrderIDs()
	var errs []error
	for _, productID := range result.Depleted {
		logger.Warn("stock_depleted", observability.F("product_id", productID))
		span.AddEvent("inventory.depleted", trace.WithAttributes(attribute.String("product.id", productID)))
		if perr := uc.publish(ctx, dominv.NewStockDepletedEvent(productID, orderIDs)); perr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", productID, perr))
		}
	}
	if len(errs) > 0 {
		outcome, statusText = "error", "EVENT_PUBLISH_FAILED"
		return result, fmt.Errorf("inventory: publish depleted: %w", errors.Join(errs...))
	}
	return result, nil
}

func (uc *DetectDepletionUseCase) publish(ctx context.Context, event domoutbox.Event) error {
	if uc.publisher == nil {
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	start := time.Now()
	err := uc.publisher.Publish(pubCtx, event)
	outcome := "success"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
	}
	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpointDepleted),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpointDepleted),
	)
	return err
}
