package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	apporder "github.com/Zhima-Mochi/coffeeshop/internal/application/order"
	dompay "github.com/Zhima-Mochi/coffeeshop/internal/domain/payment"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	paymentService    = "payment-service"
	useCaseWebhook    = "payment.webhook"
	webhookSpanName   = "HandlePaymentWebhook"
	spanPrefix        = "UC."
	statusIgnored     = "IGNORED_EVENT_TYPE"
	statusDuplicate   = "DUPLICATE_EVENT"
	statusPurchaseErr = "PURCHASE_REJECTED"

	defaultClaimHold = 2 * time.Minute
)

// ErrEventLog means the delivery could not be checked against processed events; the provider should retry.
var ErrEventLog = errors.New("payment: event log unavailable")

// ChargeHandler turns a verified charge into a purchase.
type ChargeHandler interface {
	HandleChargeSucceeded(ctx context.Context, charge dompay.ChargeSucceeded) apporder.Result
}

type HandleWebhookInput struct {
	Payload   []byte
	Signature string
}

type HandleWebhookResult struct {
	EventID   string
	EventType string
	// Ignored is set for event types that carry no purchase, and for redeliveries.
	Ignored bool
	// Duplicate is set when the event already produced an order or is being handled by another delivery.
	Duplicate bool
	Purchase  *apporder.Result
}

// HandleWebhookUseCase authenticates a payment provider delivery and places the paid order.
type HandleWebhookUseCase struct {
	verifier dompay.Verifier
	charges  ChargeHandler
	tel      observability.Observability
	now      func() time.Time
	events   dompay.EventLog
	hold     time.Duration

	log        observability.Logger
	reqCounter observability.Counter
	durHist    observability.Histogram
}

type Option func(*HandleWebhookUseCase)

// WithEventLog skips charges whose event id was already processed. hold bounds how long one
// delivery owns an event before a redelivery may take over.
func WithEventLog(events dompay.EventLog, hold time.Duration) Option {
	return func(uc *HandleWebhookUseCase) {
		uc.events = events
		if hold > 0 {
			uc.hold = hold
		}
	}
}

func NewHandleWebhookUseCase(verifier dompay.Verifier, charges ChargeHandler, tel observability.Observability, opts ...Option) *HandleWebhookUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	uc := &HandleWebhookUseCase{
		verifier:   verifier,
		charges:    charges,
		tel:        tel,
		now:        time.Now,
		hold:       defaultClaimHold,
		log:        tel.Logger().With(observability.F("service", paymentService)),
		reqCounter: tel.Metrics().Counter(observability.MUsecaseRequests),
		durHist:    tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Execute returns dompay.ErrInvalidSignature or dompay.ErrMalformedEvent for deliveries that must be refused.
// A rejected purchase is not an error: it is reported on the result.
func (uc *HandleWebhookUseCase) Execute(ctx context.Context, cmd HandleWebhookInput) (_ *HandleWebhookResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseWebhook),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+webhookSpanName,
		attribute.String("use_case", useCaseWebhook),
		attribute.Int("payment.payload_bytes", len(cmd.Payload)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &HandleWebhookResult{}

	defer func() {
		span.SetAttributes(
			attribute.String("payment.event_id", result.EventID),
			attribute.String("payment.event_type", result.EventType),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseWebhook),
			observability.L("outcome", outcome),
		)
		uc.durHist.Observe(latency,
			observability.L("use_case", useCaseWebhook),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("event_id", result.EventID),
			observability.F("event_type", result.EventType),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if result.Purchase != nil && !result.Purchase.Success {
			fields = append(fields,
				observability.F("failure_kind", string(result.Purchase.Kind)),
				observability.F("failure_reason", result.Purchase.Reason),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	evt, verr := uc.verifier.Verify(cmd.Payload, cmd.Signature, uc.now())
	if verr != nil {
		outcome = "rejected"
		statusText = "MALFORMED_EVENT"
		if errors.Is(verr, dompay.ErrInvalidSignature) {
			statusText = "SIGNATURE_INVALID"
		}
		return nil, verr
	}
	result.EventID, result.EventType = evt.ID, evt.Type

	if evt.Type != dompay.EventChargeSucceeded || evt.Charge == nil {
		statusText = statusIgnored
		result.Ignored = true
		return result, nil
	}

	tracked := uc.events != nil && evt.ID != ""
	if tracked {
		claimed, cerr := uc.events.Claim(ctx, evt.ID, uc.hold)
		if cerr != nil {
			outcome, statusText = "error", "EVENT_LOG_FAILED"
			return nil, fmt.Errorf("%w: %w", ErrEventLog, cerr)
		}
		if !claimed {
			statusText = statusDuplicate
			result.Ignored, result.Duplicate = true, true
			return result, nil
		}
	}

	purchase := uc.charges.HandleChargeSucceeded(ctx, *evt.Charge)
	result.Purchase = &purchase
	if !purchase.Success {
		outcome, statusText = "rejected", statusPurchaseErr
	}
	if tracked {
		uc.settle(context.WithoutCancel(ctx), logger, evt.ID, purchase.Success)
	}
	return result, nil
}

// settle completes the event after an order, or releases it so a redelivery can try again.
func (uc *HandleWebhookUseCase) settle(ctx context.Context, logger observability.Logger, eventID string, placed bool) {
	var err error
	if placed {
		err = uc.events.Complete(ctx, eventID)
	} else {
		err = uc.events.Release(ctx, eventID)
	}
	if err != nil {
		logger.Warn("payment_event_settle_failed",
			observability.F("event_id", eventID),
			observability.F("placed", placed),
			observability.F("error", err),
		)
	}
}
