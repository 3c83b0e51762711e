package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/coffeeshop/internal/domain/outbox"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService      = "order-service"
	useCasePlaceOrder = "order.place"
	spanPrefix        = "UC."
	publishPeer       = "outbox"
	publishTimeout    = 300 * time.Millisecond

	stagePrecheck = "precheck"
	stageCommit   = "commit"
)

var ErrTransaction = domain.ErrTransaction

// PlaceOrderUseCase runs the advisory checks, the atomic placement and the post-commit follow-ups.
type PlaceOrderUseCase struct {
	store       domain.Store
	eligibility Eligibility
	idGenerator IDGenerator
	publisher   domoutbox.Publisher
	tel         observability.Observability
	downloadTTL time.Duration
	now         func() time.Time

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
	stockCounter observability.Counter   // stock_insufficient_total{path,stage}
}

type Option func(*PlaceOrderUseCase)

// WithDownloadTTL overrides how long issued download verifications stay valid.
func WithDownloadTTL(d time.Duration) Option {
	return func(uc *PlaceOrderUseCase) { uc.downloadTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(uc *PlaceOrderUseCase) {
		if now != nil {
			uc.now = now
		}
	}
}

func NewPlaceOrderUseCase(
	store domain.Store,
	eligibility Eligibility,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
	opts ...Option,
) *PlaceOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()

	uc := &PlaceOrderUseCase{
		store:        store,
		eligibility:  eligibility,
		idGenerator:  idGen,
		publisher:    publisher,
		tel:          tel,
		downloadTTL:  domain.DefaultDownloadTTL,
		now:          time.Now,
		log:          tel.Logger().With(observability.F("service", orderService)),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
		stockCounter: metrics.Counter(observability.MStockInsufficient),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

type PlaceOrderInput struct {
	Source   string
	Email    string
	Lines    []domain.LineItem
	Shipping *domain.Shipping
	// RejectOwned fails the whole placement when the buyer already owns any product in Lines.
	RejectOwned bool
	// IssueVerification creates a download verification after commit when there is exactly one line.
	IssueVerification bool
}

type PlaceOrderResult struct {
	UserID         string
	OrderIDs       []string
	AmountMinor    int64
	VerificationID string
	Remaining      map[string]int
}

// Execute places the order. Returned errors match order.ErrValidation, inventory.ErrInsufficientStock,
// order.ErrDuplicatePurchase or order.ErrTransaction. Nothing is written unless the error is nil.
func (uc *PlaceOrderUseCase) Execute(ctx context.Context, cmd PlaceOrderInput) (_ *PlaceOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCasePlaceOrder),
		observability.F("source", cmd.Source),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"PlaceOrder",
		attribute.String("use_case", useCasePlaceOrder),
		attribute.String("order.source", cmd.Source),
		attribute.Int("order.lines", len(cmd.Lines)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var followUpErrs []string
	var result *PlaceOrderResult

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCasePlaceOrder),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCasePlaceOrder),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if result != nil {
			fields = append(fields,
				observability.F("order_ids", strings.Join(result.OrderIDs, ",")),
				observability.F("amount_minor", result.AmountMinor),
			)
		}
		if len(followUpErrs) > 0 {
			fields = append(fields, observability.F("follow_up_errors", strings.Join(followUpErrs, "; ")))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	email := strings.TrimSpace(cmd.Email)
	if email == "" {
		outcome, statusText = "error", "EMAIL_REQUIRED"
		return nil, newValidation("email is required")
	}
	if len(cmd.Lines) == 0 {
		outcome, statusText = "error", "LINES_REQUIRED"
		return nil, newValidation("at least one line item is required")
	}
	for _, l := range cmd.Lines {
		if verr := l.Validate(); verr != nil {
			outcome, statusText = "error", "LINE_INVALID"
			return nil, newValidation(fmt.Sprintf("line %q: %s", l.ProductID, strings.TrimPrefix(verr.Error(), "order: ")))
		}
	}
	if cmd.Shipping != nil {
		if verr := cmd.Shipping.Validate(); verr != nil {
			outcome, statusText = "error", "SHIPPING_INVALID"
			return nil, newValidation("missing " + strings.Join(cmd.Shipping.Missing(), ", "))
		}
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	avail, cerr := uc.eligibility.CheckCartAvailability(ctx, cmd.Lines)
	if cerr != nil {
		outcome, statusText = "error", "PRECHECK_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrTransaction, cerr)
	}
	if !avail.AllAvailable {
		outcome, statusText = "rejected", "INSUFFICIENT_STOCK"
		uc.countShortage(cmd.Source, stagePrecheck)
		return nil, &inventory.ShortageError{Items: avail.Shortages}
	}

	if cmd.RejectOwned {
		owned, oerr := uc.eligibility.AlreadyPurchased(ctx, email, cmd.Lines, avail.Levels)
		if oerr != nil {
			outcome, statusText = "error", "PURCHASE_LOOKUP_FAILED"
			return nil, fmt.Errorf("%w: %w", ErrTransaction, oerr)
		}
		if len(owned) > 0 {
			outcome, statusText = "rejected", "DUPLICATE_PURCHASE"
			return nil, &domain.DuplicateError{Items: owned}
		}
	}

	req := domain.PlacementRequest{
		Email:           email,
		CandidateUserID: uc.idGenerator.NewID(),
		Lines:           make([]domain.PlacementLine, 0, len(cmd.Lines)),
		At:              uc.now(),
		RejectOwned:     cmd.RejectOwned,
	}
	for _, l := range cmd.Lines {
		req.Lines = append(req.Lines, domain.PlacementLine{OrderID: uc.idGenerator.NewID(), Item: l})
	}

	placement, perr := uc.store.Place(ctx, req)
	if perr != nil {
		switch {
		case errors.Is(perr, inventory.ErrInsufficientStock):
			outcome, statusText = "rejected", "INSUFFICIENT_STOCK_AT_COMMIT"
			uc.countShortage(cmd.Source, stageCommit)
			span.AddEvent("order.stock_race_lost")
			return nil, perr
		case errors.Is(perr, domain.ErrDuplicatePurchase):
			outcome, statusText = "rejected", "DUPLICATE_PURCHASE_AT_COMMIT"
			span.AddEvent("order.duplicate_race_lost")
			return nil, perr
		case errors.Is(perr, domain.ErrValidation), errors.Is(perr, domain.ErrEmptyOrder):
			outcome, statusText = "error", "STORE_VALIDATION_FAILED"
			return nil, newValidation(perr.Error())
		default:
			outcome, statusText = "error", "TRANSACTION_FAILED"
			return nil, fmt.Errorf("%w: %w", ErrTransaction, perr)
		}
	}

	result = &PlaceOrderResult{
		UserID:    placement.User.ID,
		OrderIDs:  make([]string, 0, len(placement.Orders)),
		Remaining: placement.Remaining,
	}
	for _, o := range placement.Orders {
		result.OrderIDs = append(result.OrderIDs, o.ID)
		result.AmountMinor += o.PricePaid
	}
	span.SetAttributes(
		attribute.String("order.user_id", result.UserID),
		attribute.StringSlice("order.ids", result.OrderIDs),
	)
	span.AddEvent("order.placed")

	// Post-commit follow-ups never fail the placement.
	ctx = context.WithoutCancel(ctx)
	if cmd.IssueVerification && len(placement.Orders) == 1 {
		id, verr := uc.issueVerification(ctx, placement.Orders[0].ProductID)
		if verr != nil {
			statusText = "VERIFICATION_FAILED"
			followUpErrs = append(followUpErrs, verr.Error())
			span.RecordError(verr)
			logger.Warn("download_verification_failed", observability.F("error", verr))
		}
		result.VerificationID = id
	}

	evt := domain.NewOrderPlacedEvent(placement, cmd.Source, result.VerificationID)
	evt.Shipping = cmd.Shipping
	if perr := uc.publish(ctx, evt); perr != nil {
		statusText = "EVENT_PUBLISH_FAILED"
		followUpErrs = append(followUpErrs, perr.Error())
		span.RecordError(perr)
		logger.Warn("event_publish_failed",
			observability.F("event", evt.EventName()),
			observability.F("error", perr),
		)
	}

	return result, nil
}

func (uc *PlaceOrderUseCase) issueVerification(ctx context.Context, productID string) (string, error) {
	v := domain.NewDownloadVerification(uc.idGenerator.NewID(), productID, uc.now(), uc.downloadTTL)
	if err := uc.store.CreateDownloadVerification(ctx, v); err != nil {
		return "", fmt.Errorf("order: create download verification: %w", err)
	}
	return v.ID, nil
}

func (uc *PlaceOrderUseCase) publish(ctx context.Context, evt domain.OrderPlacedEvent) error {
	if uc.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	pubStart := time.Now()
	pubOutcome := "success"
	err := uc.publisher.Publish(pubCtx, evt)
	if err != nil {
		pubOutcome = "error"
	}

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", evt.EventName()),
		observability.L("outcome", pubOutcome),
	)
	uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", evt.EventName()),
	)
	return err
}

func (uc *PlaceOrderUseCase) countShortage(source, stage string) {
	uc.stockCounter.Add(1,
		observability.L("path", source),
		observability.L("stage", stage),
	)
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return "validation: " + e.msg }
func (e *validationError) Unwrap() error { return domain.ErrValidation }

func newValidation(msg string) error {
	return &validationError{msg: msg}
}
