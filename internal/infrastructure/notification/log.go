// Package notification holds Notifier adapters.
package notification

import (
	"context"

	dominv "github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"
)

// LogNotifier writes notices to the structured log instead of sending mail.
type LogNotifier struct {
	log observability.Logger
}

func NewLogNotifier(logger observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{log: logger.With(observability.F("component", "notifier"))}
}

func (n *LogNotifier) OrderConfirmation(ctx context.Context, e domorder.OrderPlacedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := []observability.Field{
		observability.F("to", e.Email),
		observability.F("order_ids", e.OrderIDs()),
		observability.F("amount_minor", e.AmountMinor),
		observability.F("source", e.Source),
	}
	if e.VerificationID != "" {
		fields = append(fields, observability.F("verification_id", e.VerificationID))
	}
	if e.Shipping != nil {
		fields = append(fields,
			observability.F("ship_to", e.Shipping.Name),
			observability.F("ship_city", e.Shipping.City),
		)
	}
	logctx.FromOr(ctx, n.log).Info("order_confirmation_sent", fields...)
	return nil
}

func (n *LogNotifier) StockDepleted(ctx context.Context, e dominv.StockDepletedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logctx.FromOr(ctx, n.log).Warn("stock_depleted_notice",
		observability.F("product_id", e.ProductID),
		observability.F("order_ids", e.OrderIDs),
	)
	return nil
}
