package order

import (
	"encoding/json"
	"fmt"
	"time"
)

const EventOrderPlaced = "order.placed"

// Purchase sources.
const (
	SourceCashOnDelivery = "cod"
	SourceCart           = "cart"
	SourceStripe         = "stripe"
)

type PlacedLine struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	PricePaid int64  `json:"price_paid"`
}

// OrderPlacedEvent is published after a placement commits. Consumers send the buyer confirmation.
// Remaining carries the stock left per product right after the commit.
type OrderPlacedEvent struct {
	UserID         string         `json:"user_id"`
	Email          string         `json:"email"`
	Source         string         `json:"source"`
	Lines          []PlacedLine   `json:"lines"`
	AmountMinor    int64          `json:"amount_minor"`
	VerificationID string         `json:"verification_id,omitempty"`
	Shipping       *Shipping      `json:"shipping,omitempty"`
	Remaining      map[string]int `json:"remaining,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

func (OrderPlacedEvent) EventName() string { return EventOrderPlaced }

func NewOrderPlacedEvent(p *Placement, source, verificationID string) OrderPlacedEvent {
	e := OrderPlacedEvent{
		UserID:         p.User.ID,
		Email:          p.User.Email,
		Source:         source,
		VerificationID: verificationID,
		Lines:          make([]PlacedLine, 0, len(p.Orders)),
		Remaining:      p.Remaining,
		OccurredAt:     time.Now().UTC(),
	}
	for _, o := range p.Orders {
		e.Lines = append(e.Lines, PlacedLine{
			OrderID:   o.ID,
			ProductID: o.ProductID,
			Quantity:  o.Quantity,
			PricePaid: o.PricePaid,
		})
		e.AmountMinor += o.PricePaid
	}
	return e
}

// OrderIDs lists the order ids carried by the event.
func (e OrderPlacedEvent) OrderIDs() []string {
	out := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		out = append(out, l.OrderID)
	}
	return out
}

// DecodeOrderPlacedEvent restores an event persisted as JSON by an outbox.
func DecodeOrderPlacedEvent(payload []byte) (OrderPlacedEvent, error) {
	var e OrderPlacedEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return OrderPlacedEvent{}, fmt.Errorf("order: decode %s: %w", EventOrderPlaced, err)
	}
	return e, nil
}
