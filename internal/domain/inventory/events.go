package inventory

import (
	"encoding/json"
	"fmt"
	"time"
)

const EventStockDepleted = "inventory.depleted"

// StockDepletedEvent is emitted when a committed purchase takes a product to zero units.
type StockDepletedEvent struct {
	ProductID  string    `json:"product_id"`
	OrderIDs   []string  `json:"order_ids,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (StockDepletedEvent) EventName() string { return EventStockDepleted }

func NewStockDepletedEvent(productID string, orderIDs []string) StockDepletedEvent {
	return StockDepletedEvent{
		ProductID:  productID,
		OrderIDs:   orderIDs,
		OccurredAt: time.Now().UTC(),
	}
}

// DecodeStockDepletedEvent restores an event persisted as JSON by an outbox.
func DecodeStockDepletedEvent(payload []byte) (StockDepletedEvent, error) {
	var e StockDepletedEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return StockDepletedEvent{}, fmt.Errorf("inventory: decode %s: %w", EventStockDepleted, err)
	}
	return e, nil
}
