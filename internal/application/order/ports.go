package order

import (
	"context"

	"github.com/Zhima-Mochi/coffeeshop/internal/application/eligibility"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
)

type IDGenerator interface {
	NewID() string
}

// Eligibility is the advisory pre-check run before the placement transaction.
type Eligibility interface {
	CheckCartAvailability(ctx context.Context, lines []domain.LineItem) (*eligibility.CartAvailability, error)
	AlreadyPurchased(ctx context.Context, email string, lines []domain.LineItem, levels map[string]inventory.Level) ([]string, error)
}
