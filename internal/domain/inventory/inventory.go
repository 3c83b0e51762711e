package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// Level is the stock snapshot of one product.
type Level struct {
	ProductID string
	Name      string
	Quantity  int
}

// Covers reports whether the level can satisfy quantity units.
func (l Level) Covers(quantity int) bool {
	return quantity > 0 && l.Quantity >= quantity
}

// Deduct removes quantity units, refusing to go below zero.
func (l *Level) Deduct(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > l.Quantity {
		return ErrInsufficientStock
	}
	l.Quantity -= quantity
	return nil
}

// Ledger is the read side of stock. Implementations never mutate.
type Ledger interface {
	GetStock(ctx context.Context, productID string) (int, error)
	// GetStockBatch omits unknown ids from the result.
	GetStockBatch(ctx context.Context, productIDs []string) (map[string]Level, error)
}

// Shortage names a line that could not be covered.
type Shortage struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

// Label is the product name when known, otherwise its id.
func (s Shortage) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ProductID
}

// ShortageError is returned when stock cannot cover one or more lines. It matches ErrInsufficientStock.
type ShortageError struct {
	Items []Shortage
}

func (e *ShortageError) Error() string {
	labels := make([]string, 0, len(e.Items))
	for _, s := range e.Items {
		labels = append(labels, fmt.Sprintf("%s (requested %d, available %d)", s.Label(), s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(labels, ", "))
}

func (e *ShortageError) Is(target error) bool { return target == ErrInsufficientStock }

// Labels returns the shortage labels in order.
func (e *ShortageError) Labels() []string {
	out := make([]string, 0, len(e.Items))
	for _, s := range e.Items {
		out = append(out, s.Label())
	}
	return out
}
