package order

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrValidation        = errors.New("order: validation failed")
	ErrInvalidQuantity   = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount     = errors.New("order: amount must be zero or greater")
	ErrEmptyOrder        = errors.New("order: no line items")
	ErrDuplicatePurchase = errors.New("order: product already purchased by buyer")
	ErrConflict          = errors.New("order: conflict")
	ErrTransaction       = errors.New("order: transaction failed")
)

// Order is one purchased line. It is written once and never mutated.
type Order struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
	PricePaid int64
	CreatedAt time.Time
}

func New(id, userID, productID string, quantity int, pricePaid int64, at time.Time) (*Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if pricePaid < 0 {
		return nil, ErrInvalidAmount
	}
	return &Order{
		ID:        id,
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		PricePaid: pricePaid,
		CreatedAt: at.UTC(),
	}, nil
}

// User is created lazily on first purchase and looked up by exact email.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// LineItem is a requested purchase of Quantity units at UnitPrice minor units each.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// Total is the price paid for the whole line.
func (l LineItem) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

func (l LineItem) Validate() error {
	if strings.TrimSpace(l.ProductID) == "" {
		return errors.Join(ErrValidation, errors.New("product id is required"))
	}
	if l.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if l.UnitPrice < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Total sums every line.
func Total(lines []LineItem) int64 {
	var sum int64
	for _, l := range lines {
		sum += l.Total()
	}
	return sum
}

// ProductIDs returns the distinct product ids in first-seen order.
func ProductIDs(lines []LineItem) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		out = append(out, l.ProductID)
	}
	return out
}

// Demand sums the requested quantity per product, so repeated lines for one product are checked together.
func Demand(lines []LineItem) map[string]int {
	out := make(map[string]int, len(lines))
	for _, l := range lines {
		out[l.ProductID] += l.Quantity
	}
	return out
}

// DuplicateError names the products a buyer already owns. It matches ErrDuplicatePurchase.
type DuplicateError struct {
	Items []string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicatePurchase, strings.Join(e.Items, ", "))
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicatePurchase }
