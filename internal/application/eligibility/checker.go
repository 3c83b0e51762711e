// Package eligibility answers whether a purchase may proceed. Every answer is advisory:
// stock is re-checked inside the placement transaction.
package eligibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
)

type PurchaseHistory interface {
	HasPurchased(ctx context.Context, email, productID string) (bool, error)
}

type Checker struct {
	ledger  inventory.Ledger
	history PurchaseHistory
}

func New(ledger inventory.Ledger, history PurchaseHistory) *Checker {
	return &Checker{ledger: ledger, history: history}
}

// CartAvailability is the result of a batched stock check.
// Insufficient holds product names, or ids for unknown products, in request order.
type CartAvailability struct {
	AllAvailable bool
	Insufficient []string
	Shortages    []inventory.Shortage
	Levels       map[string]inventory.Level
}

func (c *Checker) HasPurchased(ctx context.Context, email, productID string) (bool, error) {
	ok, err := c.history.HasPurchased(ctx, email, productID)
	if err != nil {
		return false, fmt.Errorf("eligibility: has purchased: %w", err)
	}
	return ok, nil
}

// CheckAvailability reports false, not an error, for unknown products.
func (c *Checker) CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error) {
	stock, err := c.ledger.GetStock(ctx, productID)
	if errors.Is(err, inventory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("eligibility: get stock: %w", err)
	}
	return quantity > 0 && stock >= quantity, nil
}

// CheckCartAvailability reads all stock levels at once. Quantities of repeated lines are summed per product.
func (c *Checker) CheckCartAvailability(ctx context.Context, lines []order.LineItem) (*CartAvailability, error) {
	ids := order.ProductIDs(lines)
	levels, err := c.ledger.GetStockBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("eligibility: get stock batch: %w", err)
	}

	demand := order.Demand(lines)
	res := &CartAvailability{AllAvailable: true, Levels: levels}
	for _, id := range ids {
		want := demand[id]
		lvl, ok := levels[id]
		if ok && lvl.Covers(want) {
			continue
		}
		s := inventory.Shortage{ProductID: id, Requested: want}
		if ok {
			s.Name, s.Available = lvl.Name, lvl.Quantity
		}
		res.AllAvailable = false
		res.Shortages = append(res.Shortages, s)
		res.Insufficient = append(res.Insufficient, s.Label())
	}
	return res, nil
}

// AlreadyPurchased returns the labels of products in lines that email already owns.
func (c *Checker) AlreadyPurchased(ctx context.Context, email string, lines []order.LineItem, levels map[string]inventory.Level) ([]string, error) {
	var owned []string
	for _, id := range order.ProductIDs(lines) {
		ok, err := c.HasPurchased(ctx, email, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		label := id
		if lvl, found := levels[id]; found && lvl.Name != "" {
			label = lvl.Name
		}
		owned = append(owned, label)
	}
	return owned, nil
}
