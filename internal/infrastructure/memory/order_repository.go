package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
)

// Place validates every line against current stock and applies all writes under the write lock.
// Nothing is touched until every check has passed.
func (s *Store) Place(ctx context.Context, req order.PlacementRequest) (*order.Placement, error) {
	if len(req.Lines) == 0 {
		return nil, order.ErrEmptyOrder
	}
	if req.Email == "" {
		return nil, fmt.Errorf("order repository: %w: email is required", order.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make([]order.LineItem, 0, len(req.Lines))
	for _, l := range req.Lines {
		items = append(items, l.Item)
	}

	levels := make(map[string]inventory.Level, len(req.Lines))
	demand := order.Demand(items)
	var shortages []inventory.Shortage
	for _, productID := range order.ProductIDs(items) {
		want := demand[productID]
		p, ok := s.products[productID]
		if !ok {
			shortages = append(shortages, inventory.Shortage{ProductID: productID, Requested: want})
			continue
		}
		lvl := inventory.Level{ProductID: productID, Name: p.Name, Quantity: p.StockQuantity}
		if err := lvl.Deduct(want); err != nil {
			shortages = append(shortages, inventory.Shortage{
				ProductID: productID, Name: p.Name, Requested: want, Available: p.StockQuantity,
			})
			continue
		}
		levels[productID] = lvl
	}
	if len(shortages) > 0 {
		return nil, &inventory.ShortageError{Items: shortages}
	}

	user, created := s.users[req.Email], false
	if user != nil && req.RejectOwned {
		if owned := s.ownedLocked(user.ID, order.ProductIDs(items)); len(owned) > 0 {
			return nil, &order.DuplicateError{Items: owned}
		}
	}
	if user == nil {
		if req.CandidateUserID == "" {
			return nil, errors.New("order repository: candidate user id is required")
		}
		user = &order.User{ID: req.CandidateUserID, Email: req.Email, CreatedAt: req.At.UTC()}
		created = true
	}

	orders := make([]*order.Order, 0, len(req.Lines))
	for _, l := range req.Lines {
		o, err := order.New(l.OrderID, user.ID, l.Item.ProductID, l.Item.Quantity, l.Item.Total(), req.At)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	// commit
	if created {
		s.users[req.Email] = user
	}
	placement := &order.Placement{
		User:      *user,
		Orders:    make([]order.Order, 0, len(orders)),
		Remaining: make(map[string]int, len(levels)),
	}
	for _, o := range orders {
		s.orders = append(s.orders, o)
		placement.Orders = append(placement.Orders, *o)
	}
	for id, lvl := range levels {
		s.products[id].StockQuantity = lvl.Quantity
		placement.Remaining[id] = lvl.Quantity
	}
	return placement, nil
}

// ownedLocked returns the names of the products in ids the user already bought. Caller holds s.mu.
func (s *Store) ownedLocked(userID string, ids []string) []string {
	var owned []string
	for _, id := range ids {
		for _, o := range s.orders {
			if o.UserID != userID || o.ProductID != id {
				continue
			}
			label := id
			if p, ok := s.products[id]; ok && p.Name != "" {
				label = p.Name
			}
			owned = append(owned, label)
			break
		}
	}
	return owned
}

func (s *Store) HasPurchased(ctx context.Context, email, productID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[email]
	if !ok {
		return false, nil
	}
	for _, o := range s.orders {
		if o.UserID == user.ID && o.ProductID == productID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateDownloadVerification(ctx context.Context, v *order.DownloadVerification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v == nil || v.ID == "" {
		return fmt.Errorf("order repository: verification id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.verifications[v.ID]; exists {
		return order.ErrConflict
	}
	clone := *v
	s.verifications[v.ID] = &clone
	return nil
}
