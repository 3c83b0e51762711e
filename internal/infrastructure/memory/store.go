package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
)

// Store keeps products, users, orders and download verifications behind one lock,
// so a placement is applied as a single atomic step.
type Store struct {
	mu            sync.RWMutex
	products      map[string]*catalog.Product
	users         map[string]*order.User // by email
	orders        []*order.Order
	verifications map[string]*order.DownloadVerification
}

func NewStore(products ...catalog.Product) *Store {
	s := &Store{
		products:      make(map[string]*catalog.Product),
		users:         make(map[string]*order.User),
		verifications: make(map[string]*order.DownloadVerification),
	}
	for _, p := range products {
		s.PutProduct(p)
	}
	return s
}

// PutProduct inserts or replaces a product (administrative restocking).
func (s *Store) PutProduct(p catalog.Product) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

// UpsertProduct is PutProduct behind the seeding signature shared with the postgres store.
func (s *Store) UpsertProduct(ctx context.Context, p catalog.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.PutProduct(p)
	return nil
}

// Orders returns a snapshot of every order row.
func (s *Store) Orders() []order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out
}

// User returns the user registered under email.
func (s *Store) User(email string) (order.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return order.User{}, false
	}
	return *u, true
}

// Verification returns a stored download verification.
func (s *Store) Verification(id string) (order.DownloadVerification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifications[id]
	if !ok {
		return order.DownloadVerification{}, false
	}
	return *v, true
}
