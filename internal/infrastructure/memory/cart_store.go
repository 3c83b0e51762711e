package memory

import (
	"context"
	"sync"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/cart"
)

// CartStore keeps session carts in process memory.
type CartStore struct {
	mu    sync.RWMutex
	carts map[string]cart.State
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]cart.State)}
}

func (c *CartStore) Load(_ context.Context, sessionID string) (cart.State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.carts[sessionID]
	if !ok {
		return cart.State{Items: []cart.Item{}}, nil
	}
	return cart.Reduce(cart.State{}, cart.Load(s)), nil
}

func (c *CartStore) Save(_ context.Context, sessionID string, s cart.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[sessionID] = cart.Reduce(cart.State{}, cart.Load(s))
	return nil
}

func (c *CartStore) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, sessionID)
	return nil
}
