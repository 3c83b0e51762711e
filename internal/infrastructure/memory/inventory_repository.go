package memory

import (
	"context"
	"sort"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
)

func (s *Store) GetStock(ctx context.Context, productID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return 0, inventory.ErrNotFound
	}
	return p.StockQuantity, nil
}

func (s *Store) GetStockBatch(ctx context.Context, productIDs []string) (map[string]inventory.Level, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]inventory.Level, len(productIDs))
	for _, id := range productIDs {
		if p, ok := s.products[id]; ok {
			out[id] = inventory.Level{ProductID: id, Name: p.Name, Quantity: p.StockQuantity}
		}
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context, onlyAvailable bool) ([]catalog.Product, error) {
	return s.QueryProducts(ctx, catalog.Query{OnlyAvailable: onlyAvailable})
}

func (s *Store) QueryProducts(ctx context.Context, q catalog.Query) ([]catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Product, 0, len(s.products))
	for _, p := range s.products {
		if q.OnlyAvailable && !p.Available {
			continue
		}
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		out = append(out, *p)
	}

	var sold map[string]int
	if q.Sort == catalog.SortPopular {
		sold = make(map[string]int)
		for _, o := range s.orders {
			sold[o.ProductID]++
		}
	}
	byName := func(a, b catalog.Product) bool {
		if a.Name == b.Name {
			return a.ID < b.ID
		}
		return a.Name < b.Name
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch q.Sort {
		case catalog.SortNewest:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID < b.ID
		case catalog.SortPopular:
			if sold[a.ID] != sold[b.ID] {
				return sold[a.ID] > sold[b.ID]
			}
		}
		return byName(a, b)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	clone := *p
	return &clone, nil
}
