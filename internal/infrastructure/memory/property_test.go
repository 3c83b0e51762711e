package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	"pgregory.net/rapid"
)

// Stock never goes negative and a failed placement leaves every level untouched.
func TestPlacementPreservesStock(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 4).Draw(t, "products")
		products := make([]catalog.Product, 0, n)
		for i := 0; i < n; i++ {
			products = append(products, catalog.Product{
				ID:            fmt.Sprintf("p%d", i),
				Name:          fmt.Sprintf("Product %d", i),
				PriceMinor:    rapid.Int64Range(0, 10_000).Draw(t, "price"),
				StockQuantity: rapid.IntRange(0, 5).Draw(t, "stock"),
				Available:     true,
			})
		}
		s := NewStore(products...)
		ctx := context.Background()

		steps := rapid.IntRange(1, 6).Draw(t, "steps")
		for step := 0; step < steps; step++ {
			before := snapshot(t, s, products)
			lines := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) order.LineItem {
				p := rapid.SampledFrom(products).Draw(t, "product")
				return order.LineItem{ProductID: p.ID, Quantity: rapid.IntRange(1, 4).Draw(t, "qty"), UnitPrice: p.PriceMinor}
			}), 1, 3).Draw(t, "lines")

			req := order.PlacementRequest{Email: fmt.Sprintf("b%d@y.z", step), CandidateUserID: fmt.Sprintf("u%d", step), At: time.Now()}
			for i, l := range lines {
				req.Lines = append(req.Lines, order.PlacementLine{OrderID: fmt.Sprintf("o%d-%d", step, i), Item: l})
			}

			demand := order.Demand(lines)
			covered := true
			for id, want := range demand {
				if before[id] < want {
					covered = false
				}
			}

			p, err := s.Place(ctx, req)
			after := snapshot(t, s, products)
			if !covered {
				if !errors.Is(err, inventory.ErrInsufficientStock) {
					t.Fatalf("expected shortage, got %v", err)
				}
				for id := range before {
					if before[id] != after[id] {
						t.Fatalf("stock of %s changed on failure: %d -> %d", id, before[id], after[id])
					}
				}
				continue
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for id, lvl := range after {
				if lvl < 0 {
					t.Fatalf("negative stock for %s", id)
				}
				if before[id]-lvl != demand[id] {
					t.Fatalf("stock of %s moved by %d, demand %d", id, before[id]-lvl, demand[id])
				}
			}
			for i, o := range p.Orders {
				if o.PricePaid != lines[i].Total() {
					t.Fatalf("price paid %d, want %d", o.PricePaid, lines[i].Total())
				}
			}
		}
	})
}

func snapshot(t *rapid.T, s *Store, products []catalog.Product) map[string]int {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	levels, err := s.GetStockBatch(context.Background(), ids)
	if err != nil {
		t.Fatalf("stock batch: %v", err)
	}
	out := make(map[string]int, len(levels))
	for id, l := range levels {
		out[id] = l.Quantity
	}
	return out
}
