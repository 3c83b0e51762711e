package memory

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
)

func (s *Store) SalesSummary(ctx context.Context, dayStart, monthStart time.Time) (*order.SalesSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum order.SalesSummary
	for _, o := range s.orders {
		sum.Total.AmountMinor += o.PricePaid
		sum.Total.Orders++
		if !o.CreatedAt.Before(dayStart) {
			sum.Today.AmountMinor += o.PricePaid
			sum.Today.Orders++
		}
		if !o.CreatedAt.Before(monthStart) {
			sum.Month.AmountMinor += o.PricePaid
			sum.Month.Orders++
		}
	}
	sum.Users = len(s.users)
	if sum.Users > 0 {
		sum.AverageValuePerUser = sum.Total.AmountMinor / int64(sum.Users)
	}
	for _, p := range s.products {
		if p.Available {
			sum.AvailableProducts++
		} else {
			sum.UnavailableProducts++
		}
	}
	return &sum, nil
}
