package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("catalog: product not found")

// Product is a sellable item. PriceMinor is in the currency's minor unit (piasters).
type Product struct {
	ID            string
	Name          string
	Description   string
	PriceMinor    int64
	StockQuantity int
	Available     bool
	Category      string
	ImagePath     string
	CreatedAt     time.Time
}

// InStock reports whether at least one unit can be sold.
func (p Product) InStock() bool {
	return p.Available && p.StockQuantity > 0
}

type Repository interface {
	ListProducts(ctx context.Context, onlyAvailable bool) ([]Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
}

// Sort orders a product listing.
type Sort string

const (
	SortName    Sort = "name"
	SortNewest  Sort = "newest"
	SortPopular Sort = "popular"
)

// ParseSort maps an empty value to SortName and rejects unknown ones.
func ParseSort(v string) (Sort, error) {
	switch Sort(v) {
	case "", SortName:
		return SortName, nil
	case SortNewest, SortPopular:
		return Sort(v), nil
	}
	return "", fmt.Errorf("catalog: unknown sort %q", v)
}

// Query selects a listing. Popular ranks by order count; ties fall back to name then id.
// Limit <= 0 means no limit.
type Query struct {
	OnlyAvailable bool
	Category      string
	Sort          Sort
	Limit         int
}

type Browser interface {
	Repository
	QueryProducts(ctx context.Context, q Query) ([]Product, error)
}
