package order

import (
	"context"
	"time"
)

// PlacementLine pairs a line item with the id its order row will get.
type PlacementLine struct {
	OrderID string
	Item    LineItem
}

// PlacementRequest is the input of the atomic placement. CandidateUserID is used only when the email is new.
type PlacementRequest struct {
	Email           string
	CandidateUserID string
	Lines           []PlacementLine
	At              time.Time
	// RejectOwned fails the placement with a *DuplicateError when the buyer already owns a product.
	RejectOwned bool
}

// Placement is what a committed transaction wrote.
type Placement struct {
	User   User
	Orders []Order
	// Remaining is the stock left per product after the decrement.
	Remaining map[string]int
}

// Store is the only writer of orders and stock decrements.
type Store interface {
	// Place re-reads stock inside one transaction, fails with an *inventory.ShortageError when any
	// line is not covered, or with a *DuplicateError when RejectOwned is set and the buyer already
	// owns a product. Otherwise it upserts the user, inserts one order per line and decrements stock.
	// On error nothing is written.
	Place(ctx context.Context, req PlacementRequest) (*Placement, error)
	HasPurchased(ctx context.Context, email, productID string) (bool, error)
	CreateDownloadVerification(ctx context.Context, v *DownloadVerification) error
}

// Totals is an aggregate of order rows.
type Totals struct {
	AmountMinor int64
	Orders      int
}

// SalesSummary backs the admin dashboard.
type SalesSummary struct {
	Total               Totals
	Today               Totals
	Month               Totals
	Users               int
	AverageValuePerUser int64
	AvailableProducts   int
	UnavailableProducts int
}

type SalesReader interface {
	SalesSummary(ctx context.Context, dayStart, monthStart time.Time) (*SalesSummary, error)
}
