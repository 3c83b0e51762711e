package cart

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("cart: not found")

type Item struct {
	ProductID string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"price_minor"`
	ImagePath string `json:"image_path,omitempty"`
	Quantity  int    `json:"quantity"`
}

// State is a session's cart. Total is Σ UnitPrice×Quantity in minor units.
type State struct {
	Items []Item `json:"items"`
	Total int64  `json:"total"`
}

// Empty reports whether the cart has no lines.
func (s State) Empty() bool { return len(s.Items) == 0 }

// Store persists cart state per session.
type Store interface {
	Load(ctx context.Context, sessionID string) (State, error)
	Save(ctx context.Context, sessionID string, s State) error
	Delete(ctx context.Context, sessionID string) error
}
