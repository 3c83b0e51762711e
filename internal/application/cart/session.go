// Package cart keeps server-side session carts and checks them out.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apporder "github.com/Zhima-Mochi/coffeeshop/internal/application/order"
	domcart "github.com/Zhima-Mochi/coffeeshop/internal/domain/cart"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"
)

var (
	ErrInvalidSession = errors.New("cart: session id is required")
	ErrUnknownAction  = errors.New("cart: unknown action")
)

// Purchaser places a cart in one transaction.
type Purchaser interface {
	PurchaseCart(ctx context.Context, email string, lines []apporder.CartLine) apporder.Result
}

type Session struct {
	store     domcart.Store
	products  catalog.Repository
	purchaser Purchaser
	log       observability.Logger
}

func NewSession(store domcart.Store, products catalog.Repository, purchaser Purchaser, logger observability.Logger) *Session {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Session{
		store:     store,
		products:  products,
		purchaser: purchaser,
		log:       logger.With(observability.F("service", "cart-session")),
	}
}

func (s *Session) Get(ctx context.Context, sessionID string) (domcart.State, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domcart.State{}, ErrInvalidSession
	}
	st, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return domcart.State{}, fmt.Errorf("cart: load: %w", err)
	}
	return st, nil
}

// Apply loads the cart, reduces it with a and saves the result.
// Added items take name, price and image from the catalog.
func (s *Session) Apply(ctx context.Context, sessionID string, a domcart.Action) (domcart.State, error) {
	switch a.Type {
	case domcart.ActionAddItem, domcart.ActionRemoveItem, domcart.ActionUpdateQuantity, domcart.ActionClear, domcart.ActionLoad:
	default:
		return domcart.State{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}

	st, err := s.Get(ctx, sessionID)
	if err != nil {
		return domcart.State{}, err
	}

	if a.Type == domcart.ActionAddItem {
		item, err := s.catalogItem(ctx, a.Item.ProductID)
		if err != nil {
			return domcart.State{}, err
		}
		a.Item = item
	}

	next := domcart.Reduce(st, a)
	if err := s.store.Save(ctx, sessionID, next); err != nil {
		return domcart.State{}, fmt.Errorf("cart: save: %w", err)
	}
	return next, nil
}

func (s *Session) catalogItem(ctx context.Context, productID string) (domcart.Item, error) {
	if strings.TrimSpace(productID) == "" {
		return domcart.Item{}, fmt.Errorf("cart: add item: %w", catalog.ErrNotFound)
	}
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return domcart.Item{}, fmt.Errorf("cart: add item: %w", err)
	}
	return domcart.Item{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.PriceMinor,
		ImagePath: p.ImagePath,
	}, nil
}

// Checkout purchases the stored cart and empties it when the purchase succeeds.
func (s *Session) Checkout(ctx context.Context, sessionID, email string) (apporder.Result, error) {
	st, err := s.Get(ctx, sessionID)
	if err != nil {
		return apporder.Result{}, err
	}

	lines := make([]apporder.CartLine, 0, len(st.Items))
	for _, it := range st.Items {
		lines = append(lines, apporder.CartLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	res := s.purchaser.PurchaseCart(ctx, email, lines)
	if !res.Success {
		return res, nil
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		// the purchase is committed; a stale cart is only an annoyance
		logctx.FromOr(ctx, s.log).Warn("cart_clear_failed",
			observability.F("session_id", sessionID),
			observability.F("error", err),
		)
	}
	return res, nil
}
