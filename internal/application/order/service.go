package order

import (
	"context"
	"errors"
	"strings"

	"github.com/Zhima-Mochi/coffeeshop/internal/application"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/payment"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"
)

// Kind classifies a failed purchase.
type Kind string

const (
	KindNone              Kind = ""
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindDuplicatePurchase Kind = "duplicate_purchase"
	KindTransaction       Kind = "transaction_failure"
)

// Result is what every purchase entry point returns. Errors never cross this boundary.
type Result struct {
	Success          bool     `json:"success"`
	Kind             Kind     `json:"kind,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	OutOfStock       []string `json:"out_of_stock,omitempty"`
	AlreadyPurchased []string `json:"already_purchased,omitempty"`
	OrderIDs         []string `json:"order_ids,omitempty"`
	AmountMinor      int64    `json:"amount_minor,omitempty"`
	VerificationID   string   `json:"verification_id,omitempty"`
}

// Service is the order placement entry point for the storefront, the cart and the payment webhook.
type Service struct {
	placer   application.UseCase[PlaceOrderInput, *PlaceOrderResult]
	products catalog.Repository
	log      observability.Logger
}

func NewService(
	placer application.UseCase[PlaceOrderInput, *PlaceOrderResult],
	products catalog.Repository,
	logger observability.Logger,
) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		placer:   placer,
		products: products,
		log:      logger.With(observability.F("component", "order_service")),
	}
}

type PurchaseProductInput struct {
	ProductID string
	Quantity  int
	Email     string
	Shipping  domain.Shipping
}

// PurchaseProduct is the cash-on-delivery checkout of a single product.
// The buyer may not already own it, and a download verification is issued on success.
func (s *Service) PurchaseProduct(ctx context.Context, in PurchaseProductInput) Result {
	if strings.TrimSpace(in.Email) == "" {
		return invalid("email is required")
	}
	if missing := in.Shipping.Missing(); len(missing) > 0 {
		return invalid("missing " + strings.Join(missing, ", "))
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return invalid("product id is required")
	}
	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return invalid("quantity must be greater than zero")
	}

	p, res, ok := s.sellable(ctx, in.ProductID)
	if !ok {
		return res
	}

	shipping := in.Shipping
	out, err := s.placer.Execute(ctx, PlaceOrderInput{
		Source:            domain.SourceCashOnDelivery,
		Email:             in.Email,
		Lines:             []domain.LineItem{{ProductID: p.ID, Quantity: qty, UnitPrice: p.PriceMinor}},
		Shipping:          &shipping,
		RejectOwned:       true,
		IssueVerification: true,
	})
	return s.result(ctx, out, err)
}

type CartLine struct {
	ProductID string
	Quantity  int
}

// PurchaseCart places every line in one transaction. Prices come from the catalog, not the client.
// The whole cart is rejected if any line is out of stock or already owned.
func (s *Service) PurchaseCart(ctx context.Context, email string, lines []CartLine) Result {
	if strings.TrimSpace(email) == "" {
		return invalid("email is required")
	}
	if len(lines) == 0 {
		return invalid("cart is empty")
	}

	items := make([]domain.LineItem, 0, len(lines))
	var unavailable []string
	for _, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" || l.Quantity <= 0 {
			return invalid("every cart line needs a product id and a positive quantity")
		}
		item := domain.LineItem{ProductID: l.ProductID, Quantity: l.Quantity}
		p, err := s.products.GetProduct(ctx, l.ProductID)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			// left to the stock check, which reports unknown products by id
		case err != nil:
			return s.result(ctx, nil, err)
		case !p.Available:
			unavailable = append(unavailable, p.Name)
			continue
		default:
			item.UnitPrice = p.PriceMinor
		}
		items = append(items, item)
	}
	if len(unavailable) > 0 {
		return Result{
			Kind:       KindInsufficientStock,
			Reason:     "some items are out of stock",
			OutOfStock: unavailable,
		}
	}

	out, err := s.placer.Execute(ctx, PlaceOrderInput{
		Source:      domain.SourceCart,
		Email:       email,
		Lines:       items,
		RejectOwned: true,
	})
	return s.result(ctx, out, err)
}

// HandleChargeSucceeded places a one-unit order for a verified payment at the charged amount.
func (s *Service) HandleChargeSucceeded(ctx context.Context, charge payment.ChargeSucceeded) Result {
	if strings.TrimSpace(charge.Email) == "" {
		return invalid("email is required")
	}
	if strings.TrimSpace(charge.ProductID) == "" {
		return invalid("product id is required")
	}
	if charge.AmountMinor < 0 {
		return invalid("amount must be zero or greater")
	}

	p, res, ok := s.sellable(ctx, charge.ProductID)
	if !ok {
		return res
	}

	out, err := s.placer.Execute(ctx, PlaceOrderInput{
		Source:            domain.SourceStripe,
		Email:             charge.Email,
		Lines:             []domain.LineItem{{ProductID: p.ID, Quantity: 1, UnitPrice: charge.AmountMinor}},
		IssueVerification: true,
	})
	return s.result(ctx, out, err)
}

// sellable loads a product and rejects unknown or withdrawn ones.
func (s *Service) sellable(ctx context.Context, productID string) (*catalog.Product, Result, bool) {
	p, err := s.products.GetProduct(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, Result{Kind: KindNotFound, Reason: "product not found"}, false
	}
	if err != nil {
		return nil, s.result(ctx, nil, err), false
	}
	if !p.InStock() {
		return nil, Result{
			Kind:       KindInsufficientStock,
			Reason:     "product is out of stock",
			OutOfStock: []string{p.Name},
		}, false
	}
	return p, Result{}, true
}

func (s *Service) result(ctx context.Context, out *PlaceOrderResult, err error) Result {
	if err == nil {
		return Result{
			Success:        true,
			OrderIDs:       out.OrderIDs,
			AmountMinor:    out.AmountMinor,
			VerificationID: out.VerificationID,
		}
	}

	var shortage *inventory.ShortageError
	var owned *domain.DuplicateError
	var verr *validationError
	switch {
	case errors.As(err, &verr):
		return Result{Kind: KindValidation, Reason: verr.msg}
	case errors.As(err, &shortage):
		return Result{
			Kind:       KindInsufficientStock,
			Reason:     "some items are out of stock",
			OutOfStock: shortage.Labels(),
		}
	case errors.As(err, &owned):
		return Result{
			Kind:             KindDuplicatePurchase,
			Reason:           "already purchased",
			AlreadyPurchased: owned.Items,
		}
	case errors.Is(err, domain.ErrValidation):
		return Result{Kind: KindValidation, Reason: err.Error()}
	default:
		logctx.FromOr(ctx, s.log).Error("purchase_failed", observability.F("error", err))
		return Result{Kind: KindTransaction, Reason: "the order could not be placed, please try again"}
	}
}

func invalid(reason string) Result {
	return Result{Kind: KindValidation, Reason: reason}
}
