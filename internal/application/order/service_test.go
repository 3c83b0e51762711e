package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/coffeeshop/internal/application/eligibility"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	domain "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/payment"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/id"
)

var shipping = domain.Shipping{Name: "Mona", Phone: "0100", Address: "1 Nile St", City: "Cairo"}

func newService(t *testing.T, products ...catalog.Product) (*Service, *fixture) {
	t.Helper()
	f := newFixture(t, products...)
	return NewService(f.uc, f.store, nil), f
}

func TestPurchaseProduct(t *testing.T) {
	svc, f := newService(t, guide)

	res := svc.PurchaseProduct(context.Background(), PurchaseProductInput{ProductID: "g", Email: "x@y.z", Shipping: shipping})
	require.True(t, res.Success, res.Reason)
	assert.Len(t, res.OrderIDs, 1)
	assert.NotEmpty(t, res.VerificationID)
	assert.Equal(t, int64(1000), res.AmountMinor)

	events := f.publisher.placed()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Shipping)
	assert.Equal(t, "Cairo", events[0].Shipping.City)
	assert.Equal(t, domain.SourceCashOnDelivery, events[0].Source)
}

func TestPurchaseProductFailures(t *testing.T) {
	withdrawn := catalog.Product{ID: "w", Name: "Old Blend", PriceMinor: 900, StockQuantity: 4, Available: false}

	tests := []struct {
		name     string
		in       PurchaseProductInput
		wantKind Kind
	}{
		{"missing email", PurchaseProductInput{ProductID: "a", Shipping: shipping}, KindValidation},
		{"missing city", PurchaseProductInput{ProductID: "a", Email: "x@y.z", Shipping: domain.Shipping{Name: "M", Phone: "1", Address: "2"}}, KindValidation},
		{"negative quantity", PurchaseProductInput{ProductID: "a", Quantity: -1, Email: "x@y.z", Shipping: shipping}, KindValidation},
		{"unknown product", PurchaseProductInput{ProductID: "ghost", Email: "x@y.z", Shipping: shipping}, KindNotFound},
		{"sold out", PurchaseProductInput{ProductID: "b", Email: "x@y.z", Shipping: shipping}, KindInsufficientStock},
		{"withdrawn", PurchaseProductInput{ProductID: "w", Email: "x@y.z", Shipping: shipping}, KindInsufficientStock},
		{"more than stock", PurchaseProductInput{ProductID: "a", Quantity: 6, Email: "x@y.z", Shipping: shipping}, KindInsufficientStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, f := newService(t, beans, kit, withdrawn)
			res := svc.PurchaseProduct(context.Background(), tt.in)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantKind, res.Kind)
			assert.NotEmpty(t, res.Reason)
			assert.Empty(t, f.store.Orders())
		})
	}
}

func TestPurchaseProductTwice(t *testing.T) {
	svc, _ := newService(t, beans)
	in := PurchaseProductInput{ProductID: "a", Email: "x@y.z", Shipping: shipping}

	require.True(t, svc.PurchaseProduct(context.Background(), in).Success)
	res := svc.PurchaseProduct(context.Background(), in)
	assert.Equal(t, KindDuplicatePurchase, res.Kind)
	assert.Equal(t, []string{"Arabica"}, res.AlreadyPurchased)
}

func TestPurchaseCartUsesCatalogPrices(t *testing.T) {
	svc, f := newService(t, beans, guide)

	res := svc.PurchaseCart(context.Background(), "x@y.z", []CartLine{
		{ProductID: "a", Quantity: 2},
		{ProductID: "g", Quantity: 1},
	})
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, int64(3000), res.AmountMinor)
	assert.Empty(t, res.VerificationID)
	assert.Len(t, f.store.Orders(), 2)
}

func TestPurchaseCartScenario(t *testing.T) {
	svc, f := newService(t, beans, kit)

	res := svc.PurchaseCart(context.Background(), "x@y.z", []CartLine{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 1},
	})
	assert.False(t, res.Success)
	assert.Equal(t, KindInsufficientStock, res.Kind)
	assert.Equal(t, []string{"Brew Kit"}, res.OutOfStock)
	assert.Equal(t, 5, stock(t, f.store, "a"))
	assert.Empty(t, f.store.Orders())
}

func TestPurchaseCartUnknownProductReportedById(t *testing.T) {
	svc, _ := newService(t, beans)

	res := svc.PurchaseCart(context.Background(), "x@y.z", []CartLine{
		{ProductID: "a", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	})
	assert.Equal(t, KindInsufficientStock, res.Kind)
	assert.Equal(t, []string{"ghost"}, res.OutOfStock)
}

func TestPurchaseCartValidation(t *testing.T) {
	svc, _ := newService(t, beans)

	assert.Equal(t, KindValidation, svc.PurchaseCart(context.Background(), "", []CartLine{{ProductID: "a", Quantity: 1}}).Kind)
	assert.Equal(t, KindValidation, svc.PurchaseCart(context.Background(), "x@y.z", nil).Kind)
	assert.Equal(t, KindValidation, svc.PurchaseCart(context.Background(), "x@y.z", []CartLine{{ProductID: "a"}}).Kind)
}

func TestHandleChargeSucceeded(t *testing.T) {
	svc, f := newService(t, guide)

	res := svc.HandleChargeSucceeded(context.Background(), payment.ChargeSucceeded{
		EventID: "evt_1", ProductID: "g", Email: "x@y.z", AmountMinor: 1200,
	})
	require.True(t, res.Success, res.Reason)
	assert.NotEmpty(t, res.VerificationID)

	orders := f.store.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(1200), orders[0].PricePaid)

	events := f.publisher.placed()
	require.Len(t, events, 1)
	assert.Equal(t, domain.SourceStripe, events[0].Source)

	res = svc.HandleChargeSucceeded(context.Background(), payment.ChargeSucceeded{ProductID: "g", Email: "x@y.z", AmountMinor: 1200})
	assert.Equal(t, KindInsufficientStock, res.Kind)
}

func TestHandleChargeSucceededRejectsBadInput(t *testing.T) {
	svc, _ := newService(t, guide)

	assert.Equal(t, KindValidation, svc.HandleChargeSucceeded(context.Background(), payment.ChargeSucceeded{ProductID: "g"}).Kind)
	assert.Equal(t, KindNotFound, svc.HandleChargeSucceeded(context.Background(),
		payment.ChargeSucceeded{ProductID: "ghost", Email: "x@y.z"}).Kind)
}

type brokenCatalog struct{}

func (brokenCatalog) ListProducts(context.Context, bool) ([]catalog.Product, error) {
	return nil, errors.New("timeout")
}

func (brokenCatalog) GetProduct(context.Context, string) (*catalog.Product, error) {
	return nil, errors.New("timeout")
}

func TestCatalogFailureIsTransactionFailure(t *testing.T) {
	f := newFixture(t, beans)
	svc := NewService(f.uc, brokenCatalog{}, nil)

	res := svc.PurchaseProduct(context.Background(), PurchaseProductInput{ProductID: "a", Email: "x@y.z", Shipping: shipping})
	assert.Equal(t, KindTransaction, res.Kind)
	assert.False(t, res.Success)
}

// slowHistory widens the gap between the ownership pre-check and the placement.
type slowHistory struct {
	eligibility.PurchaseHistory
	delay time.Duration
}

func (h slowHistory) HasPurchased(ctx context.Context, email, productID string) (bool, error) {
	time.Sleep(h.delay)
	return h.PurchaseHistory.HasPurchased(ctx, email, productID)
}

func TestPurchaseProductConcurrentSameBuyerOwnsOnce(t *testing.T) {
	f := newFixture(t, catalog.Product{ID: "pdf", Name: "Latte Art eBook", PriceMinor: 4900, StockQuantity: 100, Available: true})
	uc := NewPlaceOrderUseCase(f.store, eligibility.New(f.store, slowHistory{PurchaseHistory: f.store, delay: 20 * time.Millisecond}),
		id.NewSequence(), f.publisher, nil)
	svc := NewService(uc, f.store, nil)

	results := make([]Result, 5)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.PurchaseProduct(context.Background(), PurchaseProductInput{ProductID: "pdf", Email: "x@y.z", Shipping: shipping})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, res := range results {
		if res.Success {
			wins++
			continue
		}
		assert.Equal(t, KindDuplicatePurchase, res.Kind)
		assert.Equal(t, []string{"Latte Art eBook"}, res.AlreadyPurchased)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, f.store.Orders(), 1)
	assert.Equal(t, 99, stock(t, f.store, "pdf"))
}
