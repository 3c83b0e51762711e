package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidates(t *testing.T) {
	_, err := New("o1", "u1", "p1", 0, 100, time.Now())
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = New("o1", "u1", "p1", 1, -1, time.Now())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	o, err := New("o1", "u1", "p1", 2, 2000, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), o.PricePaid)
}

func TestLineItemTotals(t *testing.T) {
	lines := []LineItem{
		{ProductID: "a", Quantity: 2, UnitPrice: 1500},
		{ProductID: "b", Quantity: 1, UnitPrice: 1000},
		{ProductID: "a", Quantity: 1, UnitPrice: 1500},
	}

	assert.Equal(t, int64(3000), lines[0].Total())
	assert.Equal(t, int64(5500), Total(lines))
	assert.Equal(t, []string{"a", "b"}, ProductIDs(lines))
	assert.Equal(t, map[string]int{"a": 3, "b": 1}, Demand(lines))
}

func TestLineItemValidate(t *testing.T) {
	assert.ErrorIs(t, LineItem{Quantity: 1}.Validate(), ErrValidation)
	assert.ErrorIs(t, LineItem{ProductID: "a"}.Validate(), ErrInvalidQuantity)
	assert.ErrorIs(t, LineItem{ProductID: "a", Quantity: 1, UnitPrice: -5}.Validate(), ErrInvalidAmount)
	assert.NoError(t, LineItem{ProductID: "a", Quantity: 1}.Validate())
}

func TestDownloadVerificationExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewDownloadVerification("v1", "p1", now, 0)

	assert.Equal(t, now.Add(24*time.Hour), v.ExpiresAt)
	assert.False(t, v.Expired(now.Add(23*time.Hour)))
	assert.True(t, v.Expired(now.Add(24*time.Hour)))
}

func TestOrderPlacedEventRoundTrip(t *testing.T) {
	p := &Placement{
		User: User{ID: "u1", Email: "a@b.c"},
		Orders: []Order{
			{ID: "o1", ProductID: "p1", Quantity: 2, PricePaid: 3000},
			{ID: "o2", ProductID: "p2", Quantity: 1, PricePaid: 1000},
		},
	}
	e := NewOrderPlacedEvent(p, SourceCart, "")
	assert.Equal(t, int64(4000), e.AmountMinor)
	assert.Equal(t, []string{"o1", "o2"}, e.OrderIDs())

	payload := []byte(`{"user_id":"u1","email":"a@b.c","source":"cart","lines":[{"order_id":"o1","product_id":"p1","quantity":2,"price_paid":3000}],"amount_minor":3000}`)
	decoded, err := DecodeOrderPlacedEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", decoded.Email)
	assert.Len(t, decoded.Lines, 1)

	_, err = DecodeOrderPlacedEvent([]byte("{"))
	assert.Error(t, err)
}

func TestShippingValidate(t *testing.T) {
	err := Shipping{Name: "Mona", City: " "}.Validate()
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "missing phone, address, city")

	assert.NoError(t, Shipping{Name: "Mona", Phone: "010", Address: "1 Nile St", City: "Cairo"}.Validate())
}
