package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apporder "github.com/Zhima-Mochi/coffeeshop/internal/application/order"
	dompay "github.com/Zhima-Mochi/coffeeshop/internal/domain/payment"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/memory"
)

type stubVerifier struct {
	evt *dompay.Event
	err error
}

func (s stubVerifier) Verify([]byte, string, time.Time) (*dompay.Event, error) { return s.evt, s.err }

type recordingCharges struct {
	got    []dompay.ChargeSucceeded
	result apporder.Result
}

func (r *recordingCharges) HandleChargeSucceeded(_ context.Context, c dompay.ChargeSucceeded) apporder.Result {
	r.got = append(r.got, c)
	return r.result
}

func TestWebhookPlacesPaidOrder(t *testing.T) {
	charge := &dompay.ChargeSucceeded{EventID: "evt_1", ProductID: "g", Email: "x@y.z", AmountMinor: 1000}
	charges := &recordingCharges{result: apporder.Result{Success: true, OrderIDs: []string{"o1"}}}
	uc := NewHandleWebhookUseCase(stubVerifier{evt: &dompay.Event{ID: "evt_1", Type: dompay.EventChargeSucceeded, Charge: charge}}, charges, nil)

	res, err := uc.Execute(context.Background(), HandleWebhookInput{Payload: []byte(`{}`), Signature: "t=1,v1=00"})
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	require.NotNil(t, res.Purchase)
	assert.True(t, res.Purchase.Success)
	assert.Equal(t, []dompay.ChargeSucceeded{*charge}, charges.got)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	charges := &recordingCharges{}
	uc := NewHandleWebhookUseCase(stubVerifier{evt: &dompay.Event{ID: "evt_2", Type: "charge.refunded"}}, charges, nil)

	res, err := uc.Execute(context.Background(), HandleWebhookInput{})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Nil(t, res.Purchase)
	assert.Empty(t, charges.got)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	charges := &recordingCharges{}
	uc := NewHandleWebhookUseCase(stubVerifier{err: dompay.ErrInvalidSignature}, charges, nil)

	_, err := uc.Execute(context.Background(), HandleWebhookInput{})
	assert.True(t, errors.Is(err, dompay.ErrInvalidSignature))
	assert.Empty(t, charges.got)
}

func TestWebhookReportsRejectedPurchase(t *testing.T) {
	charge := &dompay.ChargeSucceeded{ProductID: "g", Email: "x@y.z"}
	charges := &recordingCharges{result: apporder.Result{Kind: apporder.KindInsufficientStock, OutOfStock: []string{"Guide"}}}
	uc := NewHandleWebhookUseCase(stubVerifier{evt: &dompay.Event{Type: dompay.EventChargeSucceeded, Charge: charge}}, charges, nil)

	res, err := uc.Execute(context.Background(), HandleWebhookInput{})
	require.NoError(t, err)
	require.NotNil(t, res.Purchase)
	assert.Equal(t, apporder.KindInsufficientStock, res.Purchase.Kind)
}

func chargeEvent(id string) *dompay.Event {
	return &dompay.Event{ID: id, Type: dompay.EventChargeSucceeded,
		Charge: &dompay.ChargeSucceeded{EventID: id, ProductID: "g", Email: "x@y.z", AmountMinor: 1000}}
}

func TestWebhookRedeliveryPlacesOnce(t *testing.T) {
	charges := &recordingCharges{result: apporder.Result{Success: true, OrderIDs: []string{"o1"}}}
	uc := NewHandleWebhookUseCase(stubVerifier{evt: chargeEvent("evt_1")}, charges, nil,
		WithEventLog(memory.NewPaymentEventLog(), time.Minute))

	first, err := uc.Execute(context.Background(), HandleWebhookInput{})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := uc.Execute(context.Background(), HandleWebhookInput{})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.True(t, again.Ignored)
	assert.Nil(t, again.Purchase)
	assert.Len(t, charges.got, 1)
}

func TestWebhookRejectedPurchaseCanBeRetried(t *testing.T) {
	charges := &recordingCharges{result: apporder.Result{Kind: apporder.KindTransaction}}
	uc := NewHandleWebhookUseCase(stubVerifier{evt: chargeEvent("evt_2")}, charges, nil,
		WithEventLog(memory.NewPaymentEventLog(), time.Minute))

	for i := 0; i < 2; i++ {
		res, err := uc.Execute(context.Background(), HandleWebhookInput{})
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	}
	assert.Len(t, charges.got, 2)
}

type brokenEventLog struct{}

func (brokenEventLog) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (brokenEventLog) Complete(context.Context, string) error { return nil }

func (brokenEventLog) Release(context.Context, string) error { return nil }

func TestWebhookEventLogFailure(t *testing.T) {
	charges := &recordingCharges{}
	uc := NewHandleWebhookUseCase(stubVerifier{evt: chargeEvent("evt_3")}, charges, nil,
		WithEventLog(brokenEventLog{}, 0))

	_, err := uc.Execute(context.Background(), HandleWebhookInput{})
	assert.ErrorIs(t, err, ErrEventLog)
	assert.Empty(t, charges.got)
}
