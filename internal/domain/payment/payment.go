package payment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidSignature = errors.New("payment: invalid signature")
	ErrMalformedEvent   = errors.New("payment: malformed event")
)

const EventChargeSucceeded = "charge.succeeded"

// ChargeSucceeded is a verified payment-succeeded notification.
type ChargeSucceeded struct {
	EventID     string
	ProductID   string
	Email       string
	AmountMinor int64
}

// Event is a decoded provider event. Charge is set only for charge.succeeded.
type Event struct {
	ID     string
	Type   string
	Charge *ChargeSucceeded
}

// Verifier authenticates and decodes a raw webhook delivery.
type Verifier interface {
	Verify(payload []byte, signatureHeader string, now time.Time) (*Event, error)
}

// EventLog records which provider events have already produced an order, so redeliveries are skipped.
type EventLog interface {
	// Claim reserves eventID for hold. It reports false when the event is completed or another
	// delivery holds it.
	Claim(ctx context.Context, eventID string, hold time.Duration) (bool, error)
	// Complete marks a claimed event as processed for good.
	Complete(ctx context.Context, eventID string) error
	// Release drops an unfinished claim so a later delivery can retry.
	Release(ctx context.Context, eventID string) error
}
