package memory

import (
	"context"
	"sync"
	"time"
)

type eventClaim struct {
	done  bool
	until time.Time
}

// PaymentEventLog remembers processed payment events for the life of the process.
type PaymentEventLog struct {
	mu     sync.Mutex
	events map[string]eventClaim
	now    func() time.Time
}

func NewPaymentEventLog() *PaymentEventLog {
	return &PaymentEventLog{events: make(map[string]eventClaim), now: time.Now}
}

func (l *PaymentEventLog) Claim(ctx context.Context, eventID string, hold time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if c, ok := l.events[eventID]; ok && (c.done || now.Before(c.until)) {
		return false, nil
	}
	l.events[eventID] = eventClaim{until: now.Add(hold)}
	return true, nil
}

func (l *PaymentEventLog) Complete(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[eventID] = eventClaim{done: true}
	return nil
}

func (l *PaymentEventLog) Release(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.events[eventID]; ok && !c.done {
		delete(l.events, eventID)
	}
	return nil
}
