package postgres

import (
	"context"
	"fmt"
	"time"
)

// PaymentEventLog records processed payment events in the payment_events table.
type PaymentEventLog struct {
	db *DB
}

func (db *DB) PaymentEvents() *PaymentEventLog { return &PaymentEventLog{db: db} }

// Claim inserts the event, or takes over a claim whose hold has lapsed.
// Completed events are never reclaimed.
func (l *PaymentEventLog) Claim(ctx context.Context, eventID string, hold time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := l.db.pool.Exec(ctx, `
		INSERT INTO payment_events (id, held_until) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET held_until = EXCLUDED.held_until
		WHERE NOT payment_events.completed AND payment_events.held_until < $3
	`, eventID, now.Add(hold), now)
	if err != nil {
		return false, fmt.Errorf("claim payment event %s: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PaymentEventLog) Complete(ctx context.Context, eventID string) error {
	_, err := l.db.pool.Exec(ctx, `UPDATE payment_events SET completed = TRUE WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("complete payment event %s: %w", eventID, err)
	}
	return nil
}

func (l *PaymentEventLog) Release(ctx context.Context, eventID string) error {
	_, err := l.db.pool.Exec(ctx, `DELETE FROM payment_events WHERE id = $1 AND NOT completed`, eventID)
	if err != nil {
		return fmt.Errorf("release payment event %s: %w", eventID, err)
	}
	return nil
}
