// Package redislog keeps processed payment events in Redis. A claim is a short-lived SET NX key;
// completion rewrites it with a retention long enough to outlast provider redeliveries.
package redislog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateHeld = "held"
	stateDone = "done"

	// Stripe retries a failed delivery for up to three days.
	defaultRetention = 30 * 24 * time.Hour
)

// releaseHeld deletes the key only while it is still an unfinished claim.
var releaseHeld = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type Log struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

func New(client *redis.Client, retention time.Duration) *Log {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Log{client: client, prefix: "coffeeshop:payment_event:", retention: retention}
}

func (l *Log) key(eventID string) string { return l.prefix + eventID }

func (l *Log) Claim(ctx context.Context, eventID string, hold time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(eventID), stateHeld, hold).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim payment event %s: %w", eventID, err)
	}
	return ok, nil
}

func (l *Log) Complete(ctx context.Context, eventID string) error {
	if err := l.client.Set(ctx, l.key(eventID), stateDone, l.retention).Err(); err != nil {
		return fmt.Errorf("failed to complete payment event %s: %w", eventID, err)
	}
	return nil
}

func (l *Log) Release(ctx context.Context, eventID string) error {
	if err := releaseHeld.Run(ctx, l.client, []string{l.key(eventID)}, stateHeld).Err(); err != nil {
		return fmt.Errorf("failed to release payment event %s: %w", eventID, err)
	}
	return nil
}
