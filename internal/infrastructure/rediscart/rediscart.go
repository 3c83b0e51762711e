// Package rediscart stores session carts as JSON strings with a sliding TTL.
package rediscart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/cart"
)

const defaultTTL = 7 * 24 * time.Hour

type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, prefix: "coffeeshop:cart:", ttl: ttl}
}

func (s *Store) key(sessionID string) string { return s.prefix + sessionID }

// Load returns an empty cart for unknown or expired sessions.
func (s *Store) Load(ctx context.Context, sessionID string) (cart.State, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cart.State{Items: []cart.Item{}}, nil
	}
	if err != nil {
		return cart.State{}, fmt.Errorf("failed to load cart: %w", err)
	}
	var st cart.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return cart.State{}, fmt.Errorf("failed to decode cart: %w", err)
	}
	if st.Items == nil {
		st.Items = []cart.Item{}
	}
	return st, nil
}

func (s *Store) Save(ctx context.Context, sessionID string, st cart.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}
