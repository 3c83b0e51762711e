package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	dominv "github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/coffeeshop/internal/domain/outbox"
	infraobs "github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/redisqueue"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
)

type flakyNotifier struct {
	mu        sync.Mutex
	failures  int
	confirmed []domorder.OrderPlacedEvent
	depleted  []string
}

func (n *flakyNotifier) OrderConfirmation(_ context.Context, e domorder.OrderPlacedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("smtp unavailable")
	}
	n.confirmed = append(n.confirmed, e)
	return nil
}

func (n *flakyNotifier) StockDepleted(_ context.Context, e dominv.StockDepletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.depleted = append(n.depleted, e.ProductID)
	return nil
}

func newQueue(t *testing.T, maxAttempts int, logger observability.Logger) (*miniredis.Miniredis, *redisqueue.Outbox) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := redisqueue.New(client, logger, redisqueue.WithKeyPrefix("notify"),
		redisqueue.WithMaxAttempts(maxAttempts), redisqueue.WithRetryBackoff(0, 0))
	q.RegisterDecoder(domorder.EventOrderPlaced, func(b []byte) (domoutbox.Event, error) {
		return domorder.DecodeOrderPlacedEvent(b)
	})
	q.RegisterDecoder(dominv.EventStockDepleted, func(b []byte) (domoutbox.Event, error) {
		return dominv.DecodeStockDepletedEvent(b)
	})
	return mr, q
}

func placedEvent() domorder.OrderPlacedEvent {
	return domorder.OrderPlacedEvent{
		UserID:         "u-1",
		Email:          "buyer@example.com",
		Source:         domorder.SourceCashOnDelivery,
		Lines:          []domorder.PlacedLine{{OrderID: "o-1", ProductID: "beans", Quantity: 1, PricePaid: 1500}},
		AmountMinor:    1500,
		VerificationID: "v-1",
	}
}

func drain(t *testing.T, q *redisqueue.Outbox) {
	t.Helper()
	for {
		ok, err := q.ProcessOne(context.Background())
		require.NoError(t, err)
		if !ok {
			return
		}
	}
}

func TestConfirmationRetriedUntilDelivered(t *testing.T) {
	_, q := newQueue(t, 5, nil)
	notifier := &flakyNotifier{failures: 2}
	NewWorker(q, notifier, nil).Start()

	require.NoError(t, q.Publish(context.Background(), placedEvent()))
	drain(t, q)

	require.Len(t, notifier.confirmed, 1)
	got := notifier.confirmed[0]
	assert.Equal(t, "buyer@example.com", got.Email)
	assert.Equal(t, "v-1", got.VerificationID)
	assert.Equal(t, []string{"o-1"}, got.OrderIDs())

	dead, err := q.DeadLetters(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestConfirmationDeadLetteredAfterMaxAttempts(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zaplogger.New(zap.New(core))
	_, q := newQueue(t, 2, logger)
	tel := infraobs.New(nil, logger, nil, nil)
	notifier := &flakyNotifier{failures: 10}
	NewWorker(q, notifier, tel).Start()

	require.NoError(t, q.Publish(context.Background(), placedEvent()))
	drain(t, q)

	assert.Empty(t, notifier.confirmed)
	dead, err := q.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "smtp unavailable")
	assert.Equal(t, 2, logs.FilterMessage("notification_failed").Len())
}

func TestStockDepletedNotice(t *testing.T) {
	_, q := newQueue(t, 3, nil)
	notifier := &flakyNotifier{}
	NewWorker(q, notifier, nil).Start()

	require.NoError(t, q.Publish(context.Background(), dominv.NewStockDepletedEvent("mug", []string{"o-9"})))
	drain(t, q)

	assert.Equal(t, []string{"mug"}, notifier.depleted)
}

func TestWorkerIgnoresMismatchedPayload(t *testing.T) {
	w := NewWorker(nil, &flakyNotifier{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, w.handleOrderPlaced(ctx, dominv.NewStockDepletedEvent("x", nil)))
	assert.NoError(t, w.handleStockDepleted(ctx, placedEvent()))
}
