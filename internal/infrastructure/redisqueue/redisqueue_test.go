package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	domoutbox "github.com/Zhima-Mochi/coffeeshop/internal/domain/outbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

type shipped struct {
	OrderID string `json:"order_id"`
}

func (shipped) EventName() string { return "test.shipped" }

func decodeShipped(b []byte) (domoutbox.Event, error) {
	var e shipped
	err := json.Unmarshal(b, &e)
	return e, err
}

func setupOutbox(t *testing.T, opts ...Option) (*miniredis.Miniredis, *Outbox) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	o := New(client, nil, append([]Option{WithKeyPrefix("test"), WithPollTimeout(50 * time.Millisecond), WithRetryBackoff(0, 0)}, opts...)...)
	o.RegisterDecoder("test.shipped", decodeShipped)
	return mr, o
}

func TestProcessOneDeliversInOrder(t *testing.T) {
	mr, o := setupOutbox(t)
	ctx := context.Background()

	var got []string
	o.Subscribe("test.shipped", func(_ context.Context, e domoutbox.Event) error {
		got = append(got, e.(shipped).OrderID)
		return nil
	})

	require.NoError(t, o.Publish(ctx, shipped{OrderID: "o1"}))
	require.NoError(t, o.Publish(ctx, shipped{OrderID: "o2"}))

	for i := 0; i < 2; i++ {
		ok, err := o.ProcessOne(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := o.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"o1", "o2"}, got)
	assert.False(t, mr.Exists("test:processing"))
}

func TestFailingHandlerIsRetriedThenDeadLettered(t *testing.T) {
	_, o := setupOutbox(t, WithMaxAttempts(3))
	ctx := context.Background()

	var calls atomic.Int32
	o.Subscribe("test.shipped", func(context.Context, domoutbox.Event) error {
		calls.Add(1)
		return errors.New("smtp down")
	})
	require.NoError(t, o.Publish(ctx, shipped{OrderID: "o1"}))

	for {
		ok, err := o.ProcessOne(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
	}

	assert.EqualValues(t, 3, calls.Load())
	dead, err := o.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "smtp down", dead[0].LastError)

	pending, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestFailedEnvelopeWaitsForBackoff(t *testing.T) {
	_, o := setupOutbox(t, WithMaxAttempts(3), WithRetryBackoff(time.Second, 3*time.Second))
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return now }
	ctx := context.Background()

	var calls atomic.Int32
	o.Subscribe("test.shipped", func(context.Context, domoutbox.Event) error {
		calls.Add(1)
		return errors.New("smtp down")
	})
	require.NoError(t, o.Publish(ctx, shipped{OrderID: "o1"}))

	ok, err := o.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	delayed, err := o.Delayed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)

	// not due yet
	now = now.Add(999 * time.Millisecond)
	ok, err = o.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 1, calls.Load())

	now = now.Add(time.Millisecond)
	ok, err = o.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, calls.Load())

	// second wait doubles
	now = now.Add(time.Second)
	ok, err = o.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Second)
	ok, err = o.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 3, calls.Load())

	dead, err := o.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	delayed, err = o.Delayed(ctx)
	require.NoError(t, err)
	assert.Zero(t, delayed)
}

func TestRetryDelayIsCapped(t *testing.T) {
	o := New(nil, nil, WithRetryBackoff(time.Second, 5*time.Second))
	assert.Equal(t, time.Second, o.retryDelay(1))
	assert.Equal(t, 2*time.Second, o.retryDelay(2))
	assert.Equal(t, 4*time.Second, o.retryDelay(3))
	assert.Equal(t, 5*time.Second, o.retryDelay(4))
	assert.Equal(t, 5*time.Second, o.retryDelay(30))

	assert.Zero(t, New(nil, nil, WithRetryBackoff(0, 0)).retryDelay(3))
}

func TestRecoveredAfterHandlerSucceedsOnRetry(t *testing.T) {
	_, o := setupOutbox(t)
	ctx := context.Background()

	var calls atomic.Int32
	o.Subscribe("test.shipped", func(context.Context, domoutbox.Event) error {
		if calls.Add(1) == 1 {
			panic("first delivery explodes")
		}
		return nil
	})
	require.NoError(t, o.Publish(ctx, shipped{OrderID: "o1"}))

	for i := 0; i < 2; i++ {
		ok, err := o.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	dead, err := o.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
	assert.EqualValues(t, 2, calls.Load())
}

func TestUnknownEventIsDeadLettered(t *testing.T) {
	_, o := setupOutbox(t)
	ctx := context.Background()

	o.Subscribe("test.other", func(context.Context, domoutbox.Event) error { return nil })
	require.NoError(t, o.Publish(ctx, other{}))

	ok, err := o.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	dead, err := o.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "test.other", dead[0].Name)
}

type other struct{}

func (other) EventName() string { return "test.other" }

func TestRecoverRequeuesInflight(t *testing.T) {
	mr, o := setupOutbox(t)
	ctx := context.Background()

	env, err := domoutbox.NewEnvelope("e1", shipped{OrderID: "o1"})
	require.NoError(t, err)
	data, _ := json.Marshal(env)
	_, err = mr.Lpush("test:processing", string(data))
	require.NoError(t, err)

	n, err := o.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}

func TestStartRelaysUntilStopped(t *testing.T) {
	_, o := setupOutbox(t)
	ctx := context.Background()

	delivered := make(chan string, 1)
	o.Subscribe("test.shipped", func(_ context.Context, e domoutbox.Event) error {
		delivered <- e.(shipped).OrderID
		return nil
	})

	o.Start(ctx)
	require.NoError(t, o.Publish(ctx, shipped{OrderID: "o9"}))

	select {
	case id := <-delivered:
		assert.Equal(t, "o9", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, o.Stop(stopCtx))
}
