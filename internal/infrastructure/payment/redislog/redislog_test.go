package redislog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLog(t *testing.T) (*miniredis.Miniredis, *Log) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client, time.Hour)
}

func TestClaimIsExclusiveUntilReleased(t *testing.T) {
	_, l := setupLog(t)
	ctx := context.Background()

	ok, err := l.Claim(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Claim(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "evt_1"))
	ok, err = l.Claim(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompletedEventSurvivesRelease(t *testing.T) {
	mr, l := setupLog(t)
	ctx := context.Background()

	_, err := l.Claim(ctx, "evt_2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, "evt_2"))
	require.NoError(t, l.Release(ctx, "evt_2"))

	ok, err := l.Claim(ctx, "evt_2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("coffeeshop:payment_event:evt_2"))
}

func TestAbandonedClaimExpires(t *testing.T) {
	mr, l := setupLog(t)
	ctx := context.Background()

	_, err := l.Claim(ctx, "evt_3", time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	ok, err := l.Claim(ctx, "evt_3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
