package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentEventLog(t *testing.T) {
	l := NewPaymentEventLog()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	claim := func(id string) bool {
		t.Helper()
		ok, err := l.Claim(ctx, id, time.Minute)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, claim("evt_1"))
	assert.False(t, claim("evt_1"), "held by the first delivery")

	require.NoError(t, l.Release(ctx, "evt_1"))
	assert.True(t, claim("evt_1"))

	now = now.Add(2 * time.Minute)
	assert.True(t, claim("evt_1"), "an abandoned claim expires")

	require.NoError(t, l.Complete(ctx, "evt_1"))
	require.NoError(t, l.Release(ctx, "evt_1"))
	now = now.Add(24 * time.Hour)
	assert.False(t, claim("evt_1"), "completed events stay processed")
}
