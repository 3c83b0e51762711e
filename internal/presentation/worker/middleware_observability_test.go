package workerpresentation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	domoutbox "github.com/Zhima-Mochi/coffeeshop/internal/domain/outbox"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"
)

type tick struct{}

func (tick) EventName() string { return "test.tick" }

type subscriberFunc func(string, domoutbox.Handler)

func (f subscriberFunc) Subscribe(name string, h domoutbox.Handler) { f(name, h) }

func TestSubscribeInjectsEventLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zaplogger.New(zap.New(core))

	var registered domoutbox.Handler
	Subscribe(subscriberFunc(func(name string, h domoutbox.Handler) {
		assert.Equal(t, "test.tick", name)
		registered = h
	}), base, "test.tick", func(ctx context.Context, _ domoutbox.Event) error {
		logctx.FromOr(ctx, nil).Info("handled")
		return nil
	})

	require.NotNil(t, registered)
	require.NoError(t, registered(context.Background(), tick{}))

	entries := logs.FilterMessage("handled").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "test.tick", fields["event"])
	assert.NotEmpty(t, fields["event_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestWithEventContextKeepsProvidedID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := logctx.With(context.Background(), zaplogger.New(zap.New(core)))

	ctx = WithEventContext(ctx, nil, [16]byte{}, [8]byte{}, map[string]string{"event_id": "evt-1", "queue": ""})
	logctx.FromOr(ctx, nil).Info("x")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "evt-1", fields["event_id"])
	assert.NotContains(t, fields, "queue")
}
