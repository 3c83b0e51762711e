// Package redisqueue is a durable outbox on Redis lists. Envelopes move from the pending
// list to a processing list while handled. Failed ones wait in a delayed sorted set,
// scored by the time they are due again, until they run out of attempts and are dead-lettered.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	domoutbox "github.com/Zhima-Mochi/coffeeshop/internal/domain/outbox"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"
)

const componentRelay = "redis_outbox"

var ErrNoDecoder = errors.New("redisqueue: no decoder registered for event")

// promoteDue moves envelopes whose retry time has passed from the delayed set to the pending list.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

const promoteBatch = 100

type Outbox struct {
	client      *redis.Client
	pendingKey  string
	workingKey  string
	delayedKey  string
	deadKey     string
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	poll        time.Duration
	now         func() time.Time
	log         observability.Logger

	mu       sync.RWMutex
	subs     map[string][]domoutbox.Handler
	decoders map[string]domoutbox.Decoder

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Outbox)

func WithKeyPrefix(prefix string) Option {
	return func(o *Outbox) {
		o.pendingKey = prefix + ":pending"
		o.workingKey = prefix + ":processing"
		o.delayedKey = prefix + ":delayed"
		o.deadKey = prefix + ":dead"
	}
}

// WithMaxAttempts sets how many failed deliveries move an envelope to the dead list.
func WithMaxAttempts(n int) Option {
	return func(o *Outbox) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the wait before the first retry. It doubles per attempt up to max.
// A non-positive base requeues failed envelopes immediately.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(o *Outbox) {
		o.backoff = base
		if max > 0 {
			o.maxBackoff = max
		}
	}
}

// WithPollTimeout bounds each blocking pop so Run notices cancellation.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Outbox) {
		if d > 0 {
			o.poll = d
		}
	}
}

// Connect parses a redis URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func New(client *redis.Client, logger observability.Logger, opts ...Option) *Outbox {
	if logger == nil {
		logger = observability.NopLogger()
	}
	o := &Outbox{
		client:      client,
		maxAttempts: 5,
		backoff:     2 * time.Second,
		maxBackoff:  time.Minute,
		poll:        time.Second,
		now:         time.Now,
		log:         logger.With(observability.F("component", componentRelay)),
		subs:        make(map[string][]domoutbox.Handler),
		decoders:    make(map[string]domoutbox.Decoder),
		done:        make(chan struct{}),
	}
	WithKeyPrefix("coffeeshop:outbox")(o)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Publish appends the event to the pending list.
func (o *Outbox) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	env, err := domoutbox.NewEnvelope(uuid.NewString(), e)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := o.client.LPush(ctx, o.pendingKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", env.Name, err)
	}
	logctx.FromOr(ctx, o.log).Debug("event_enqueued",
		observability.F("event", env.Name),
		observability.F("envelope_id", env.ID),
	)
	return nil
}

func (o *Outbox) Subscribe(eventName string, h domoutbox.Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs[eventName] = append(o.subs[eventName], h)
}

// RegisterDecoder tells the relay how to restore payloads of eventName.
func (o *Outbox) RegisterDecoder(eventName string, d domoutbox.Decoder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decoders[eventName] = d
}

// Start requeues envelopes a previous process left in the processing list, then relays in the background.
func (o *Outbox) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		o.cancel = cancel
		go func() {
			defer close(o.done)
			if err := o.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				o.log.Error("outbox_relay_failed", observability.F("error", err))
			}
		}()
		logctx.FromOr(ctx, o.log).Info("event_bus_started")
	})
}

func (o *Outbox) Stop(ctx context.Context) error {
	var err error
	o.stopOnce.Do(func() {
		started := true
		o.startOnce.Do(func() { started = false })
		if !started {
			return
		}
		o.cancel()
		select {
		case <-o.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		logctx.FromOr(ctx, o.log).Info("event_bus_stopped")
	})
	return err
}

// Run relays envelopes until ctx is done.
func (o *Outbox) Run(ctx context.Context) error {
	if n, err := o.Recover(ctx); err != nil {
		return err
	} else if n > 0 {
		o.log.Warn("outbox_recovered_inflight", observability.F("count", n))
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.promote(ctx); err != nil && ctx.Err() == nil {
			o.log.Warn("outbox_promote_failed", observability.F("error", err))
		}
		raw, err := o.client.BRPopLPush(ctx, o.pendingKey, o.workingKey, o.poll).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Warn("outbox_pop_failed", observability.F("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.poll):
			}
			continue
		}
		o.handle(ctx, raw)
	}
}

// ProcessOne relays a single envelope without blocking. It reports false when the pending list is empty.
func (o *Outbox) ProcessOne(ctx context.Context) (bool, error) {
	if _, err := o.promote(ctx); err != nil {
		return false, err
	}
	raw, err := o.client.RPopLPush(ctx, o.pendingKey, o.workingKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to pop envelope: %w", err)
	}
	o.handle(ctx, raw)
	return true, nil
}

// promote requeues delayed envelopes that are due.
func (o *Outbox) promote(ctx context.Context) (int, error) {
	n, err := promoteDue.Run(ctx, o.client, []string{o.delayedKey, o.pendingKey},
		o.now().UnixMilli(), promoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed envelopes: %w", err)
	}
	return n, nil
}

// retryDelay is the wait after the given number of failed attempts.
func (o *Outbox) retryDelay(attempts int) time.Duration {
	if o.backoff <= 0 {
		return 0
	}
	d := o.backoff
	for i := 1; i < attempts && d < o.maxBackoff; i++ {
		d *= 2
	}
	return min(d, o.maxBackoff)
}

// Recover moves everything in the processing list back to pending.
func (o *Outbox) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := o.client.RPopLPush(ctx, o.workingKey, o.pendingKey).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover in-flight envelopes: %w", err)
		}
		n++
	}
}

func (o *Outbox) handle(ctx context.Context, raw string) {
	var env domoutbox.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		o.log.Error("outbox_envelope_corrupt", observability.F("error", err))
		o.settle(ctx, raw, o.deadKey, []byte(raw))
		return
	}

	logger := o.log.With(
		observability.F("event", env.Name),
		observability.F("envelope_id", env.ID),
		observability.F("attempt", env.Attempts+1),
	)

	err := o.deliver(logctx.With(ctx, logger), env)
	if err == nil {
		o.settle(ctx, raw, "", nil)
		logger.Debug("event_relayed")
		return
	}

	env.Attempts++
	env.LastError = err.Error()
	next, _ := json.Marshal(env)

	if env.Attempts >= o.maxAttempts || errors.Is(err, ErrNoDecoder) {
		logger.Error("event_dead_lettered", observability.F("error", err))
		o.settle(ctx, raw, o.deadKey, next)
		return
	}
	delay := o.retryDelay(env.Attempts)
	logger.Warn("event_handler_error",
		observability.F("error", err),
		observability.F("retry_in_ms", delay.Milliseconds()),
	)
	if delay <= 0 {
		o.settle(ctx, raw, o.pendingKey, next)
		return
	}
	o.schedule(ctx, raw, next, o.now().Add(delay))
}

// schedule removes raw from the processing list and schedules data for due.
func (o *Outbox) schedule(ctx context.Context, raw string, data []byte, due time.Time) {
	ctx = context.WithoutCancel(ctx)
	_, err := o.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, o.workingKey, 1, raw)
		p.ZAdd(ctx, o.delayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: data})
		return nil
	})
	if err != nil {
		o.log.Error("outbox_settle_failed", observability.F("error", err))
	}
}

func (o *Outbox) deliver(ctx context.Context, env domoutbox.Envelope) error {
	o.mu.RLock()
	decode := o.decoders[env.Name]
	handlers := append([]domoutbox.Handler(nil), o.subs[env.Name]...)
	o.mu.RUnlock()

	if len(handlers) == 0 {
		logctx.FromOr(ctx, o.log).Debug("event_dropped_no_subscriber")
		return nil
	}
	if decode == nil {
		return fmt.Errorf("%w: %s", ErrNoDecoder, env.Name)
	}
	e, err := decode(env.Payload)
	if err != nil {
		return err
	}

	var errs []error
	for _, h := range handlers {
		if err := o.call(ctx, h, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Outbox) call(ctx context.Context, h domoutbox.Handler, e domoutbox.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

// settle removes raw from the processing list and, when target is set, pushes data onto it.
func (o *Outbox) settle(ctx context.Context, raw, target string, data []byte) {
	ctx = context.WithoutCancel(ctx)
	_, err := o.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, o.workingKey, 1, raw)
		if target != "" {
			p.LPush(ctx, target, data)
		}
		return nil
	})
	if err != nil {
		o.log.Error("outbox_settle_failed", observability.F("error", err))
	}
}

// Pending reports the number of envelopes waiting to be relayed.
func (o *Outbox) Pending(ctx context.Context) (int64, error) {
	return o.client.LLen(ctx, o.pendingKey).Result()
}

// Delayed reports the number of envelopes waiting for a retry.
func (o *Outbox) Delayed(ctx context.Context) (int64, error) {
	return o.client.ZCard(ctx, o.delayedKey).Result()
}

// DeadLetters returns the envelopes that exhausted their attempts.
func (o *Outbox) DeadLetters(ctx context.Context) ([]domoutbox.Envelope, error) {
	raws, err := o.client.LRange(ctx, o.deadKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	out := make([]domoutbox.Envelope, 0, len(raws))
	for _, raw := range raws {
		var env domoutbox.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}
