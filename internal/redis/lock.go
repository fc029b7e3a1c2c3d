package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("request lock not acquired")

// Locker serialises state transitions on one appointment request across
// api-server and expiry-worker instances.
type Locker interface {
	WithRequestLock(ctx context.Context, requestID uuid.UUID, fn func(ctx context.Context) error) error
}

// releaseMargin is the part of the TTL kept back from the critical section,
// so fn's context is done before another holder can take the key.
const releaseMargin = 500 * time.Millisecond

type requestLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRequestLocker returns a Locker holding lock:request:<id> for at
// most ttl. The critical section gets ttl minus a small margin.
func NewRedisRequestLocker(client *redis.Client, ttl time.Duration) Locker {
	return &requestLocker{client: client, ttl: ttl}
}

func lockKey(requestID uuid.UUID) string {
	return "lock:request:" + requestID.String()
}

// budget is how long fn may run while the key is guaranteed to be ours.
func (l *requestLocker) budget() time.Duration {
	if l.ttl > 2*releaseMargin {
		return l.ttl - releaseMargin
	}
	return l.ttl / 2
}

func (l *requestLocker) WithRequestLock(ctx context.Context, requestID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(requestID)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrLockNotAcquired, requestID)
	}

	// Release runs even when the caller gave up; otherwise the request stays
	// locked for the rest of the TTL.
	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	held, cancel := context.WithTimeout(ctx, l.budget())
	defer cancel()
	return fn(held)
}

// compareAndDelete removes the key only while it still carries our token.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *requestLocker) release(ctx context.Context, key, token string) error {
	ctx, cancel := context.WithTimeout(ctx, releaseMargin)
	defer cancel()
	if err := compareAndDelete.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// NoopLocker runs fn without coordination. It is for tools and tests that
// run a single process against the store; the partial unique index on
// active confirmations still rejects a double selection.
type NoopLocker struct{}

func (NoopLocker) WithRequestLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
