// Package lock serialises webhook reconciliation per order.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hdpay:lock:order:"

// ErrLockTimeout is returned when the lock could not be taken within the
// configured wait.
var ErrLockTimeout = errors.New("order lock wait timed out")

// Locker acquires a per-order lock. The returned release func is safe to
// call once; it never releases a lock taken over by another holder.
type Locker interface {
	Acquire(ctx context.Context, orderID int64) (release func(context.Context) error, err error)
}

// Noop is a Locker that never blocks. Used when Redis locking is disabled;
// the repository's optimistic version check still guards writes.
type Noop struct{}

// Acquire returns immediately.
func (Noop) Acquire(context.Context, int64) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a Redis-backed locker. ttl bounds how long a
// crashed holder blocks others; wait bounds how long Acquire polls.
func NewRedisLocker(client redis.Cmdable, ttl, wait time.Duration) *RedisLocker {
	retry := wait / 20
	if retry < 5*time.Millisecond {
		retry = 5 * time.Millisecond
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  retry,
	}
}

// Acquire takes the lock for orderID, polling until wait elapses.
func (l *RedisLocker) Acquire(ctx context.Context, orderID int64) (func(context.Context) error, error) {
	key := keyPrefix + strconv.FormatInt(orderID, 10)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockTimeout
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis release %s: %w", key, err)
		}
		return nil
	}
}
