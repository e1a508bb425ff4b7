package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("order lock not acquired")

// Locker serializes reconciliation of a single payment order across
// service instances. The gateway may deliver the same return callback
// more than once; only one handler at a time may commit an order.
type Locker interface {
	WithOrderLock(ctx context.Context, buyOrder string, fn func(ctx context.Context) error) error
}

type redisOrderLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewOrderLocker creates a locker keyed by buy order.
func NewOrderLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisOrderLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisOrderLocker) WithOrderLock(ctx context.Context, buyOrder string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:order:%s", buyOrder)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire order lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisOrderLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release order lock: %w", err)
	}
	return nil
}
