// internal/lock/redis.go
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if we still own it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

var ErrLockNotAcquired = errors.New("lock: could not acquire lock")

// redisClient is the subset of *redis.Client we use. Tests inject a fake.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker is a cross-process Locker built on SET NX PX. The TTL bounds
// how long a crashed holder can block others.
type RedisLocker struct {
	client     redisClient
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

type RedisOption func(*RedisLocker)

func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) { l.ttl = ttl }
}

func WithRetryDelay(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.retryDelay = d }
}

func WithPrefix(p string) RedisOption {
	return func(l *RedisLocker) { l.prefix = p }
}

func NewRedisLocker(client redisClient, logger *slog.Logger, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:     client,
		prefix:     "checkout:lock:",
		ttl:        30 * time.Second,
		retryDelay: 50 * time.Millisecond,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ConnectRedis opens a client and checks it with PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		// Release must survive a cancelled request context.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{fullKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock, it will expire on its own",
				slog.String("key", fullKey), slog.Any("error", err))
		}
	}, nil
}
