package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a Locker shared by every instance pointed at the same
// Redis. A holder that dies keeps the key for at most ttl.
type RedisLock struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedisLock parses a redis:// URL and verifies the server is reachable.
func NewRedisLock(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisLock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLock{
		rdb:    rdb,
		prefix: "callcenter:lock:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: logger,
	}, nil
}

func (l *RedisLock) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		// Release on a fresh context: the caller's may already be cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("redis lock release failed", "key", key, "err", err)
		}
	}, nil
}

func (l *RedisLock) Close() error {
	return l.rdb.Close()
}
