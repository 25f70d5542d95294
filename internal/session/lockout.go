package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"closingdocs/api/internal/access"
)

// Lockout blocks a client key after too many failed PIN attempts. Failures
// are counted within the lockout window; reaching the limit sets a block key
// that expires after the same window.
type Lockout struct {
	client      *redis.Client
	prefix      string
	maxAttempts int64
	window      time.Duration
}

func NewLockout(client *redis.Client, maxAttempts int, window time.Duration) *Lockout {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Lockout{
		client:      client,
		prefix:      defaultPrefix + "access:",
		maxAttempts: int64(maxAttempts),
		window:      window,
	}
}

func (l *Lockout) attemptsKey(key string) string {
	return l.prefix + key + ":attempts"
}

func (l *Lockout) blockKey(key string) string {
	return l.prefix + key + ":block"
}

// Check returns access.ErrLocked while key is blocked.
func (l *Lockout) Check(ctx context.Context, key string) error {
	n, err := l.client.Exists(ctx, l.blockKey(key)).Result()
	if err != nil {
		return fmt.Errorf("check lockout: %w", err)
	}
	if n > 0 {
		return access.ErrLocked
	}
	return nil
}

func (l *Lockout) RecordFailure(ctx context.Context, key string) error {
	count, err := l.client.Incr(ctx, l.attemptsKey(key)).Result()
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, l.attemptsKey(key), l.window).Err(); err != nil {
			return fmt.Errorf("expire attempts: %w", err)
		}
	}
	if count < l.maxAttempts {
		return nil
	}

	pipe := l.client.TxPipeline()
	pipe.Set(ctx, l.blockKey(key), "1", l.window)
	pipe.Del(ctx, l.attemptsKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("block client: %w", err)
	}
	return nil
}

func (l *Lockout) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.attemptsKey(key)).Err(); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}

// RetryAfter reports how long key stays blocked.
func (l *Lockout) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.client.TTL(ctx, l.blockKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("lockout ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
