package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akagifreeez/coin-market-api/internal/models"
)

var (
	// ErrMiss is returned when the key does not exist.
	ErrMiss = errors.New("cache miss")
	// ErrConflict is returned by Update when every attempt lost a race.
	ErrConflict = errors.New("cache update conflict")
)

const (
	scanBatch         = 500
	maxUpdateAttempts = 8
)

// INCR and first-hit expiry in one round trip so a crash can never leave a
// counter without a TTL.
var incrementLua = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Cache is a thin typed wrapper over a redis client
type Cache struct {
	client redis.UniversalClient
}

// New wraps an existing client
func New(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Connect parses a redis:// URL and verifies the connection
func Connect(ctx context.Context, redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Get returns the string stored at key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
	}
	return val, nil
}

// Set stores value with the given ttl.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

// Update rewrites key through fn as an optimistic transaction: the key and
// any watch keys are WATCHed, fn sees the current value, and the result is
// written with SET XX KEEPTTL. A concurrent write to any watched key aborts
// the attempt and fn runs again on the fresh value. Returning the value
// unchanged writes nothing. An expired key yields ErrMiss and is never
// recreated. Errors from fn are returned as is.
func (c *Cache) Update(ctx context.Context, key string, fn func(current string) (string, error), watch ...string) error {
	keys := append([]string{key}, watch...)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var fnErr error
		err := c.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Result()
			if err != nil {
				return err
			}

			next, err := fn(current)
			if err != nil {
				fnErr = err
				return err
			}
			if next == current {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, next, redis.SetArgs{Mode: "XX", KeepTTL: true})
				return nil
			})
			return err
		}, keys...)

		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return ErrMiss
		default:
			return fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
		}
	}
	return ErrConflict
}

// Increment atomically adds one to key. ttlIfNew is applied only when the
// increment created the key.
func (c *Cache) Increment(ctx context.Context, key string, ttlIfNew time.Duration) (int64, error) {
	n, err := incrementLua.Run(ctx, c.client, []string{key}, ttlIfNew.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
	}
	return n, nil
}

// Scan lazily enumerates keys starting with prefix. Keys created or expired
// while the scan runs may or may not be seen, and a key can be yielded more
// than once. Ranging over the result again restarts from the beginning.
func (c *Cache) Scan(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := c.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
		for it.Next(ctx) {
			if !yield(it.Val(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield("", fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err))
		}
	}
}

// Ping checks connectivity
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

// Close closes the underlying client
func (c *Cache) Close() error {
	return c.client.Close()
}
