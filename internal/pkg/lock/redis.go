package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix    = "lock:"
	minRetryWait = 10 * time.Millisecond
	maxRetryWait = 200 * time.Millisecond
)

// Only delete the key if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Redis is a Locker shared between processes. Each key is taken with
// SET NX PX and a per-call token, retried with backoff until ctx is done.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	for _, k := range keys {
		if err := r.acquire(ctx, keyPrefix+k, token); err != nil {
			r.release(held, token)
			return nil, err
		}
		held = append(held, keyPrefix+k)
	}

	return func() { r.release(held, token) }, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	wait := minRetryWait
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxRetryWait {
			wait = maxRetryWait
		}
	}
}

// release runs on a fresh context so a cancelled caller still frees its keys.
func (r *Redis) release(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := len(keys) - 1; i >= 0; i-- {
		n, err := releaseScript.Run(ctx, r.client, []string{keys[i]}, token).Int()
		if err != nil {
			log.Error().Err(err).Str("key", keys[i]).Msg("Failed to release lock")
			continue
		}
		if n == 0 {
			log.Warn().Str("key", keys[i]).Msg("Lock expired before release")
		}
	}
}

var _ Locker = (*Redis)(nil)
