package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

const (
	DefaultLeaseTTL      = 30 * time.Second
	DefaultRetryInterval = 25 * time.Millisecond
	DefaultKeyPrefix     = "clearance:lock:"
	releaseTimeout       = 2 * time.Second
)

// KEYS[1] = lock key, ARGV[1] = lease token. Only the holder's token deletes the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisOptions struct {
	LeaseTTL      time.Duration
	RetryInterval time.Duration
	KeyPrefix     string
	Logger        *slog.Logger
}

// Redis is a lease lock shared by every replica pointed at the same Redis. A lease that outlives
// LeaseTTL expires on its own and a late unlock will not remove a newer holder's key.
type Redis struct {
	client  *redis.Client
	options RedisOptions
}

// NewRedis accepts redis://[:password@]host[:port][/database].
func NewRedis(redisURL string, options RedisOptions) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if options.LeaseTTL <= 0 {
		options.LeaseTTL = DefaultLeaseTTL
	}
	if options.RetryInterval <= 0 {
		options.RetryInterval = DefaultRetryInterval
	}
	if strings.TrimSpace(options.KeyPrefix) == "" {
		options.KeyPrefix = DefaultKeyPrefix
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Redis{client: redis.NewClient(opts), options: options}, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := r.options.KeyPrefix + key
	token := uuid.NewString()

	for {
		acquired, err := r.client.SetNX(ctx, lockKey, token, r.options.LeaseTTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return nil, domain.WrapError(domain.ErrTemporary, "acquire shipment lock", err)
		}
		if acquired {
			break
		}
		timer := time.NewTimer(r.options.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, domain.WrapError(domain.ErrTemporary, "acquire shipment lock", ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			err := releaseScript.Run(releaseCtx, r.client, []string{lockKey}, token).Err()
			if err != nil && !errors.Is(err, redis.Nil) {
				r.options.Logger.Warn("shipment_lock_release_failed", "key", lockKey, "error", err)
			}
		})
	}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
