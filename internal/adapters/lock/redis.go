package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/leadflow/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "leadflow:lock:"
	defaultRetryMin    = 5 * time.Millisecond
	defaultRetryMax    = 100 * time.Millisecond
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a distributed Locker using SET NX with a TTL. Release only
// deletes the key while it still carries this holder's token, so an
// expired lease can never free someone else's lock.
type Redis struct {
	client   redis.UniversalClient
	ttl      time.Duration
	prefix   string
	retryMin time.Duration
	retryMax time.Duration
	log      logger.Logger
}

var _ Locker = (*Redis)(nil)

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRetry sets the polling backoff bounds used while the key is held elsewhere.
func WithRetry(minWait, maxWait time.Duration) RedisOption {
	return func(r *Redis) {
		if minWait > 0 && maxWait >= minWait {
			r.retryMin, r.retryMax = minWait, maxWait
		}
	}
}

// WithLogger sets the logger used for release failures.
func WithLogger(l logger.Logger) RedisOption {
	return func(r *Redis) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRedis creates a distributed locker. ttl bounds how long a crashed
// holder can block a key.
func NewRedis(client redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client:   client,
		ttl:      ttl,
		prefix:   defaultRedisPrefix,
		retryMin: defaultRetryMin,
		retryMax: defaultRetryMax,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock polls SET NX until it succeeds or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	redisKey := r.prefix + key

	wait := r.retryMin
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", redisKey, errors.Join(ErrNotAcquired, ctx.Err()))
		case <-timer.C:
		}
		wait = min(wait*2, r.retryMax)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled; release must still run.
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.log.Warn(relCtx, "failed to release redis lock", logger.String("key", redisKey), logger.Error(err))
			}
		})
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
