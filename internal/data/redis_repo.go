package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultReadyChannel is the pub/sub channel announcing READY jobs.
const DefaultReadyChannel = "docflow:jobs:ready"

// RedisRepo backs rate limiting and the jobs-ready notification channel with Redis.
type RedisRepo struct {
	client       redis.UniversalClient
	readyChannel string
	keyPrefix    string
}

// RedisRepoOptions configures NewRedisRepo.
type RedisRepoOptions struct {
	Client       redis.UniversalClient
	ReadyChannel string
	KeyPrefix    string
}

// NewRedisRepo creates a new RedisRepo with the given Redis client.
func NewRedisRepo(opts RedisRepoOptions) *RedisRepo {
	ch := opts.ReadyChannel
	if ch == "" {
		ch = DefaultReadyChannel
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "docflow:ratelimit:"
	}
	return &RedisRepo{client: opts.Client, readyChannel: ch, keyPrefix: prefix}
}

// Allow increments the counter for key in the current fixed window and reports whether
// the count is still within limit. INCR and EXPIRE NX run in one MULTI so the window is
// set exactly once, by the first hit.
func (r *RedisRepo) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}
	if limit <= 0 {
		return true, nil
	}
	if window <= 0 {
		window = time.Minute
	}

	bucket := time.Now().UnixNano() / int64(window)
	full := fmt.Sprintf("%s%s:%d", r.keyPrefix, key, bucket)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, full)
		p.ExpireNX(ctx, full, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

// PublishReady announces that jobID is READY.
func (r *RedisRepo) PublishReady(ctx context.Context, jobID string) error {
	if err := r.client.Publish(ctx, r.readyChannel, jobID).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// WaitForReady blocks until one message arrives on the ready channel or ctx ends.
func (r *RedisRepo) WaitForReady(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.readyChannel)
	defer func() {
		_ = sub.Close()
	}()

	// Receive the subscription confirmation first so a publish racing the
	// subscribe is not lost on the floor.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-sub.Channel():
		if !ok {
			return errors.New("redis subscription closed")
		}
		return nil
	}
}

// Health checks the health of the Redis connection.
func (r *RedisRepo) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
