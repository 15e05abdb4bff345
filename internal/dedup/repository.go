package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"freightaudit/pkg/circuitbreaker"
)

type Repository interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

type RedisRepository struct {
	client *redis.Client
}

func NewRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return ok, nil
}

func (r *RedisRepository) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

// BreakerRepository guards a Repository with a circuit breaker. A nil
// breaker passes calls straight through.
type BreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewBreakerRepository(repo Repository, cb *circuitbreaker.Wrapper) *BreakerRepository {
	return &BreakerRepository{repo: repo, cb: cb}
}

func (r *BreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return circuitbreaker.Do(ctx, r.cb, nil, func() (bool, error) {
		return r.repo.SetNX(ctx, key, value, ttl)
	})
}

func (r *BreakerRepository) Del(ctx context.Context, key string) error {
	_, err := circuitbreaker.Do(ctx, r.cb, nil, func() (struct{}, error) {
		return struct{}{}, r.repo.Del(ctx, key)
	})
	return err
}

func (r *BreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}
