// Package kv provides the chat store surface: a remote Redis backend,
// an in-process fallback store, and a facade that degrades between them
// without surfacing errors to callers.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the raw operation surface both store tiers implement.
// Errors are observed only by the Facade; callers above it never see them.
type Backend interface {
	Get(key string) (string, bool, error)
	SetWithTTL(key, value string, ttl time.Duration) error
	Delete(key string) error
	AddToSet(set, member string) error
	RemoveFromSet(set, member string) error
	Members(set string) ([]string, error)
	Ping() error
	Close() error
}

// opTimeout bounds every remote call so a hung backend cannot stall a turn.
const opTimeout = 3 * time.Second

// Redis implements Backend on a remote Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis backend. No connection attempt is made here;
// Ping decides liveness.
func NewRedis(addr string, db int) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
	}
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

func (r *Redis) Get(key string) (string, bool, error) {
	ctx, cancel := opCtx()
	defer cancel()
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) SetWithTTL(key, value string, ttl time.Duration) error {
	ctx, cancel := opCtx()
	defer cancel()
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(key string) error {
	ctx, cancel := opCtx()
	defer cancel()
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) AddToSet(set, member string) error {
	ctx, cancel := opCtx()
	defer cancel()
	return r.client.SAdd(ctx, set, member).Err()
}

func (r *Redis) RemoveFromSet(set, member string) error {
	ctx, cancel := opCtx()
	defer cancel()
	return r.client.SRem(ctx, set, member).Err()
}

func (r *Redis) Members(set string) ([]string, error) {
	ctx, cancel := opCtx()
	defer cancel()
	return r.client.SMembers(ctx, set).Result()
}

func (r *Redis) Ping() error {
	ctx, cancel := opCtx()
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
