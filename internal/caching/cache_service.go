package caching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type CacheService interface {
	// Access caching
	GetAccess(ctx context.Context, communityID, userID uuid.UUID) (bool, bool, error)
	SetAccess(ctx context.Context, communityID, userID uuid.UUID, hasAccess bool) error
	SetAccessIfAbsent(ctx context.Context, communityID, userID uuid.UUID, hasAccess bool) (bool, error)

	// Cross-process job locks
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error

	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client    *redis.Client
	accessTTL time.Duration
}

// NewRedisClient accepts either host:port or a redis:// URL
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if password != "" {
			opts.Password = password
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), nil
}

func NewRedisCacheService(client *redis.Client, accessTTL time.Duration) CacheService {
	return &redisCacheService{client: client, accessTTL: accessTTL}
}

func accessKey(communityID, userID uuid.UUID) string {
	return fmt.Sprintf("billing:access:%s:%s", communityID.String(), userID.String())
}

func (r *redisCacheService) GetAccess(ctx context.Context, communityID, userID uuid.UUID) (bool, bool, error) {
	value, err := r.client.Get(ctx, accessKey(communityID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil // cache miss
		}
		return false, false, err
	}
	return value == "1", true, nil
}

func accessValue(hasAccess bool) string {
	if hasAccess {
		return "1"
	}
	return "0"
}

// SetAccess overwrites the cached decision; state transitions write through with it
func (r *redisCacheService) SetAccess(ctx context.Context, communityID, userID uuid.UUID, hasAccess bool) error {
	return r.client.Set(ctx, accessKey(communityID, userID), accessValue(hasAccess), r.accessTTL).Err()
}

// SetAccessIfAbsent fills a miss without clobbering a decision a transition wrote in the meantime
func (r *redisCacheService) SetAccessIfAbsent(ctx context.Context, communityID, userID uuid.UUID, hasAccess bool) (bool, error) {
	return r.client.SetNX(ctx, accessKey(communityID, userID), accessValue(hasAccess), r.accessTTL).Result()
}

func lockKey(name string) string {
	return "billing:lock:" + name
}

// AcquireLock takes a SET NX lock and returns the token needed to release it
func (r *redisCacheService) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseLock only deletes the lock while it is still held by token
func (r *redisCacheService) ReleaseLock(ctx context.Context, name, token string) error {
	return releaseScript.Run(ctx, r.client, []string{lockKey(name)}, token).Err()
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
