package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"go.uber.org/zap"
)

const (
	// DefaultKey is the Redis set holding loaded URLs.
	DefaultKey = "lazyload:loaded"

	opTimeout = 500 * time.Millisecond
)

// NewRedisClient creates a Redis client with connection pooling and checks
// the connection.
func NewRedisClient(ctx context.Context, host, port, password string) (*redis.Client, error) {
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "6379"
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		DialTimeout:  3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Log.Info("Redis client connected", zap.String("address", addr))
	return client, nil
}

// setClient is the subset of redis.Cmdable used by RedisSet.
type setClient interface {
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisSet is a lazyload.LoadedSet shared through Redis and fronted by a
// local set. Redis failures degrade to misses; the loader then simply fetches.
type RedisSet struct {
	client setClient
	key    string
	ttl    time.Duration
	local  *lazyload.MemorySet
}

var _ lazyload.LoadedSet = (*RedisSet)(nil)

// NewRedisSet creates a loaded-set stored under key. A positive ttl bounds
// the session: each Add refreshes it.
func NewRedisSet(client setClient, key string, ttl time.Duration) *RedisSet {
	if key == "" {
		key = DefaultKey
	}
	return &RedisSet{
		client: client,
		key:    key,
		ttl:    ttl,
		local:  lazyload.NewMemorySet(),
	}
}

func (s *RedisSet) Has(url string) bool {
	if s.local.Has(url) {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ok, err := s.client.SIsMember(ctx, s.key, url).Result()
	if err != nil {
		logger.Log.Warn("Loaded-set lookup failed", logger.WithURL(url), zap.Error(err))
		return false
	}
	if ok {
		s.local.Add(url)
	}
	return ok
}

func (s *RedisSet) Add(url string) {
	s.local.Add(url)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.SAdd(ctx, s.key, url).Err(); err != nil {
		logger.Log.Warn("Loaded-set add failed", logger.WithURL(url), zap.Error(err))
		return
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, s.key, s.ttl).Err(); err != nil {
			logger.Log.Warn("Loaded-set expire failed", zap.String("key", s.key), zap.Error(err))
		}
	}
}
