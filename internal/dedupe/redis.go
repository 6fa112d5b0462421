package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces dedupe keys in a shared Redis.
const DefaultKeyPrefix = "relay:dedupe:"

// Client bounds. The check runs before the platform ack, so a slow Redis
// must fail fast rather than stall the ack.
const (
	DefaultDialTimeout = 200 * time.Millisecond
	DefaultIOTimeout   = 100 * time.Millisecond
)

// setNXClient is the subset of the Redis client used here.
type setNXClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Redis is a Store shared by every replica of the service.
type Redis struct {
	client setNXClient
	prefix string
	ttl    time.Duration
}

// RedisConfig configures a Redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration

	DialTimeout time.Duration // default DefaultDialTimeout
	IOTimeout   time.Duration // read and write; default DefaultIOTimeout

	// MaxRetries is the number of retries after a failed command. Zero
	// means none.
	MaxRetries int
}

// NewRedis connects a Redis store. The connection is lazy; errors surface on
// the first Seen call.
func NewRedis(cfg RedisConfig) *Redis {
	return newRedis(redis.NewClient(redisOptions(cfg)), cfg.Prefix, cfg.TTL)
}

func redisOptions(cfg RedisConfig) *redis.Options {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	// go-redis reads 0 as its default of 3 retries and -1 as none.
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = -1
	}
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.IOTimeout,
		WriteTimeout: cfg.IOTimeout,
		MaxRetries:   retries,
	}
}

func newRedis(client setNXClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Seen claims key with SET NX and the store TTL.
func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	claimed, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedupe %q: %w", key, err)
	}
	return !claimed, nil
}

// Close releases the underlying connection pool when the store owns one.
func (r *Redis) Close() error {
	if c, ok := r.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
