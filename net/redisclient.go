package net

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisOptions is used to configure the redis.Ring
type RedisOptions struct {
	// Addrs are the list of redis shards
	Addrs []string
	// Password for the redis shards
	Password string

	// ReadTimeout for redis socket reads
	ReadTimeout time.Duration
	// WriteTimeout for redis socket writes
	WriteTimeout time.Duration
	// DialTimeout is the max time.Duration to dial a new connection
	DialTimeout time.Duration
	// PoolTimeout is the max time.Duration to get a connection from pool
	PoolTimeout time.Duration
	// MinIdleConns is the minimum number of socket connections to redis
	MinIdleConns int
	// MaxIdleConns is the maximum number of socket connections to redis
	MaxIdleConns int

	// HeartbeatFrequency frequency of PING commands sent to check
	// shards availability.
	HeartbeatFrequency time.Duration

	// KeyPrefix is prepended to every key.
	KeyPrefix string
}

// RedisRingClient is a thin key/value client over a sharded redis ring.
type RedisRingClient struct {
	ring      *redis.Ring
	keyPrefix string
}

const (
	DefaultReadTimeout  = 25 * time.Millisecond
	DefaultWriteTimeout = 25 * time.Millisecond
	DefaultPoolTimeout  = 25 * time.Millisecond
	DefaultDialTimeout  = 25 * time.Millisecond
	DefaultMinConns     = 10
	DefaultMaxConns     = 100

	defaultPingTries = 7
)

// NewRedisRingClient creates a ring client. Zero timeouts and connection
// limits are set to their defaults.
func NewRedisRingClient(ro RedisOptions) *RedisRingClient {
	ringOptions := &redis.RingOptions{
		Addrs:              map[string]string{},
		Password:           ro.Password,
		ReadTimeout:        defaultDuration(ro.ReadTimeout, DefaultReadTimeout),
		WriteTimeout:       defaultDuration(ro.WriteTimeout, DefaultWriteTimeout),
		PoolTimeout:        defaultDuration(ro.PoolTimeout, DefaultPoolTimeout),
		DialTimeout:        defaultDuration(ro.DialTimeout, DefaultDialTimeout),
		MinIdleConns:       defaultInt(ro.MinIdleConns, DefaultMinConns),
		PoolSize:           defaultInt(ro.MaxIdleConns, DefaultMaxConns),
		HeartbeatFrequency: ro.HeartbeatFrequency,
	}

	for idx, addr := range ro.Addrs {
		ringOptions.Addrs[fmt.Sprintf("redis%d", idx)] = addr
	}

	return &RedisRingClient{
		ring:      redis.NewRing(ringOptions),
		keyPrefix: ro.KeyPrefix,
	}
}

func defaultDuration(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}

	return d
}

func defaultInt(i, def int) int {
	if i == 0 {
		return def
	}

	return i
}

// RingAvailable pings the ring, retrying with exponential backoff, and
// reports whether any ping succeeded.
func (r *RedisRingClient) RingAvailable(ctx context.Context) bool {
	return r.ringAvailable(ctx, defaultPingTries, backoff.NewExponentialBackOff())
}

func (r *RedisRingClient) ringAvailable(ctx context.Context, tries uint, b backoff.BackOff) bool {
	_, err := backoff.Retry(ctx, func() (string, error) {
		res, err := r.ring.Ping(ctx).Result()
		if err != nil {
			log.Infof("Failed to ping redis, retry with backoff: %v", err)
		}

		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))

	return err == nil
}

// Get returns the value stored for key, or nil and no error when the key
// does not exist.
func (r *RedisRingClient) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.ring.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	return b, err
}

// Set stores value for key, expiring after ttl. A zero ttl means no
// expiration.
func (r *RedisRingClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.ring.Set(ctx, r.keyPrefix+key, value, ttl).Err()
}

// Close closes the connections of the ring.
func (r *RedisRingClient) Close() {
	if r.ring != nil {
		if err := r.ring.Close(); err != nil {
			log.Errorf("Failed to close redis ring: %v", err)
		}
	}
}
