package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces descriptor entries on a shared server.
const redisKeyPrefix = "mcs:descriptor:"

// Redis is a cache shared across machines. Expiry is left to the server.
type Redis struct {
	client *redis.Client
	codec  *codec
	ttl    time.Duration
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     64,
		MinIdleConns: 4,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s:\n%w", addr, err)
	}

	c, err := newCodec()
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Redis{client: client, codec: c, ttl: ttl}, nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, uri string) ([]byte, error) {
	value, err := r.client.Get(ctx, redisKey(uri)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	e, err := r.codec.decode(value)
	if err != nil {
		return nil, err
	}

	if e.URI != uri {
		return nil, ErrCacheMiss
	}

	return e.Body, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, uri string, body []byte) error {
	value := r.codec.encode(Entry{URI: uri, FetchedAt: time.Now(), Body: body})

	return r.client.Set(ctx, redisKey(uri), value, r.ttl).Err()
}

// Close implements Cache.
func (r *Redis) Close() error {
	r.codec.close()
	return r.client.Close()
}

func redisKey(uri string) string {
	h := Key(uri)
	return redisKeyPrefix + hex.EncodeToString(h[:])
}
