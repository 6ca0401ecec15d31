// Package rediscache stores the fynq cache in Redis, one hash per bucket.
package rediscache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/meikuraledutech/fynq/cache"
)

const defaultPrefix = "fynq:"

type KV struct {
	rdb    *redis.Client
	prefix string
}

var _ cache.KV = (*KV)(nil)

// New wraps an existing client. Buckets become hashes named prefix+bucket;
// an empty prefix uses "fynq:".
func New(rdb *redis.Client, prefix string) *KV {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &KV{rdb: rdb, prefix: prefix}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr string, db int) (*KV, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("fynq: connect redis %s: %w", addr, err)
	}
	return New(rdb, ""), nil
}

func (k *KV) hash(bucket string) string {
	return k.prefix + bucket
}

func (k *KV) Put(ctx context.Context, bucket, key string, value []byte) error {
	return k.rdb.HSet(ctx, k.hash(bucket), key, value).Err()
}

func (k *KV) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	v, err := k.rdb.HGet(ctx, k.hash(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	return v, err
}

func (k *KV) Delete(ctx context.Context, bucket, key string) error {
	return k.rdb.HDel(ctx, k.hash(bucket), key).Err()
}

func (k *KV) All(ctx context.Context, bucket string) (map[string][]byte, error) {
	raw, err := k.rdb.HGetAll(ctx, k.hash(bucket)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for key, v := range raw {
		out[key] = []byte(v)
	}
	return out, nil
}

func (k *KV) Drop(ctx context.Context, bucket string) error {
	return k.rdb.Del(ctx, k.hash(bucket)).Err()
}

func (k *KV) Close() error {
	return k.rdb.Close()
}
