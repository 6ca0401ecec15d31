// Package pebblecache stores the fynq cache in an on-disk Pebble database.
package pebblecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/meikuraledutech/fynq/cache"
)

// Keys are "<bucket>\x00<key>"; a bucket spans [bucket\x00, bucket\x01).
const sep = 0x00

type KV struct {
	db *pebble.DB
}

var _ cache.KV = (*KV)(nil)

// Open opens or creates the database at path.
func Open(path string) (*KV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("fynq: create cache dir: %w", err)
	}
	return open(path, &pebble.Options{})
}

// OpenFS opens the database on the given filesystem, e.g. vfs.NewMem().
func OpenFS(path string, fs vfs.FS) (*KV, error) {
	return open(path, &pebble.Options{FS: fs})
}

func open(path string, opts *pebble.Options) (*KV, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("fynq: open pebble cache %s: %w", path, err)
	}
	return &KV{db: db}, nil
}

func (k *KV) Close() error {
	if k == nil || k.db == nil {
		return nil
	}
	return k.db.Close()
}

func (k *KV) Put(_ context.Context, bucket, key string, value []byte) error {
	return k.db.Set(dbKey(bucket, key), value, pebble.Sync)
}

func (k *KV) Get(_ context.Context, bucket, key string) ([]byte, error) {
	v, closer, err := k.db.Get(dbKey(bucket, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (k *KV) Delete(_ context.Context, bucket, key string) error {
	return k.db.Delete(dbKey(bucket, key), pebble.Sync)
}

func (k *KV) All(_ context.Context, bucket string) (map[string][]byte, error) {
	lower, upper := bounds(bucket)
	it, err := k.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make(map[string][]byte)
	for ok := it.First(); ok; ok = it.Next() {
		key := string(it.Key()[len(lower):])
		v := it.Value()
		vb := make([]byte, len(v))
		copy(vb, v)
		out[key] = vb
	}
	return out, it.Error()
}

func (k *KV) Drop(_ context.Context, bucket string) error {
	lower, upper := bounds(bucket)
	return k.db.DeleteRange(lower, upper, pebble.Sync)
}

func dbKey(bucket, key string) []byte {
	b := make([]byte, 0, len(bucket)+1+len(key))
	b = append(b, bucket...)
	b = append(b, sep)
	return append(b, key...)
}

func bounds(bucket string) (lower, upper []byte) {
	lower = append([]byte(bucket), sep)
	upper = append([]byte(bucket), sep+1)
	return lower, upper
}
