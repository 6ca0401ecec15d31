// Package cache is the local durable shadow of the remote store. It holds the
// last known-good sessions of an owner and messages of each session so the
// UI can render before the network answers.
package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("fynq: cache entry not found")

// KV is a bucketed byte store. Keys are unique within a bucket.
type KV interface {
	Put(ctx context.Context, bucket, key string, value []byte) error
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, bucket, key string) error
	All(ctx context.Context, bucket string) (map[string][]byte, error)
	Drop(ctx context.Context, bucket string) error
	Close() error
}

// MemoryKV is a KV that lives only as long as the process.
type MemoryKV struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{buckets: make(map[string]map[string][]byte)}
}

var _ KV = (*MemoryKV)(nil)

func (m *MemoryKV) Put(_ context.Context, bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		m.buckets[bucket] = b
	}
	b[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.buckets[bucket][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets[bucket], key)
	return nil
}

func (m *MemoryKV) All(_ context.Context, bucket string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.buckets[bucket]))
	for k, v := range m.buckets[bucket] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (m *MemoryKV) Drop(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets, bucket)
	return nil
}

// Buckets lists the non-empty buckets, sorted.
func (m *MemoryKV) Buckets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.buckets))
	for name, b := range m.buckets {
		if len(b) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (m *MemoryKV) Close() error { return nil }
