// Package cachetest checks that a cache.KV implementation behaves like the
// in-memory one.
package cachetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/fynq/cache"
)

// Run exercises a fresh KV from newKV in each subtest and closes it after.
func Run(t *testing.T, newKV func(t *testing.T) cache.KV) {
	t.Helper()

	open := func(t *testing.T) cache.KV {
		kv := newKV(t)
		t.Cleanup(func() { _ = kv.Close() })
		return kv
	}

	t.Run("GetMissing", func(t *testing.T) {
		kv := open(t)
		_, err := kv.Get(context.Background(), "b", "k")
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("PutGetOverwrite", func(t *testing.T) {
		ctx := context.Background()
		kv := open(t)
		require.NoError(t, kv.Put(ctx, "b", "k", []byte("one")))
		require.NoError(t, kv.Put(ctx, "b", "k", []byte("two")))

		v, err := kv.Get(ctx, "b", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), v)
	})

	t.Run("DeleteMissingIsNoop", func(t *testing.T) {
		kv := open(t)
		assert.NoError(t, kv.Delete(context.Background(), "b", "nope"))
	})

	t.Run("AllIsPerBucket", func(t *testing.T) {
		ctx := context.Background()
		kv := open(t)
		require.NoError(t, kv.Put(ctx, "messages:a", "1", []byte("x")))
		require.NoError(t, kv.Put(ctx, "messages:a", "2", []byte("y")))
		require.NoError(t, kv.Put(ctx, "messages:ab", "3", []byte("z")))

		got, err := kv.All(ctx, "messages:a")
		require.NoError(t, err)
		assert.Equal(t, map[string][]byte{"1": []byte("x"), "2": []byte("y")}, got)

		got, err = kv.All(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("DeleteAndDrop", func(t *testing.T) {
		ctx := context.Background()
		kv := open(t)
		require.NoError(t, kv.Put(ctx, "a", "1", []byte("x")))
		require.NoError(t, kv.Put(ctx, "a", "2", []byte("y")))
		require.NoError(t, kv.Put(ctx, "b", "1", []byte("z")))

		require.NoError(t, kv.Delete(ctx, "a", "1"))
		_, err := kv.Get(ctx, "a", "1")
		assert.ErrorIs(t, err, cache.ErrNotFound)

		require.NoError(t, kv.Drop(ctx, "a"))
		got, err := kv.All(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, got)

		v, err := kv.Get(ctx, "b", "1")
		require.NoError(t, err)
		assert.Equal(t, []byte("z"), v)
	})
}
