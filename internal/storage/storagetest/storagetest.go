// Package storagetest is a behaviour suite every storage backend must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facecam/internal/storage"
)

// Run exercises kv. The store must start empty for the keys it uses.
func Run(t *testing.T, kv storage.KV) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := kv.Get(ctx, "storagetest-missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, "storagetest-a", []byte("one")))
		got, err := kv.Get(ctx, "storagetest-a")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), got)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, "storagetest-b", []byte("first")))
		require.NoError(t, kv.Set(ctx, "storagetest-b", []byte("second")))
		got, err := kv.Get(ctx, "storagetest-b")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("binary value", func(t *testing.T) {
		value := []byte{0x00, 0xff, 0xd8, 0x10, 0x00}
		require.NoError(t, kv.Set(ctx, "storagetest-bin", value))
		got, err := kv.Get(ctx, "storagetest-bin")
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, "storagetest-c", []byte("x")))
		require.NoError(t, kv.Delete(ctx, "storagetest-c"))
		_, err := kv.Get(ctx, "storagetest-c")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		require.NoError(t, kv.Delete(ctx, "storagetest-c"), "deleting a missing key is not an error")
	})
}
