package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/recording"
	"github.com/kozaktomas/facecam/internal/session"
	"github.com/kozaktomas/facecam/internal/storage"
	"github.com/kozaktomas/facecam/internal/storage/storagetest"
)

type failingKV struct {
	storage.KV
	err error
}

func (f *failingKV) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f *failingKV) Set(context.Context, string, []byte) error     { return f.err }

func TestMemory(t *testing.T) {
	storagetest.Run(t, storage.NewMemory())
}

func TestOpen(t *testing.T) {
	kv, err := storage.Open(context.Background(), &config.StorageConfig{Driver: "memory", MaxValueBytes: 4})
	require.NoError(t, err)
	defer kv.Close()

	err = kv.Set(context.Background(), "k", []byte("12345"))
	assert.True(t, errors.Is(err, session.ErrStorageQuota))

	_, err = storage.Open(context.Background(), &config.StorageConfig{Driver: "floppy"})
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestWithQuota(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	kv := storage.WithQuota(mem, 10)

	require.NoError(t, kv.Set(ctx, "k", []byte("0123456789")))
	err := kv.Set(ctx, "k", []byte("0123456789a"))
	assert.True(t, session.IsKind(err, session.KindStorageQuota))

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got), "rejected write must not modify the store")

	assert.Same(t, mem, storage.WithQuota(mem, 0))
}

func TestArtifacts_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	store := storage.NewArtifacts(mem)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "empty store yields no artifact")

	art := &recording.Artifact{
		ID:        "7c1e",
		MIME:      recording.MIMEMotionJPEG,
		Data:      []byte{0xff, 0xd8, 0x00, 0xff, 0xd9},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, art))

	raw, err := mem.Get(ctx, constants.ArtifactStorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":1`)

	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, art, got)

	require.NoError(t, store.Delete(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestArtifacts_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewArtifacts(storage.WithQuota(storage.NewMemory(), 64))

	err := store.Save(ctx, &recording.Artifact{ID: "big", Data: make([]byte, 1024)})
	assert.True(t, errors.Is(err, session.ErrStorageQuota))
}

func TestArtifacts_Errors(t *testing.T) {
	ctx := context.Background()

	broken := storage.NewArtifacts(&failingKV{err: errors.New("disk on fire")})
	err := broken.Save(ctx, &recording.Artifact{ID: "x"})
	assert.True(t, session.IsKind(err, session.KindStorage))
	_, err = broken.Load(ctx)
	assert.True(t, session.IsKind(err, session.KindStorage))

	assert.Error(t, broken.Save(ctx, nil))

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "garbage"},
		{"unknown version", `{"version":9,"id":"x"}`},
		{"empty envelope", `{"version":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storage.NewMemory()
			require.NoError(t, mem.Set(ctx, constants.ArtifactStorageKey, []byte(tt.raw)))
			_, err := storage.NewArtifacts(mem).Load(ctx)
			assert.True(t, session.IsKind(err, session.KindStorage))
		})
	}
}
