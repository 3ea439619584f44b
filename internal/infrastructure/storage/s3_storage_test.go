package storage

import (
	"context"
	"testing"

	"github.com/docuflow/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3DocumentStorage_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3DocumentStorage(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		cfg := &config.StorageConfig{
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		}
		_, err := NewS3DocumentStorage(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("missing access key returns error", func(t *testing.T) {
		cfg := &config.StorageConfig{
			Bucket:          "test-bucket",
			SecretAccessKey: "test-secret",
		}
		_, err := NewS3DocumentStorage(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access key id is required")
	})

	t.Run("missing secret key returns error", func(t *testing.T) {
		cfg := &config.StorageConfig{
			Bucket:      "test-bucket",
			AccessKeyID: "test-key",
		}
		_, err := NewS3DocumentStorage(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret access key is required")
	})

	t.Run("valid config succeeds", func(t *testing.T) {
		cfg := &config.StorageConfig{
			Bucket:          "docuflow-documents",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
			Endpoint:        "localhost:9000",
			UsePathStyle:    true,
			KeyPrefix:       "raw",
		}
		s, err := NewS3DocumentStorage(cfg)
		require.NoError(t, err)
		assert.Equal(t, "docuflow-documents", s.Bucket())
	})
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("raw", "tenant-1", "abc123", "hoa-don-0001.PDF")
	assert.Equal(t, "raw/tenant-1/abc123.pdf", key)

	// no extension
	key = ObjectKey("raw", "tenant-1", "abc123", "scan")
	assert.Equal(t, "raw/tenant-1/abc123", key)

	// empty prefix falls back to raw
	key = ObjectKey("", "tenant-1", "abc123", "a.png")
	assert.Equal(t, "raw/tenant-1/abc123.png", key)
}

func TestMemoryDocumentStorage_RoundTrip(t *testing.T) {
	store := NewMemoryDocumentStorage("raw")
	ctx := context.Background()

	key := store.ObjectKey("tenant-1", "abc123", "hoa-don.pdf")
	require.NoError(t, store.Put(ctx, key, []byte("%PDF-1.4"), "application/pdf"))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)

	require.NoError(t, store.Delete(ctx, key))
	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryDocumentStorage_GetMissing(t *testing.T) {
	store := NewMemoryDocumentStorage("raw")

	_, err := store.Get(context.Background(), "raw/tenant-1/missing.pdf")

	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryDocumentStorage_PutCopiesData(t *testing.T) {
	store := NewMemoryDocumentStorage("raw")
	ctx := context.Background()

	data := []byte("original")
	require.NoError(t, store.Put(ctx, "k", data, "application/octet-stream"))
	data[0] = 'X'

	stored, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), stored)
}
