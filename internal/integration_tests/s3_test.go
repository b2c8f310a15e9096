package integrationtests

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alert-classifier/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-bucket"

func setupTestObjectStore(t *testing.T, ctx context.Context) *storage.S3ObjectStore {
	t.Helper()

	endpoint := setupMinioContainer(t, ctx)

	objectStore, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        endpoint,
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))

	return objectStore
}

func TestS3ObjectStore_PutGetObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	key := "test-dir/test-file.txt"
	content := []byte("Test content")

	err := objectStore.PutObject(ctx, bucketName, key, bytes.NewReader(content))
	require.NoError(t, err)

	data, err := objectStore.GetObject(ctx, bucketName, key)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestS3ObjectStore_CreateBucketTwice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	// Re-creating an owned bucket is not an error.
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))
}

func TestS3ObjectStore_ListObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	files := []string{"test-dir/file1.txt", "test-dir/subdir/file2.txt", "other-dir/file3.txt"}
	for _, file := range files {
		require.NoError(t, storage.PutBytes(ctx, objectStore, bucketName, file, []byte("content: "+file)))
	}

	objs, err := objectStore.ListObjects(ctx, bucketName, "test-dir")
	require.NoError(t, err)
	assert.Len(t, objs, 2)
	for _, obj := range objs {
		assert.True(t, strings.HasPrefix(obj.Name, "test-dir/"))
		assert.Greater(t, obj.Size, int64(0))
	}
}

func TestS3ObjectStore_DownloadDir(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	src := "to-download"
	destDir := filepath.Join(t.TempDir(), "download-target")

	files := []string{"model.onnx", "metadata.json", "extra/notes.txt"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(ctx, bucketName, src+"/"+file, strings.NewReader("content: "+file)))
	}

	err := objectStore.DownloadDir(ctx, bucketName, src, destDir, false)
	require.NoError(t, err)

	for _, file := range files {
		downloadedPath := filepath.Join(destDir, file)
		data, err := os.ReadFile(downloadedPath)
		require.NoError(t, err)
		assert.Equal(t, "content: "+file, string(data))
	}
}

func TestS3ObjectStore_DownloadDir_Overwrite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	src := "to-download"
	destDir := t.TempDir()

	destFile := filepath.Join(destDir, "file1.txt")
	require.NoError(t, os.WriteFile(destFile, []byte("original"), os.ModePerm))

	for _, file := range []string{"file1.txt", "file2.txt"} {
		require.NoError(t, objectStore.PutObject(ctx, bucketName, src+"/"+file, strings.NewReader("new content")))
	}

	// Try without overwrite first
	err := objectStore.DownloadDir(ctx, bucketName, src, destDir, false)
	require.Error(t, err)
	data, err := os.ReadFile(destFile)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data), "File should not be overwritten when overwrite=false")

	// Now try with overwrite
	err = objectStore.DownloadDir(ctx, bucketName, src, destDir, true)
	require.NoError(t, err)
	data, err = os.ReadFile(destFile)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data), "File should be overwritten when overwrite=true")
}
