package upload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gostratum/s3uploader/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3Client is an in-memory upload.S3Client recording every PUT.
type fakeS3Client struct {
	mu    sync.Mutex
	puts  map[string][]byte
	parts map[string][]byte

	failOn func(op, path string) error
}

func newFakeS3Client() *fakeS3Client {
	return &fakeS3Client{puts: map[string][]byte{}, parts: map[string][]byte{}}
}

func (f *fakeS3Client) PutObject(ctx context.Context, presignedURL, path string) (string, error) {
	if f.failOn != nil {
		if err := f.failOn("put_object", path); err != nil {
			return "", err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.puts[presignedURL] = data
	f.mu.Unlock()
	return testutil.DigestHex(data), nil
}

func (f *fakeS3Client) PutPart(ctx context.Context, presignedURL, path string, offset, length int64) (string, error) {
	if f.failOn != nil {
		if err := f.failOn("put_part", path); err != nil {
			return "", err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	chunk := data[offset : offset+length]
	f.mu.Lock()
	f.parts[presignedURL] = chunk
	f.mu.Unlock()
	return testutil.DigestHex(chunk), nil
}

func TestUploadTaskRegularSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	cfg := DefaultConfig()
	broker := testutil.NewMockBroker()
	retrier := NewRetrier(cfg, NeverInterrupt, NewNopLogger())
	cache := NewURLCache([]string{"small.txt"}, cfg, broker, retrier, NewNopLogger(), nil)
	s3 := newFakeS3Client()

	task := NewUploadTask("small.txt", path, "small.txt", cfg, cache, s3, NeverInterrupt, NewNopLogger(), nil, nil)
	info, err := task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size)
	assert.Equal(t, StateDone, task.State)
}

func TestUploadTaskFileNotFound(t *testing.T) {
	cfg := DefaultConfig()
	broker := testutil.NewMockBroker()
	retrier := NewRetrier(cfg, NeverInterrupt, NewNopLogger())
	cache := NewURLCache([]string{"missing.txt"}, cfg, broker, retrier, NewNopLogger(), nil)
	s3 := newFakeS3Client()

	task := NewUploadTask("missing.txt", "/no/such/file", "missing.txt", cfg, cache, s3, NeverInterrupt, NewNopLogger(), nil, nil)
	_, err := task.Run(context.Background())
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.Equal(t, StateFailed, task.State)
}

func TestUploadTaskMultipartOrdersPartsAndComputesEtag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	content := make([]byte, 12<<20) // 12 MiB: 3 parts at the 5 MiB S3 floor (5/5/2)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg := DefaultConfig()
	cfg.MultipartThreshold = 1 << 20
	broker := testutil.NewMockBroker()
	retrier := NewRetrier(cfg, NeverInterrupt, NewNopLogger())
	cache := NewURLCache([]string{"big.bin"}, cfg, broker, retrier, NewNopLogger(), nil)
	s3 := newFakeS3Client()

	var seenParts []int
	var mu sync.Mutex
	onPartETag := func(partNumber int, etag string) {
		mu.Lock()
		seenParts = append(seenParts, partNumber)
		mu.Unlock()
	}

	task := NewUploadTask("big.bin", path, "big.bin", cfg, cache, s3, NeverInterrupt, NewNopLogger(), nil, onPartETag)
	info, err := task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12<<20), info.Size)
	assert.Contains(t, info.Digest, "-3")
	assert.Equal(t, []int{1, 2, 3}, seenParts)
	assert.NotEmpty(t, task.UploadID())
}

func TestUploadTaskRespectsInterrupterBeforeStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	cfg := DefaultConfig()
	broker := testutil.NewMockBroker()
	retrier := NewRetrier(cfg, NeverInterrupt, NewNopLogger())
	cache := NewURLCache([]string{"small.txt"}, cfg, broker, retrier, NewNopLogger(), nil)
	s3 := newFakeS3Client()

	interrupter := testutil.NewFlagInterrupter()
	interrupter.Fire("batch cancelled")

	task := NewUploadTask("small.txt", path, "small.txt", cfg, cache, s3, interrupter, NewNopLogger(), nil, nil)
	_, err := task.Run(context.Background())
	assert.True(t, IsInterrupted(err))
}
