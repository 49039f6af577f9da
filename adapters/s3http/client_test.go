package s3http

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	upload "github.com/gostratum/s3uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func hexDigest(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

func TestClientPutObjectSucceeds(t *testing.T) {
	content := []byte("hello from the upload client")
	path := writeTempFile(t, content)
	wantEtag := hexDigest(content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.Header().Set("ETag", `"`+wantEtag+`"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(4, time.Second, true)
	etag, err := c.PutObject(context.Background(), srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, wantEtag, etag)
}

func TestClientPutObjectFileNotFound(t *testing.T) {
	c := NewClient(4, time.Second, true)
	_, err := c.PutObject(context.Background(), "http://example.invalid", "/no/such/file")
	assert.ErrorIs(t, err, upload.ErrFileNotFound)
}

func TestClientPutObjectConsistencyMismatch(t *testing.T) {
	content := []byte("some content to hash")
	path := writeTempFile(t, content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"deadbeefdeadbeefdeadbeefdeadbeef"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(4, time.Second, true)
	_, err := c.PutObject(context.Background(), srv.URL, path)
	assert.ErrorIs(t, err, upload.ErrConsistencyMismatch)
}

func TestClientPutObjectConsistencyCheckDisabled(t *testing.T) {
	content := []byte("some content to hash")
	path := writeTempFile(t, content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"not-the-right-digest"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(4, time.Second, false)
	etag, err := c.PutObject(context.Background(), srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, "not-the-right-digest", etag)
}

func TestClientPutObjectServerErrorIsTransport(t *testing.T) {
	content := []byte("retry me")
	path := writeTempFile(t, content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(4, time.Second, true)
	_, err := c.PutObject(context.Background(), srv.URL, path)
	assert.ErrorIs(t, err, upload.ErrS3Transport)
}

func TestClientPutObjectXMLErrorBodyClassifiesSlowDown(t *testing.T) {
	content := []byte("slow down please")
	path := writeTempFile(t, content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`<Error><Code>SlowDown</Code><Message>Please reduce your request rate.</Message></Error>`))
	}))
	defer srv.Close()

	c := NewClient(4, time.Second, true)
	_, err := c.PutObject(context.Background(), srv.URL, path)
	assert.ErrorIs(t, err, upload.ErrS3Transport)
}

func TestClientPutObjectForbiddenIsPermanent(t *testing.T) {
	content := []byte("forbidden")
	path := writeTempFile(t, content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	}))
	defer srv.Close()

	c := NewClient(4, time.Second, true)
	_, err := c.PutObject(context.Background(), srv.URL, path)
	assert.ErrorIs(t, err, upload.ErrS3Permanent)
}

func TestClientPutObjectInterruptedErrorCodeYieldsInterrupted(t *testing.T) {
	content := []byte("cancel me")
	path := writeTempFile(t, content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`<Error><Code>UploadInterrupted</Code><Message>build cancelled</Message></Error>`))
	}))
	defer srv.Close()

	c := NewClient(4, time.Second, true)
	_, err := c.PutObject(context.Background(), srv.URL, path)
	assert.ErrorIs(t, err, upload.ErrInterrupted)
}

func TestClientPutPartUploadsByteRange(t *testing.T) {
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i)
	}
	path := writeTempFile(t, content)
	wantEtag := hexDigest(content[10:60])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"`+wantEtag+`"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(4, time.Second, true)
	etag, err := c.PutPart(context.Background(), srv.URL, path, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, wantEtag, etag)
}

func TestContentTypeForKnownAndUnknownExtensions(t *testing.T) {
	assert.NotEmpty(t, contentTypeFor("file.html"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("file.unknownext12345"))
}
