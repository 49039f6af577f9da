// Package testutil holds in-memory test doubles for the upload engine's
// external collaborators, shared across the module's _test.go files.
package testutil

import (
	"context"
	"crypto/md5" //nolint:gosec // test double only, matches S3 ETag semantics
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	upload "github.com/gostratum/s3uploader"
)

// MockBroker is an in-memory upload.URLBrokerClient. The URLs it issues come
// from URLForKey and URLForPart; the defaults point at the placeholder host
// fake-s3.test, which no server answers, so tests pair them with an
// in-memory upload.S3Client double.
type MockBroker struct {
	mu sync.Mutex

	// URLForKey generates the presigned URL for a regular upload; defaults
	// to https://fake-s3.test/<objectKey>.
	URLForKey func(objectKey string) string
	// URLForPart generates the presigned URL for one multipart part.
	URLForPart func(objectKey, uploadID string, partNumber int) string

	// FailFetchRegular, when non-nil, is returned by every FetchRegular call.
	FailFetchRegular error
	// FailFetchMultipart, when non-nil, is returned by every FetchMultipart call.
	FailFetchMultipart error
	// FailComplete, when non-nil, is returned by every Complete call.
	FailComplete error
	// FailAbort, when non-nil, is returned by every Abort call.
	FailAbort error

	completed []completedUpload
	aborted   []string
	closed    bool
	nextID    int
}

type completedUpload struct {
	ObjectKey string
	UploadID  string
	ETags     []string
}

// NewMockBroker returns a MockBroker with default URL generation.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		URLForKey:  func(objectKey string) string { return "https://fake-s3.test/" + objectKey },
		URLForPart: func(objectKey, uploadID string, partNumber int) string { return fmt.Sprintf("https://fake-s3.test/%s?uploadId=%s&partNumber=%d", objectKey, uploadID, partNumber) },
	}
}

func (b *MockBroker) FetchRegular(ctx context.Context, objectKeys []string, digests map[string]string) ([]upload.PresignedURL, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, upload.ErrBrokerShutdown
	}
	if b.FailFetchRegular != nil {
		return nil, b.FailFetchRegular
	}
	out := make([]upload.PresignedURL, 0, len(objectKeys))
	for _, key := range objectKeys {
		out = append(out, upload.PresignedURL{
			ObjectKey: key,
			Parts:     []upload.URLPart{{PartNumber: 1, URL: b.URLForKey(key)}},
		})
	}
	return out, nil
}

func (b *MockBroker) FetchMultipart(ctx context.Context, objectKey string, partDigests []string, uploadID string, ttl time.Duration) (upload.PresignedURL, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return upload.PresignedURL{}, upload.ErrBrokerShutdown
	}
	if b.FailFetchMultipart != nil {
		return upload.PresignedURL{}, b.FailFetchMultipart
	}
	if uploadID == "" {
		b.nextID++
		uploadID = fmt.Sprintf("mock-upload-%d", b.nextID)
	}
	parts := make([]upload.URLPart, len(partDigests))
	for i := range partDigests {
		partNumber := i + 1
		parts[i] = upload.URLPart{PartNumber: partNumber, URL: b.URLForPart(objectKey, uploadID, partNumber)}
	}
	return upload.PresignedURL{
		ObjectKey:   objectKey,
		UploadID:    uploadID,
		Parts:       parts,
		IsMultipart: true,
	}, nil
}

func (b *MockBroker) Complete(ctx context.Context, objectKey, uploadID string, etags []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return upload.ErrBrokerShutdown
	}
	if b.FailComplete != nil {
		return b.FailComplete
	}
	b.completed = append(b.completed, completedUpload{ObjectKey: objectKey, UploadID: uploadID, ETags: append([]string(nil), etags...)})
	return nil
}

func (b *MockBroker) Abort(ctx context.Context, objectKey, uploadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return upload.ErrBrokerShutdown
	}
	if b.FailAbort != nil {
		return b.FailAbort
	}
	b.aborted = append(b.aborted, objectKey)
	return nil
}

func (b *MockBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Completed returns the object keys this broker saw Complete for.
func (b *MockBroker) Completed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.completed))
	for i, c := range b.completed {
		out[i] = c.ObjectKey
	}
	return out
}

// Aborted returns the object keys this broker saw Abort for.
func (b *MockBroker) Aborted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.aborted...)
}

// DigestHex is a small helper so tests can compute an expected part digest
// without importing crypto/md5 themselves.
func DigestHex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
