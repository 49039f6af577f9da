package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

// closeTrackingBroker is a minimal URLBrokerClient that only tracks whether
// Close was called.
type closeTrackingBroker struct {
	closed bool
}

func (b *closeTrackingBroker) FetchRegular(ctx context.Context, objectKeys []string, digests map[string]string) ([]PresignedURL, error) {
	return nil, nil
}
func (b *closeTrackingBroker) FetchMultipart(ctx context.Context, objectKey string, partDigests []string, uploadID string, ttl time.Duration) (PresignedURL, error) {
	return PresignedURL{}, nil
}
func (b *closeTrackingBroker) Complete(ctx context.Context, objectKey, uploadID string, etags []string) error {
	return nil
}
func (b *closeTrackingBroker) Abort(ctx context.Context, objectKey, uploadID string) error { return nil }
func (b *closeTrackingBroker) Close() error {
	b.closed = true
	return nil
}

// closeTrackingS3Client is an S3Client that also implements transportCloser,
// standing in for adapters/s3http.Client's pooled-transport Close.
type closeTrackingS3Client struct {
	closed bool
}

func (s *closeTrackingS3Client) PutObject(ctx context.Context, presignedURL, path string) (string, error) {
	return "", nil
}
func (s *closeTrackingS3Client) PutPart(ctx context.Context, presignedURL, path string, offset, length int64) (string, error) {
	return "", nil
}
func (s *closeTrackingS3Client) Close() error {
	s.closed = true
	return nil
}

func TestRegisterLifecycleClosesBrokerAndS3Transport(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	broker := &closeTrackingBroker{}
	s3 := &closeTrackingS3Client{}

	registerLifecycle(LifecycleParams{
		Lifecycle: lc,
		Broker:    broker,
		S3:        s3,
	})

	lc.RequireStart()
	lc.RequireStop()

	assert.True(t, broker.closed)
	assert.True(t, s3.closed)
}

// fakeS3ClientNoClose is an S3Client that does not implement transportCloser,
// standing in for a test double that owns no pooled transport.
type fakeS3ClientNoClose struct{}

func (fakeS3ClientNoClose) PutObject(ctx context.Context, presignedURL, path string) (string, error) {
	return "", nil
}
func (fakeS3ClientNoClose) PutPart(ctx context.Context, presignedURL, path string, offset, length int64) (string, error) {
	return "", nil
}

func TestRegisterLifecycleSkipsS3CloseWhenNotACloser(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	broker := &closeTrackingBroker{}
	var s3 S3Client = fakeS3ClientNoClose{}

	registerLifecycle(LifecycleParams{
		Lifecycle: lc,
		Broker:    broker,
		S3:        s3,
	})

	lc.RequireStart()
	require.NoError(t, lc.Stop(context.Background()))

	assert.True(t, broker.closed)
}
