package testutil

import (
	"net/http/httptest"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// FakeS3 is an in-memory S3-compatible HTTP server for exercising
// adapters/s3http against real HTTP semantics (status codes, ETag headers,
// XML error bodies) without hitting AWS.
type FakeS3 struct {
	Server *httptest.Server
	bucket string
}

// NewFakeS3 starts a FakeS3 server with a single bucket already created.
func NewFakeS3(bucket string) (*FakeS3, error) {
	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())

	if err := backend.CreateBucket(bucket); err != nil {
		ts.Close()
		return nil, err
	}

	return &FakeS3{Server: ts, bucket: bucket}, nil
}

// PresignedURL builds a plain (unsigned) PUT URL against the fake server,
// standing in for a broker-issued presigned URL since the fake backend does
// not validate signatures.
func (f *FakeS3) PresignedURL(key string) string {
	return f.Server.URL + "/" + f.bucket + "/" + key
}

// Close shuts the fake server down.
func (f *FakeS3) Close() {
	f.Server.Close()
}
