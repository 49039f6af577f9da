package upload

import (
	"context"
	"time"
)

// URLPart is one ordered part of a PresignedURL.
type URLPart struct {
	PartNumber int
	URL        string
	ExpiresAt  time.Time
}

// PresignedURL describes one or more presigned URLs for a single object
// key. A non-multipart descriptor has exactly one part with PartNumber=1
// and an empty UploadID. A multipart descriptor has one or more ordered
// parts and a non-empty UploadID.
type PresignedURL struct {
	ObjectKey   string
	UploadID    string
	Parts       []URLPart
	IsMultipart bool
}

// validate checks the PresignedURL shape: a multipart descriptor needs a
// non-empty UploadID and at least one part; a non-multipart one needs
// exactly one part numbered 1. A non-multipart descriptor's UploadID is not
// checked.
func (p PresignedURL) validate() error {
	if p.IsMultipart {
		if p.UploadID == "" || len(p.Parts) == 0 {
			return &UploadError{Op: "validate_presigned_url", Key: p.ObjectKey, Err: ErrBrokerShape}
		}
		return nil
	}
	if len(p.Parts) != 1 || p.Parts[0].PartNumber != 1 {
		return &UploadError{Op: "validate_presigned_url", Key: p.ObjectKey, Err: ErrBrokerShape}
	}
	return nil
}

// FilePart is one ordered, pre-digested slice of a file to upload.
type FilePart struct {
	Index  int
	Offset int64
	Length int64
	Digest string // lowercase hex MD5, empty if digests were not requested
}

// URLBrokerClient is the only abstraction the upload engine holds against
// the external URL broker. Broker-side issuance, CloudFront, and IAM are
// out of scope for this module; implementations live under
// adapters/httpbroker (production) and internal/refbroker (reference/demo).
type URLBrokerClient interface {
	// FetchRegular requests presigned URLs for a batch of object keys. The
	// caller must ensure len(objectKeys) <= the broker's configured
	// maxUrlChunkSize; this method does not split internally.
	FetchRegular(ctx context.Context, objectKeys []string, digests map[string]string) ([]PresignedURL, error)

	// FetchMultipart requests (or continues) a multipart upload for a
	// single object key. If uploadID is empty the broker allocates one.
	FetchMultipart(ctx context.Context, objectKey string, partDigests []string, uploadID string, ttl time.Duration) (PresignedURL, error)

	// Complete signals a successful multipart upload; etags must be in
	// ascending part-number order.
	Complete(ctx context.Context, objectKey, uploadID string, etags []string) error

	// Abort signals a failed multipart upload.
	Abort(ctx context.Context, objectKey, uploadID string) error

	// Close shuts the client down. Further calls fail with
	// ErrBrokerShutdown.
	Close() error
}
