package upload

import (
	"errors"
	"fmt"
)

// Domain errors - use errors.Is for checking.
var (
	// ErrInterrupted indicates the batch was cooperatively cancelled, either
	// because the interrupter fired or the broker reported the upload as
	// interrupted.
	ErrInterrupted = errors.New("upload: interrupted")

	// ErrFileNotFound indicates a source file named in the UploadRequest
	// does not exist on disk.
	ErrFileNotFound = errors.New("upload: file not found")

	// ErrBrokerFetchFailed indicates the URL broker failed to return
	// presigned URLs after the retry budget was exhausted.
	ErrBrokerFetchFailed = errors.New("upload: broker fetch failed")

	// ErrBrokerShape indicates the broker returned a response that does
	// not match what was requested (e.g. a multipart descriptor for a
	// regular request).
	ErrBrokerShape = errors.New("upload: unexpected broker response shape")

	// ErrBrokerShutdown indicates a URLBrokerClient was used after Close.
	ErrBrokerShutdown = errors.New("upload: broker client already shut down")

	// ErrS3Transport indicates a retriable transport-level S3 failure
	// (5xx, SlowDown, timeout, connection reset).
	ErrS3Transport = errors.New("upload: s3 transport error")

	// ErrS3Permanent indicates a non-retriable S3 failure (4xx other than
	// 408/429, unknown host, a request that cannot be built). An error body
	// that is not valid XML does not produce it by itself: the response is
	// then classified by its status code alone.
	ErrS3Permanent = errors.New("upload: s3 permanent error")

	// ErrConsistencyMismatch indicates the locally computed digest did not
	// match the ETag S3 returned.
	ErrConsistencyMismatch = errors.New("upload: digest does not match etag")

	// ErrMultipartFinalizeFailed indicates a complete/abort call to the
	// broker failed after the retry budget was exhausted.
	ErrMultipartFinalizeFailed = errors.New("upload: multipart finalize failed")

	// ErrInvalidConfig indicates the engine configuration is invalid.
	ErrInvalidConfig = errors.New("upload: invalid configuration")
)

// UploadError wraps an underlying error with the operation and object key
// it occurred on, so logs read as "[absPath => objectKey]" per spec.
type UploadError struct {
	Op   string // operation that failed, e.g. "put_object", "fetch_regular"
	Key  string // object key, if applicable
	Path string // local file path, if applicable
	Err  error
}

func (e *UploadError) Error() string {
	switch {
	case e.Path != "" && e.Key != "":
		return fmt.Sprintf("upload %s [%s => %s]: %v", e.Op, e.Path, e.Key, e.Err)
	case e.Key != "":
		return fmt.Sprintf("upload %s %q: %v", e.Op, e.Key, e.Err)
	default:
		return fmt.Sprintf("upload %s: %v", e.Op, e.Err)
	}
}

func (e *UploadError) Unwrap() error { return e.Err }

// IsInterrupted reports whether err is or wraps ErrInterrupted.
func IsInterrupted(err error) bool { return errors.Is(err, ErrInterrupted) }

// IsRecoverable reports whether err belongs to a class the Retrier should
// retry: transport-level S3 failures, broker fetch failures, consistency
// mismatches, and multipart finalize failures. Interrupted, not-found,
// permanent S3, broker-shape, broker-shutdown, and invalid-config errors are
// never recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInterrupted),
		errors.Is(err, ErrFileNotFound),
		errors.Is(err, ErrBrokerShape),
		errors.Is(err, ErrBrokerShutdown),
		errors.Is(err, ErrS3Permanent),
		errors.Is(err, ErrInvalidConfig):
		return false
	case errors.Is(err, ErrS3Transport),
		errors.Is(err, ErrBrokerFetchFailed),
		errors.Is(err, ErrConsistencyMismatch),
		errors.Is(err, ErrMultipartFinalizeFailed):
		return true
	default:
		return false
	}
}

// FileUploadFailed aggregates the root cause of a batch-level failure. Fatal
// failures (file-not-found, broker-shape, exhausted multipart finalize) are
// not worth retrying at the batch level; non-fatal failures already
// exhausted the Retrier's budget.
type FileUploadFailed struct {
	ArtifactPath string
	Fatal        bool
	Err          error
}

func (e *FileUploadFailed) Error() string {
	return fmt.Sprintf("upload: file %q failed (fatal=%v): %v", e.ArtifactPath, e.Fatal, e.Err)
}

func (e *FileUploadFailed) Unwrap() error { return e.Err }
