package s3http

import (
	"errors"
	"net"
	"net/http"
	"syscall"

	upload "github.com/gostratum/s3uploader"
)

// interruptedErrorCode is the XML error code a broker-fronted S3 endpoint
// sends when it considers the upload interrupted (e.g. the build this part
// belongs to was cancelled server-side); it maps to upload.ErrInterrupted
// rather than the usual transport/permanent classification, per spec.
const interruptedErrorCode = "UploadInterrupted"

// classifyResponse maps a non-2xx S3 HTTP response (status code plus an
// optionally decoded XML error body) to the upload error taxonomy.
func classifyResponse(op, key string, statusCode int, code string) error {
	if code == interruptedErrorCode {
		return &upload.UploadError{Op: op, Key: key, Err: upload.ErrInterrupted}
	}

	switch code {
	case "RequestTimeout", "SlowDown", "InternalError":
		return &upload.UploadError{Op: op, Key: key, Err: upload.ErrS3Transport}
	}

	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return &upload.UploadError{Op: op, Key: key, Err: upload.ErrS3Transport}
	default:
		return &upload.UploadError{Op: op, Key: key, Err: upload.ErrS3Permanent}
	}
}

// classifyNetErr maps a low-level transport failure (connection reset,
// connection refused, read/dial timeout) to a recoverable error. Anything
// else - a malformed URL, an unresolvable host - is treated as
// non-recoverable since retrying won't change the outcome.
func classifyNetErr(op, key string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &upload.UploadError{Op: op, Key: key, Err: upload.ErrS3Transport}
	}
	if isConnReset(err) {
		return &upload.UploadError{Op: op, Key: key, Err: upload.ErrS3Transport}
	}
	return &upload.UploadError{Op: op, Key: key, Err: upload.ErrS3Permanent}
}

// isConnReset reports whether err is a connection-level failure worth
// retrying (reset or refused), as opposed to a DNS/host-resolution failure
// which also surfaces as a *net.OpError but is not recoverable. Matching on
// *net.OpError alone is too broad - "no such host" is an OpError too - so
// this checks the wrapped syscall errno instead.
func isConnReset(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}
