package upload

import (
	"crypto/md5" //nolint:gosec // contractual: matches S3 ETag semantics, not used for security
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// DigestingReader streams bytes from a file (or a byte-range slice of one)
// while computing an MD5 digest of everything read, matching S3's ETag
// semantics for both regular and per-part uploads.
//
// A DigestingReader is restartable: Open reopens the underlying file and
// reinitializes the digest, because the Retrier may re-execute a PUT after
// a failed attempt has partially consumed the stream.
type DigestingReader struct {
	path   string
	offset int64
	length int64 // -1 means "whole file"

	file *os.File
	sr   io.Reader // the file (or a LimitReader over it), teed into h
	h    interface{ Write([]byte) (int, error) }
	sum  []byte
	done bool
}

// NewDigestingReader returns a reader over the entire file at path.
func NewDigestingReader(path string) *DigestingReader {
	return &DigestingReader{path: path, length: -1}
}

// NewPartDigestingReader returns a reader over [offset, offset+length) of
// the file at path.
func NewPartDigestingReader(path string, offset, length int64) *DigestingReader {
	return &DigestingReader{path: path, offset: offset, length: length}
}

// Open opens (or reopens) the underlying file and resets the digest. Must
// be called before the first Read, and again before every retry attempt.
func (r *DigestingReader) Open() error {
	r.Close()

	f, err := os.Open(r.path)
	if err != nil {
		return &UploadError{Op: "digest_open", Path: r.path, Err: fmt.Errorf("%w: %v", ErrFileNotFound, err)}
	}

	hasher := md5.New()
	r.h = hasher
	r.file = f
	r.done = false
	r.sum = nil

	if r.length < 0 {
		r.sr = io.TeeReader(f, hasher)
		return nil
	}

	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		f.Close()
		return &UploadError{Op: "digest_open", Path: r.path, Err: err}
	}
	r.sr = io.TeeReader(io.LimitReader(f, r.length), hasher)
	return nil
}

// Read implements io.Reader. On EOF the digest becomes final and available
// via Sum. A partial read followed by an I/O error leaves the digest
// undefined; callers must treat such a reader as failed and not call Sum.
func (r *DigestingReader) Read(p []byte) (int, error) {
	n, err := r.sr.Read(p)
	if err == io.EOF {
		r.done = true
		r.sum = r.h.(interface{ Sum([]byte) []byte }).Sum(nil)
	}
	return n, err
}

// Sum returns the lowercase hex digest. Only valid after Read has returned
// io.EOF at least once for the current Open.
func (r *DigestingReader) Sum() (string, error) {
	if !r.done {
		return "", fmt.Errorf("upload: digest requested before stream fully consumed")
	}
	return hex.EncodeToString(r.sum), nil
}

// Close releases the underlying file handle. Safe to call multiple times.
func (r *DigestingReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// digestRange computes the MD5 digest of [offset, offset+length) of the file
// at path without retaining an open reader, used by FileSplitter to
// precompute part digests.
func digestRange(path string, offset, length int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &UploadError{Op: "digest_range", Path: path, Err: fmt.Errorf("%w: %v", ErrFileNotFound, err)}
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", &UploadError{Op: "digest_range", Path: path, Err: err}
	}

	h := md5.New()
	if _, err := io.Copy(h, io.LimitReader(f, length)); err != nil {
		return "", &UploadError{Op: "digest_range", Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// computeMultipartDigest implements spec.md R2: the ETag a multipart
// upload receives is md5(concat(decodeHex(etag_i) for i in 1..N)) + "-" +
// N, where each etag_i is the per-part MD5 hex digest (quotes stripped).
func computeMultipartDigest(etags []string) (string, error) {
	h := md5.New()
	for _, etag := range etags {
		raw, err := hex.DecodeString(etag)
		if err != nil {
			return "", fmt.Errorf("upload: malformed part etag %q: %w", etag, err)
		}
		h.Write(raw)
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(h.Sum(nil)), len(etags)), nil
}
