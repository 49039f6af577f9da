// Package s3http implements upload.S3Client against S3 presigned URLs using
// net/http directly, the way a thin transport adapter should: no AWS SDK,
// since a presigned PUT is just an HTTP request with the signature already
// embedded in the URL.
package s3http

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	upload "github.com/gostratum/s3uploader"
)

// defaultUserAgent identifies this client to S3 and to any logging proxy
// sitting in front of it.
const defaultUserAgent = "gostratum-s3uploader/1.0"

// Client implements upload.S3Client by issuing presigned PUT requests
// directly against S3 (or an S3-compatible endpoint). Its connection pool
// is sized to the engine's worker count so every concurrent UploadTask gets
// a warm connection instead of queuing on transport-level limits.
type Client struct {
	http                    *http.Client
	transport               *http.Transport
	consistencyCheckEnabled bool
}

// NewClient builds a Client whose transport is pooled for nThreads
// concurrent uploads, each whole request bounded by six times
// connectTimeout.
func NewClient(nThreads int, connectTimeout time.Duration, consistencyCheckEnabled bool) *Client {
	if nThreads < 1 {
		nThreads = 1
	}
	transport := &http.Transport{
		MaxIdleConns:        nThreads * 2,
		MaxIdleConnsPerHost: nThreads * 2,
		MaxConnsPerHost:     nThreads * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout * 6, // generous ceiling; per-attempt cancellation is ctx-driven
		},
		transport:               transport,
		consistencyCheckEnabled: consistencyCheckEnabled,
	}
}

// Close releases every idle pooled connection. It never returns an error -
// CloseIdleConnections has no failure mode - but returns one to satisfy the
// same Close() error shape as upload.URLBrokerClient, so an fx.Lifecycle
// hook can treat both collaborators uniformly.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// PutObject uploads the whole file at path to presignedURL, returning the
// ETag S3 reports (quotes stripped).
func (c *Client) PutObject(ctx context.Context, presignedURL, path string) (string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", &upload.UploadError{Op: "put_object", Path: path, Err: fmt.Errorf("%w: %v", upload.ErrFileNotFound, err)}
	}

	dr := upload.NewDigestingReader(path)
	if err := dr.Open(); err != nil {
		return "", err
	}
	defer dr.Close()

	etag, err := c.put(ctx, "put_object", presignedURL, dr, stat.Size(), contentTypeFor(path))
	if err != nil {
		return "", err
	}
	if c.consistencyCheckEnabled {
		if mismatch := checkDigest(dr, etag); mismatch != nil {
			return "", &upload.UploadError{Op: "put_object", Path: path, Err: mismatch}
		}
	}
	return etag, nil
}

// PutPart uploads the [offset, offset+length) byte range of the file at
// path to presignedURL, returning the ETag S3 reports for that part.
func (c *Client) PutPart(ctx context.Context, presignedURL, path string, offset, length int64) (string, error) {
	dr := upload.NewPartDigestingReader(path, offset, length)
	if err := dr.Open(); err != nil {
		return "", err
	}
	defer dr.Close()

	etag, err := c.put(ctx, "put_part", presignedURL, dr, length, "application/octet-stream")
	if err != nil {
		return "", err
	}
	if c.consistencyCheckEnabled {
		if mismatch := checkDigest(dr, etag); mismatch != nil {
			return "", &upload.UploadError{Op: "put_part", Path: path, Err: mismatch}
		}
	}
	return etag, nil
}

// put issues the PUT itself and classifies the outcome.
func (c *Client) put(ctx context.Context, op, presignedURL string, body io.Reader, size int64, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, body)
	if err != nil {
		return "", &upload.UploadError{Op: op, Err: fmt.Errorf("%w: %v", upload.ErrS3Permanent, err)}
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyNetErr(op, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, _, ok := decodeS3Error(resp.Body)
		if !ok {
			code = ""
		}
		return "", classifyResponse(op, "", resp.StatusCode, code)
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	io.Copy(io.Discard, resp.Body)
	return etag, nil
}

// contentTypeFor infers a Content-Type from the file extension, defaulting
// to application/octet-stream when the extension is unrecognized.
func contentTypeFor(path string) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// checkDigest compares the locally computed digest against S3's reported
// ETag, returning ErrConsistencyMismatch on disagreement. A multipart ETag
// on the composite object (containing "-") never matches a single-part MD5
// digest and is not checked here - regular PutObject uploads never produce
// one, so this only guards against an unexpected broker/endpoint response.
func checkDigest(dr *upload.DigestingReader, etag string) error {
	if strings.Contains(etag, "-") {
		return nil
	}
	localDigest, err := dr.Sum()
	if err != nil {
		return nil
	}
	if localDigest != etag {
		return fmt.Errorf("%w: local=%s remote=%s", upload.ErrConsistencyMismatch, localDigest, etag)
	}
	return nil
}
