package httpbroker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	upload "github.com/gostratum/s3uploader"
)

// affinityCookieName is the server-node affinity cookie the broker sets on
// its first response and expects echoed back on every subsequent request.
const affinityCookieName = "broker-affinity"

// Client implements upload.URLBrokerClient against a v2 XML URL broker.
type Client struct {
	presignURL  string
	finalizeURL string

	http                  *http.Client
	correlationID         string
	maxArtifactKeyHeaders int

	affinity atomic.Value // string

	closed atomic.Bool
	mu     sync.Mutex
}

// NewClient builds a Client against presignURL (serves the XML
// request/response protocol) and finalizeURL (serves the form-encoded
// complete/abort protocol), tagging every request with correlationID.
func NewClient(presignURL, finalizeURL, correlationID string, maxArtifactKeyHeaders int, connectTimeout time.Duration) *Client {
	c := &Client{
		presignURL:            presignURL,
		finalizeURL:           finalizeURL,
		correlationID:         correlationID,
		maxArtifactKeyHeaders: maxArtifactKeyHeaders,
		http:                  &http.Client{Timeout: connectTimeout * 6},
	}
	c.affinity.Store("")
	return c
}

// FetchRegular requests presigned URLs for a batch of object keys.
func (c *Client) FetchRegular(ctx context.Context, objectKeys []string, digests map[string]string) ([]upload.PresignedURL, error) {
	if c.closed.Load() {
		return nil, upload.ErrBrokerShutdown
	}

	req := keyRequest{Version: requestVersion}
	for _, key := range objectKeys {
		req.ObjectKeys.Keys = append(req.ObjectKeys.Keys, keyElement{
			Digest: digests[key],
			Value:  key,
		})
	}

	body, err := xml.Marshal(req)
	if err != nil {
		return nil, &upload.UploadError{Op: "fetch_regular", Err: fmt.Errorf("%w: %v", upload.ErrBrokerFetchFailed, err)}
	}

	var resp presignedURLListResponse
	if err := c.post(ctx, c.presignURL, "fetch_regular", objectKeys, body, &resp); err != nil {
		return nil, err
	}

	out := make([]upload.PresignedURL, 0, len(resp.PresignedURL))
	for _, p := range resp.PresignedURL {
		out = append(out, toPresignedURL(p))
	}
	return out, nil
}

// FetchMultipart requests (or continues) a multipart upload for a single
// object key.
func (c *Client) FetchMultipart(ctx context.Context, objectKey string, partDigests []string, uploadID string, ttl time.Duration) (upload.PresignedURL, error) {
	if c.closed.Load() {
		return upload.PresignedURL{}, upload.ErrBrokerShutdown
	}

	req := multipartRequest{
		Version: requestVersion,
		Multipart: multipartFields{
			ObjectKey: objectKey,
			UploadID:  uploadID,
			Digests:   partDigests,
		},
	}
	if ttl > 0 {
		req.Multipart.TTL = strconv.FormatInt(int64(ttl/time.Second), 10)
	}

	body, err := xml.Marshal(req)
	if err != nil {
		return upload.PresignedURL{}, &upload.UploadError{Op: "fetch_multipart", Key: objectKey, Err: fmt.Errorf("%w: %v", upload.ErrBrokerFetchFailed, err)}
	}

	var resp presignedURLListResponse
	if err := c.post(ctx, c.presignURL, "fetch_multipart", []string{objectKey}, body, &resp); err != nil {
		return upload.PresignedURL{}, err
	}
	if len(resp.PresignedURL) != 1 {
		return upload.PresignedURL{}, &upload.UploadError{Op: "fetch_multipart", Key: objectKey, Err: upload.ErrBrokerShape}
	}
	return toPresignedURL(resp.PresignedURL[0]), nil
}

// Complete signals a successful multipart upload.
func (c *Client) Complete(ctx context.Context, objectKey, uploadID string, etags []string) error {
	return c.finalize(ctx, objectKey, uploadID, true, etags)
}

// Abort signals a failed multipart upload.
func (c *Client) Abort(ctx context.Context, objectKey, uploadID string) error {
	return c.finalize(ctx, objectKey, uploadID, false, nil)
}

func (c *Client) finalize(ctx context.Context, objectKey, uploadID string, success bool, etags []string) error {
	if c.closed.Load() {
		return upload.ErrBrokerShutdown
	}

	op := "abort_multipart"
	if success {
		op = "complete_multipart"
	}

	form := url.Values{}
	form.Set(fieldObjectKey, objectKey)
	form.Set(fieldObjectKeyBase64, base64.StdEncoding.EncodeToString([]byte(objectKey)))
	form.Set(fieldFinishUpload, uploadID)
	form.Set(fieldUploadSuccess, strconv.FormatBool(success))
	for _, etag := range etags {
		form.Add(fieldEtags, etag)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.finalizeURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return &upload.UploadError{Op: op, Key: objectKey, Err: fmt.Errorf("%w: %v", upload.ErrMultipartFinalizeFailed, err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.applyAuxHeaders(req, []string{objectKey})

	resp, err := c.http.Do(req)
	if err != nil {
		return &upload.UploadError{Op: op, Key: objectKey, Err: fmt.Errorf("%w: %v", upload.ErrMultipartFinalizeFailed, err)}
	}
	defer resp.Body.Close()
	c.captureAffinity(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, _, ok := decodeBrokerError(resp.Body)
		io.Copy(io.Discard, resp.Body)
		if ok && code == interruptedErrorCode {
			return &upload.UploadError{Op: op, Key: objectKey, Err: upload.ErrInterrupted}
		}
		return &upload.UploadError{Op: op, Key: objectKey, Err: upload.ErrMultipartFinalizeFailed}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Close marks the client permanently shut down.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

// post issues one XML request/response round trip against the presign
// endpoint.
func (c *Client) post(ctx context.Context, endpoint, op string, artifactKeys []string, body []byte, out *presignedURLListResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &upload.UploadError{Op: op, Err: fmt.Errorf("%w: %v", upload.ErrBrokerFetchFailed, err)}
	}
	req.Header.Set("Content-Type", "application/xml")
	c.applyAuxHeaders(req, artifactKeys)

	resp, err := c.http.Do(req)
	if err != nil {
		return &upload.UploadError{Op: op, Err: fmt.Errorf("%w: %v", upload.ErrBrokerFetchFailed, err)}
	}
	defer resp.Body.Close()
	c.captureAffinity(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if code, _, ok := decodeBrokerError(resp.Body); ok && code == interruptedErrorCode {
			return &upload.UploadError{Op: op, Err: upload.ErrInterrupted}
		}
		return &upload.UploadError{Op: op, Err: upload.ErrBrokerFetchFailed}
	}

	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return &upload.UploadError{Op: op, Err: fmt.Errorf("%w: malformed response: %v", upload.ErrBrokerShape, err)}
	}
	return nil
}

// applyAuxHeaders attaches the correlation id, up to maxArtifactKeyHeaders
// repeated artifact-key headers, and the affinity cookie (if one was
// captured from an earlier response). A missing affinity cookie is not an
// error: the request is sent without one, and nothing is logged about it.
func (c *Client) applyAuxHeaders(req *http.Request, artifactKeys []string) {
	req.Header.Set(headerCorrelationID, c.correlationID)

	limit := c.maxArtifactKeyHeaders
	if limit <= 0 {
		limit = 10
	}
	for i, key := range artifactKeys {
		if i >= limit {
			break
		}
		req.Header.Add(headerArtifactKeys, key)
	}

	if affinity, _ := c.affinity.Load().(string); affinity != "" {
		req.AddCookie(&http.Cookie{Name: affinityCookieName, Value: affinity})
	}
}

// captureAffinity stores the broker's affinity cookie, if set, so future
// requests route back to the same node.
func (c *Client) captureAffinity(resp *http.Response) {
	for _, ck := range resp.Cookies() {
		if ck.Name == affinityCookieName {
			c.affinity.Store(ck.Value)
			return
		}
	}
}

func toPresignedURL(p presignedURLElem) upload.PresignedURL {
	parts := make([]upload.URLPart, 0, len(p.URLs))
	for _, u := range p.URLs {
		parts = append(parts, upload.URLPart{PartNumber: u.PartNumber, URL: u.Value})
	}
	return upload.PresignedURL{
		ObjectKey:   p.ObjectKey,
		UploadID:    p.UploadID,
		Parts:       parts,
		IsMultipart: p.Multipart,
	}
}
