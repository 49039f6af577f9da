package httpbroker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	upload "github.com/gostratum/s3uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRegularParsesResponseAndPropagatesHeaders(t *testing.T) {
	var gotCorrelationID string
	var gotArtifactKeys []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelationID = r.Header.Get(headerCorrelationID)
		gotArtifactKeys = r.Header.Values(headerArtifactKeys)
		http.SetCookie(w, &http.Cookie{Name: affinityCookieName, Value: "node-7"})
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, `<presignedUrlListResponse>
			<presignedUrl objectKey="a.txt" multipart="false">
				<url partNumber="0">https://s3.example.com/a.txt?sig=1</url>
			</presignedUrl>
		</presignedUrlListResponse>`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/finalize", "corr-123", 10, time.Second)
	urls, err := c.FetchRegular(context.Background(), []string{"a.txt"}, map[string]string{"a.txt": "digest1"})
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "a.txt", urls[0].ObjectKey)
	assert.False(t, urls[0].IsMultipart)
	assert.Equal(t, "corr-123", gotCorrelationID)
	assert.Equal(t, []string{"a.txt"}, gotArtifactKeys)

	affinity, _ := c.affinity.Load().(string)
	assert.Equal(t, "node-7", affinity)
}

func TestFetchRegularWhenClosedReturnsShutdown(t *testing.T) {
	c := NewClient("http://example.invalid", "http://example.invalid", "corr", 10, time.Second)
	require.NoError(t, c.Close())

	_, err := c.FetchRegular(context.Background(), []string{"a.txt"}, nil)
	assert.ErrorIs(t, err, upload.ErrBrokerShutdown)
}

func TestFetchMultipartReturnsSingleEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<presignedUrlListResponse>
			<presignedUrl objectKey="big.bin" uploadId="upload-9" multipart="true">
				<url partNumber="1">https://s3.example.com/big.bin?part=1</url>
				<url partNumber="2">https://s3.example.com/big.bin?part=2</url>
			</presignedUrl>
		</presignedUrlListResponse>`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/finalize", "corr", 10, time.Second)
	pu, err := c.FetchMultipart(context.Background(), "big.bin", []string{"d1", "d2"}, "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "upload-9", pu.UploadID)
	assert.True(t, pu.IsMultipart)
	assert.Len(t, pu.Parts, 2)
}

func TestFetchMultipartWrongCountIsShapeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<presignedUrlListResponse></presignedUrlListResponse>`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/finalize", "corr", 10, time.Second)
	_, err := c.FetchMultipart(context.Background(), "big.bin", []string{"d1"}, "", time.Minute)
	assert.ErrorIs(t, err, upload.ErrBrokerShape)
}

func TestCompleteSendsEtagsAndSuccessFlag(t *testing.T) {
	var gotEtags []string
	var gotSuccess string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotEtags = r.PostForm[fieldEtags]
		gotSuccess = r.PostFormValue(fieldUploadSuccess)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "corr", 10, time.Second)
	err := c.Complete(context.Background(), "big.bin", "upload-9", []string{"etag1", "etag2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"etag1", "etag2"}, gotEtags)
	assert.Equal(t, "true", gotSuccess)
}

func TestAbortSendsFalseSuccessFlag(t *testing.T) {
	var gotSuccess string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotSuccess = r.PostFormValue(fieldUploadSuccess)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "corr", 10, time.Second)
	err := c.Abort(context.Background(), "big.bin", "upload-9")
	require.NoError(t, err)
	assert.Equal(t, "false", gotSuccess)
}

func TestFinalizeNonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "corr", 10, time.Second)
	err := c.Complete(context.Background(), "big.bin", "upload-9", nil)
	assert.ErrorIs(t, err, upload.ErrMultipartFinalizeFailed)
}

func TestFetchRegularInterruptedErrorBodyYieldsInterrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `<error><code>UploadInterrupted</code><message>build cancelled</message></error>`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/finalize", "corr", 10, time.Second)
	_, err := c.FetchRegular(context.Background(), []string{"a.txt"}, nil)
	assert.ErrorIs(t, err, upload.ErrInterrupted)
}

func TestFinalizeInterruptedErrorBodyYieldsInterrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `<error><code>UploadInterrupted</code><message>build cancelled</message></error>`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "corr", 10, time.Second)
	err := c.Complete(context.Background(), "big.bin", "upload-9", []string{"etag1"})
	assert.ErrorIs(t, err, upload.ErrInterrupted)
}

func TestApplyAuxHeadersCapsArtifactKeyHeadersAndEchoesAffinity(t *testing.T) {
	c := NewClient("http://example.invalid", "http://example.invalid", "corr-1", 2, time.Second)
	c.affinity.Store("sticky-node")

	req, err := http.NewRequest(http.MethodPost, "http://example.invalid", nil)
	require.NoError(t, err)

	c.applyAuxHeaders(req, []string{"a", "b", "c"})
	assert.Equal(t, "corr-1", req.Header.Get(headerCorrelationID))
	assert.Equal(t, []string{"a", "b"}, req.Header.Values(headerArtifactKeys))

	cookie, err := req.Cookie(affinityCookieName)
	require.NoError(t, err)
	assert.Equal(t, "sticky-node", cookie.Value)
}
