// Package httpbroker implements upload.URLBrokerClient against the v2 XML
// URL broker protocol: an HTTP POST carrying an XML request body, answered
// with an XML presigned-URL list, plus a form-encoded finalization POST.
package httpbroker

import (
	"encoding/xml"
	"io"
)

// requestVersion is the only wire version this client speaks.
const requestVersion = "v2"

// keyRequest is the batch-regular request shape:
//
//	<request version="v2"><objectKeys><key digest="...">path</key>...</objectKeys></request>
type keyRequest struct {
	XMLName    xml.Name `xml:"request"`
	Version    string   `xml:"version,attr"`
	ObjectKeys keyList  `xml:"objectKeys"`
}

type keyList struct {
	Keys []keyElement `xml:"key"`
}

type keyElement struct {
	Digest string `xml:"digest,attr,omitempty"`
	Value  string `xml:",chardata"`
}

// multipartRequest is the multipart request shape:
//
//	<request version="v2"><multipart objectKey="..." uploadId="..." ttl="..."><digest>...</digest>...</multipart></request>
type multipartRequest struct {
	XMLName   xml.Name        `xml:"request"`
	Version   string          `xml:"version,attr"`
	Multipart multipartFields `xml:"multipart"`
}

type multipartFields struct {
	ObjectKey string   `xml:"objectKey,attr"`
	UploadID  string   `xml:"uploadId,attr,omitempty"`
	TTL       string   `xml:"ttl,attr,omitempty"`
	Digests   []string `xml:"digest"`
}

// presignedURLListResponse is the broker's response shape for every request
// kind:
//
//	<presignedUrlListResponse><presignedUrl objectKey="..." uploadId="..." multipart="...">
//	  <url partNumber="...">...</url>...
//	</presignedUrl>...</presignedUrlListResponse>
type presignedURLListResponse struct {
	XMLName      xml.Name           `xml:"presignedUrlListResponse"`
	PresignedURL []presignedURLElem `xml:"presignedUrl"`
}

type presignedURLElem struct {
	ObjectKey   string    `xml:"objectKey,attr"`
	UploadID    string    `xml:"uploadId,attr,omitempty"`
	Multipart   bool      `xml:"multipart,attr"`
	URLs        []urlElem `xml:"url"`
}

type urlElem struct {
	PartNumber int    `xml:"partNumber,attr"`
	Value      string `xml:",chardata"`
}

// Finalization form field names, verbatim from the broker protocol.
const (
	fieldObjectKey       = "OBJECT_KEY"
	fieldObjectKeyBase64 = "OBJECT_KEY_BASE64"
	fieldFinishUpload    = "FINISH_UPLOAD"
	fieldUploadSuccess   = "UPLOAD_SUCCESSFUL"
	fieldEtags           = "ETAGS"
)

// Auxiliary header names.
const (
	headerArtifactKeys  = "S3_ARTIFACT_KEYS_HEADER"
	headerCorrelationID = "X-Correlation-Id"
)

// brokerErrorBody is the broker's XML error body on a non-2xx response:
//
//	<error><code>...</code><message>...</message></error>
//
// interruptedErrorCode is the documented code the broker sends when it
// considers the upload interrupted (e.g. the build it belongs to was
// cancelled server-side); this maps to upload.ErrInterrupted rather than
// the usual broker-fetch/finalize-failed errors.
type brokerErrorBody struct {
	XMLName xml.Name `xml:"error"`
	Code    string   `xml:"code"`
	Message string   `xml:"message"`
}

const interruptedErrorCode = "UploadInterrupted"

// decodeBrokerError parses a broker XML error body, up to
// maxBrokerErrorBodyBytes. A body that fails to parse as the expected shape
// returns ok=false rather than an error, so callers fall back to
// classifying by HTTP status alone.
func decodeBrokerError(r io.Reader) (code, message string, ok bool) {
	limited := io.LimitReader(r, maxBrokerErrorBodyBytes)
	var body brokerErrorBody
	if err := xml.NewDecoder(limited).Decode(&body); err != nil {
		return "", "", false
	}
	if body.Code == "" {
		return "", "", false
	}
	return body.Code, body.Message, true
}

// maxBrokerErrorBodyBytes bounds how much of an error response body is
// read, so a misbehaving endpoint can't force an unbounded read.
const maxBrokerErrorBodyBytes = 64 << 10
