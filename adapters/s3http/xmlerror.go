package s3http

import (
	"encoding/xml"
	"io"
)

// s3ErrorBody is the standard S3 XML error body:
//
//	<Error><Code>SlowDown</Code><Message>...</Message>...</Error>
type s3ErrorBody struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// decodeS3Error parses an S3 XML error body, up to maxErrorBodyBytes. A body
// that fails to parse as the expected shape returns ok=false rather than an
// error, so callers fall back to classifying by HTTP status alone.
func decodeS3Error(r io.Reader) (code, message string, ok bool) {
	limited := io.LimitReader(r, maxErrorBodyBytes)
	var body s3ErrorBody
	if err := xml.NewDecoder(limited).Decode(&body); err != nil {
		return "", "", false
	}
	if body.Code == "" {
		return "", "", false
	}
	return body.Code, body.Message, true
}

// maxErrorBodyBytes bounds how much of an error response body is read, so a
// misbehaving endpoint can't force an unbounded read.
const maxErrorBodyBytes = 64 << 10
