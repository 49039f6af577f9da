// Package refbroker is a reference implementation of the URL broker's
// server side: just enough of spec.md's §6 wire protocol to drive its
// integration tests (server_test.go) end-to-end. Real deployments are
// expected to implement their own broker; this one exists because a
// complete repository needs a runnable demonstration.
package refbroker

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/gostratum/core/logx"
)

// Config configures the reference broker's S3 presigning.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	AssumeRole   string // optional STS role ARN to assume for presigning credentials
	URLExpiry    time.Duration

	// StaticAccessKeyID/StaticSecretAccessKey, when both set, bypass the
	// default credential chain - useful against a local S3-compatible test
	// server that accepts any signature.
	StaticAccessKeyID     string
	StaticSecretAccessKey string
}

// Server implements the v2 XML URL broker protocol against a real S3
// (or S3-compatible) bucket.
type Server struct {
	cfg     Config
	presign *s3.PresignClient
	client  *s3.Client
	logger  logx.Logger
}

// NewServer builds a reference broker server, assuming cfg.AssumeRole via
// STS if set, exactly the way ClientManager in the storage engine this was
// adapted from builds its AWS config.
func NewServer(ctx context.Context, cfg Config, logger logx.Logger) (*Server, error) {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 15 * time.Minute
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.StaticAccessKeyID != "" && cfg.StaticSecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.StaticAccessKeyID, cfg.StaticSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("refbroker: failed to load AWS config: %w", err)
	}

	if cfg.AssumeRole != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRole)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
		logger.Info("refbroker assuming role for presigning", "role_arn", cfg.AssumeRole)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Server{
		cfg:     cfg,
		presign: s3.NewPresignClient(client),
		client:  client,
		logger:  logger,
	}, nil
}

// Handler returns the http.Handler serving both the presign and finalize
// endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/presign", s.handlePresign)
	mux.HandleFunc("/finalize", s.handleFinalize)
	return mux
}

// refRequest is a loose superset of the three request shapes spec.md §6
// defines, parsed permissively since only one of the three element groups
// is ever populated per request.
type refRequest struct {
	XMLName    xml.Name `xml:"request"`
	ObjectKeys struct {
		Keys []refKeyElem `xml:"key"`
	} `xml:"objectKeys"`
	ObjectKey *refKeyElem    `xml:"objectKey"`
	Multipart *refMultipart `xml:"multipart"`
}

type refKeyElem struct {
	Digest string `xml:"digest,attr"`
	TTL    string `xml:"ttl,attr"`
	Value  string `xml:",chardata"`
}

type refMultipart struct {
	ObjectKey string   `xml:"objectKey,attr"`
	UploadID  string   `xml:"uploadId,attr"`
	TTL       string   `xml:"ttl,attr"`
	Digests   []string `xml:"digest"`
}

type refResponse struct {
	XMLName      xml.Name        `xml:"presignedUrlListResponse"`
	PresignedURL []refPresignURL `xml:"presignedUrl"`
}

type refPresignURL struct {
	ObjectKey string      `xml:"objectKey,attr"`
	UploadID  string      `xml:"uploadId,attr,omitempty"`
	Multipart bool        `xml:"multipart,attr"`
	URLs      []refURLElem `xml:"url"`
}

type refURLElem struct {
	PartNumber int    `xml:"partNumber,attr"`
	Value      string `xml:",chardata"`
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req refRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	switch {
	case req.Multipart != nil:
		s.presignMultipart(ctx, w, *req.Multipart)
	case req.ObjectKey != nil:
		s.presignBatch(ctx, w, []refKeyElem{*req.ObjectKey})
	default:
		s.presignBatch(ctx, w, req.ObjectKeys.Keys)
	}
}

func (s *Server) presignBatch(ctx context.Context, w http.ResponseWriter, keys []refKeyElem) {
	resp := refResponse{}
	for _, k := range keys {
		req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(k.Value),
		}, s3.WithPresignExpires(s.cfg.URLExpiry))
		if err != nil {
			s.logger.Error("refbroker presign put failed", "key", k.Value, "error", err)
			http.Error(w, "presign failed", http.StatusInternalServerError)
			return
		}
		resp.PresignedURL = append(resp.PresignedURL, refPresignURL{
			ObjectKey: k.Value,
			URLs:      []refURLElem{{PartNumber: 1, Value: req.URL}},
		})
	}
	writeXML(w, resp)
}

func (s *Server) presignMultipart(ctx context.Context, w http.ResponseWriter, m refMultipart) {
	uploadID := m.UploadID
	if uploadID == "" {
		out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(m.ObjectKey),
		})
		if err != nil {
			s.logger.Error("refbroker create multipart failed", "key", m.ObjectKey, "error", err)
			http.Error(w, "create multipart failed", http.StatusInternalServerError)
			return
		}
		uploadID = aws.ToString(out.UploadId)
	}

	urls := make([]refURLElem, 0, len(m.Digests))
	for i := range m.Digests {
		partNumber := int32(i + 1)
		req, err := s.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.cfg.Bucket),
			Key:        aws.String(m.ObjectKey),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNumber),
		}, s3.WithPresignExpires(s.cfg.URLExpiry))
		if err != nil {
			s.logger.Error("refbroker presign part failed", "key", m.ObjectKey, "part", partNumber, "error", err)
			http.Error(w, "presign part failed", http.StatusInternalServerError)
			return
		}
		urls = append(urls, refURLElem{PartNumber: int(partNumber), Value: req.URL})
	}

	resp := refResponse{PresignedURL: []refPresignURL{{
		ObjectKey: m.ObjectKey,
		UploadID:  uploadID,
		Multipart: true,
		URLs:      urls,
	}}}
	writeXML(w, resp)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}

	objectKey := r.FormValue("OBJECT_KEY")
	if objectKey == "" {
		if b64 := r.FormValue("OBJECT_KEY_BASE64"); b64 != "" {
			if decoded, err := base64.StdEncoding.DecodeString(b64); err == nil {
				objectKey = string(decoded)
			}
		}
	}
	uploadID := r.FormValue("FINISH_UPLOAD")
	success, _ := strconv.ParseBool(r.FormValue("UPLOAD_SUCCESSFUL"))
	etags := r.Form["ETAGS"]

	ctx := r.Context()

	if !success {
		_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.cfg.Bucket),
			Key:      aws.String(objectKey),
			UploadId: aws.String(uploadID),
		})
		if err != nil {
			s.logger.Error("refbroker abort failed", "key", objectKey, "error", err)
			http.Error(w, "abort failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	parts := make([]types.CompletedPart, len(etags))
	for i, etag := range etags {
		partNumber := int32(i + 1)
		parts[i] = types.CompletedPart{ETag: aws.String(etag), PartNumber: aws.Int32(partNumber)}
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.cfg.Bucket),
		Key:             aws.String(objectKey),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		s.logger.Error("refbroker complete failed", "key", objectKey, "error", err)
		http.Error(w, "complete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeXML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, xml.Header)
	enc := xml.NewEncoder(w)
	_ = enc.Encode(v)
}
