package upload

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
)

// TaskState is one state of the UploadTask machine. An UploadTask moves
// Created -> Planning -> (Regular|Multipart) -> (Done|Failed). It never
// enters StateFinalizing or StateAborted: completing or aborting a multipart
// upload is done by UploadCoordinator after the task has ended.
type TaskState int

const (
	StateCreated TaskState = iota
	StatePlanning
	StateRegular
	StateMultipart
	StateFinalizing
	StateDone
	StateFailed
	StateAborted
)

// S3Client is the subset of S3HTTPClient an UploadTask needs. Defined here
// (rather than depending on adapters/s3http directly) so the engine has no
// import-time dependency on the HTTP transport implementation.
type S3Client interface {
	PutObject(ctx context.Context, presignedURL, path string) (etag string, err error)
	PutPart(ctx context.Context, presignedURL, path string, offset, length int64) (etag string, err error)
}

// UploadTask drives one (objectKey, file) pair from Created to a terminal
// state. It decides regular vs multipart, acquires URLs via URLCache, and
// streams bytes via the S3Client under a Retrier.
type UploadTask struct {
	ObjectKey    string
	AbsPath      string
	ArtifactPath string

	cfg         *Config
	cache       *URLCache
	s3          S3Client
	retrier     *Retrier
	interrupter Interrupter
	logger      Logger
	progress    *Progress
	onPartETag  func(partNumber int, etag string)

	State TaskState

	// uploadID is recorded once a multipart upload is acquired and exposed
	// via UploadID. The coordinator finalizes from its own registry, which
	// URLCache fills, not from this field.
	uploadID string
}

// NewUploadTask constructs a task for one file. progress and onPartETag may
// be nil; when set, onPartETag is invoked after every successful part PUT so
// a coordinator can finalize the multipart upload even if this task's
// goroutine never reaches a terminal state cleanly.
func NewUploadTask(objectKey, absPath, artifactPath string, cfg *Config, cache *URLCache, s3 S3Client, interrupter Interrupter, logger Logger, progress *Progress, onPartETag func(partNumber int, etag string)) *UploadTask {
	if interrupter == nil {
		interrupter = NeverInterrupt
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &UploadTask{
		ObjectKey:    objectKey,
		AbsPath:      absPath,
		ArtifactPath: artifactPath,
		cfg:          cfg,
		cache:        cache,
		s3:           s3,
		retrier:      NewRetrier(cfg, interrupter, logger),
		interrupter:  interrupter,
		logger:       logger,
		progress:     progress,
		onPartETag:   onPartETag,
		State:        StateCreated,
	}
}

// UploadID returns the multipart uploadID this task acquired, or "" if
// none (regular upload, or multipart URL never acquired).
func (t *UploadTask) UploadID() string { return t.uploadID }

// Run drives the task to a terminal state and returns its result or error.
func (t *UploadTask) Run(ctx context.Context) (FileUploadInfo, error) {
	info, err := t.run(ctx)
	if err != nil {
		t.progress.fileFailure(t.ObjectKey, t.AbsPath, err)
		return FileUploadInfo{}, err
	}
	t.progress.fileSuccess(info)
	return info, nil
}

func (t *UploadTask) run(ctx context.Context) (FileUploadInfo, error) {
	if err := t.checkInterrupted("before_upload_started"); err != nil {
		return FileUploadInfo{}, err
	}

	t.State = StatePlanning
	stat, err := os.Stat(t.AbsPath)
	if err != nil {
		t.State = StateFailed
		return FileUploadInfo{}, &UploadError{Op: "stat", Path: t.AbsPath, Key: t.ObjectKey, Err: fmt.Errorf("%w: %v", ErrFileNotFound, err)}
	}

	multipart := t.cfg.MultipartEnabled && stat.Size() >= t.cfg.MultipartThreshold
	if multipart {
		info, err := t.runMultipart(ctx, stat.Size())
		if err != nil {
			t.State = StateFailed
			return FileUploadInfo{}, err
		}
		t.State = StateDone
		return info, nil
	}

	info, err := t.runRegular(ctx, stat.Size())
	if err != nil {
		t.State = StateFailed
		return FileUploadInfo{}, err
	}
	t.State = StateDone
	return info, nil
}

func (t *UploadTask) runRegular(ctx context.Context, size int64) (FileUploadInfo, error) {
	t.State = StateRegular

	pu, err := t.cache.GetRegular(ctx, t.ObjectKey)
	if err != nil {
		return FileUploadInfo{}, err
	}
	presignedURL := pu.Parts[0].URL

	var etag string
	err = t.retrier.Do(ctx, "put_object", func(ctx context.Context) error {
		e, err := t.s3.PutObject(ctx, presignedURL, t.AbsPath)
		if err != nil {
			return classifyS3Err("put_object", t.ObjectKey, err)
		}
		etag = e
		return nil
	})
	if err != nil {
		return FileUploadInfo{}, err
	}

	t.logger.Debug("regular upload succeeded", "object_key", t.ObjectKey, "size", size, "etag", etag)
	return FileUploadInfo{
		ArtifactPath: t.ArtifactPath,
		AbsolutePath: t.AbsPath,
		Size:         size,
		Digest:       etag,
	}, nil
}

func (t *UploadTask) runMultipart(ctx context.Context, size int64) (FileUploadInfo, error) {
	t.State = StateMultipart

	splitter := NewFileSplitter(t.cfg.MinPartSize)
	parts, err := splitter.Split(t.AbsPath, t.cfg.ConsistencyCheckEnabled)
	if err != nil {
		return FileUploadInfo{}, err
	}

	digests := make([]string, len(parts))
	for i, p := range parts {
		digests[i] = p.Digest
	}

	pu, err := t.cache.GetMultipart(ctx, t.ObjectKey, digests, t.cfg.URLTTL)
	if err != nil {
		return FileUploadInfo{}, err
	}
	t.uploadID = pu.UploadID

	urlByPart := make(map[int]string, len(pu.Parts))
	for _, up := range pu.Parts {
		urlByPart[up.PartNumber] = up.URL
	}

	sorted := make([]FilePart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	etags := make([]string, len(sorted))
	remaining := size

	for _, part := range sorted {
		partNumber := part.Index + 1

		if err := t.checkInterrupted("before_part_upload_started"); err != nil {
			return FileUploadInfo{}, err
		}

		presignedURL, ok := urlByPart[partNumber]
		if !ok {
			return FileUploadInfo{}, &UploadError{Op: "put_part", Key: t.ObjectKey, Err: ErrBrokerShape}
		}

		var etag string
		err := t.retrier.Do(ctx, "put_part", func(ctx context.Context) error {
			e, err := t.s3.PutPart(ctx, presignedURL, t.AbsPath, part.Offset, part.Length)
			if err != nil {
				return classifyS3Err("put_part", t.ObjectKey, err)
			}
			etag = e
			return nil
		})
		if err != nil {
			return FileUploadInfo{}, err
		}

		etags[part.Index] = etag
		if t.onPartETag != nil {
			t.onPartETag(partNumber, etag)
		}
		remaining -= part.Length

		percent := 100
		if size > 0 {
			percent = 100 - int((remaining*100+size/2)/size)
		}
		t.logger.Debug("part uploaded", "object_key", t.ObjectKey, "part_number", partNumber, "percent", percent)
		t.progress.partSuccess(t.ObjectKey, partNumber, stripQuery(presignedURL))
	}

	digest, err := computeMultipartDigest(etags)
	if err != nil {
		return FileUploadInfo{}, &UploadError{Op: "multipart_digest", Key: t.ObjectKey, Err: err}
	}

	return FileUploadInfo{
		ArtifactPath: t.ArtifactPath,
		AbsolutePath: t.AbsPath,
		Size:         size,
		Digest:       digest,
	}, nil
}

func (t *UploadTask) checkInterrupted(at string) error {
	if reason := t.interrupter.Reason(); reason != "" {
		return &UploadError{Op: at, Key: t.ObjectKey, Err: fmt.Errorf("%w: %s", ErrInterrupted, reason)}
	}
	return nil
}

// stripQuery removes a URL's query string before it reaches logs, since
// presigned URLs carry signature material there.
func stripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}

// classifyS3Err wraps a raw S3Client error into the upload error taxonomy.
func classifyS3Err(op, key string, err error) error {
	if ue, ok := err.(*UploadError); ok {
		return ue
	}
	return &UploadError{Op: op, Key: key, Err: err}
}
