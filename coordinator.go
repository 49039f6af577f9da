package upload

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// multipartHandle tracks one in-flight multipart upload so the coordinator
// can finalize (complete or abort) it once every part is accounted for,
// even if the task that opened it failed partway through.
type multipartHandle struct {
	objectKey string
	uploadID  string

	mu     sync.Mutex
	etags  map[int]string // partNumber -> etag
	failed bool
}

// UploadCoordinator runs a bounded-concurrency worker pool over a batch of
// files, each driven by an UploadTask, and finalizes every multipart upload
// it opened exactly once on the way out.
type UploadCoordinator struct {
	broker        URLBrokerClient
	s3            S3Client
	logger        Logger
	instrumenter  *Instrumenter
	correlationID string

	multiparts sync.Map // objectKey -> *multipartHandle
}

// NewUploadCoordinator builds a coordinator over the given broker and S3
// transport, applying any Options.
func NewUploadCoordinator(broker URLBrokerClient, s3 S3Client, options ...Option) *UploadCoordinator {
	opts := &Options{}
	for _, opt := range options {
		opt(opts)
	}
	opts.applyDefaults()
	return &UploadCoordinator{
		broker:        broker,
		s3:            s3,
		logger:        opts.GetLogger(),
		instrumenter:  opts.GetInstrumenter(),
		correlationID: opts.correlationID,
	}
}

// Upload runs req's full batch to completion: plans object keys, fills the
// worker pool, drives every UploadTask, and finalizes any multipart uploads
// it opened. The correlation ID logged for this batch is the one configured
// via WithCorrelationID, or a fresh UUID if none was set.
//
// Batch semantics are all-or-fail: a non-interrupted task failure does not
// cancel its siblings, but the final return discards every FileUploadInfo
// and surfaces the first failure as a *FileUploadFailed. An interrupted
// batch stops submitting new work and returns an empty result with a nil
// error. Only a batch where every task and every finalize call succeeded
// returns its FileUploadInfo list.
func (c *UploadCoordinator) Upload(ctx context.Context, req *UploadRequest, progress *Progress) ([]FileUploadInfo, error) {
	cfg := req.Config.Sanitize()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	correlationID := c.correlationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	logger := withCorrelation(c.logger, correlationID)

	interrupter := req.Interrupter
	if interrupter == nil {
		interrupter = NeverInterrupt
	}

	entries := normalizeRequest(req, logger, progress)
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.objectKey
	}

	retrier := NewRetrier(cfg, interrupter, logger)
	retrier.Instrumenter = c.instrumenter
	cache := NewURLCache(keys, cfg, c.broker, retrier, logger, c.recordMultipartAcquired)

	var (
		mu          sync.Mutex
		succeeded   []FileUploadInfo
		firstFailed *FileUploadFailed
		failedCount int
	)
	var shuttingDown atomic.Bool

	sem := make(chan struct{}, cfg.NThreads)
	var wg sync.WaitGroup

	for _, entry := range entries {
		if shuttingDown.Load() || interrupter.Reason() != "" {
			logger.Debug("pool shutting down, skipping remaining submissions")
			break
		}

		entry := entry
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			onPartETag := func(partNumber int, etag string) { c.RecordPartETag(entry.objectKey, partNumber, etag) }
			task := NewUploadTask(entry.objectKey, entry.absPath, entry.artifactPath, cfg, cache, c.s3, interrupter, logger, progress, onPartETag)

			var info FileUploadInfo
			err := c.instrumenter.TraceOperation(ctx, "upload_file", entry.objectKey, func(ctx context.Context) error {
				var err error
				info, err = task.Run(ctx)
				return err
			})

			if err != nil {
				c.recordFailure(entry.objectKey)
				if IsInterrupted(err) {
					shuttingDown.Store(true)
				} else {
					logger.Warn("task failed", "object_key", entry.objectKey, "artifact_path", entry.artifactPath, "error", err)
				}
				mu.Lock()
				failedCount++
				if firstFailed == nil && !IsInterrupted(err) {
					firstFailed = &FileUploadFailed{
						ArtifactPath: entry.artifactPath,
						Fatal:        !IsRecoverable(err),
						Err:          err,
					}
				}
				mu.Unlock()
				return
			}

			c.recordSuccess(entry.objectKey)
			c.instrumenter.RecordFileSize(info.Size)
			if task.State == StateMultipart {
				c.instrumenter.RecordMultipartOperation("upload", 0)
			}
			mu.Lock()
			succeeded = append(succeeded, info)
			mu.Unlock()
		}()
	}

	wg.Wait()

	interrupted := shuttingDown.Load() || interrupter.Reason() != ""
	finalizeErr := c.finalizeAll(ctx, retrier, logger)
	c.instrumenter.RecordBatchOperation(len(entries), failedCount)

	if interrupted {
		logger.Debug("batch interrupted, returning empty result")
		return nil, nil
	}
	if firstFailed != nil {
		return nil, firstFailed
	}
	if finalizeErr != nil {
		return nil, &FileUploadFailed{Fatal: true, Err: finalizeErr}
	}
	return succeeded, nil
}

// recordMultipartAcquired registers a newly opened multipart upload so it
// can be finalized even if its task later fails.
func (c *UploadCoordinator) recordMultipartAcquired(objectKey, uploadID string) {
	c.multiparts.LoadOrStore(objectKey, &multipartHandle{
		objectKey: objectKey,
		uploadID:  uploadID,
		etags:     make(map[int]string),
	})
}

// recordSuccess clears the failed flag of objectKey's multipart upload (if
// any), so finalizeAll completes it with the part etags already reported
// via RecordPartETag.
func (c *UploadCoordinator) recordSuccess(objectKey string) {
	v, ok := c.multiparts.Load(objectKey)
	if !ok {
		return
	}
	h := v.(*multipartHandle)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = false
}

// recordFailure marks objectKey's multipart upload (if any) as failed, so
// finalizeAll aborts it instead of attempting complete. A task that never
// acquired a multipart upload (regular upload, or failure before URL
// acquisition) has no registry entry and this is a no-op.
func (c *UploadCoordinator) recordFailure(objectKey string) {
	v, ok := c.multiparts.Load(objectKey)
	if !ok {
		return
	}
	h := v.(*multipartHandle)
	h.mu.Lock()
	h.failed = true
	h.mu.Unlock()
}

// finalizeAll completes or aborts every multipart upload this coordinator
// opened during the batch, deleting each from the registry once finalized.
// Every handle is finalized independently (one failure does not stop the
// others); the first finalize failure is returned as
// ErrMultipartFinalizeFailed so the caller can surface it per spec.md §4.8
// step 5, but every handle still gets a finalize attempt.
func (c *UploadCoordinator) finalizeAll(ctx context.Context, retrier *Retrier, logger Logger) error {
	var firstErr error

	c.multiparts.Range(func(k, v any) bool {
		h := v.(*multipartHandle)
		h.mu.Lock()
		failed := h.failed
		etags := sortedEtags(h.etags)
		h.mu.Unlock()

		defer c.multiparts.Delete(k)

		if failed || len(etags) == 0 {
			err := retrier.Do(ctx, "abort_multipart", func(ctx context.Context) error {
				return c.broker.Abort(ctx, h.objectKey, h.uploadID)
			})
			if err != nil {
				logger.Error("failed to abort multipart upload", "object_key", h.objectKey, "upload_id", h.uploadID, "error", err)
				if firstErr == nil {
					firstErr = &UploadError{Op: "abort_multipart", Key: h.objectKey, Err: ErrMultipartFinalizeFailed}
				}
			}
			return true
		}

		err := retrier.Do(ctx, "complete_multipart", func(ctx context.Context) error {
			return c.broker.Complete(ctx, h.objectKey, h.uploadID, etags)
		})
		if err != nil {
			logger.Error("failed to complete multipart upload", "object_key", h.objectKey, "upload_id", h.uploadID, "error", err)
			if firstErr == nil {
				firstErr = &UploadError{Op: "complete_multipart", Key: h.objectKey, Err: ErrMultipartFinalizeFailed}
			}
		}
		return true
	})

	return firstErr
}

// RecordPartETag lets a running UploadTask report a part's etag to the
// coordinator's multipart registry as soon as it is known, so finalization
// has the full ascending-order etag list even if the task's goroutine
// never reaches a terminal state cleanly.
func (c *UploadCoordinator) RecordPartETag(objectKey string, partNumber int, etag string) {
	v, ok := c.multiparts.Load(objectKey)
	if !ok {
		return
	}
	h := v.(*multipartHandle)
	h.mu.Lock()
	h.etags[partNumber] = etag
	h.mu.Unlock()
}

func sortedEtags(byPart map[int]string) []string {
	nums := make([]int, 0, len(byPart))
	for n := range byPart {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	out := make([]string, len(nums))
	for i, n := range nums {
		out[i] = byPart[n]
	}
	return out
}

// withCorrelation wraps logger so every message it emits during this batch
// carries the batch's correlation ID.
func withCorrelation(logger Logger, correlationID string) Logger {
	return &correlationLogger{inner: logger, id: correlationID}
}

type correlationLogger struct {
	inner Logger
	id    string
}

func (l *correlationLogger) Debug(msg string, args ...any) { l.inner.Debug(msg, l.with(args)...) }
func (l *correlationLogger) Info(msg string, args ...any)  { l.inner.Info(msg, l.with(args)...) }
func (l *correlationLogger) Warn(msg string, args ...any)  { l.inner.Warn(msg, l.with(args)...) }
func (l *correlationLogger) Error(msg string, args ...any) { l.inner.Error(msg, l.with(args)...) }

func (l *correlationLogger) with(args []any) []any {
	return append(args, "correlation_id", l.id)
}
