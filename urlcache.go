package upload

import (
	"context"
	"sync"
	"time"
)

// urlSnapshot is one immutable TTL-bounded view of presigned URLs for every
// known object key in the batch.
type urlSnapshot struct {
	fetchedAt time.Time
	entries   map[string]PresignedURL
}

func (s *urlSnapshot) fresh(ttl time.Duration, now time.Time) bool {
	return s != nil && now.Sub(s.fetchedAt) < ttl
}

// URLCache is a TTL-bounded, single-flight cache of objectKey -> presigned
// URL descriptor. Every read takes the cache mutex briefly to check the
// snapshot's freshness; reads are not lock-free. A miss/expiry triggers exactly one refresh while concurrent callers wait on
// it and all observe the same result (success or failure).
//
// Multipart URLs always bypass the cache (the uploadId is stateful) and go
// straight to the broker under the Retrier; a successful fetch records the
// uploadId into the coordinator's multipart registry.
type URLCache struct {
	keys    []string
	ttl     time.Duration
	broker  URLBrokerClient
	retrier *Retrier
	logger  Logger
	chunk   int

	onMultipartAcquired func(objectKey, uploadID string)

	mu       sync.Mutex
	snapshot *urlSnapshot
	refresh  *refreshInFlight
	now      func() time.Time
}

// refreshInFlight is the shared result of the one in-progress refresh; all
// concurrent callers await its done channel.
type refreshInFlight struct {
	done chan struct{}
	snap *urlSnapshot
	err  error
}

// NewURLCache builds a URLCache over the full set of object keys known for
// this batch.
func NewURLCache(keys []string, cfg *Config, broker URLBrokerClient, retrier *Retrier, logger Logger, onMultipartAcquired func(objectKey, uploadID string)) *URLCache {
	if logger == nil {
		logger = NewNopLogger()
	}
	keysCopy := make([]string, len(keys))
	copy(keysCopy, keys)
	return &URLCache{
		keys:                keysCopy,
		ttl:                 cfg.URLTTL,
		broker:              broker,
		retrier:             retrier,
		logger:              logger,
		chunk:               cfg.PresignedURLMaxChunkSize,
		onMultipartAcquired: onMultipartAcquired,
		now:                 time.Now,
	}
}

// GetRegular returns the cached presigned URL for objectKey, refreshing the
// snapshot first if it is missing or expired. The returned descriptor is
// guaranteed IsMultipart=false with exactly one part; any other shape is a
// broker contract violation and returns ErrBrokerShape.
func (c *URLCache) GetRegular(ctx context.Context, objectKey string) (PresignedURL, error) {
	snap, err := c.currentSnapshot(ctx)
	if err != nil {
		return PresignedURL{}, err
	}

	entry, ok := snap.entries[objectKey]
	if !ok {
		return PresignedURL{}, &UploadError{Op: "url_cache_get", Key: objectKey, Err: ErrBrokerShape}
	}
	if entry.IsMultipart || len(entry.Parts) != 1 || entry.Parts[0].PartNumber != 1 {
		return PresignedURL{}, &UploadError{Op: "url_cache_get", Key: objectKey, Err: ErrBrokerShape}
	}
	return entry, nil
}

// GetMultipart always bypasses the snapshot and requests a new multipart
// upload (empty uploadID, so the broker allocates one) directly from the
// broker under the Retrier.
func (c *URLCache) GetMultipart(ctx context.Context, objectKey string, partDigests []string, ttl time.Duration) (PresignedURL, error) {
	var result PresignedURL
	err := c.retrier.Do(ctx, "fetch_multipart", func(ctx context.Context) error {
		pu, err := c.broker.FetchMultipart(ctx, objectKey, partDigests, "", ttl)
		if err != nil {
			return classifyBrokerErr("fetch_multipart", objectKey, err)
		}
		result = pu
		return nil
	})
	if err != nil {
		return PresignedURL{}, err
	}
	if err := result.validate(); err != nil || !result.IsMultipart {
		return PresignedURL{}, &UploadError{Op: "fetch_multipart", Key: objectKey, Err: ErrBrokerShape}
	}
	if c.onMultipartAcquired != nil {
		c.onMultipartAcquired(objectKey, result.UploadID)
	}
	return result, nil
}

// currentSnapshot returns a fresh snapshot, performing a single-flight
// refresh if needed.
func (c *URLCache) currentSnapshot(ctx context.Context) (*urlSnapshot, error) {
	now := c.now()

	c.mu.Lock()
	if c.snapshot.fresh(c.ttl, now) {
		snap := c.snapshot
		c.mu.Unlock()
		return snap, nil
	}

	if c.refresh != nil {
		inFlight := c.refresh
		c.mu.Unlock()
		<-inFlight.done
		return inFlight.snap, inFlight.err
	}

	inFlight := &refreshInFlight{done: make(chan struct{})}
	c.refresh = inFlight
	c.mu.Unlock()

	snap, err := c.doRefresh(ctx)

	c.mu.Lock()
	if err == nil {
		c.snapshot = snap
	}
	c.refresh = nil
	c.mu.Unlock()

	inFlight.snap, inFlight.err = snap, err
	close(inFlight.done)

	return snap, err
}

// doRefresh partitions c.keys into chunks of c.chunk and issues
// fetchRegular for each chunk under the Retrier, merging results into a
// fresh snapshot. Any chunk failure fails the whole refresh.
func (c *URLCache) doRefresh(ctx context.Context) (*urlSnapshot, error) {
	chunks := chunkKeys(c.keys, c.chunk)
	merged := make(map[string]PresignedURL, len(c.keys))

	for _, chunk := range chunks {
		var results []PresignedURL
		err := c.retrier.Do(ctx, "fetch_regular", func(ctx context.Context) error {
			r, err := c.broker.FetchRegular(ctx, chunk, nil)
			if err != nil {
				return classifyBrokerErr("fetch_regular", "", err)
			}
			results = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, pu := range results {
			if err := pu.validate(); err != nil {
				return nil, err
			}
			merged[pu.ObjectKey] = pu
		}
	}

	c.logger.Debug("url cache refreshed", "keys", len(merged), "chunks", len(chunks))
	return &urlSnapshot{fetchedAt: c.now(), entries: merged}, nil
}

// chunkKeys partitions keys into slices of at most size n (n >= 1).
func chunkKeys(keys []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	var chunks [][]string
	for i := 0; i < len(keys); i += n {
		end := i + n
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end])
	}
	return chunks
}

// classifyBrokerErr wraps a raw broker-client error into the upload error
// taxonomy so the Retrier can classify it without the broker adapter
// package importing this one.
func classifyBrokerErr(op, key string, err error) error {
	if ue, ok := err.(*UploadError); ok {
		return ue
	}
	return &UploadError{Op: op, Key: key, Err: err}
}
