package upload

// Interrupter returns a non-empty reason string when the batch must halt
// cooperatively. It is polled before each task starts, before each
// multipart part, at the start of every Retrier call, and during Retrier
// backoff sleeps. An HTTP request, file read, digest computation, or
// URLCache refresh wait already in progress does not poll it.
type Interrupter interface {
	Reason() string
}

// InterrupterFunc adapts a plain function to an Interrupter.
type InterrupterFunc func() string

// Reason implements Interrupter.
func (f InterrupterFunc) Reason() string { return f() }

// NeverInterrupt is an Interrupter that never fires.
var NeverInterrupt Interrupter = InterrupterFunc(func() string { return "" })

// UploadRequest is the immutable input to an upload batch: a mapping from
// absolute file path to logical artifact path. Keys must be unique; order
// is irrelevant.
type UploadRequest struct {
	Files       map[string]string // absolute path -> logical artifact path
	Config      *Config
	Interrupter Interrupter
}

// FileUploadInfo describes a successfully uploaded file.
type FileUploadInfo struct {
	ArtifactPath string
	AbsolutePath string
	Size         int64
	Digest       string
}

// Progress receives observable events during an upload batch. Any method
// may be left nil; the coordinator checks before calling.
type Progress struct {
	// OnPartSuccess is called after a multipart part PUT succeeds, with the
	// presigned URL stripped of its query string (so secrets never reach
	// logs).
	OnPartSuccess func(objectKey string, partNumber int, urlWithoutQuery string)

	// OnFileSuccess is called once a file reaches the Done state.
	OnFileSuccess func(info FileUploadInfo)

	// OnFileFailure is called once a file reaches a terminal failure state.
	OnFileFailure func(objectKey, absPath string, err error)

	// OnPathCollision is called when two distinct files normalize to the
	// same object key; only the last (iteration-order) file is kept.
	OnPathCollision func(objectKey, keptPath, droppedPath string)
}

func (p *Progress) partSuccess(objectKey string, partNumber int, url string) {
	if p != nil && p.OnPartSuccess != nil {
		p.OnPartSuccess(objectKey, partNumber, url)
	}
}

func (p *Progress) fileSuccess(info FileUploadInfo) {
	if p != nil && p.OnFileSuccess != nil {
		p.OnFileSuccess(info)
	}
}

func (p *Progress) fileFailure(objectKey, absPath string, err error) {
	if p != nil && p.OnFileFailure != nil {
		p.OnFileFailure(objectKey, absPath, err)
	}
}

func (p *Progress) pathCollision(objectKey, kept, dropped string) {
	if p != nil && p.OnPathCollision != nil {
		p.OnPathCollision(objectKey, kept, dropped)
	}
}

// normalizedEntry is one (objectKey -> file) mapping after duplicate
// resolution.
type normalizedEntry struct {
	objectKey    string
	absPath      string
	artifactPath string
}

// normalizeRequest computes object keys for every file in the request,
// applying last-write-wins on collision (iteration order of a Go map is
// unspecified, but that matches spec.md's "iteration order" language - the
// important property is that exactly one file survives per key).
func normalizeRequest(req *UploadRequest, logger Logger, progress *Progress) []normalizedEntry {
	byKey := make(map[string]normalizedEntry, len(req.Files))
	order := make([]string, 0, len(req.Files))

	for absPath, artifactPath := range req.Files {
		key := objectKeyFor(req.Config.PathPrefix, artifactPath)
		if prev, exists := byKey[key]; exists {
			logger.Warn("object key collision, keeping last file",
				"object_key", key, "kept", absPath, "dropped", prev.absPath)
			progress.pathCollision(key, absPath, prev.absPath)
		} else {
			order = append(order, key)
		}
		byKey[key] = normalizedEntry{objectKey: key, absPath: absPath, artifactPath: artifactPath}
	}

	out := make([]normalizedEntry, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

