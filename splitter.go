package upload

import (
	"fmt"
	"os"
)

// maxMultipartParts is the S3 limit on parts per multipart upload.
const maxMultipartParts = 10000

// FileSplitter splits a file into ordered parts of a configured minimum
// size, optionally pre-computing a per-part MD5 digest via a single
// streamed pass through each part's byte range.
type FileSplitter struct {
	MinPartSize int64
}

// NewFileSplitter returns a FileSplitter using minPartSize, floored to the
// S3 minimum of 5 MiB.
func NewFileSplitter(minPartSize int64) *FileSplitter {
	if minPartSize < 5<<20 {
		minPartSize = 5 << 20
	}
	return &FileSplitter{MinPartSize: minPartSize}
}

// Split computes the ordered FilePart sequence for path. partCount is
// recomputed from the file's actual size (ceil(size/MinPartSize)); the
// caller-supplied wantDigests controls whether part.Digest is populated.
func (s *FileSplitter) Split(path string, wantDigests bool) ([]FilePart, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &UploadError{Op: "split", Path: path, Err: fmt.Errorf("%w: %v", ErrFileNotFound, err)}
	}

	size := info.Size()
	partCount := int((size + s.MinPartSize - 1) / s.MinPartSize)
	if size == 0 {
		partCount = 1
	}
	if partCount < 1 {
		return nil, fmt.Errorf("upload: split produced %d parts for %q", partCount, path)
	}
	if partCount > maxMultipartParts {
		return nil, fmt.Errorf("upload: file %q requires %d parts, exceeds S3 limit of %d", path, partCount, maxMultipartParts)
	}

	parts := make([]FilePart, partCount)
	var offset int64
	for i := 0; i < partCount; i++ {
		length := s.MinPartSize
		if i == partCount-1 {
			length = size - offset
		}

		part := FilePart{Index: i, Offset: offset, Length: length}
		if wantDigests {
			digest, err := digestRange(path, offset, length)
			if err != nil {
				return nil, err
			}
			part.Digest = digest
		}
		parts[i] = part
		offset += length
	}

	return parts, nil
}
