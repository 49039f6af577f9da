package upload

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Message)
}

// ValidationErrors aggregates multiple ValidationError values.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the upload
// configuration. Call Sanitize first if you want out-of-range values
// clamped instead of rejected.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return ValidationErrors{{Field: "config", Message: "configuration cannot be nil"}}
	}

	var errs ValidationErrors

	if cfg.MaxAttempts < 1 {
		errs = append(errs, &ValidationError{Field: "max_attempts", Message: "must be >= 1"})
	}
	if cfg.BaseDelay < 0 {
		errs = append(errs, &ValidationError{Field: "base_delay", Message: "must be >= 0"})
	}
	if cfg.PresignedURLMaxChunkSize < 1 {
		errs = append(errs, &ValidationError{Field: "presigned_url_max_chunk_size", Message: "must be >= 1"})
	}
	if cfg.MinPartSize < 5<<20 {
		errs = append(errs, &ValidationError{Field: "min_part_size", Message: "must be >= 5MB (S3 floor)"})
	}
	if cfg.MultipartThreshold < cfg.MinPartSize {
		errs = append(errs, &ValidationError{Field: "multipart_threshold", Message: "must be >= min_part_size"})
	}
	if cfg.ConnectionTimeout <= 0 {
		errs = append(errs, &ValidationError{Field: "connection_timeout", Message: "must be > 0"})
	}
	if cfg.NThreads < 1 {
		errs = append(errs, &ValidationError{Field: "n_threads", Message: "must be >= 1"})
	}
	if cfg.URLTTL <= 0 {
		errs = append(errs, &ValidationError{Field: "url_ttl", Message: "must be > 0"})
	}
	if cfg.MaxArtifactKeyHeaders < 0 {
		errs = append(errs, &ValidationError{Field: "max_artifact_key_headers", Message: "must be >= 0"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
