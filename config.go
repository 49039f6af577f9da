package upload

import "time"

// Config holds all upload engine configuration.
type Config struct {
	// MaxAttempts is the Retrier's bounded attempt budget for broker and S3
	// calls (including the first attempt).
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" default:"3"`

	// BaseDelay is the Retrier's base backoff delay; attempt N sleeps
	// BaseDelay * 2^(N-1).
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay" default:"200ms"`

	// PresignedURLMaxChunkSize is the maximum number of object keys the
	// coordinator will place in a single fetchRegular broker request.
	PresignedURLMaxChunkSize int `mapstructure:"presigned_url_max_chunk_size" yaml:"presigned_url_max_chunk_size" default:"100"`

	// MinPartSize is the multipart part size; S3's floor is 5 MiB.
	MinPartSize int64 `mapstructure:"min_part_size" yaml:"min_part_size" default:"5242880"`

	// MultipartThreshold is the file size at or above which multipart
	// upload is used; floored to MinPartSize.
	MultipartThreshold int64 `mapstructure:"multipart_threshold" yaml:"multipart_threshold" default:"16777216"`

	// MultipartEnabled gates multipart upload entirely; when false every
	// file uses the regular path regardless of size.
	MultipartEnabled bool `mapstructure:"multipart_enabled" yaml:"multipart_enabled" default:"true"`

	// ConnectionTimeout sets the per-request timeout of the S3 and broker
	// HTTP clients: each whole request is bounded by six times this value.
	// No separate dial timeout is set.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout" default:"10s"`

	// NThreads is the size of the upload worker pool, and the HTTP
	// connection pool is sized to match.
	NThreads int `mapstructure:"n_threads" yaml:"n_threads" default:"8"`

	// URLTTL is how long a URLCache snapshot is served before a refresh is
	// triggered.
	URLTTL time.Duration `mapstructure:"url_ttl" yaml:"url_ttl" default:"5m"`

	// ConsistencyCheckEnabled compares the locally computed digest against
	// the ETag S3 returns on every PUT.
	ConsistencyCheckEnabled bool `mapstructure:"consistency_check_enabled" yaml:"consistency_check_enabled" default:"true"`

	// PathPrefix is prefixed to every logical artifact path to form the
	// object key.
	PathPrefix string `mapstructure:"path_prefix" yaml:"path_prefix"`

	// MaxArtifactKeyHeaders caps how many S3_ARTIFACT_KEYS_HEADER values
	// are repeated per broker request, for broker-side logging.
	MaxArtifactKeyHeaders int `mapstructure:"max_artifact_key_headers" yaml:"max_artifact_key_headers" default:"10"`
}

// Prefix implements the configx.Configurable convention used by the rest of
// the gostratum ecosystem.
func (Config) Prefix() string { return "upload" }

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:              3,
		BaseDelay:                200 * time.Millisecond,
		PresignedURLMaxChunkSize: 100,
		MinPartSize:              5 << 20,
		MultipartThreshold:       16 << 20,
		MultipartEnabled:         true,
		ConnectionTimeout:        10 * time.Second,
		NThreads:                 8,
		URLTTL:                  5 * time.Minute,
		ConsistencyCheckEnabled:  true,
		MaxArtifactKeyHeaders:    10,
	}
}

// Sanitize normalizes configuration values to within their legal range,
// returning a copy. It never fails - use ValidateConfig to reject invalid
// configurations outright.
func (c *Config) Sanitize() *Config {
	out := *c
	if out.MinPartSize < 5<<20 {
		out.MinPartSize = 5 << 20
	}
	if out.MultipartThreshold < out.MinPartSize {
		out.MultipartThreshold = out.MinPartSize
	}
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 1
	}
	if out.NThreads < 1 {
		out.NThreads = 1
	}
	if out.PresignedURLMaxChunkSize < 1 {
		out.PresignedURLMaxChunkSize = 1
	}
	if out.MaxArtifactKeyHeaders < 0 {
		out.MaxArtifactKeyHeaders = 0
	}
	return &out
}
