package upload

import "time"

// Options holds functional options for customizing coordinator behavior.
type Options struct {
	logger        Logger
	clock         func() time.Time
	correlationID string
	instrumenter  *Instrumenter
}

// Option is a functional option for configuring an UploadCoordinator.
type Option func(*Options)

// WithLogger sets a custom Logger.
func WithLogger(logger Logger) Option {
	return func(opts *Options) { opts.logger = logger }
}

// WithClock sets the time source returned by GetClock. UploadCoordinator
// and URLCache do not read it; URLCache always uses time.Now.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.clock = clock }
}

// WithCorrelationID overrides the per-batch correlation ID that would
// otherwise be generated fresh via uuid.New() on every Upload call, for
// tests that assert on log correlation.
func WithCorrelationID(id string) Option {
	return func(opts *Options) { opts.correlationID = id }
}

// WithInstrumenter attaches a metrics/tracing Instrumenter.
func WithInstrumenter(i *Instrumenter) Option {
	return func(opts *Options) { opts.instrumenter = i }
}

// applyDefaults fills unset options with their defaults.
func (opts *Options) applyDefaults() {
	if opts.logger == nil {
		opts.logger = NewNopLogger()
	}
	if opts.clock == nil {
		opts.clock = time.Now
	}
	if opts.instrumenter == nil {
		opts.instrumenter = NewInstrumenter(nil, nil)
	}
}

// GetLogger returns the configured logger.
func (opts *Options) GetLogger() Logger {
	if opts.logger == nil {
		return NewNopLogger()
	}
	return opts.logger
}

// GetClock returns the configured clock function.
func (opts *Options) GetClock() func() time.Time {
	if opts.clock == nil {
		return time.Now
	}
	return opts.clock
}

// GetInstrumenter returns the configured instrumenter, never nil.
func (opts *Options) GetInstrumenter() *Instrumenter {
	if opts.instrumenter == nil {
		return NewInstrumenter(nil, nil)
	}
	return opts.instrumenter
}

// GetEffectiveConfig resolves options (defaults filled in) and returns them
// alongside a sanitized copy of cfg; the options do not change cfg.
func GetEffectiveConfig(cfg *Config, options ...Option) (*Config, *Options) {
	opts := &Options{}
	for _, opt := range options {
		opt(opts)
	}
	opts.applyDefaults()
	return cfg.Sanitize(), opts
}
