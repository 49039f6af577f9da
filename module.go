package upload

import (
	"context"
	"fmt"

	"github.com/gostratum/core/configx"
	"github.com/gostratum/core/logx"
	"github.com/gostratum/metricsx"
	"github.com/gostratum/tracingx"
	"go.uber.org/fx"
)

// Module provides configuration, observability, and lifecycle wiring for
// the upload engine. It does NOT provide a URLBrokerClient or S3Client: an
// application must additionally supply those, either by including
// adapters/httpbroker and adapters/s3http's modules or by constructing test
// doubles directly (see internal/testutil).
//
//	app := fx.New(
//	    upload.Module(),
//	    httpbroker.Module(),
//	    s3http.Module(),
//	    fx.Invoke(func(c *upload.UploadCoordinator) { ... }),
//	)
func Module() fx.Option {
	return fx.Module("upload",
		fx.Provide(
			NewConfig,
			NewObservabilityInstrumenter,
			NewCoordinator,
		),
		fx.Invoke(registerLifecycle),
	)
}

// NewConfig loads Config from the configx loader, sanitizing and validating
// the result.
func NewConfig(loader configx.Loader) (*Config, error) {
	cfg := DefaultConfig()
	if err := loader.Bind(cfg); err != nil {
		return nil, fmt.Errorf("upload: failed to load config: %w", err)
	}
	cfg = cfg.Sanitize()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("upload: invalid configuration: %w", err)
	}
	return cfg, nil
}

// ObservabilityDeps defines optional observability dependencies.
type ObservabilityDeps struct {
	fx.In

	Metrics metricsx.Metrics `optional:"true"`
	Tracer  tracingx.Tracer  `optional:"true"`
}

// NewObservabilityInstrumenter builds the Instrumenter from whatever
// observability backends are present in the fx graph, or a no-op pair.
func NewObservabilityInstrumenter(deps ObservabilityDeps) *Instrumenter {
	return NewInstrumenter(deps.Metrics, deps.Tracer)
}

// CoordinatorParams defines the parameters needed to build a
// UploadCoordinator.
type CoordinatorParams struct {
	fx.In

	Broker       URLBrokerClient
	S3           S3Client
	Logger       logx.Logger `optional:"true"`
	Instrumenter *Instrumenter
}

// NewCoordinator builds an UploadCoordinator from injected collaborators.
func NewCoordinator(params CoordinatorParams) *UploadCoordinator {
	return NewUploadCoordinator(params.Broker, params.S3,
		WithLogger(WrapCoreLogger(params.Logger)),
		WithInstrumenter(params.Instrumenter),
	)
}

// LifecycleParams defines parameters for lifecycle management.
type LifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Broker    URLBrokerClient `optional:"true"`
	S3        S3Client        `optional:"true"`
	Logger    logx.Logger     `optional:"true"`
}

// transportCloser is implemented by an S3Client that owns a pooled HTTP
// transport worth releasing on shutdown (adapters/s3http.Client). Not every
// S3Client does - test doubles typically don't - so this is checked with a
// type assertion rather than added to the S3Client interface itself.
type transportCloser interface {
	Close() error
}

// registerLifecycle closes the broker client and, if it owns one, the S3
// client's pooled HTTP transport on shutdown.
func registerLifecycle(params LifecycleParams) {
	if params.Broker == nil && params.S3 == nil {
		if params.Logger != nil {
			params.Logger.Debug("upload module loaded without a broker or S3 client")
		}
		return
	}

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if params.Logger != nil {
				params.Logger.Info("upload module started")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if params.Logger != nil {
				params.Logger.Info("upload module stopping")
			}

			var firstErr error
			if params.Broker != nil {
				if err := params.Broker.Close(); err != nil {
					if params.Logger != nil {
						params.Logger.Error("error closing broker client", "error", err)
					}
					firstErr = err
				}
			}
			if closer, ok := params.S3.(transportCloser); ok {
				if err := closer.Close(); err != nil {
					if params.Logger != nil {
						params.Logger.Error("error closing S3 client transport", "error", err)
					}
					if firstErr == nil {
						firstErr = err
					}
				}
			}
			return firstErr
		},
	})
}

// WithCustomBroker provides a concrete URLBrokerClient to the fx graph,
// useful for tests.
func WithCustomBroker(b URLBrokerClient) fx.Option {
	return fx.Supply(fx.Annotate(b, fx.As(new(URLBrokerClient))))
}

// WithCustomS3Client provides a concrete S3Client to the fx graph, useful
// for tests.
func WithCustomS3Client(s S3Client) fx.Option {
	return fx.Supply(fx.Annotate(s, fx.As(new(S3Client))))
}
