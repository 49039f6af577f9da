package httpbroker

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/gostratum/core/configx"
	upload "github.com/gostratum/s3uploader"
	"go.uber.org/fx"
)

// Module provides an upload.URLBrokerClient talking to the v2 XML URL
// broker protocol, configured under the "upload.broker" prefix.
func Module() fx.Option {
	return fx.Module("upload-httpbroker",
		fx.Provide(
			newBrokerConfig,
			fx.Annotate(
				provideClient,
				fx.As(new(upload.URLBrokerClient)),
			),
		),
	)
}

func newBrokerConfig(loader configx.Loader) (*BrokerConfig, error) {
	cfg := &BrokerConfig{}
	if err := loader.Bind(cfg); err != nil {
		return nil, fmt.Errorf("upload-httpbroker: failed to load config: %w", err)
	}
	return cfg, nil
}

func provideClient(brokerCfg *BrokerConfig, cfg *upload.Config) *Client {
	return NewClient(brokerCfg.PresignURL, brokerCfg.FinalizeURL, uuid.New().String(), cfg.MaxArtifactKeyHeaders, cfg.ConnectionTimeout)
}
