package httpbroker

import "time"

// BrokerConfig holds the endpoint details of the URL broker this client
// talks to, distinct from upload.Config's engine-wide tuning knobs.
type BrokerConfig struct {
	PresignURL  string `mapstructure:"presign_url" yaml:"presign_url"`
	FinalizeURL string `mapstructure:"finalize_url" yaml:"finalize_url"`
}

// Prefix implements the configx.Configurable convention.
func (BrokerConfig) Prefix() string { return "upload.broker" }
