package testutil

import (
	upload "github.com/gostratum/s3uploader"
	"go.uber.org/fx"
)

// TestModule provides a test Config for fx wiring tests, bypassing the
// configx.Loader so tests don't need a real configuration source.
var TestModule = fx.Module("upload-test",
	fx.Provide(NewTestConfig),
)

// NewTestConfig returns a sanitized default Config suitable for unit tests.
func NewTestConfig() *upload.Config {
	cfg := upload.DefaultConfig()
	cfg.NThreads = 2
	return cfg
}
