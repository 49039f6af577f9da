package s3http

import (
	upload "github.com/gostratum/s3uploader"
	"go.uber.org/fx"
)

// Module provides an upload.S3Client backed by direct presigned-URL HTTP
// PUTs, sized from the shared upload.Config. Consumers opt in explicitly,
// the same way adapters/s3.Module() does in the storage module this engine
// is descended from.
func Module() fx.Option {
	return fx.Module("upload-s3http",
		fx.Provide(
			fx.Annotate(
				provideClient,
				fx.As(new(upload.S3Client)),
			),
		),
	)
}

func provideClient(cfg *upload.Config) *Client {
	return NewClient(cfg.NThreads, cfg.ConnectionTimeout, cfg.ConsistencyCheckEnabled)
}
