// Package upload implements an upload engine that publishes local files as
// named objects into an S3-compatible object store using short-lived
// presigned URLs minted by an external URL broker.
//
// The engine never holds long-term S3 credentials. It negotiates per-object
// or per-part presigned URLs from a URLBrokerClient, streams file bytes
// directly to S3 over HTTP, and reports multipart completion or abort back
// to the broker. See UploadCoordinator for the entry point.
package upload
