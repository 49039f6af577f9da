package upload

import (
	"context"
	"time"

	"github.com/gostratum/metricsx"
	"github.com/gostratum/tracingx"
)

// Instrumenter wraps upload operations with metrics and tracing. Every
// method is a no-op when its backing collaborator is nil, so a coordinator
// built without observability wiring pays no overhead.
type Instrumenter struct {
	metrics metricsx.Metrics
	tracer  tracingx.Tracer
}

// NewInstrumenter creates an instrumenter with optional metrics and tracing.
func NewInstrumenter(metrics metricsx.Metrics, tracer tracingx.Tracer) *Instrumenter {
	return &Instrumenter{metrics: metrics, tracer: tracer}
}

// TraceOperation wraps fn with a span (if tracing is configured) and
// records its duration and outcome (if metrics are configured).
func (i *Instrumenter) TraceOperation(ctx context.Context, operation, objectKey string, fn func(ctx context.Context) error) error {
	var span tracingx.Span
	if i.tracer != nil {
		ctx, span = i.tracer.Start(ctx, "upload."+operation,
			tracingx.WithSpanKind(tracingx.SpanKindClient),
			tracingx.WithAttributes(map[string]any{
				"upload.operation":  operation,
				"upload.object_key": objectKey,
			}),
		)
		defer span.End()
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	if i.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}

		i.metrics.Counter("upload_operations_total",
			metricsx.WithHelp("Total number of upload operations"),
			metricsx.WithLabels("operation", "status"),
		).Inc(operation, status)

		i.metrics.Histogram("upload_operation_duration_seconds",
			metricsx.WithHelp("Upload operation duration in seconds"),
			metricsx.WithLabels("operation"),
			metricsx.WithBuckets(.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60),
		).Observe(duration, operation)
	}

	if span != nil && err != nil {
		span.SetError(err)
	}

	return err
}

// RecordFileSize records the size of an uploaded file.
func (i *Instrumenter) RecordFileSize(size int64) {
	if i.metrics != nil {
		i.metrics.Histogram("upload_file_bytes",
			metricsx.WithHelp("Uploaded file size in bytes"),
			metricsx.WithBuckets(1024, 1<<20, 5<<20, 16<<20, 64<<20, 256<<20, 1<<30, 5<<30),
		).Observe(float64(size))
	}
}

// RecordMultipartOperation records multipart upload part-count metrics.
func (i *Instrumenter) RecordMultipartOperation(operation string, partCount int) {
	if i.metrics == nil {
		return
	}
	i.metrics.Counter("upload_multipart_operations_total",
		metricsx.WithHelp("Total number of multipart upload operations"),
		metricsx.WithLabels("operation"),
	).Inc(operation)

	if partCount > 0 {
		i.metrics.Counter("upload_multipart_parts_total",
			metricsx.WithHelp("Total number of multipart upload parts"),
		).Add(float64(partCount))
	}
}

// RecordBatchOperation records batch-level success/failure counts.
func (i *Instrumenter) RecordBatchOperation(totalCount, failedCount int) {
	if i.metrics == nil {
		return
	}
	i.metrics.Histogram("upload_batch_size",
		metricsx.WithHelp("Number of files in an upload batch"),
		metricsx.WithBuckets(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	).Observe(float64(totalCount))

	if failedCount > 0 {
		i.metrics.Counter("upload_batch_failures_total",
			metricsx.WithHelp("Number of failed files in upload batches"),
		).Add(float64(failedCount))
	}
}

// RecordRetry records a recoverable-error retry attempt.
func (i *Instrumenter) RecordRetry(operation string) {
	if i.metrics == nil {
		return
	}
	i.metrics.Counter("upload_retries_total",
		metricsx.WithHelp("Total number of retried upload operations"),
		metricsx.WithLabels("operation"),
	).Inc(operation)
}
