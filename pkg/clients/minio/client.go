// Package minio provides the S3-compatible object storage client used to
// archive audit entries before the retention sweep deletes them. It wraps
// minio-go with OpenTelemetry spans and platform error codes.
//
// For tests, inject a fake with [NewFromStore].
package minio

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

const tracerName = "github.com/StricklySoft/accessguard/pkg/clients/minio"

// ObjectStore is the subset of minio-go operations the client uses. It is
// satisfied by [*minio.Client].
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Client is a traced object storage client bound to one bucket. It is safe
// for concurrent use.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg and verifies the server is reachable.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: cannot reach the server
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}
	if _, err := mc.BucketExists(ctx, healthProbeBucket); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}
	return NewFromStore(mc, &cfg), nil
}

// NewFromStore wraps an existing [ObjectStore]. cfg may be nil.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{Bucket: DefaultBucket}
	}
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// EnsureBucket creates the configured bucket when it does not exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	bucket := c.config.Bucket
	ctx, span := c.startSpan(ctx, "EnsureBucket", bucket, "BucketExists "+bucket)
	exists, err := c.store.BucketExists(ctx, bucket)
	if err == nil && !exists {
		err = c.store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region})
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: ensure bucket failed")
	}
	return nil
}

// Put uploads data under objectName in the configured bucket.
func (c *Client) Put(ctx context.Context, objectName, contentType string, data []byte) (minio.UploadInfo, error) {
	bucket := c.config.Bucket
	ctx, span := c.startSpan(ctx, "PutObject", bucket, "PUT "+objectName)
	info, err := c.store.PutObject(ctx, bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	span.SetAttributes(attribute.Int("minio.object_size", len(data)))
	finishSpan(span, err)
	if err != nil {
		return minio.UploadInfo{}, wrapError(err, "minio: put object failed")
	}
	return info, nil
}

// Health probes the server, applying [DefaultHealthTimeout] when ctx has
// no deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "", "BucketExists "+healthProbeBucket)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	_, err := c.store.BucketExists(ctx, healthProbeBucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, operationName, bucketName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucketName),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError maps deadline errors to [sserr.CodeTimeoutDatabase]. A
// cancelled call is not retryable and maps to [sserr.CodeInternalDatabase].
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
