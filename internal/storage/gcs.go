package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jittakal/lbuffer/internal/config/dto"
	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ stream.Sink    = (*gcsSink)(nil)
	_ stream.Aborter = (*gcsSink)(nil)
)

// gcsAPI is the part of *storage.Client the backend uses.
type gcsAPI interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// NewWriter starts a resumable upload. With mustNotExist the upload
	// fails on commit if the object already exists.
	NewWriter(ctx context.Context, bucket, object string, mustNotExist bool) io.WriteCloser
	Close() error
}

type gcsClient struct {
	client *storage.Client
}

func (c gcsClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c gcsClient) NewWriter(ctx context.Context, bucket, object string, mustNotExist bool) io.WriteCloser {
	obj := c.client.Bucket(bucket).Object(object)
	if mustNotExist {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return w
}

func (c gcsClient) Close() error {
	return c.client.Close()
}

// GCSBackend reads and writes objects in Google Cloud Storage.
type GCSBackend struct {
	client  gcsAPI
	logger  *zap.Logger
	metrics MetricsCollector
}

// NewGCSBackend creates a new Google Cloud Storage backend.
func NewGCSBackend(ctx context.Context, cfg dto.GCSConfig, logger *zap.Logger, metrics MetricsCollector) (*GCSBackend, error) {
	var clientOpts []option.ClientOption
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	if cfg.CredentialsJSON != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	} else if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", zap.String("file", cfg.CredentialsFile))
	} else {
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS backend created", zap.String("project_id", cfg.ProjectID))

	return newGCSBackend(gcsClient{client: client}, logger, metrics), nil
}

func newGCSBackend(client gcsAPI, logger *zap.Logger, metrics MetricsCollector) *GCSBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCSBackend{client: client, logger: logger, metrics: metrics}
}

// Open starts reading an object.
func (b *GCSBackend) Open(ctx context.Context, loc Location) (stream.Source, error) {
	r, err := b.client.NewReader(ctx, loc.Bucket, loc.Key)
	if err != nil {
		b.incErrors("get")
		if errors.Is(err, storage.ErrObjectNotExist) {
			err = fmt.Errorf("object does not exist: %w", err)
		}
		return nil, &errors.SourceError{Source: loc.String(), Err: err}
	}
	return NewSource(loc.String(), r), nil
}

// NewSink starts a resumable upload to loc. Without clobber the upload is
// conditional on the object not existing, which the service checks when the
// upload is committed.
func (b *GCSBackend) NewSink(ctx context.Context, loc Location, clobber bool) (stream.Sink, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &gcsSink{
		loc:     loc,
		w:       b.client.NewWriter(ctx, loc.Bucket, loc.Key, !clobber),
		cancel:  cancel,
		logger:  b.logger,
		metrics: b.metrics,
	}, nil
}

// Close closes the GCS client.
func (b *GCSBackend) Close() error {
	b.logger.Info("closing GCS backend")
	return b.client.Close()
}

func (b *GCSBackend) incErrors(op string) {
	if b.metrics != nil {
		b.metrics.IncStorageErrors("gcs", op)
	}
}

type gcsSink struct {
	loc     Location
	w       io.WriteCloser
	cancel  context.CancelFunc
	aborted error
	closed  bool
	logger  *zap.Logger
	metrics MetricsCollector
}

func (s *gcsSink) Name() string {
	return s.loc.String()
}

func (s *gcsSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.ErrSinkClosed
	}
	return s.w.Write(p)
}

// Abort cancels the upload. Cancelling the writer's context is how the
// client library discards an unfinished object.
func (s *gcsSink) Abort(cause error) {
	if cause == nil {
		cause = errors.ErrStopped
	}
	s.aborted = cause
	s.cancel()
}

func (s *gcsSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.cancel()

	err := s.w.Close()
	if s.aborted != nil {
		return s.aborted
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors("gcs", "close")
		}
		if isPreconditionFailed(err) {
			err = fmt.Errorf("%w: %s (use --clobber to overwrite): %v", errors.ErrDestinationExists, s.loc, err)
		}
		return &errors.WriteError{Sink: s.loc.String(), Op: "close", Err: err}
	}

	s.logger.Info("wrote records to GCS",
		zap.String("bucket", s.loc.Bucket),
		zap.String("object", s.loc.Key),
	)
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
