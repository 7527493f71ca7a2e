package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/config/dto"
	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// s3API is the part of *s3.Client the backend uses.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// s3Uploader is the part of *manager.Uploader the backend uses.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Backend reads and writes objects in AWS S3 or an S3 compatible store.
// Uploads are streamed as multipart uploads, so output size is unbounded
// and memory use is a few parts.
type S3Backend struct {
	client      s3API
	uploader    s3Uploader
	sseEnabled  bool
	sseKMSKeyID string
	logger      *zap.Logger
	metrics     MetricsCollector
}

// NewS3Backend creates a new S3 backend from the default AWS credential chain.
func NewS3Backend(ctx context.Context, cfg dto.S3Config, logger *zap.Logger, metrics MetricsCollector) (*S3Backend, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	partSize := cfg.PartSizeMB * 1024 * 1024
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}

	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = 1
	})

	logger.Info("S3 backend created",
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("sse_enabled", cfg.SSEEnabled),
		zap.Int64("part_size", partSize),
	)

	return newS3Backend(s3Client, uploader, cfg, logger, metrics), nil
}

func newS3Backend(client s3API, uploader s3Uploader, cfg dto.S3Config, logger *zap.Logger, metrics MetricsCollector) *S3Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Backend{
		client:      client,
		uploader:    uploader,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		logger:      logger,
		metrics:     metrics,
	}
}

// Open starts reading an object.
func (b *S3Backend) Open(ctx context.Context, loc Location) (stream.Source, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		b.incErrors("get")
		return nil, &errors.SourceError{Source: loc.String(), Err: err}
	}

	b.logger.Debug("opened S3 object",
		zap.String("bucket", loc.Bucket),
		zap.String("key", loc.Key),
	)

	return NewSource(loc.String(), out.Body), nil
}

// Exists reports whether the object is present.
func (b *S3Backend) Exists(ctx context.Context, loc Location) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	b.incErrors("head")
	return false, err
}

// NewSink starts a streaming upload to loc.
func (b *S3Backend) NewSink(ctx context.Context, loc Location, clobber bool) (stream.Sink, error) {
	if !clobber {
		exists, err := b.Exists(ctx, loc)
		if err != nil {
			return nil, &errors.WriteError{Sink: loc.String(), Op: "head", Err: err}
		}
		if exists {
			return nil, &errors.WriteError{
				Sink: loc.String(),
				Op:   "open",
				Err:  fmt.Errorf("%w: %s (use --clobber to overwrite)", errors.ErrDestinationExists, loc),
			}
		}
	}

	upload := func(ctx context.Context, body io.Reader) error {
		input := &s3.PutObjectInput{
			Bucket: aws.String(loc.Bucket),
			Key:    aws.String(loc.Key),
			Body:   body,
		}
		if b.sseEnabled {
			if b.sseKMSKeyID != "" {
				input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
				input.SSEKMSKeyId = aws.String(b.sseKMSKeyID)
			} else {
				input.ServerSideEncryption = types.ServerSideEncryptionAes256
			}
		}

		result, err := b.uploader.Upload(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to upload to S3: %w", err)
		}

		b.logger.Info("wrote records to S3",
			zap.String("bucket", loc.Bucket),
			zap.String("key", loc.Key),
			zap.String("location", result.Location),
		)
		return nil
	}

	return startUpload(ctx, loc.String(), "s3", b.metrics, upload), nil
}

func (b *S3Backend) incErrors(op string) {
	if b.metrics != nil {
		b.metrics.IncStorageErrors("s3", op)
	}
}
