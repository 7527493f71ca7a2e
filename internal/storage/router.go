// Package storage opens input sources and output sinks by URI.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/config/dto"
	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// Scheme identifies the kind of endpoint a URI names.
type Scheme string

const (
	SchemeStdio Scheme = "-"
	SchemeFile  Scheme = "file"
	SchemeS3    Scheme = "s3"
	SchemeGCS   Scheme = "gs"
	SchemeAzure Scheme = "azblob"
	SchemeKafka Scheme = "kafka"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncStorageErrors(backend string, operation string)
}

// Location is a parsed endpoint URI.
// For object stores Bucket is the bucket or container and Key the object name.
// For kafka Bucket is the comma separated broker list and Key the topic.
// For files Key is the path.
type Location struct {
	Scheme Scheme
	Bucket string
	Key    string
	Raw    string
}

// Brokers splits a kafka location's broker list.
func (l Location) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(l.Bucket, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (l Location) String() string {
	if l.Raw != "" {
		return l.Raw
	}
	switch l.Scheme {
	case SchemeStdio:
		return "-"
	case SchemeFile:
		return l.Key
	default:
		return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Key)
	}
}

// ParseURI parses an input or output location.
// Format: "-" or "" (standard stream), a bare path, file://path,
// s3://bucket/key, gs://bucket/object, azblob://container/blob or
// kafka://broker1,broker2/topic.
func ParseURI(raw string) (Location, error) {
	if raw == "" || raw == "-" {
		return Location{Scheme: SchemeStdio, Raw: raw}, nil
	}

	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return Location{Scheme: SchemeFile, Key: raw, Raw: raw}, nil
	}

	switch Scheme(scheme) {
	case SchemeFile:
		if rest == "" {
			return Location{}, &errors.ConfigError{Field: "uri", Reason: fmt.Sprintf("missing path in %q", raw)}
		}
		return Location{Scheme: SchemeFile, Key: rest, Raw: raw}, nil
	case SchemeS3, SchemeGCS, SchemeAzure, SchemeKafka:
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Location{}, &errors.ConfigError{
				Field:  "uri",
				Reason: fmt.Sprintf("%q must have the form %s://<bucket>/<name>", raw, scheme),
			}
		}
		return Location{Scheme: Scheme(scheme), Bucket: bucket, Key: key, Raw: raw}, nil
	default:
		return Location{}, fmt.Errorf("%w: %q in %q", errors.ErrUnsupportedScheme, scheme, raw)
	}
}

// SinkFactory opens a sink for a scheme the router does not handle itself.
type SinkFactory func(ctx context.Context, loc Location, clobber bool) (stream.Sink, error)

// Router opens sources and sinks, creating cloud clients on first use.
type Router struct {
	cfg     dto.StorageConfig
	logger  *zap.Logger
	metrics MetricsCollector

	mu        sync.Mutex
	s3        *S3Backend
	gcs       *GCSBackend
	azure     *AzureBackend
	factories map[Scheme]SinkFactory
}

// NewRouter creates a new storage router.
func NewRouter(cfg dto.StorageConfig, logger *zap.Logger, metrics MetricsCollector) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		factories: make(map[Scheme]SinkFactory),
	}
}

// RegisterSink routes sinks of scheme to f.
func (r *Router) RegisterSink(scheme Scheme, f SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = f
}

// OpenSink opens the output named by destination. Unless clobber is set an
// existing destination is refused with ErrDestinationExists.
func (r *Router) OpenSink(ctx context.Context, destination string, clobber bool) (stream.Sink, error) {
	loc, err := ParseURI(destination)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	factory, ok := r.factories[loc.Scheme]
	r.mu.Unlock()
	if ok {
		return factory(ctx, loc, clobber)
	}

	switch loc.Scheme {
	case SchemeStdio:
		return NewStdoutSink(), nil
	case SchemeFile:
		return NewFileSink(loc.Key, clobber)
	case SchemeS3:
		backend, err := r.s3Backend(ctx)
		if err != nil {
			return nil, err
		}
		return backend.NewSink(ctx, loc, clobber)
	case SchemeGCS:
		backend, err := r.gcsBackend(ctx)
		if err != nil {
			return nil, err
		}
		return backend.NewSink(ctx, loc, clobber)
	case SchemeAzure:
		backend, err := r.azureBackend()
		if err != nil {
			return nil, err
		}
		return backend.NewSink(ctx, loc, clobber)
	default:
		return nil, fmt.Errorf("%w: %s output", errors.ErrUnsupportedScheme, loc.Scheme)
	}
}

// OpenSource opens an object storage input. Files and standard input are
// opened by the caller.
func (r *Router) OpenSource(ctx context.Context, loc Location) (stream.Source, error) {
	switch loc.Scheme {
	case SchemeFile:
		return OpenFileSource(loc.Key)
	case SchemeS3:
		backend, err := r.s3Backend(ctx)
		if err != nil {
			return nil, err
		}
		return backend.Open(ctx, loc)
	case SchemeGCS:
		backend, err := r.gcsBackend(ctx)
		if err != nil {
			return nil, err
		}
		return backend.Open(ctx, loc)
	case SchemeAzure:
		backend, err := r.azureBackend()
		if err != nil {
			return nil, err
		}
		return backend.Open(ctx, loc)
	default:
		return nil, fmt.Errorf("%w: %s input", errors.ErrUnsupportedScheme, loc.Scheme)
	}
}

// Close releases cloud clients.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gcs != nil {
		return r.gcs.Close()
	}
	return nil
}

func (r *Router) s3Backend(ctx context.Context) (*S3Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3 == nil {
		backend, err := NewS3Backend(ctx, r.cfg.S3, r.logger, r.metrics)
		if err != nil {
			return nil, err
		}
		r.s3 = backend
	}
	return r.s3, nil
}

func (r *Router) gcsBackend(ctx context.Context) (*GCSBackend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gcs == nil {
		backend, err := NewGCSBackend(ctx, r.cfg.GCS, r.logger, r.metrics)
		if err != nil {
			return nil, err
		}
		r.gcs = backend
	}
	return r.gcs, nil
}

func (r *Router) azureBackend() (*AzureBackend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.azure == nil {
		backend, err := NewAzureBackend(r.cfg.Azure, r.logger, r.metrics)
		if err != nil {
			return nil, err
		}
		r.azure = backend
	}
	return r.azure, nil
}

