// Package source opens the ordered list of inputs before any record is read.
package source

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/internal/storage"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// maxConcurrentOpens bounds simultaneous opens against remote stores.
const maxConcurrentOpens = 8

// Opener opens one parsed input location. *storage.Router implements it.
type Opener interface {
	OpenSource(ctx context.Context, loc storage.Location) (stream.Source, error)
}

// Parse resolves an input argument. Unlike outputs, "-" names a file called
// "-" and not standard input.
func Parse(raw string) (storage.Location, error) {
	if raw == "-" {
		return storage.Location{Scheme: storage.SchemeFile, Key: raw, Raw: raw}, nil
	}
	loc, err := storage.ParseURI(raw)
	if err != nil {
		return storage.Location{}, &errors.SourceError{Source: raw, Err: err}
	}
	if loc.Scheme == storage.SchemeKafka {
		return storage.Location{}, &errors.SourceError{
			Source: raw,
			Err:    errors.New("kafka is only supported as an output"),
		}
	}
	return loc, nil
}

// OpenAll opens every input concurrently and returns them in argument order.
// With no inputs it returns standard input. If any open fails, the ones that
// succeeded are closed and the first failure is returned.
func OpenAll(ctx context.Context, inputs []string, opener Opener, logger *zap.Logger) ([]stream.Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(inputs) == 0 {
		return []stream.Source{storage.StdinSource()}, nil
	}

	locations := make([]storage.Location, len(inputs))
	for i, raw := range inputs {
		if raw == "-" {
			logger.Warn("\"-\" is read as a file named \"-\", not standard input; use /dev/stdin /dev/stdout instead")
		}
		loc, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		locations[i] = loc
	}

	sources := make([]stream.Source, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentOpens)

	for i, loc := range locations {
		g.Go(func() error {
			src, err := opener.OpenSource(gctx, loc)
			if err != nil {
				var sourceErr *errors.SourceError
				if !errors.As(err, &sourceErr) {
					err = &errors.SourceError{Source: loc.String(), Err: err}
				}
				return err
			}
			sources[i] = src
			logger.Debug("opened input", zap.Int("index", i), zap.String("source", src.Name()))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		CloseAll(sources)
		return nil, err
	}
	return sources, nil
}

// CloseAll closes every non-nil source and returns the first error.
func CloseAll(sources []stream.Source) error {
	var first error
	for _, src := range sources {
		if src == nil {
			continue
		}
		if err := src.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
