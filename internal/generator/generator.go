// Package generator produces synthetic delimiter-separated records for
// exercising lbuffer pipelines.
package generator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/jaswdr/faker"
	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/errors"
)

// Config controls record generation.
type Config struct {
	Count     int
	Interval  time.Duration
	Delimiter []byte
	Seed      int64
}

// Generator writes fake library records.
type Generator struct {
	config Config
	faker  faker.Faker
	logger *zap.Logger
}

// NewGenerator creates a generator. A zero Seed uses the current time.
func NewGenerator(config Config, logger *zap.Logger) (*Generator, error) {
	if len(config.Delimiter) == 0 {
		return nil, &errors.ConfigError{Field: "delimiter", Reason: "must not be empty"}
	}
	if config.Count < 0 {
		return nil, &errors.ConfigError{Field: "count", Reason: "must not be negative"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		config: config,
		faker:  faker.NewWithSeed(rand.NewSource(seed)),
		logger: logger,
	}, nil
}

// Record builds one record without its delimiter. Any delimiter bytes in the
// generated text are replaced by spaces.
func (g *Generator) Record(seq int) []byte {
	fields := []string{
		fmt.Sprintf("%08d", seq),
		"B" + g.faker.UUID().V4()[0:8],
		g.faker.Lorem().Sentence(5),
		g.faker.Person().Name(),
		g.faker.Internet().Email(),
		g.faker.Address().City() + " Branch",
		g.randomCategory(),
	}
	rec := []byte(strings.Join(fields, "\t"))
	return bytes.ReplaceAll(rec, g.config.Delimiter, []byte(" "))
}

// Run writes Count records to w, or runs until ctx is done when Count is 0.
// It returns the number of records written.
func (g *Generator) Run(ctx context.Context, w io.Writer) (int, error) {
	var tick <-chan time.Time
	if g.config.Interval > 0 {
		ticker := time.NewTicker(g.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	written := 0
	for g.config.Count == 0 || written < g.config.Count {
		if tick != nil {
			select {
			case <-ctx.Done():
				return written, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return written, err
		}

		rec := append(g.Record(written), g.config.Delimiter...)
		if _, err := w.Write(rec); err != nil {
			return written, &errors.WriteError{Sink: "generator", Op: "write", Err: err}
		}
		written++

		if ce := g.logger.Check(zap.DebugLevel, "generated record"); ce != nil {
			ce.Write(zap.Int("seq", written), zap.Int("bytes", len(rec)))
		}
	}
	return written, nil
}

func (g *Generator) randomCategory() string {
	categories := []string{
		"Fiction",
		"Non-Fiction",
		"Science",
		"Technology",
		"History",
		"Biography",
		"Mystery",
		"Fantasy",
		"Business",
		"Programming",
	}
	return categories[g.faker.IntBetween(0, len(categories)-1)]
}
