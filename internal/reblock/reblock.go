package reblock

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/buffer"
	"github.com/jittakal/lbuffer/internal/config/dto"
	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/internal/scanner"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// Config holds the settings of one reblocking run.
type Config struct {
	Delimiter       []byte
	BufferLines     int
	HighWM          int
	LowWM           int
	PageSize        int
	ChannelCapacity int
	RecyclerSize    int
	MaxRetain       int
	SeparateSources bool
	// StopTimeout bounds how long a canceled run waits for a writer stuck
	// in the sink. Zero means DefaultStopTimeout.
	StopTimeout time.Duration
}

// DefaultStopTimeout is the cancellation grace period for the writer.
const DefaultStopTimeout = 5 * time.Second

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Delimiter:       []byte{'\n'},
		BufferLines:     1024,
		HighWM:          1,
		LowWM:           1023,
		PageSize:        buffer.DefaultPageSize,
		ChannelCapacity: 2,
		RecyclerSize:    6,
		MaxRetain:       1 << 20,
		StopTimeout:     DefaultStopTimeout,
	}
}

// ConfigFromDTO builds a Config from the loaded application settings.
func ConfigFromDTO(cfg dto.BufferConfig, delim []byte) Config {
	return Config{
		Delimiter:       delim,
		BufferLines:     cfg.Lines,
		HighWM:          cfg.HighWM,
		LowWM:           cfg.LowWM,
		PageSize:        cfg.PageSize,
		ChannelCapacity: cfg.ChannelCapacity,
		RecyclerSize:    cfg.RecyclerSize,
		MaxRetain:       cfg.MaxRetainBytes,
		SeparateSources: cfg.SeparateSources,
	}
}

// Watermarks returns the queue thresholds of cfg.
func (c Config) Watermarks() Watermarks {
	return Watermarks{BufferLines: c.BufferLines, HighWM: c.HighWM, LowWM: c.LowWM}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if len(c.Delimiter) == 0 {
		return &errors.ConfigError{Field: "delimiter", Reason: "must not be empty"}
	}
	if err := c.Watermarks().Validate(); err != nil {
		return err
	}
	if c.PageSize <= 0 {
		return &errors.ConfigError{Field: "page-size", Reason: fmt.Sprintf("must be positive, got %d", c.PageSize)}
	}
	if c.ChannelCapacity < 0 {
		return &errors.ConfigError{Field: "channel-capacity", Reason: fmt.Sprintf("must not be negative, got %d", c.ChannelCapacity)}
	}
	return nil
}

// Runner reblocks input sources onto a sink.
type Runner struct {
	cfg     Config
	logger  *zap.Logger
	metrics MetricsCollector
}

// New creates a Runner. logger and metrics may be nil.
func New(cfg Config, logger *zap.Logger, metrics MetricsCollector) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RecyclerSize <= 0 {
		cfg.RecyclerSize = 2*cfg.ChannelCapacity + 2
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Run copies every record of sources, in order, to sink. It returns once the
// sink has accepted and flushed the last record, or on the first failure.
//
// Run closes the sources but not the sink. A write error is returned in
// preference to a read error. When ctx is canceled, queued records are
// discarded and ctx.Err() is returned. A writer still blocked in the sink
// after StopTimeout is abandoned and the error also wraps ErrWriterStuck; the
// sink must then not be closed, since the writer may still be using it.
func (r *Runner) Run(ctx context.Context, sources []stream.Source, sink stream.Sink) error {
	recycler := buffer.NewRecycler(buffer.RecyclerConfig{
		Size:      r.cfg.RecyclerSize,
		PageSize:  r.cfg.PageSize,
		MaxRetain: r.cfg.MaxRetain,
	})

	fromReader := make(chan Message, r.cfg.ChannelCapacity)
	empties := make(chan []byte)
	toWriter := make(chan []byte, r.cfg.ChannelCapacity)
	readerDone := make(chan error, 1)
	writerDone := make(chan error, 1)
	stop := make(chan struct{})

	rd := &reader{
		sources:  sources,
		scan:     scanner.New(r.cfg.Delimiter),
		pageSize: r.cfg.PageSize,
		separate: r.cfg.SeparateSources,
		out:      fromReader,
		empties:  empties,
		stop:     stop,
		pool:     recycler,
		metrics:  r.metrics,
		logger:   r.logger.Named("reader"),
	}
	wr := &writer{
		sink:    sink,
		in:      toWriter,
		stop:    stop,
		pool:    recycler,
		metrics: r.metrics,
		logger:  r.logger.Named("writer"),
	}
	co := &coordinator{
		wm:          r.cfg.Watermarks(),
		gate:        NewGate(),
		queue:       buffer.NewQueue(r.cfg.BufferLines),
		pool:        recycler,
		fromReader:  fromReader,
		empties:     empties,
		toWriter:    toWriter,
		writerDone:  writerDone,
		stop:        stop,
		stopTimeout: r.cfg.StopTimeout,
		metrics:     r.metrics,
		logger:      r.logger.Named("coordinator"),
	}

	r.logger.Debug("reblocking started",
		zap.Int("sources", len(sources)),
		zap.String("sink", sink.Name()),
		zap.Int("buffer_lines", r.cfg.BufferLines),
		zap.Int("high_wm", r.cfg.HighWM),
		zap.Int("low_wm", r.cfg.LowWM),
	)

	go func() { readerDone <- rd.run() }()
	go func() { writerDone <- wr.run() }()

	err := co.run(ctx)
	if co.gate.InputDone() {
		// The end marker was delivered, so the reader is returning.
		if rerr := <-readerDone; rerr != nil && err == nil {
			err = rerr
		}
	}

	r.reportBuffers(recycler.Stats())
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncErrors(string(errors.Classify(err)))
		}
		r.logger.Debug("reblocking failed", zap.Error(err))
		return err
	}

	r.logger.Debug("reblocking finished")
	return nil
}

func (r *Runner) reportBuffers(stats buffer.RecyclerStats) {
	r.logger.Debug("buffer usage",
		zap.Int64("allocated", stats.Allocated),
		zap.Int64("reused", stats.Reused),
		zap.Int64("dropped", stats.Dropped),
	)
	if r.metrics == nil {
		return
	}
	r.metrics.AddBuffers("allocated", stats.Allocated)
	r.metrics.AddBuffers("reused", stats.Reused)
	r.metrics.AddBuffers("dropped", stats.Dropped)
}

// Run is a convenience wrapper that reblocks with cfg and no logging or
// metrics.
func Run(ctx context.Context, cfg Config, sources []stream.Source, sink stream.Sink) error {
	runner, err := New(cfg, nil, nil)
	if err != nil {
		return err
	}
	return runner.Run(ctx, sources, sink)
}
