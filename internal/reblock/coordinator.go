package reblock

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/buffer"
	"github.com/jittakal/lbuffer/internal/errors"
	pkgbuffer "github.com/jittakal/lbuffer/pkg/buffer"
)

// Watermarks are the queue thresholds that drive the gate.
type Watermarks struct {
	// BufferLines is the queue length at which reading stops.
	BufferLines int
	// HighWM is the queue length at which writing starts.
	HighWM int
	// LowWM is the queue length at which reading resumes.
	LowWM int
}

// Validate checks that both watermarks lie below BufferLines.
func (w Watermarks) Validate() error {
	if w.BufferLines < 1 {
		return &errors.ConfigError{Field: "buffer-lines", Reason: fmt.Sprintf("must be at least 1, got %d", w.BufferLines)}
	}
	if w.HighWM < 0 || w.HighWM >= w.BufferLines {
		return &errors.ConfigError{Field: "high-wm", Reason: fmt.Sprintf("high-wm (%d) must be less than buffer-lines (%d)", w.HighWM, w.BufferLines)}
	}
	if w.LowWM < 0 || w.LowWM >= w.BufferLines {
		return &errors.ConfigError{Field: "low-wm", Reason: fmt.Sprintf("low-wm (%d) must be less than buffer-lines (%d)", w.LowWM, w.BufferLines)}
	}
	return nil
}

// Gate holds the reading and writing flags. Each flag switches on at one
// threshold and off at another, so the reader and the writer work in bursts
// instead of alternating record by record.
type Gate struct {
	reading   bool
	writing   bool
	inputDone bool
}

// NewGate returns the initial state: reading on, writing off.
func NewGate() Gate {
	return Gate{reading: true}
}

// Update recomputes the flags for queue length n and reports which changed.
func (g *Gate) Update(wm Watermarks, n int) (readingChanged, writingChanged bool) {
	if g.reading && n >= wm.BufferLines {
		g.reading, readingChanged = false, true
	} else if !g.reading && n <= wm.LowWM {
		g.reading, readingChanged = true, true
	}

	if g.writing && n == 0 {
		g.writing, writingChanged = false, true
	} else if !g.writing && n >= wm.HighWM && n > 0 {
		g.writing, writingChanged = true, true
	}
	return readingChanged, writingChanged
}

// FinishInput records that no more records will arrive. From then on the
// reader gets no buffers and the writer drains the queue regardless of the
// high watermark.
func (g *Gate) FinishInput() {
	g.inputDone = true
}

// Reading reports whether the reader may take another buffer.
func (g Gate) Reading() bool {
	return g.reading && !g.inputDone
}

// Writing reports whether queued records may flow to the writer.
func (g Gate) Writing() bool {
	return g.writing || g.inputDone
}

// InputDone reports whether the end marker has arrived.
func (g Gate) InputDone() bool {
	return g.inputDone
}

// coordinator owns the queue. All of its state is confined to the goroutine
// running run.
type coordinator struct {
	wm    Watermarks
	gate  Gate
	queue *buffer.Queue
	pool  pkgbuffer.Pool

	fromReader <-chan Message
	empties    chan<- []byte
	toWriter   chan []byte
	writerDone <-chan error
	stop       chan struct{}

	// stopTimeout bounds the wait for a writer after cancellation.
	stopTimeout time.Duration

	metrics MetricsCollector
	logger  *zap.Logger
}

// run multiplexes the reader, the queue and the writer until the output is
// complete or the run fails. Send cases are only armed while the
// corresponding flag is set: a nil channel blocks forever in a select.
func (c *coordinator) run(ctx context.Context) error {
	var spare []byte
	var readErr error

	defer func() {
		c.pool.Release(spare)
	}()

	c.logger.Debug("coordinator started", zap.Int("capacity", c.queue.Cap()))

	for {
		if c.gate.InputDone() && c.queue.IsEmpty() {
			return c.finish(ctx, readErr)
		}

		// A full queue leaves the reader blocked on its send.
		fromReader := c.fromReader
		if c.queue.Full() {
			fromReader = nil
		}

		var empties chan<- []byte
		if c.gate.Reading() {
			if spare == nil {
				spare = c.pool.Acquire()
			}
			empties = c.empties
		}

		var toWriter chan<- []byte
		var head []byte
		if c.gate.Writing() && !c.queue.IsEmpty() {
			head, _ = c.queue.Peek()
			toWriter = c.toWriter
		}

		select {
		case empties <- spare:
			spare = nil

		case toWriter <- head:
			c.queue.Pop()
			c.update()

		case msg := <-fromReader:
			if msg.End {
				readErr = msg.Err
				c.gate.FinishInput()
				c.logger.Debug("input finished",
					zap.Int("queued", c.queue.Len()),
					zap.Bool("failed", msg.Err != nil),
				)
				c.setGate("reading", false)
				continue
			}
			c.queue.Push(msg.Record)
			c.update()

		case err := <-c.writerDone:
			if err == nil {
				err = &errors.CoordinationError{Task: "writer", Op: "records were still queued", Err: errors.ErrCoordinatorGone}
			}
			close(c.stop)
			c.discard()
			return err

		case <-ctx.Done():
			werr := c.stopWriter()
			c.discard()
			if errors.Is(werr, errors.ErrWriterStuck) {
				return fmt.Errorf("%w: %w", ctx.Err(), werr)
			}
			if werr != nil && !errors.Is(werr, errors.ErrStopped) {
				c.logger.Debug("writer failed during cancellation", zap.Error(werr))
			}
			return ctx.Err()
		}
	}
}

// finish closes the writer's channel and waits for it to flush. A write
// error takes precedence over a read error.
func (c *coordinator) finish(ctx context.Context, readErr error) error {
	close(c.toWriter)

	var werr error
	select {
	case werr = <-c.writerDone:
	case <-ctx.Done():
		werr = c.stopWriter()
		if werr == nil {
			return readErr
		}
		if errors.Is(werr, errors.ErrWriterStuck) {
			return fmt.Errorf("%w: %w", ctx.Err(), werr)
		}
		if errors.Is(werr, errors.ErrStopped) {
			return ctx.Err()
		}
	}

	if werr != nil {
		return werr
	}
	return readErr
}

// stopWriter closes stop and waits up to stopTimeout for the writer to
// return. A writer blocked inside the sink is abandoned with ErrWriterStuck;
// it still owns the sink.
func (c *coordinator) stopWriter() error {
	close(c.stop)

	timer := time.NewTimer(c.stopTimeout)
	defer timer.Stop()

	select {
	case err := <-c.writerDone:
		return err
	case <-timer.C:
		c.logger.Warn("writer did not stop, abandoning it", zap.Duration("timeout", c.stopTimeout))
		return errors.ErrWriterStuck
	}
}

// update recomputes the gate after the queue length changed.
func (c *coordinator) update() {
	n := c.queue.Len()
	readingChanged, writingChanged := c.gate.Update(c.wm, n)
	if c.metrics != nil {
		c.metrics.SetQueueLength(n)
	}
	if readingChanged {
		c.logger.Debug("reading toggled", zap.Bool("enabled", c.gate.reading), zap.Int("queued", n))
		c.setGate("reading", c.gate.reading)
	}
	if writingChanged {
		c.logger.Debug("writing toggled", zap.Bool("enabled", c.gate.writing), zap.Int("queued", n))
		c.setGate("writing", c.gate.writing)
	}
}

func (c *coordinator) setGate(flag string, enabled bool) {
	if c.metrics != nil {
		c.metrics.SetGate(flag, enabled)
	}
}

// discard releases every buffer the coordinator can still reach after the
// run failed.
func (c *coordinator) discard() {
	queued := c.queue.Drain()
	dropped := len(queued)
	for _, record := range queued {
		c.pool.Release(record)
	}
	for {
		select {
		case record := <-c.toWriter:
			c.pool.Release(record)
			dropped++
		case msg := <-c.fromReader:
			if msg.Record != nil {
				c.pool.Release(msg.Record)
				dropped++
			}
		default:
			if dropped > 0 {
				c.logger.Warn("discarded undelivered records", zap.Int("records", dropped))
			}
			return
		}
	}
}
