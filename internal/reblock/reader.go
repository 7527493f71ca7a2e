package reblock

import (
	"io"
	"slices"

	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/internal/scanner"
	"github.com/jittakal/lbuffer/pkg/buffer"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// maxEmptyReads is how many consecutive (0, nil) reads a source may return
// before it is reported as io.ErrNoProgress.
const maxEmptyReads = 100

// reader pulls bytes from the sources a page at a time, splits them into
// records and sends them to the coordinator.
type reader struct {
	sources  []stream.Source
	scan     *scanner.Scanner
	pageSize int
	separate bool

	out     chan<- Message
	empties <-chan []byte
	stop    <-chan struct{}
	pool    buffer.Pool

	metrics MetricsCollector
	logger  *zap.Logger
}

// run reads every source in order. It returns nil once the end marker has
// been delivered, whether that marker carries a read error or not. A non-nil
// result means the coordinator stopped listening first.
func (r *reader) run() error {
	next := 0
	defer func() {
		for _, src := range r.sources[next:] {
			r.closeSource(src)
		}
	}()

	held, err := r.take("waiting for the first buffer")
	if err != nil {
		return err
	}

	for i, src := range r.sources {
		var readErr error
		held, readErr, err = r.drain(src, held)
		next = i + 1
		r.closeSource(src)
		if err != nil {
			r.pool.Release(held)
			return err
		}
		if readErr != nil {
			r.pool.Release(held)
			return r.send(Message{End: true, Err: &errors.ReadError{Source: src.Name(), Err: readErr}}, "sending read error")
		}

		r.logger.Debug("input exhausted", zap.String("source", src.Name()), zap.Int("held", len(held)))

		if r.separate && len(held) > 0 && next < len(r.sources) {
			fresh, err := r.take("waiting for a buffer at a source boundary")
			if err != nil {
				r.pool.Release(held)
				return err
			}
			if err := r.sendRecord(held, kindPartial); err != nil {
				r.pool.Release(fresh)
				return err
			}
			held = fresh
			r.scan.Reset()
		}
	}

	if len(held) > 0 {
		if err := r.sendRecord(held, kindPartial); err != nil {
			return err
		}
	} else {
		r.pool.Release(held)
	}

	return r.send(Message{End: true}, "sending end of stream")
}

// drain reads src to EOF, sending every completed record and carrying the
// partial tail in held. readErr is an I/O failure of src, reported after the
// records completed by the failing read have been sent; err means the
// coordinator is gone.
func (r *reader) drain(src stream.Source, held []byte) (_ []byte, readErr error, err error) {
	emptyReads := 0
	eof := false

	for {
		for {
			split := r.scan.Scan(held)
			if split < 0 {
				break
			}
			next, err := r.take("waiting for a buffer")
			if err != nil {
				return held, nil, err
			}
			var record []byte
			record, held = scanner.Split(held, next, split)
			r.scan.Reset()
			if err := r.sendRecord(record, kindDelimited); err != nil {
				return held, nil, err
			}
		}

		if eof || readErr != nil {
			return held, readErr, nil
		}

		held = slices.Grow(held, r.pageSize)
		n, rerr := src.Read(held[len(held) : len(held)+r.pageSize])
		held = held[:len(held)+n]

		switch {
		case rerr == io.EOF:
			eof = true
		case rerr != nil:
			readErr = rerr
		case n == 0:
			emptyReads++
			if emptyReads >= maxEmptyReads {
				readErr = io.ErrNoProgress
			}
		default:
			emptyReads = 0
		}
	}
}

// take receives an empty buffer from the coordinator. It blocks while
// reading is disabled.
func (r *reader) take(op string) ([]byte, error) {
	select {
	case buf, ok := <-r.empties:
		if !ok {
			return nil, errors.ErrStopped
		}
		return buf[:0], nil
	case <-r.stop:
		return nil, &errors.CoordinationError{Task: "reader", Op: op, Err: errors.ErrCoordinatorGone}
	}
}

func (r *reader) sendRecord(record []byte, kind string) error {
	if r.metrics != nil {
		r.metrics.IncRecordsRead(kind, len(record))
	}
	if err := r.send(Message{Record: record}, "sending a record"); err != nil {
		r.pool.Release(record)
		return err
	}
	return nil
}

func (r *reader) send(msg Message, op string) error {
	select {
	case r.out <- msg:
		return nil
	case <-r.stop:
		return &errors.CoordinationError{Task: "reader", Op: op, Err: errors.ErrCoordinatorGone}
	}
}

func (r *reader) closeSource(src stream.Source) {
	if err := src.Close(); err != nil {
		r.logger.Warn("failed to close input", zap.String("source", src.Name()), zap.Error(err))
	}
}
