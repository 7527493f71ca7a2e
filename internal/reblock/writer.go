package reblock

import (
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/pkg/buffer"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// maxZeroWrites is how many consecutive zero-byte writes the writer accepts
// before giving up on a record.
const maxZeroWrites = 100

// writer copies records to the sink in the order it receives them and hands
// each buffer back to the pool.
type writer struct {
	sink stream.Sink
	in   <-chan []byte
	stop <-chan struct{}
	pool buffer.Pool

	metrics MetricsCollector
	logger  *zap.Logger
}

// run writes records until in is closed. The sink is flushed whenever the
// writer runs out of queued records and once more at the end.
func (w *writer) run() error {
	records := 0
	for {
		select {
		case record, ok := <-w.in:
			if !ok {
				if err := w.flush(); err != nil {
					return err
				}
				w.logger.Debug("writer finished", zap.Int("records", records))
				return nil
			}

			start := time.Now()
			err := w.write(record)
			size := len(record)
			w.pool.Release(record)
			if err != nil {
				return &errors.WriteError{Sink: w.sink.Name(), Op: "write", Err: err}
			}
			records++
			if w.metrics != nil {
				w.metrics.ObserveRecordWritten(size, time.Since(start).Seconds())
			}
			// Flush once nothing else is queued.
			if len(w.in) == 0 {
				if err := w.flush(); err != nil {
					return err
				}
			}

		case <-w.stop:
			return errors.ErrStopped
		}
	}
}

// write sends one whole record. Partial writes are continued until the
// record is complete.
func (w *writer) write(record []byte) error {
	if rs, ok := w.sink.(stream.RecordSink); ok {
		return rs.WriteRecord(record)
	}

	zeroWrites := 0
	for len(record) > 0 {
		n, err := w.sink.Write(record)
		record = record[n:]
		if err != nil {
			return err
		}
		if n > 0 {
			zeroWrites = 0
			continue
		}
		zeroWrites++
		if zeroWrites >= maxZeroWrites {
			return errors.ErrNoProgress
		}
	}
	return nil
}

func (w *writer) flush() error {
	f, ok := w.sink.(stream.Flusher)
	if !ok {
		return nil
	}
	if err := f.Flush(); err != nil {
		return &errors.WriteError{Sink: w.sink.Name(), Op: "flush", Err: err}
	}
	return nil
}
