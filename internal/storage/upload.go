package storage

import (
	"context"
	"io"
	"sync"

	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ stream.Sink    = (*uploadSink)(nil)
	_ stream.Aborter = (*uploadSink)(nil)
)

// uploadFunc streams everything read from body into one object.
type uploadFunc func(ctx context.Context, body io.Reader) error

// uploadSink feeds an object store upload through a pipe, so records are
// streamed as they are written and the object only appears once Close
// completes the upload.
type uploadSink struct {
	name    string
	backend string
	pw      *io.PipeWriter
	cancel  context.CancelFunc
	metrics MetricsCollector

	done    chan struct{}
	err     error
	once    sync.Once
	aborted error
}

func startUpload(ctx context.Context, name, backend string, metrics MetricsCollector, upload uploadFunc) *uploadSink {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	s := &uploadSink{
		name:    name,
		backend: backend,
		pw:      pw,
		cancel:  cancel,
		metrics: metrics,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		err := upload(ctx, pr)
		// Unblocks a writer if the upload gave up early.
		if err != nil {
			pr.CloseWithError(err)
		} else {
			pr.Close()
		}
		s.err = err
	}()

	return s
}

func (s *uploadSink) Name() string {
	return s.name
}

// Write hands p to the upload. It blocks until the uploader consumed it.
func (s *uploadSink) Write(p []byte) (int, error) {
	n, err := s.pw.Write(p)
	if err != nil && s.metrics != nil {
		s.metrics.IncStorageErrors(s.backend, "write")
	}
	return n, err
}

// Abort fails the upload so no object is created.
func (s *uploadSink) Abort(cause error) {
	if cause == nil {
		cause = errors.ErrStopped
	}
	s.aborted = cause
	s.pw.CloseWithError(cause)
	s.cancel()
}

// Close completes the upload and waits for the result.
func (s *uploadSink) Close() error {
	var err error
	s.once.Do(func() {
		s.pw.Close()
		<-s.done
		s.cancel()

		switch {
		case s.aborted != nil:
			err = s.aborted
		case s.err != nil:
			if s.metrics != nil {
				s.metrics.IncStorageErrors(s.backend, "upload")
			}
			err = &errors.WriteError{Sink: s.name, Op: "upload", Err: s.err}
		}
	})
	return err
}
