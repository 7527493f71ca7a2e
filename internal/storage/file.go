package storage

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// Ensure implementations satisfy interfaces at compile time.
var (
	_ stream.Sink    = (*FileSink)(nil)
	_ stream.Flusher = (*FileSink)(nil)
	_ stream.Source  = (*namedSource)(nil)
)

const writeBufferSize = 64 * 1024

// FileSink writes records to a local file or to standard output through a
// write buffer.
type FileSink struct {
	name   string
	file   *os.File
	w      *bufio.Writer
	closer bool
	closed bool
}

// NewFileSink creates path for writing. Unless clobber is set the file must
// not already exist.
func NewFileSink(path string, clobber bool) (*FileSink, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if clobber {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			err = fmt.Errorf("%w: %s (use --clobber to overwrite)", errors.ErrDestinationExists, path)
		}
		return nil, &errors.WriteError{Sink: path, Op: "open", Err: err}
	}

	return &FileSink{
		name:   path,
		file:   f,
		w:      bufio.NewWriterSize(f, writeBufferSize),
		closer: true,
	}, nil
}

// NewStdoutSink returns a sink on standard output. Close flushes but leaves
// the descriptor open.
func NewStdoutSink() *FileSink {
	return newWriterSink("stdout", os.Stdout)
}

func newWriterSink(name string, f *os.File) *FileSink {
	return &FileSink{
		name: name,
		file: f,
		w:    bufio.NewWriterSize(f, writeBufferSize),
	}
}

// Name returns the file path, or "stdout".
func (s *FileSink) Name() string {
	return s.name
}

// Write buffers p.
func (s *FileSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.ErrSinkClosed
	}
	return s.w.Write(p)
}

// Flush writes buffered data to the file.
func (s *FileSink) Flush() error {
	if s.closed {
		return errors.ErrSinkClosed
	}
	return s.w.Flush()
}

// Close flushes and, for files, closes the descriptor.
func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	flushErr := s.w.Flush()
	if !s.closer {
		return flushErr
	}
	closeErr := s.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// namedSource attaches a name to a reader.
type namedSource struct {
	io.ReadCloser
	name string
}

func (s *namedSource) Name() string {
	return s.name
}

// NewSource wraps rc as a named source.
func NewSource(name string, rc io.ReadCloser) stream.Source {
	return &namedSource{ReadCloser: rc, name: name}
}

// OpenFileSource opens a local file for reading.
func OpenFileSource(path string) (stream.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errors.SourceError{Source: path, Err: err}
	}
	return NewSource(path, f), nil
}

// StdinSource returns standard input as a source. Closing it is a no-op.
func StdinSource() stream.Source {
	return NewSource("stdin", io.NopCloser(os.Stdin))
}
