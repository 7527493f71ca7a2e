// Package stream defines the endpoints lbuffer reads records from and writes
// records to.
//
// This package provides abstractions over local files, standard streams,
// object storage (S3, GCS, Azure Blob) and message brokers so the reblocking
// core only ever sees plain readers and writers.
package stream

import "io"

// Source is one input of the logical input stream. Sources are consumed in
// order and closed by the reader once exhausted.
type Source interface {
	io.ReadCloser

	// Name identifies the source in errors and logs.
	Name() string
}

// Sink receives records in order. Close commits the output; for object
// storage nothing is visible until Close returns nil.
type Sink interface {
	io.WriteCloser

	// Name identifies the sink in errors and logs.
	Name() string
}

// Flusher is implemented by sinks that buffer writes.
type Flusher interface {
	Flush() error
}

// Aborter is implemented by sinks that can discard a partial output instead
// of committing it. After Abort, Close releases resources and reports the
// abort cause.
type Aborter interface {
	Abort(cause error)
}

// RecordSink is implemented by sinks that treat every Write as exactly one
// record, such as message brokers. Writers must not split records for them.
type RecordSink interface {
	Sink
	WriteRecord(record []byte) error
}
