// Package reblock moves delimiter-separated records from input sources to a
// sink through a bounded queue.
//
// Three goroutines cooperate. The reader carves records out of the input, the
// writer copies them to the sink, and the coordinator owns the queue between
// them. The coordinator never touches record bytes: it only decides, from the
// queue length and the watermarks, whether the reader may take another buffer
// and whether records flow on to the writer. Buffers change owner when they
// are sent on a channel, so the data path needs no locks.
package reblock

// Message is what the reader sends to the coordinator: either one record or
// the end of the input stream. Exactly one end marker is sent, after every
// record of the stream.
type Message struct {
	// Record holds one delimiter-terminated record. The last record of the
	// stream may lack the delimiter. Never empty.
	Record []byte

	// End marks the end of the input. Err is nil on success.
	End bool
	Err error
}

// MetricsCollector defines metrics operations for the reblocking pipeline.
type MetricsCollector interface {
	IncRecordsRead(kind string, bytes int)
	ObserveRecordWritten(bytes int, seconds float64)
	SetQueueLength(n int)
	SetGate(flag string, enabled bool)
	AddBuffers(event string, n int64)
	IncErrors(kind string)
}

// Record kinds reported to IncRecordsRead.
const (
	kindDelimited = "delimited"
	kindPartial   = "partial"
)
