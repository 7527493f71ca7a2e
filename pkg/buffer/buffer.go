// Package buffer defines interfaces for record buffer recycling.
//
// Buffers move between the reader, the coordinator queue and the writer by
// ownership transfer. A Pool lets whoever finishes with a buffer hand it back
// for reuse instead of leaving it to the garbage collector.
package buffer

// Pool hands out and takes back byte buffers.
// All implementations must be safe for concurrent use.
type Pool interface {
	// Acquire returns a buffer with zero length.
	// Capacity is unspecified but usually at least one page.
	Acquire() []byte

	// Release returns a buffer to the pool. The caller must not use buf
	// afterwards. The pool may drop it to bound memory.
	Release(buf []byte)
}

// Queue is a FIFO of records owned by a single goroutine.
type Queue interface {
	// Push appends a record at the tail.
	Push(record []byte)

	// Peek returns the head record without removing it.
	Peek() ([]byte, bool)

	// Pop removes and returns the head record.
	Pop() ([]byte, bool)

	// Len returns the number of queued records.
	Len() int

	// Drain removes and returns all records in FIFO order.
	Drain() [][]byte
}
