// Package buffer provides buffer recycling and the bounded record queue.
//
// # Recycler
//
// Recycler is a bounded free list of byte buffers. It is backed by a buffered
// channel, so Acquire and Release are safe to call from the reader, the writer
// and the coordinator at the same time without locks:
//
//	pool := buffer.NewRecycler(buffer.RecyclerConfig{
//	    Size:      6,
//	    PageSize:  4096,
//	    MaxRetain: 1 << 20,
//	})
//
//	buf := pool.Acquire() // len(buf) == 0, always
//	buf = append(buf, line...)
//	pool.Release(buf) // truncated to zero and kept, or dropped if the pool is full
//
// Buffers that grew beyond MaxRetain (a single very long record) are dropped
// on Release instead of being pinned in the pool.
//
// # Queue
//
// Queue is the FIFO of completed records between the reader and the writer.
// It is a ring buffer sized to the configured number of lines and is owned by
// the coordinator goroutine alone:
//
//	q := buffer.NewQueue(1024)
//	q.Push(record)
//	head, ok := q.Peek()
//	q.Pop()
//
// The coordinator stops handing out buffers once the queue is full, but a few
// records already in flight on channels can still arrive. Push grows the ring
// in that case rather than dropping data.
//
// # Ownership
//
// A buffer belongs to exactly one of the reader, the queue, the writer or the
// recycler at any time. Ownership moves with a channel send or a Push/Pop;
// nothing here copies record bytes.
package buffer
