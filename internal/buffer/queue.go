package buffer

import (
	"github.com/jittakal/lbuffer/pkg/buffer"
)

var _ buffer.Queue = (*Queue)(nil)

// Queue is a ring-buffer FIFO of records. It is not safe for concurrent use.
type Queue struct {
	ring     [][]byte
	head     int
	count    int
	capacity int
}

// NewQueue creates a queue sized for capacity records.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ring:     make([][]byte, capacity),
		capacity: capacity,
	}
}

// Push appends record at the tail, growing the ring if it is full.
func (q *Queue) Push(record []byte) {
	if q.count == len(q.ring) {
		q.grow()
	}
	q.ring[(q.head+q.count)%len(q.ring)] = record
	q.count++
}

// Peek returns the head record without removing it.
func (q *Queue) Peek() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}
	return q.ring[q.head], true
}

// Pop removes and returns the head record.
func (q *Queue) Pop() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}
	record := q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return record, true
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	return q.count
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Full reports whether the queue holds at least Cap records.
func (q *Queue) Full() bool {
	return q.count >= q.capacity
}

// IsEmpty returns true if the queue contains no records.
func (q *Queue) IsEmpty() bool {
	return q.count == 0
}

// Drain removes and returns all records in FIFO order.
func (q *Queue) Drain() [][]byte {
	records := make([][]byte, 0, q.count)
	for {
		record, ok := q.Pop()
		if !ok {
			return records
		}
		records = append(records, record)
	}
}

func (q *Queue) grow() {
	ring := make([][]byte, 2*len(q.ring))
	for i := 0; i < q.count; i++ {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
}
