// Package buffer implements buffer recycling and the record queue.
package buffer

import (
	"sync/atomic"

	"github.com/jittakal/lbuffer/pkg/buffer"
)

// Ensure implementation satisfies interface at compile time.
var _ buffer.Pool = (*Recycler)(nil)

// DefaultPageSize is the read increment and initial buffer capacity.
const DefaultPageSize = 4096

// RecyclerConfig configures a Recycler.
type RecyclerConfig struct {
	// Size is the number of idle buffers kept for reuse.
	Size int
	// PageSize is the capacity of freshly allocated buffers.
	PageSize int
	// MaxRetain drops released buffers whose capacity exceeds it. Zero keeps all.
	MaxRetain int
}

// RecyclerStats is a snapshot of recycler activity.
type RecyclerStats struct {
	Allocated int64
	Reused    int64
	Dropped   int64
	Idle      int
}

// Recycler is a bounded pool of reusable byte buffers.
// The free list is a buffered channel, which makes it safe for concurrent use.
type Recycler struct {
	free      chan []byte
	pageSize  int
	maxRetain int

	allocated atomic.Int64
	reused    atomic.Int64
	dropped   atomic.Int64
}

// NewRecycler creates a new recycler.
func NewRecycler(cfg RecyclerConfig) *Recycler {
	if cfg.Size < 0 {
		cfg.Size = 0
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Recycler{
		free:      make(chan []byte, cfg.Size),
		pageSize:  cfg.PageSize,
		maxRetain: cfg.MaxRetain,
	}
}

// Acquire returns an idle buffer, or allocates one if none is available.
func (r *Recycler) Acquire() []byte {
	select {
	case buf := <-r.free:
		r.reused.Add(1)
		return buf[:0]
	default:
		r.allocated.Add(1)
		return make([]byte, 0, r.pageSize)
	}
}

// Release truncates buf and returns it to the pool.
// The buffer is dropped if the pool is full or buf grew past MaxRetain.
func (r *Recycler) Release(buf []byte) {
	if buf == nil {
		return
	}
	if r.maxRetain > 0 && cap(buf) > r.maxRetain {
		r.dropped.Add(1)
		return
	}
	select {
	case r.free <- buf[:0]:
	default:
		r.dropped.Add(1)
	}
}

// Stats returns current recycler statistics.
func (r *Recycler) Stats() RecyclerStats {
	return RecyclerStats{
		Allocated: r.allocated.Load(),
		Reused:    r.reused.Load(),
		Dropped:   r.dropped.Load(),
		Idle:      len(r.free),
	}
}
