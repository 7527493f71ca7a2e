package buffer

import (
	"sync"
	"testing"
)

func TestNewRecycler(t *testing.T) {
	r := NewRecycler(RecyclerConfig{Size: 4, PageSize: 128})

	if r == nil {
		t.Fatal("expected non-nil recycler")
	}
	if cap(r.free) != 4 {
		t.Errorf("pool size = %d, want 4", cap(r.free))
	}
	if r.pageSize != 128 {
		t.Errorf("pageSize = %d, want 128", r.pageSize)
	}
}

func TestNewRecycler_Defaults(t *testing.T) {
	r := NewRecycler(RecyclerConfig{Size: -1})

	if cap(r.free) != 0 {
		t.Errorf("pool size = %d, want 0", cap(r.free))
	}
	if r.pageSize != DefaultPageSize {
		t.Errorf("pageSize = %d, want %d", r.pageSize, DefaultPageSize)
	}
}

func TestRecycler_AcquireAllocates(t *testing.T) {
	r := NewRecycler(RecyclerConfig{Size: 2, PageSize: 64})

	buf := r.Acquire()
	if len(buf) != 0 {
		t.Errorf("len(buf) = %d, want 0", len(buf))
	}
	if cap(buf) != 64 {
		t.Errorf("cap(buf) = %d, want 64", cap(buf))
	}

	stats := r.Stats()
	if stats.Allocated != 1 || stats.Reused != 0 {
		t.Errorf("stats = %+v, want 1 allocated, 0 reused", stats)
	}
}

func TestRecycler_ReleaseClearsLength(t *testing.T) {
	r := NewRecycler(RecyclerConfig{Size: 2, PageSize: 64})

	buf := r.Acquire()
	buf = append(buf, "some record\n"...)
	r.Release(buf)

	got := r.Acquire()
	if len(got) != 0 {
		t.Fatalf("recycled buffer has len %d, want 0", len(got))
	}
	if cap(got) < len("some record\n") {
		t.Errorf("recycled buffer lost its capacity: %d", cap(got))
	}

	stats := r.Stats()
	if stats.Reused != 1 {
		t.Errorf("Reused = %d, want 1", stats.Reused)
	}
}

func TestRecycler_DropsWhenFull(t *testing.T) {
	r := NewRecycler(RecyclerConfig{Size: 1, PageSize: 16})

	r.Release(make([]byte, 3, 16))
	r.Release(make([]byte, 5, 16))

	stats := r.Stats()
	if stats.Idle != 1 {
		t.Errorf("Idle = %d, want 1", stats.Idle)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
}

func TestRecycler_DropsOversized(t *testing.T) {
	r := NewRecycler(RecyclerConfig{Size: 4, PageSize: 16, MaxRetain: 32})

	r.Release(make([]byte, 0, 64))
	r.Release(nil)

	stats := r.Stats()
	if stats.Idle != 0 {
		t.Errorf("Idle = %d, want 0", stats.Idle)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
}

func TestRecycler_ConcurrentUse(t *testing.T) {
	r := NewRecycler(RecyclerConfig{Size: 8, PageSize: 32})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				buf := r.Acquire()
				if len(buf) != 0 {
					t.Errorf("acquired non-empty buffer of len %d", len(buf))
					return
				}
				buf = append(buf, byte(i))
				r.Release(buf)
			}
		}()
	}
	wg.Wait()

	stats := r.Stats()
	if stats.Allocated+stats.Reused != 8000 {
		t.Errorf("Allocated+Reused = %d, want 8000", stats.Allocated+stats.Reused)
	}
}
