package reblock

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/buffer"
	lberrors "github.com/jittakal/lbuffer/internal/errors"
)

func TestWatermarks_Validate(t *testing.T) {
	tests := []struct {
		name    string
		wm      Watermarks
		field   string
		wantErr bool
	}{
		{name: "defaults", wm: Watermarks{BufferLines: 1024, HighWM: 1, LowWM: 1023}},
		{name: "single line", wm: Watermarks{BufferLines: 1, HighWM: 0, LowWM: 0}},
		{name: "zero lines", wm: Watermarks{BufferLines: 0}, field: "buffer-lines", wantErr: true},
		{name: "high equals lines", wm: Watermarks{BufferLines: 10, HighWM: 10, LowWM: 2}, field: "high-wm", wantErr: true},
		{name: "low equals lines", wm: Watermarks{BufferLines: 10, HighWM: 2, LowWM: 10}, field: "low-wm", wantErr: true},
		{name: "negative high", wm: Watermarks{BufferLines: 10, HighWM: -1, LowWM: 2}, field: "high-wm", wantErr: true},
		{name: "low above high", wm: Watermarks{BufferLines: 10, HighWM: 2, LowWM: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wm.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var configErr *lberrors.ConfigError
			if !errors.As(err, &configErr) {
				t.Fatalf("error %v is not a ConfigError", err)
			}
			if configErr.Field != tt.field {
				t.Errorf("Field = %s, want %s", configErr.Field, tt.field)
			}
		})
	}
}

func TestGate_Hysteresis(t *testing.T) {
	wm := Watermarks{BufferLines: 10, HighWM: 2, LowWM: 8}
	steps := []struct {
		n       int
		reading bool
		writing bool
	}{
		{n: 1, reading: true, writing: false},
		{n: 2, reading: true, writing: true},
		{n: 9, reading: true, writing: true},
		{n: 10, reading: false, writing: true},
		{n: 9, reading: false, writing: true},
		{n: 8, reading: true, writing: true},
		{n: 1, reading: true, writing: true},
		{n: 0, reading: true, writing: false},
		{n: 1, reading: true, writing: false},
		{n: 2, reading: true, writing: true},
	}

	gate := NewGate()
	if !gate.Reading() || gate.Writing() {
		t.Fatalf("initial gate = reading %v writing %v, want reading only", gate.Reading(), gate.Writing())
	}

	for i, step := range steps {
		gate.Update(wm, step.n)
		if gate.Reading() != step.reading || gate.Writing() != step.writing {
			t.Errorf("step %d (n=%d): reading=%v writing=%v, want reading=%v writing=%v",
				i, step.n, gate.Reading(), gate.Writing(), step.reading, step.writing)
		}
	}
}

func TestGate_UpdateReportsChanges(t *testing.T) {
	wm := Watermarks{BufferLines: 4, HighWM: 1, LowWM: 2}
	gate := NewGate()

	r, w := gate.Update(wm, 1)
	if r || !w {
		t.Errorf("Update(1) changed = %v, %v; want false, true", r, w)
	}
	r, w = gate.Update(wm, 4)
	if !r || w {
		t.Errorf("Update(4) changed = %v, %v; want true, false", r, w)
	}
	r, w = gate.Update(wm, 3)
	if r || w {
		t.Errorf("Update(3) changed = %v, %v; want false, false", r, w)
	}
}

func TestGate_FinishInput(t *testing.T) {
	wm := Watermarks{BufferLines: 10, HighWM: 5, LowWM: 8}
	gate := NewGate()
	gate.Update(wm, 1)
	if gate.Writing() {
		t.Fatal("writing enabled below the high watermark")
	}

	gate.FinishInput()
	if gate.Reading() {
		t.Error("reading still enabled after input finished")
	}
	if !gate.Writing() {
		t.Error("writing not forced on after input finished")
	}
	if !gate.InputDone() {
		t.Error("InputDone() = false")
	}
}

func newTestCoordinator(wm Watermarks, capacity int) (*coordinator, chan Message, chan []byte, chan error) {
	fromReader := make(chan Message, capacity)
	toWriter := make(chan []byte, capacity)
	writerDone := make(chan error, 1)
	c := &coordinator{
		wm:          wm,
		gate:        NewGate(),
		queue:       buffer.NewQueue(wm.BufferLines),
		pool:        buffer.NewRecycler(buffer.RecyclerConfig{Size: 4}),
		fromReader:  fromReader,
		empties:     make(chan []byte),
		toWriter:    toWriter,
		writerDone:  writerDone,
		stop:        make(chan struct{}),
		stopTimeout: time.Second,
		logger:      zap.NewNop(),
	}
	return c, fromReader, toWriter, writerDone
}

func TestCoordinator_WriterExitsEarly(t *testing.T) {
	c, fromReader, _, writerDone := newTestCoordinator(Watermarks{BufferLines: 4, HighWM: 1, LowWM: 2}, 1)
	fromReader <- Message{Record: []byte("a\n")}
	writerDone <- nil

	err := c.run(context.Background())

	var coordErr *lberrors.CoordinationError
	if !errors.As(err, &coordErr) {
		t.Fatalf("run() error = %v, want CoordinationError", err)
	}
	if coordErr.Task != "writer" {
		t.Errorf("Task = %s, want writer", coordErr.Task)
	}
	select {
	case <-c.stop:
	default:
		t.Error("stop channel was not closed")
	}
	if c.queue.Len() != 0 {
		t.Errorf("queue still holds %d records", c.queue.Len())
	}
}

func TestCoordinator_WriteErrorWinsOverReadError(t *testing.T) {
	c, fromReader, toWriter, writerDone := newTestCoordinator(Watermarks{BufferLines: 4, HighWM: 1, LowWM: 2}, 1)
	readErr := &lberrors.ReadError{Source: "in", Err: errors.New("disk gone")}
	writeErr := &lberrors.WriteError{Sink: "out", Op: "flush", Err: errors.New("quota")}

	fromReader <- Message{End: true, Err: readErr}
	go func() {
		for range toWriter {
		}
		writerDone <- writeErr
	}()

	err := c.run(context.Background())
	if !errors.Is(err, writeErr) {
		t.Errorf("run() error = %v, want %v", err, writeErr)
	}
}

func TestCoordinator_ReadErrorAfterDrain(t *testing.T) {
	c, fromReader, toWriter, writerDone := newTestCoordinator(Watermarks{BufferLines: 4, HighWM: 3, LowWM: 2}, 2)
	readErr := &lberrors.ReadError{Source: "in", Err: errors.New("disk gone")}

	fromReader <- Message{Record: []byte("a\n")}
	fromReader <- Message{End: true, Err: readErr}

	var got []string
	go func() {
		for record := range toWriter {
			got = append(got, string(record))
		}
		writerDone <- nil
	}()

	err := c.run(context.Background())
	if !errors.Is(err, readErr) {
		t.Errorf("run() error = %v, want %v", err, readErr)
	}
	if len(got) != 1 || got[0] != "a\n" {
		t.Errorf("writer received %q, want [a\\n]", got)
	}
}

func TestCoordinator_FullQueueBlocksReader(t *testing.T) {
	// Unbuffered toWriter with no receiver: nothing leaves the queue.
	c, _, _, writerDone := newTestCoordinator(Watermarks{BufferLines: 2, HighWM: 1, LowWM: 1}, 0)
	metrics := newMockMetrics()
	c.metrics = metrics

	pending := make(chan Message, 3)
	for _, r := range []string{"a\n", "b\n", "c\n"} {
		pending <- Message{Record: []byte(r)}
	}
	c.fromReader = pending

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.run(ctx) }()
	go func() {
		<-c.stop
		writerDone <- lberrors.ErrStopped
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		metrics.mu.Lock()
		queued := metrics.maxQueue
		metrics.mu.Unlock()
		if queued == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never filled, max = %d", queued)
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if len(pending) != 1 {
		t.Errorf("pending messages = %d, want 1 left with the reader", len(pending))
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run() error = %v, want context.Canceled", err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.maxQueue > 2 {
		t.Errorf("queue reached %d records, buffer-lines is 2", metrics.maxQueue)
	}
}

func TestCoordinator_StopWriterTimesOut(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Watermarks{BufferLines: 2, HighWM: 1, LowWM: 1}, 1)
	c.stopTimeout = 10 * time.Millisecond

	err := c.stopWriter()
	if !errors.Is(err, lberrors.ErrWriterStuck) {
		t.Errorf("stopWriter() error = %v, want ErrWriterStuck", err)
	}
	select {
	case <-c.stop:
	default:
		t.Error("stop channel was not closed")
	}
}
