package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
)

// fakeAdapter records forwarded chunks and can be programmed to fail.
type fakeAdapter struct {
	mu         sync.Mutex
	chunks     [][]byte
	connectErr error
	sendErr    error
	failAfter  int // send failures start after this many successful sends
	connected  bool
	closes     int
	cb         stt.Callbacks
}

func (f *fakeAdapter) Connect(_ context.Context, cb stt.Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.cb = cb
	f.connected = true
	return nil
}

func (f *fakeAdapter) SendAudioChunk(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil && len(f.chunks) >= f.failAfter {
		return f.sendErr
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	f.chunks = append(f.chunks, c)
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeAdapter) sentChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.chunks))
	copy(out, f.chunks)
	return out
}

func collectEvents(b *Bridge) (func() []Event, func()) {
	var mu sync.Mutex
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-b.Events():
				mu.Lock()
				events = append(events, ev)
				mu.Unlock()
			case <-b.Done():
				return
			}
		}
	}()
	get := func() []Event {
		// Wait for the collector goroutine to catch up with events already
		// dispatched into the bridge buffer before snapshotting.
		for deadline := time.Now().Add(time.Second); len(b.Events()) > 0 && time.Now().Before(deadline); {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}
	stop := func() {
		b.Close()
		<-done
	}
	return get, stop
}

func patternFrame(size int, seed byte) []byte {
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = seed + byte(i%31)
	}
	return frame
}

func TestWorker_CoalescesFramesIntoChunks(t *testing.T) {
	adapter := &fakeAdapter{}
	queue := NewQueue(16)
	bridge := NewBridge("sess-1", 32, time.Second)
	getEvents, stopBridge := collectEvents(bridge)
	defer stopBridge()

	w := NewWorker("sess-1", adapter, queue, bridge, WorkerConfig{
		ChunkThreshold: 3200,
		PollTimeout:    10 * time.Millisecond,
	})
	w.Start(context.Background())

	if !w.WaitReady(time.Second) {
		t.Fatal("worker never reached streaming")
	}

	// Three 2000-byte frames against a 3200-byte threshold: one full chunk
	// while streaming, the 2800-byte remainder flushed at drain.
	var all bytes.Buffer
	for i := 0; i < 3; i++ {
		frame := patternFrame(2000, byte(i))
		all.Write(frame)
		if !queue.TryEnqueue(frame) {
			t.Fatalf("enqueue frame %d failed", i)
		}
	}
	queue.PushSentinel()

	if !w.WaitStopped(2 * time.Second) {
		t.Fatal("worker never stopped after sentinel")
	}

	chunks := adapter.sentChunks()
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 3200 {
		t.Errorf("expected first chunk of 3200 bytes, got %d", len(chunks[0]))
	}
	if len(chunks[1]) != 2800 {
		t.Errorf("expected drain flush of 2800 bytes, got %d", len(chunks[1]))
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, all.Bytes()) {
		t.Error("coalesced chunks do not reproduce the original audio byte-for-byte")
	}
	if w.State() != WorkerStopped {
		t.Errorf("expected STOPPED, got %s", w.State())
	}

	events := getEvents()
	if len(events) == 0 || events[0].Kind != EventConnected {
		t.Errorf("expected a connected event first, got %v", events)
	}
}

func TestWorker_SubThresholdAudioFlushedAtDrain(t *testing.T) {
	adapter := &fakeAdapter{}
	queue := NewQueue(16)
	bridge := NewBridge("sess-1", 32, time.Second)
	_, stopBridge := collectEvents(bridge)
	defer stopBridge()

	w := NewWorker("sess-1", adapter, queue, bridge, WorkerConfig{
		ChunkThreshold: 3200,
		PollTimeout:    10 * time.Millisecond,
	})
	w.Start(context.Background())
	if !w.WaitReady(time.Second) {
		t.Fatal("worker never reached streaming")
	}

	queue.TryEnqueue(patternFrame(100, 1))
	queue.PushSentinel()

	if !w.WaitStopped(2 * time.Second) {
		t.Fatal("worker never stopped")
	}

	chunks := adapter.sentChunks()
	if len(chunks) != 1 || len(chunks[0]) != 100 {
		t.Fatalf("expected single 100-byte drain flush, got %v chunks", len(chunks))
	}
}

func TestWorker_ConnectFailure(t *testing.T) {
	adapter := &fakeAdapter{connectErr: errors.New("upstream unavailable")}
	queue := NewQueue(4)
	bridge := NewBridge("sess-1", 32, time.Second)
	getEvents, stopBridge := collectEvents(bridge)
	defer stopBridge()

	w := NewWorker("sess-1", adapter, queue, bridge, WorkerConfig{})
	w.Start(context.Background())

	if !w.WaitStopped(2 * time.Second) {
		t.Fatal("worker never stopped after connect failure")
	}
	if w.State() != WorkerStopped {
		t.Errorf("expected STOPPED, got %s", w.State())
	}
	if w.WaitReady(50 * time.Millisecond) {
		t.Error("worker must not report ready after connect failure")
	}

	var sawError bool
	for _, ev := range getEvents() {
		if ev.Kind == EventError {
			sawError = true
		}
		if ev.Kind == EventConnected {
			t.Error("unexpected connected event after connect failure")
		}
	}
	if !sawError {
		t.Error("expected an error event after connect failure")
	}
}

func TestWorker_SendFailureStopsWorker(t *testing.T) {
	adapter := &fakeAdapter{sendErr: errors.New("stream reset"), failAfter: 1}
	queue := NewQueue(16)
	bridge := NewBridge("sess-1", 32, time.Second)
	getEvents, stopBridge := collectEvents(bridge)
	defer stopBridge()

	w := NewWorker("sess-1", adapter, queue, bridge, WorkerConfig{
		ChunkThreshold: 100,
		PollTimeout:    10 * time.Millisecond,
	})
	w.Start(context.Background())
	if !w.WaitReady(time.Second) {
		t.Fatal("worker never reached streaming")
	}

	queue.TryEnqueue(patternFrame(100, 1)) // succeeds
	queue.TryEnqueue(patternFrame(100, 2)) // fails

	if !w.WaitStopped(2 * time.Second) {
		t.Fatal("worker never stopped after send failure")
	}

	var sawError bool
	for _, ev := range getEvents() {
		if ev.Kind == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error event after send failure")
	}
	if got := len(adapter.sentChunks()); got != 1 {
		t.Errorf("expected exactly one forwarded chunk before the failure, got %d", got)
	}
}

func TestWorker_StopFlagWithoutSentinel(t *testing.T) {
	adapter := &fakeAdapter{}
	queue := NewQueue(16)
	bridge := NewBridge("sess-1", 32, time.Second)
	_, stopBridge := collectEvents(bridge)
	defer stopBridge()

	w := NewWorker("sess-1", adapter, queue, bridge, WorkerConfig{
		ChunkThreshold: 3200,
		PollTimeout:    10 * time.Millisecond,
	})
	w.Start(context.Background())
	if !w.WaitReady(time.Second) {
		t.Fatal("worker never reached streaming")
	}

	queue.TryEnqueue(patternFrame(500, 1))
	time.Sleep(50 * time.Millisecond) // let the frame be buffered
	w.SignalStop()

	// A sentinel never arrives; the stop flag alone must end the loop within
	// roughly one poll interval, and the remainder is still flushed.
	if !w.WaitStopped(time.Second) {
		t.Fatal("worker ignored the stop flag")
	}
	chunks := adapter.sentChunks()
	if len(chunks) != 1 || len(chunks[0]) != 500 {
		t.Errorf("expected buffered 500 bytes flushed on stop, got %d chunks", len(chunks))
	}
}

func TestWorker_StopFlagDrainsQueuedAudio(t *testing.T) {
	adapter := &fakeAdapter{}
	queue := NewQueue(16)
	bridge := NewBridge("sess-1", 32, time.Second)
	_, stopBridge := collectEvents(bridge)
	defer stopBridge()

	// Frames are queued before the worker gets to run, then the stop flag
	// and the sentinel arrive in shutdown order. Everything accepted into
	// the queue must still reach the adapter.
	var all bytes.Buffer
	for i := 0; i < 3; i++ {
		frame := patternFrame(2000, byte(i))
		all.Write(frame)
		if !queue.TryEnqueue(frame) {
			t.Fatalf("enqueue frame %d failed", i)
		}
	}

	w := NewWorker("sess-1", adapter, queue, bridge, WorkerConfig{
		ChunkThreshold: 3200,
		PollTimeout:    10 * time.Millisecond,
	})
	w.SignalStop()
	queue.PushSentinel()
	w.Start(context.Background())

	if !w.WaitStopped(2 * time.Second) {
		t.Fatal("worker never stopped")
	}

	chunks := adapter.sentChunks()
	if len(chunks) != 2 || len(chunks[0]) != 3200 || len(chunks[1]) != 2800 {
		sizes := make([]int, len(chunks))
		for i, c := range chunks {
			sizes[i] = len(c)
		}
		t.Fatalf("expected chunks [3200 2800], got %v", sizes)
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, all.Bytes()) {
		t.Error("forwarded audio does not reproduce the queued frames byte-for-byte")
	}
}

func TestWorker_StopWithoutSentinelDrainsQueuedAudio(t *testing.T) {
	adapter := &fakeAdapter{}
	queue := NewQueue(16)
	bridge := NewBridge("sess-1", 32, time.Second)
	_, stopBridge := collectEvents(bridge)
	defer stopBridge()

	// Same race, but the sentinel was lost to a full queue: the stop flag
	// alone must not abandon the queued frames.
	var all bytes.Buffer
	for i := 0; i < 3; i++ {
		frame := patternFrame(2000, byte(i))
		all.Write(frame)
		queue.TryEnqueue(frame)
	}

	w := NewWorker("sess-1", adapter, queue, bridge, WorkerConfig{
		ChunkThreshold: 3200,
		PollTimeout:    10 * time.Millisecond,
	})
	w.SignalStop()
	w.Start(context.Background())

	if !w.WaitStopped(2 * time.Second) {
		t.Fatal("worker never stopped")
	}

	chunks := adapter.sentChunks()
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, all.Bytes()) {
		t.Errorf("expected all %d queued bytes forwarded, got %d", all.Len(), len(bytes.Join(chunks, nil)))
	}
}

func TestWorker_NeverClosesAdapter(t *testing.T) {
	adapter := &fakeAdapter{}
	queue := NewQueue(4)
	bridge := NewBridge("sess-1", 32, time.Second)
	_, stopBridge := collectEvents(bridge)
	defer stopBridge()

	w := NewWorker("sess-1", adapter, queue, bridge, WorkerConfig{PollTimeout: 10 * time.Millisecond})
	w.Start(context.Background())
	if !w.WaitReady(time.Second) {
		t.Fatal("worker never reached streaming")
	}
	queue.PushSentinel()
	if !w.WaitStopped(time.Second) {
		t.Fatal("worker never stopped")
	}

	// Closing the adapter belongs to the session shutdown coordinator.
	adapter.mu.Lock()
	closes := adapter.closes
	adapter.mu.Unlock()
	if closes != 0 {
		t.Errorf("worker must not close the adapter, saw %d closes", closes)
	}
}
