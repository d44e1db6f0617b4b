package pipeline

import (
	"bytes"
	"testing"
	"time"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue(10)

	frames := [][]byte{{0x01}, {0x02}, {0x03}}
	for _, f := range frames {
		if !q.TryEnqueue(f) {
			t.Fatalf("enqueue of %v failed on non-full queue", f)
		}
	}

	for i, want := range frames {
		got, res := q.Dequeue(time.Second)
		if res != DequeueFrame {
			t.Fatalf("dequeue %d: expected frame, got %v", i, res)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("dequeue %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestQueue_FullDropsNewest(t *testing.T) {
	q := NewQueue(2)

	if !q.TryEnqueue([]byte{0x01}) || !q.TryEnqueue([]byte{0x02}) {
		t.Fatal("filling the queue failed")
	}
	if q.TryEnqueue([]byte{0x03}) {
		t.Error("expected enqueue on full queue to fail")
	}
	if q.Len() != 2 {
		t.Errorf("expected length 2 after rejected enqueue, got %d", q.Len())
	}

	// Existing contents are untouched by the drop.
	got, res := q.Dequeue(time.Second)
	if res != DequeueFrame || !bytes.Equal(got, []byte{0x01}) {
		t.Errorf("expected oldest frame 0x01, got %v (%v)", got, res)
	}
	got, res = q.Dequeue(time.Second)
	if res != DequeueFrame || !bytes.Equal(got, []byte{0x02}) {
		t.Errorf("expected frame 0x02, got %v (%v)", got, res)
	}
}

func TestQueue_Sentinel(t *testing.T) {
	q := NewQueue(4)

	q.TryEnqueue([]byte{0x01})
	if !q.PushSentinel() {
		t.Fatal("sentinel push failed on non-full queue")
	}

	if _, res := q.Dequeue(time.Second); res != DequeueFrame {
		t.Fatalf("expected frame before sentinel, got %v", res)
	}
	frame, res := q.Dequeue(time.Second)
	if res != DequeueSentinel {
		t.Fatalf("expected sentinel, got %v", res)
	}
	if frame != nil {
		t.Errorf("expected nil frame with sentinel, got %v", frame)
	}
}

func TestQueue_SentinelOnFullQueue(t *testing.T) {
	q := NewQueue(1)
	q.TryEnqueue([]byte{0x01})

	if q.PushSentinel() {
		t.Error("expected sentinel push to fail on full queue")
	}
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q := NewQueue(4)

	start := time.Now()
	frame, res := q.Dequeue(20 * time.Millisecond)
	if res != DequeueTimeout {
		t.Fatalf("expected timeout, got %v", res)
	}
	if frame != nil {
		t.Errorf("expected nil frame on timeout, got %v", frame)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("dequeue returned before the timeout elapsed: %v", elapsed)
	}
}

func TestQueue_CapacityFloor(t *testing.T) {
	q := NewQueue(0)
	if q.Cap() != 1 {
		t.Errorf("expected capacity floor of 1, got %d", q.Cap())
	}
}
