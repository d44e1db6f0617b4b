package pipeline

import (
	"time"
)

// DequeueResult tells the consumer what a Dequeue call produced.
type DequeueResult int

const (
	// DequeueFrame - a frame was dequeued.
	DequeueFrame DequeueResult = iota
	// DequeueSentinel - the end-of-audio marker was dequeued.
	DequeueSentinel
	// DequeueTimeout - nothing arrived within the timeout.
	DequeueTimeout
)

type queueItem struct {
	frame    []byte
	sentinel bool
}

// Queue is the bounded FIFO of raw audio frames between the client-facing
// session loop (producer) and the transcription worker (consumer).
// The producer side never blocks: when the queue is full the frame is
// dropped and TryEnqueue returns false. Strict FIFO order is preserved,
// transcript ordering depends on it.
type Queue struct {
	items chan queueItem
}

// NewQueue creates a queue with the given fixed capacity (in frames).
// The capacity never grows.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{items: make(chan queueItem, capacity)}
}

// TryEnqueue appends a frame without blocking. Returns false if the queue is
// full; the frame is dropped and existing contents are untouched.
func (q *Queue) TryEnqueue(frame []byte) bool {
	select {
	case q.items <- queueItem{frame: frame}:
		return true
	default:
		return false
	}
}

// PushSentinel appends the end-of-audio marker without blocking. A full
// queue is tolerated: the worker's stop flag is the authoritative signal.
func (q *Queue) PushSentinel() bool {
	select {
	case q.items <- queueItem{sentinel: true}:
		return true
	default:
		return false
	}
}

// Dequeue removes the oldest item, waiting at most timeout. The frame is
// non-nil only when the result is DequeueFrame.
func (q *Queue) Dequeue(timeout time.Duration) ([]byte, DequeueResult) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-q.items:
		if item.sentinel {
			return nil, DequeueSentinel
		}
		return item.frame, DequeueFrame
	case <-timer.C:
		return nil, DequeueTimeout
	}
}

// Len returns the number of queued items (frames plus a possible sentinel).
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the fixed capacity the queue was built with.
func (q *Queue) Cap() int {
	return cap(q.items)
}
