package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/observability/metrics"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
)

// WorkerState is the lifecycle state of a transcription worker.
type WorkerState int32

const (
	// WorkerIdle - created, not started.
	WorkerIdle WorkerState = iota
	// WorkerConnecting - adapter connect in progress.
	WorkerConnecting
	// WorkerStreaming - draining the queue and forwarding chunks.
	WorkerStreaming
	// WorkerDraining - flushing buffered audio after the sentinel.
	WorkerDraining
	// WorkerStopped - terminal, no further sends accepted.
	WorkerStopped
)

// String returns a log-friendly name for the state.
func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "IDLE"
	case WorkerConnecting:
		return "CONNECTING"
	case WorkerStreaming:
		return "STREAMING"
	case WorkerDraining:
		return "DRAINING"
	case WorkerStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// WorkerConfig holds the tunables of one transcription worker.
type WorkerConfig struct {
	ChunkThreshold int           // bytes buffered before a chunk is forwarded
	PollTimeout    time.Duration // dequeue wait, bounds stop-flag latency
}

// Worker is the single dedicated goroutine that owns one STT adapter for a
// session. It drains the ingress queue, coalesces frames into fixed-size
// chunks and forwards them; adapter callbacks are relayed to the session
// loop through the bridge. Exactly one Worker exists per session.
type Worker struct {
	sessionID string
	adapter   stt.Adapter
	queue     *Queue
	bridge    *Bridge
	cfg       WorkerConfig

	state   atomic.Int32
	stop    atomic.Bool
	ready   chan struct{} // closed on entering STREAMING
	stopped chan struct{} // closed on entering STOPPED

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewWorker creates a worker for the given session. Start must be called to
// begin streaming.
func NewWorker(sessionID string, adapter stt.Adapter, queue *Queue, bridge *Bridge, cfg WorkerConfig) *Worker {
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = 3200
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	w := &Worker{
		sessionID: sessionID,
		adapter:   adapter,
		queue:     queue,
		bridge:    bridge,
		cfg:       cfg,
		ready:     make(chan struct{}),
		stopped:   make(chan struct{}),
		log:       logging.WithSession(sessionID).With().Str("component", "worker").Logger(),
		metrics:   metrics.DefaultMetrics,
	}
	w.state.Store(int32(WorkerIdle))
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Start launches the worker goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// SignalStop requests the worker to finish. Frames already accepted into
// the queue are still dequeued and forwarded; the loop exits at the
// sentinel, or at the first empty poll after the flag is raised. The worker
// is never force-killed.
func (w *Worker) SignalStop() {
	w.stop.Store(true)
}

// WaitReady blocks until the worker reports STREAMING, bounded by timeout.
func (w *Worker) WaitReady(timeout time.Duration) bool {
	select {
	case <-w.ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WaitStopped blocks until the worker reaches STOPPED, bounded by timeout.
func (w *Worker) WaitStopped(timeout time.Duration) bool {
	select {
	case <-w.stopped:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)

	w.setState(WorkerConnecting)
	if err := w.adapter.Connect(ctx, w.callbacks()); err != nil {
		w.log.Error().Err(err).Msg("Adapter connect failed")
		w.metrics.RecordSTTError("connect")
		w.bridge.Dispatch(Event{Kind: EventError, SessionID: w.sessionID, Message: err.Error()})
		w.setState(WorkerStopped)
		return
	}

	w.setState(WorkerStreaming)
	close(w.ready)
	w.bridge.Dispatch(Event{Kind: EventConnected, SessionID: w.sessionID})

	// The sentinel ends the stream. The stop flag is the backstop for a
	// lost sentinel: it ends the stream only once the queue runs dry, so
	// frames accepted before the stop are still forwarded.
	var buf bytes.Buffer
	for {
		frame, res := w.queue.Dequeue(w.cfg.PollTimeout)
		if res == DequeueSentinel {
			break
		}
		if res == DequeueTimeout {
			if w.stop.Load() {
				break
			}
			continue
		}
		buf.Write(frame)
		if err := w.forwardFull(&buf); err != nil {
			w.failSend(err)
			return
		}
	}

	w.setState(WorkerDraining)
	if buf.Len() > 0 {
		if err := w.sendChunk(buf.Bytes()); err != nil {
			w.failSend(err)
			return
		}
		buf.Reset()
	}
	w.setState(WorkerStopped)
	w.log.Debug().Msg("Worker stopped")
}

// forwardFull sends as many full threshold-sized chunks as the buffer holds,
// leaving the remainder buffered.
func (w *Worker) forwardFull(buf *bytes.Buffer) error {
	for buf.Len() >= w.cfg.ChunkThreshold {
		chunk := make([]byte, w.cfg.ChunkThreshold)
		if _, err := buf.Read(chunk); err != nil {
			return err
		}
		if err := w.sendChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) sendChunk(chunk []byte) error {
	if err := w.adapter.SendAudioChunk(chunk); err != nil {
		return err
	}
	w.metrics.RecordChunkForwarded(len(chunk))
	return nil
}

// failSend terminates the worker after a send failure. Only this session's
// worker dies; the host process is unaffected.
func (w *Worker) failSend(err error) {
	w.log.Error().Err(err).Msg("Sending audio chunk failed, stopping worker")
	w.metrics.RecordSTTError("send")
	w.bridge.Dispatch(Event{Kind: EventError, SessionID: w.sessionID, Message: err.Error()})
	w.setState(WorkerStopped)
}

func (w *Worker) callbacks() stt.Callbacks {
	return stt.Callbacks{
		OnSessionCreated: func(remoteID string) {
			w.log.Debug().Str("remoteSessionId", remoteID).Msg("Remote session created")
		},
		OnSpeechStart: func() {
			w.bridge.Dispatch(Event{Kind: EventSpeechStart, SessionID: w.sessionID})
		},
		OnSpeechStop: func() {
			w.bridge.Dispatch(Event{Kind: EventSpeechStop, SessionID: w.sessionID})
		},
		OnPartial: func(text string) {
			w.metrics.RecordPartialTranscript()
			w.bridge.Dispatch(Event{Kind: EventPartial, SessionID: w.sessionID, Text: text})
		},
		OnFinal: func(text string, confidence float64) {
			w.metrics.RecordFinalTranscript()
			w.bridge.Dispatch(Event{Kind: EventFinal, SessionID: w.sessionID, Text: text, Confidence: confidence})
		},
		OnError: func(err error) {
			w.metrics.RecordSTTError("callback")
			w.bridge.Dispatch(Event{Kind: EventError, SessionID: w.sessionID, Message: err.Error()})
		},
	}
}

func (w *Worker) setState(s WorkerState) {
	old := WorkerState(w.state.Swap(int32(s)))
	if old != s {
		w.log.Debug().Str("from", old.String()).Str("to", s.String()).Msg("Worker state change")
	}
}
