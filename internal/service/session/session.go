package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/observability/metrics"
	"github.com/qgao233/virtual-avatar-agent/internal/service/pipeline"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
)

// Config holds the per-session pipeline tunables.
type Config struct {
	QueueCapacity   int
	ChunkThreshold  int
	PollTimeout     time.Duration
	DispatchTimeout time.Duration
	BridgeBuffer    int
	ConnectGrace    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   100,
		ChunkThreshold:  3200,
		PollTimeout:     100 * time.Millisecond,
		DispatchTimeout: time.Second,
		BridgeBuffer:    32,
		ConnectGrace:    time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// ErrConnectFailed is returned by Start when the transcription worker could
// not reach its provider.
var ErrConnectFailed = errors.New("session: transcription connect failed")

// dropWarnSampleN bounds queue-full warnings to one in N dropped frames.
const dropWarnSampleN = 50

// Session wires one client connection to one transcription worker through
// the bounded queue and the event bridge. Sessions are passed by reference
// and never copied; the registry and the handler share the same instance.
type Session struct {
	id        string
	adapter   stt.Adapter
	queue     *pipeline.Queue
	bridge    *pipeline.Bridge
	worker    *pipeline.Worker
	lifecycle *Lifecycle
	cfg       Config

	// The shutdown coordinator is the only caller of adapter.Close; the
	// Once guards against concurrent shutdown paths (client stop racing a
	// server drain).
	closeAdapter sync.Once
	shutdownOnce sync.Once

	startedAt time.Time
	log       zerolog.Logger
	dropLog   zerolog.Logger // sampled, queue-full warnings only
	metrics   *metrics.Metrics
}

// New creates a session around the given adapter. Start must be called
// before audio is accepted.
func New(adapter stt.Adapter, cfg Config) *Session {
	id := uuid.NewString()
	queue := pipeline.NewQueue(cfg.QueueCapacity)
	bridge := pipeline.NewBridge(id, cfg.BridgeBuffer, cfg.DispatchTimeout)
	worker := pipeline.NewWorker(id, adapter, queue, bridge, pipeline.WorkerConfig{
		ChunkThreshold: cfg.ChunkThreshold,
		PollTimeout:    cfg.PollTimeout,
	})
	log := logging.WithSession(id)
	return &Session{
		id:        id,
		adapter:   adapter,
		queue:     queue,
		bridge:    bridge,
		worker:    worker,
		lifecycle: NewLifecycle(),
		cfg:       cfg,
		log:       log,
		dropLog:   log.Sample(&zerolog.BasicSampler{N: dropWarnSampleN}),
		metrics:   metrics.DefaultMetrics,
	}
}

// ID returns the unique session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// Events returns the channel of transcription events for this session.
func (s *Session) Events() <-chan pipeline.Event {
	return s.bridge.Events()
}

// EventsDone is closed once the session stops delivering events.
func (s *Session) EventsDone() <-chan struct{} {
	return s.bridge.Done()
}

// Start launches the transcription worker and waits up to ConnectGrace for
// it to reach streaming. A worker that already died means the provider
// connect failed and the session is unusable.
func (s *Session) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.metrics.RecordSessionStart()
	s.worker.Start(ctx)

	if !s.worker.WaitReady(s.cfg.ConnectGrace) {
		if s.worker.State() == pipeline.WorkerStopped {
			return ErrConnectFailed
		}
		// Slow connect: frames queue up behind the worker, streaming
		// starts as soon as the provider answers.
		s.log.Warn().Dur("grace", s.cfg.ConnectGrace).Msg("Provider connect still pending")
	}
	if err := s.lifecycle.Activate(); err != nil {
		return err
	}
	s.log.Info().Msg("Session active")
	return nil
}

// HandleFrame queues one raw audio frame. The call never blocks: a full
// queue drops the frame with a sampled warning and the stream continues.
// Frames outside the ACTIVE state are discarded silently.
func (s *Session) HandleFrame(frame []byte) bool {
	if !s.lifecycle.AcceptingAudio() {
		return false
	}
	if !s.queue.TryEnqueue(frame) {
		s.metrics.RecordFrameDropped()
		s.dropLog.Warn().
			Int("frameBytes", len(frame)).
			Int("queueDepth", s.queue.Len()).
			Msg("Audio frame dropped, queue full")
		return false
	}
	s.metrics.RecordAudioReceived(len(frame))
	return true
}

// Shutdown drains and releases the session within a bounded time:
// raise the worker stop flag and push the end-of-audio sentinel, wait up to
// ShutdownTimeout for the worker to forward the remaining queued frames and
// flush buffered audio, then close the adapter exactly once and stop event
// delivery. Safe to call multiple times and from concurrent paths.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Session) shutdown() {
	if !s.lifecycle.BeginDrain() {
		return
	}
	s.log.Info().Msg("Session draining")

	s.worker.SignalStop()
	s.queue.PushSentinel()

	if !s.worker.WaitStopped(s.cfg.ShutdownTimeout) {
		s.metrics.RecordShutdownTimeout()
		s.log.Warn().
			Dur("timeout", s.cfg.ShutdownTimeout).
			Str("workerState", s.worker.State().String()).
			Msg("Worker did not stop in time, abandoning")
	}

	s.closeAdapter.Do(func() {
		if err := s.adapter.Close(); err != nil {
			s.log.Error().Err(err).Msg("Adapter close failed")
		}
	})

	s.bridge.Close()
	s.lifecycle.Close()
	s.metrics.RecordSessionEnd(time.Since(s.startedAt).Seconds())
	s.log.Info().Dur("duration", time.Since(s.startedAt)).Msg("Session closed")
}
