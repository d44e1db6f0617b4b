// Package mock provides a deterministic STT adapter for local development
// and tests. It fabricates progressive transcripts from the amount of audio
// received, without any network dependency.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
)

// Default script played back as audio arrives.
var defaultScript = []string{"你", "你好", "你好，世", "你好，世界"}

// Config tunes the fabricated transcription.
type Config struct {
	// Script holds the progressive partials; the last entry doubles as the
	// final transcript. Empty means the default script.
	Script []string
	// ChunksPerPartial is how many audio chunks advance the script by one
	// partial. Defaults to 1.
	ChunksPerPartial int
	// Confidence reported on the final transcript.
	Confidence float64
}

// Adapter implements stt.Adapter with scripted results.
type Adapter struct {
	cfg Config

	mu        sync.Mutex
	cb        stt.Callbacks
	connected bool
	closed    bool
	chunks    int
	cursor    int
	started   bool
	finalSent bool

	log zerolog.Logger
}

// New creates a mock adapter.
func New(cfg Config) *Adapter {
	if len(cfg.Script) == 0 {
		cfg.Script = defaultScript
	}
	if cfg.ChunksPerPartial <= 0 {
		cfg.ChunksPerPartial = 1
	}
	if cfg.Confidence == 0 {
		cfg.Confidence = 0.95
	}
	return &Adapter{
		cfg: cfg,
		log: logging.WithComponent("stt-mock"),
	}
}

// Connect reports a fabricated remote session immediately.
func (a *Adapter) Connect(_ context.Context, cb stt.Callbacks) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrNotConnected
	}
	if a.connected {
		return stt.ErrAlreadyConnected
	}
	a.cb = cb
	a.connected = true

	if cb.OnSessionCreated != nil {
		cb.OnSessionCreated(fmt.Sprintf("mock-%p", a))
	}
	a.log.Debug().Msg("Mock session connected")
	return nil
}

// SendAudioChunk advances the scripted transcript. The first chunk raises a
// speech start, and each ChunksPerPartial chunks emit the next partial.
func (a *Adapter) SendAudioChunk(chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected || a.closed {
		return stt.ErrNotConnected
	}
	if len(chunk) == 0 {
		return nil
	}

	if !a.started {
		a.started = true
		if a.cb.OnSpeechStart != nil {
			a.cb.OnSpeechStart()
		}
	}

	a.chunks++
	if a.chunks%a.cfg.ChunksPerPartial == 0 && a.cursor < len(a.cfg.Script) {
		if a.cb.OnPartial != nil {
			a.cb.OnPartial(a.cfg.Script[a.cursor])
		}
		a.cursor++
	}
	return nil
}

// Close flushes the final transcript if speech was in flight. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false

	if a.started && !a.finalSent {
		a.finalSent = true
		final := a.cfg.Script[len(a.cfg.Script)-1]
		if a.cb.OnFinal != nil {
			a.cb.OnFinal(final, a.cfg.Confidence)
		}
		if a.cb.OnSpeechStop != nil {
			a.cb.OnSpeechStop()
		}
	}
	a.log.Debug().Msg("Mock session closed")
	return nil
}
