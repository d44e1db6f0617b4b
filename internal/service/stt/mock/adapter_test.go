package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
)

// recorder collects callback invocations under a mutex.
type recorder struct {
	mu       sync.Mutex
	sessions []string
	starts   int
	stops    int
	partials []string
	finals   []string
	confs    []float64
	errs     []error
}

func (r *recorder) callbacks() stt.Callbacks {
	return stt.Callbacks{
		OnSessionCreated: func(id string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.sessions = append(r.sessions, id)
		},
		OnSpeechStart: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.starts++
		},
		OnSpeechStop: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.stops++
		},
		OnPartial: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.partials = append(r.partials, text)
		},
		OnFinal: func(text string, conf float64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.finals = append(r.finals, text)
			r.confs = append(r.confs, conf)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func TestAdapter_Lifecycle(t *testing.T) {
	rec := &recorder{}
	a := New(Config{Script: []string{"he", "hello"}})

	if err := a.Connect(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(rec.sessions) != 1 {
		t.Fatalf("expected one session created event, got %d", len(rec.sessions))
	}

	chunk := make([]byte, 3200)
	for i := 0; i < 2; i++ {
		if err := a.SendAudioChunk(chunk); err != nil {
			t.Fatalf("send chunk %d: %v", i, err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if rec.starts != 1 {
		t.Errorf("expected one speech start, got %d", rec.starts)
	}
	if len(rec.partials) != 2 || rec.partials[0] != "he" || rec.partials[1] != "hello" {
		t.Errorf("unexpected partials %v", rec.partials)
	}
	if len(rec.finals) != 1 || rec.finals[0] != "hello" {
		t.Errorf("expected exactly one final 'hello', got %v", rec.finals)
	}
	if rec.stops != 1 {
		t.Errorf("expected one speech stop, got %d", rec.stops)
	}
	if rec.confs[0] != 0.95 {
		t.Errorf("expected default confidence 0.95, got %f", rec.confs[0])
	}
}

func TestAdapter_DoubleConnect(t *testing.T) {
	rec := &recorder{}
	a := New(Config{})

	if err := a.Connect(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := a.Connect(context.Background(), rec.callbacks()); err != stt.ErrAlreadyConnected {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestAdapter_SendBeforeConnect(t *testing.T) {
	a := New(Config{})
	if err := a.SendAudioChunk([]byte{0x01}); err != stt.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestAdapter_CloseIdempotent(t *testing.T) {
	rec := &recorder{}
	a := New(Config{})

	if err := a.Connect(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := a.SendAudioChunk(make([]byte, 320)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if len(rec.finals) != 1 {
		t.Errorf("expected final emitted exactly once, got %d", len(rec.finals))
	}
}

func TestAdapter_CloseWithoutAudio(t *testing.T) {
	rec := &recorder{}
	a := New(Config{})

	if err := a.Connect(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(rec.finals) != 0 {
		t.Errorf("expected no final without audio, got %v", rec.finals)
	}
	if rec.stops != 0 {
		t.Errorf("expected no speech stop without audio, got %d", rec.stops)
	}
}

func TestAdapter_ChunksPerPartial(t *testing.T) {
	rec := &recorder{}
	a := New(Config{Script: []string{"a", "ab"}, ChunksPerPartial: 3})

	if err := a.Connect(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := a.SendAudioChunk(make([]byte, 100)); err != nil {
			t.Fatalf("send chunk %d: %v", i, err)
		}
	}

	if len(rec.partials) != 1 || rec.partials[0] != "a" {
		t.Errorf("expected single partial after 4 chunks at stride 3, got %v", rec.partials)
	}
}
