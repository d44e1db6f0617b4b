// Package recognize implements one-shot file recognition: an uploaded audio
// file is persisted, streamed through a fresh STT adapter in fixed-size
// chunks and the confirmed transcripts are collected into a single result.
package recognize

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
)

// AdapterFactory builds a fresh single-use STT adapter per request.
type AdapterFactory func() stt.Adapter

// Config holds the recognition service tunables.
type Config struct {
	UploadDir      string
	ChunkThreshold int           // bytes per forwarded chunk
	ResultTimeout  time.Duration // bounded wait for transcripts after the audio ends
}

// Result is the outcome of one file recognition.
type Result struct {
	RequestID  string   `json:"request_id"`
	Text       string   `json:"text"`
	Segments   []string `json:"segments,omitempty"`
	AudioBytes int64    `json:"audio_bytes"`
}

// Service runs file recognitions.
type Service struct {
	factory AdapterFactory
	cfg     Config
	log     zerolog.Logger
}

// New creates a recognition service.
func New(factory AdapterFactory, cfg Config) *Service {
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = 3200
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = 10 * time.Second
	}
	return &Service{
		factory: factory,
		cfg:     cfg,
		log:     logging.WithComponent("recognize"),
	}
}

// collector gathers transcript callbacks from the adapter.
type collector struct {
	mu       sync.Mutex
	segments []string
	err      error
	done     chan struct{} // closed on adapter error
	doneOnce sync.Once
}

func (c *collector) callbacks() stt.Callbacks {
	return stt.Callbacks{
		OnFinal: func(text string, _ float64) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.segments = append(c.segments, text)
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.doneOnce.Do(func() { close(c.done) })
		},
	}
}

func (c *collector) result() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.segments...), c.err
}

// Recognize persists the uploaded audio and transcribes it. The audio is
// expected to be raw PCM matching the provider configuration.
func (s *Service) Recognize(ctx context.Context, audio io.Reader, filename string) (Result, error) {
	requestID := uuid.NewString()

	path, size, err := s.saveUpload(audio, requestID, filename)
	if err != nil {
		return Result{}, fmt.Errorf("save upload: %w", err)
	}
	s.log.Info().
		Str("requestId", requestID).
		Str("path", path).
		Int64("bytes", size).
		Msg("Upload saved")

	segments, err := s.transcribeFile(ctx, path)
	if err != nil {
		return Result{}, err
	}

	return Result{
		RequestID:  requestID,
		Text:       strings.Join(segments, ""),
		Segments:   segments,
		AudioBytes: size,
	}, nil
}

func (s *Service) saveUpload(audio io.Reader, requestID, filename string) (string, int64, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", 0, err
	}
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".pcm"
	}
	path := filepath.Join(s.cfg.UploadDir, requestID+ext)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	size, err := io.Copy(f, audio)
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, size, nil
}

func (s *Service) transcribeFile(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	col := &collector{done: make(chan struct{})}
	adapter := s.factory()
	if err := adapter.Connect(ctx, col.callbacks()); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	chunk := make([]byte, s.cfg.ChunkThreshold)
	for {
		n, rerr := io.ReadFull(f, chunk)
		if n > 0 {
			if serr := adapter.SendAudioChunk(chunk[:n]); serr != nil {
				adapter.Close()
				return nil, fmt.Errorf("send audio: %w", serr)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			adapter.Close()
			return nil, fmt.Errorf("read upload: %w", rerr)
		}
		select {
		case <-ctx.Done():
			adapter.Close()
			return nil, ctx.Err()
		case <-col.done:
			adapter.Close()
			_, cerr := col.result()
			return nil, fmt.Errorf("transcription failed: %w", cerr)
		default:
		}
	}

	// Closing flushes the provider; whatever finals it produces land in the
	// collector before Close returns or shortly after.
	if err := adapter.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Adapter close failed")
	}

	segments, cerr := s.awaitSegments(ctx, col)
	if cerr != nil {
		return nil, cerr
	}
	return segments, nil
}

// awaitSegments waits, bounded, for at least one confirmed transcript.
func (s *Service) awaitSegments(ctx context.Context, col *collector) ([]string, error) {
	deadline := time.Now().Add(s.cfg.ResultTimeout)
	for {
		segments, err := col.result()
		if err != nil {
			return nil, fmt.Errorf("transcription failed: %w", err)
		}
		if len(segments) > 0 {
			return segments, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no transcript within %v", s.cfg.ResultTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
