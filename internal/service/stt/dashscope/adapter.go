// Package dashscope provides a streaming STT adapter backed by the
// DashScope Qwen-Omni realtime WebSocket API.
package dashscope

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
)

// ErrClosed is returned by Connect on an adapter that was already closed.
// Adapters serve exactly one session and are never reused.
var ErrClosed = errors.New("dashscope: adapter closed")

// Config holds the remote realtime session parameters.
type Config struct {
	URL          string // wss endpoint
	APIKey       string
	Model        string
	Language     string
	SampleRateHz int
	AudioFormat  string // "pcm"
}

// Client message types.
type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type transcriptionParams struct {
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// Server event envelope.
type serverEvent struct {
	Type       string       `json:"type"`
	Session    *sessionInfo `json:"session,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Stash      string       `json:"stash,omitempty"`
	Error      *serverError `json:"error,omitempty"`
}

type sessionInfo struct {
	ID string `json:"id"`
}

type serverError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Adapter implements stt.Adapter against the DashScope realtime endpoint.
// Callbacks fire on the adapter's read-loop goroutine.
type Adapter struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	cb        stt.Callbacks
	connected bool
	closed    bool

	wg  sync.WaitGroup
	log zerolog.Logger
}

// New creates an unconnected adapter.
func New(cfg Config) *Adapter {
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "pcm"
	}
	return &Adapter{
		cfg: cfg,
		log: logging.WithComponent("stt-dashscope"),
	}
}

// Connect dials the realtime endpoint, configures the transcription session
// and starts the event read loop.
func (a *Adapter) Connect(ctx context.Context, cb stt.Callbacks) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.connected {
		return stt.ErrAlreadyConnected
	}

	wsURL, err := a.buildURL()
	if err != nil {
		return fmt.Errorf("build realtime url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			a.log.Error().Int("status", resp.StatusCode).Msg("Realtime dial rejected")
		}
		return fmt.Errorf("realtime dial: %w", err)
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:       []string{"text"},
			InputAudioFormat: a.cfg.AudioFormat,
			InputAudioTranscription: &transcriptionParams{
				Language:   a.cfg.Language,
				SampleRate: a.cfg.SampleRateHz,
			},
		},
	}
	if err := conn.WriteJSON(update); err != nil {
		conn.Close()
		return fmt.Errorf("configure realtime session: %w", err)
	}

	a.conn = conn
	a.cb = cb
	a.connected = true

	a.wg.Add(1)
	go a.readLoop(conn)

	a.log.Info().
		Str("model", a.cfg.Model).
		Str("language", a.cfg.Language).
		Int("sampleRate", a.cfg.SampleRateHz).
		Msg("Realtime session connected")
	return nil
}

// SendAudioChunk base64-encodes one coalesced chunk and appends it to the
// remote input audio buffer.
func (a *Adapter) SendAudioChunk(chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected || a.closed {
		return stt.ErrNotConnected
	}

	msg := audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	}
	if err := a.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("append audio: %w", err)
	}
	return nil
}

// Close releases the remote channel. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	conn := a.conn
	a.mu.Unlock()

	if conn != nil {
		// best-effort close frame, the read loop exits on the closed socket
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
		if err := conn.Close(); err != nil {
			return fmt.Errorf("close realtime connection: %w", err)
		}
	}
	a.wg.Wait()
	return nil
}

func (a *Adapter) buildURL() (string, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", a.cfg.Model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	defer a.wg.Done()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if !closed && a.cb.OnError != nil {
				a.cb.OnError(fmt.Errorf("realtime read: %w", err))
			}
			return
		}

		var event serverEvent
		if err := json.Unmarshal(message, &event); err != nil {
			a.log.Warn().Err(err).Msg("Unparseable realtime event")
			continue
		}
		a.handleEvent(event)
	}
}

func (a *Adapter) handleEvent(event serverEvent) {
	switch event.Type {
	case "session.created":
		id := "unknown"
		if event.Session != nil {
			id = event.Session.ID
		}
		if a.cb.OnSessionCreated != nil {
			a.cb.OnSessionCreated(id)
		}

	case "session.updated":
		a.log.Debug().Msg("Realtime session updated")

	case "input_audio_buffer.speech_started":
		if a.cb.OnSpeechStart != nil {
			a.cb.OnSpeechStart()
		}

	case "input_audio_buffer.speech_stopped":
		if a.cb.OnSpeechStop != nil {
			a.cb.OnSpeechStop()
		}

	case "conversation.item.input_audio_transcription.text":
		if event.Stash != "" && a.cb.OnPartial != nil {
			a.cb.OnPartial(event.Stash)
		}

	case "conversation.item.input_audio_transcription.completed":
		if event.Transcript != "" && a.cb.OnFinal != nil {
			a.cb.OnFinal(event.Transcript, 0)
		}

	case "response.done":
		a.log.Debug().Msg("Realtime response done")

	case "error":
		if event.Error != nil && a.cb.OnError != nil {
			msg := event.Error.Message
			if event.Error.Code != "" {
				msg = event.Error.Code + ": " + msg
			}
			a.cb.OnError(errors.New(msg))
		}

	default:
		a.log.Debug().Str("eventType", event.Type).Msg("Unhandled realtime event")
	}
}
