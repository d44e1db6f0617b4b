package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/events"
	"github.com/qgao233/virtual-avatar-agent/internal/models"
	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/service/pipeline"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
)

// Upper bound on a single client frame.
const maxFrameBytes = 1 << 20

// AdapterFactory builds a fresh STT adapter per session; adapters are
// single-use.
type AdapterFactory func() stt.Adapter

// wsConn is the subset of *websocket.Conn the handler touches; tests
// substitute a fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	Close() error
}

// Handler serves the realtime transcription WebSocket endpoint. Binary
// frames carry raw audio, text frames carry JSON control commands, and the
// server pushes transcript events back as JSON text frames.
type Handler struct {
	factory   AdapterFactory
	manager   *Manager
	publisher *events.Publisher
	cfg       Config
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// NewHandler creates the realtime endpoint handler.
func NewHandler(factory AdapterFactory, manager *Manager, publisher *events.Publisher, cfg Config) *Handler {
	return &Handler{
		factory:   factory,
		manager:   manager,
		publisher: publisher,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logging.WithComponent("realtime-handler"),
	}
}

// ServeHTTP upgrades the connection and runs the session to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.Serve(r.Context(), conn)
}

// Serve runs one session over an established connection and blocks until it
// is fully drained. Split from ServeHTTP so tests can drive a fake
// connection.
func (h *Handler) Serve(ctx context.Context, conn wsConn) {
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	sess := New(h.factory(), h.cfg)
	h.manager.Add(sess)
	defer h.manager.Remove(sess.ID())

	log := logging.WithSession(sess.ID())

	// Writer starts before the worker so no early event is stranded.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, sess)
	}()

	if err := sess.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Session start failed")
		sess.Shutdown()
		<-writerDone
		return
	}

	h.readLoop(conn, sess, log)
	sess.Shutdown()
	<-writerDone
}

// readLoop consumes client frames until the connection ends or the client
// sends a stop command.
func (h *Handler) readLoop(conn wsConn, sess *Session, log zerolog.Logger) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("Client connection ended")
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			sess.HandleFrame(data)
		case websocket.TextMessage:
			cmd, err := models.ParseControl(data)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring malformed control message")
				continue
			}
			if cmd.Action == models.ActionStop {
				log.Info().Msg("Client requested stop")
				return
			}
		}
	}
}

// writeLoop forwards transcription events to the client until the session's
// bridge shuts down, then flushes whatever is still buffered.
func (h *Handler) writeLoop(conn wsConn, sess *Session) {
	for {
		select {
		case ev := <-sess.Events():
			h.deliver(conn, sess, ev)
		case <-sess.EventsDone():
			for {
				select {
				case ev := <-sess.Events():
					h.deliver(conn, sess, ev)
				default:
					return
				}
			}
		}
	}
}

func (h *Handler) deliver(conn wsConn, sess *Session, ev pipeline.Event) {
	msg := models.ServerEvent{
		Type:      ev.Kind.String(),
		SessionID: ev.SessionID,
		Text:      ev.Text,
		Message:   ev.Message,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("Marshal server event failed")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.log.Debug().Err(err).Msg("Client write failed")
	}
	h.fanOut(sess.ID(), ev)
}

// fanOut publishes transcripts downstream; delivery to the client never
// depends on the broker.
func (h *Handler) fanOut(sessionID string, ev pipeline.Event) {
	if h.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev.Kind {
	case pipeline.EventPartial:
		_ = h.publisher.PublishPartial(ctx, sessionID, models.TranscriptPartial{
			EventType: "transcript.partial",
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
			Text:      ev.Text,
		})
	case pipeline.EventFinal:
		_ = h.publisher.PublishFinal(ctx, sessionID, models.TranscriptFinal{
			EventType:  "transcript.final",
			SessionID:  sessionID,
			Timestamp:  time.Now().UnixMilli(),
			Text:       ev.Text,
			Confidence: ev.Confidence,
		})
	}
}
