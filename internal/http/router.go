// Package http exposes the service's HTTP surface: the realtime WebSocket
// endpoint, file recognition, voiceprint identity and the assistant chat.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qgao233/virtual-avatar-agent/internal/app"
	"github.com/qgao233/virtual-avatar-agent/internal/observability"
	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/service/identity"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		// Speech recognition
		r.Get("/sr/realtime", application.Realtime.ServeHTTP)
		r.Post("/sr/recognize", recognizeHandler(application))

		// Voiceprint identity
		r.Post("/cv/register", registerHandler(application))
		r.Post("/cv/identify", identifyHandler(application))
		r.Get("/cv/status", statusHandler(application))

		// Assistant
		r.Post("/llm/chat", chatHandler(application))
	})

	return r
}

func recognizeHandler(application *app.Application) http.HandlerFunc {
	log := logging.WithComponent("http")
	maxSize := application.Cfg.Service.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		if err := r.ParseMultipartForm(maxSize); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing 'audio' file field")
			return
		}
		defer file.Close()

		res, err := application.Recognizer.Recognize(r.Context(), file, header.Filename)
		if err != nil {
			log.Error().Err(err).Str("filename", header.Filename).Msg("Recognition failed")
			writeError(w, http.StatusBadGateway, "recognition failed")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type registerRequest struct {
	Name   string    `json:"name"`
	Vector []float64 `json:"vector"`
}

func registerHandler(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "missing 'name'")
			return
		}
		if err := application.Identity.Register(req.Name, req.Vector); err != nil {
			switch {
			case errors.Is(err, identity.ErrEmptyVector),
				errors.Is(err, identity.ErrDimensionMismatch):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "register failed")
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "name": req.Name})
	}
}

type identifyRequest struct {
	Vector []float64 `json:"vector"`
}

func identifyHandler(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req identifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		match, err := application.Identity.Identify(req.Vector)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrNoMatch):
				writeError(w, http.StatusNotFound, "no match above threshold")
			case errors.Is(err, identity.ErrEmptyVector),
				errors.Is(err, identity.ErrDimensionMismatch):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "identify failed")
			}
			return
		}
		writeJSON(w, http.StatusOK, match)
	}
}

func statusHandler(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, application.Identity.Status())
	}
}

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

func chatHandler(application *app.Application) http.HandlerFunc {
	log := logging.WithComponent("http")

	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Message == "" {
			writeError(w, http.StatusBadRequest, "missing 'message'")
			return
		}
		reply, err := application.Assistant.Chat(r.Context(), req.ConversationID, req.Message)
		if err != nil {
			log.Error().Err(err).Msg("Chat failed")
			writeError(w, http.StatusBadGateway, "chat failed")
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
