// Package models defines the wire data structures of the service: the
// realtime client protocol messages and the transcript events fanned out
// to Kafka.
package models

import (
	"encoding/json"
	"fmt"
)

// Server event types sent to realtime clients.
const (
	EventTypeConnected   = "connected"
	EventTypeSpeechStart = "speech_start"
	EventTypeSpeechStop  = "speech_stop"
	EventTypePartial     = "partial"
	EventTypeFinal       = "final"
	EventTypeError       = "error"
)

// ServerEvent is one JSON event written to the realtime client.
type ServerEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ActionStop asks the server to end the realtime session cleanly.
const ActionStop = "stop"

// ControlCommand is a JSON text message received from the realtime client.
type ControlCommand struct {
	Action string `json:"action"`
}

// ParseControl decodes and validates a client control message.
func ParseControl(data []byte) (ControlCommand, error) {
	var cmd ControlCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("decode control command: %w", err)
	}
	if cmd.Action != ActionStop {
		return cmd, fmt.Errorf("unknown control action %q", cmd.Action)
	}
	return cmd, nil
}

// TranscriptPartial is an interim transcript event published downstream.
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// TranscriptFinal is a confirmed transcript event published downstream.
type TranscriptFinal struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	Timestamp  int64   `json:"timestamp"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}
