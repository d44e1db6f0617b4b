// Package pipeline implements the per-session streaming transcription
// pipeline: a bounded audio ingress queue, a dedicated worker that owns the
// STT adapter, and the bridge that hands adapter events back to the
// client-facing loop.
package pipeline

import "fmt"

// EventKind discriminates the transcription event variants.
type EventKind int

const (
	// EventConnected - the remote transcription session is ready.
	EventConnected EventKind = iota
	// EventSpeechStart - the provider detected the start of speech.
	EventSpeechStart
	// EventSpeechStop - the provider detected the end of speech.
	EventSpeechStop
	// EventPartial - an interim transcript (unstable text).
	EventPartial
	// EventFinal - a confirmed transcript segment.
	EventFinal
	// EventError - a session-scoped failure.
	EventError
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechStop:
		return "speech_stop"
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Event is one transcription event flowing from the adapter callbacks to the
// client-facing session loop. Events always carry the owning session ID and
// are consumed exactly once; they are never persisted.
type Event struct {
	Kind       EventKind
	SessionID  string
	Text       string  // partial/final transcript text
	Confidence float64 // final transcripts only, 0 when the provider has none
	Message    string  // error events only
}
