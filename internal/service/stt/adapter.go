// Package stt defines the interface for streaming Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"
)

// Sentinel errors shared by all adapter implementations.
var (
	// ErrAlreadyConnected is returned by Connect when a session is already open.
	ErrAlreadyConnected = errors.New("stt: adapter already connected")

	// ErrNotConnected is returned by SendAudioChunk before Connect succeeds
	// or after Close. It indicates an ordering bug in the caller.
	ErrNotConnected = errors.New("stt: adapter not connected")
)

// Callbacks receives asynchronous events from the remote transcription
// session. Invocations happen on whatever goroutine the provider's channel
// uses internally; callers must do their own cross-goroutine handoff.
type Callbacks struct {
	// OnSessionCreated is called once the remote session is established.
	OnSessionCreated func(remoteSessionID string)

	// OnSpeechStart is called when the provider detects the start of speech.
	OnSpeechStart func()

	// OnSpeechStop is called when the provider detects the end of speech.
	OnSpeechStop func()

	// OnPartial is called for each interim transcript.
	OnPartial func(text string)

	// OnFinal is called when a transcript segment is confirmed. Confidence
	// is 0 for providers that do not report one.
	OnFinal func(text string, confidence float64)

	// OnError is called when an error occurs during transcription.
	OnError func(err error)
}

// Adapter wraps one remote streaming transcription session
// (DashScope, Google, mock, ...). An Adapter instance serves exactly one
// session and is never reused after Close.
type Adapter interface {
	// Connect establishes the remote streaming channel and registers the
	// event callbacks. Fails with ErrAlreadyConnected if called twice, or
	// with a wrapped handshake error if the remote refuses.
	Connect(ctx context.Context, cb Callbacks) error

	// SendAudioChunk forwards one coalesced chunk of raw audio.
	// Fails with ErrNotConnected before Connect succeeds or after Close.
	SendAudioChunk(chunk []byte) error

	// Close releases the remote channel. Idempotent.
	Close() error
}
