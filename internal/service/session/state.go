// Package session owns the client-facing side of a realtime transcription
// session: the WebSocket handler, the per-session lifecycle and the registry
// of live sessions.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateConnecting - session created, transcription worker connecting.
	StateConnecting State = iota
	// StateActive - audio frames are accepted and streamed.
	StateActive
	// StateDraining - shutdown started, no new audio accepted.
	StateDraining
	// StateClosed - terminal, all resources released.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// ErrNotConnecting is returned by Activate outside the CONNECTING state.
var ErrNotConnecting = errors.New("session is not connecting")

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING → ACTIVE → DRAINING → CLOSED
//	     │                   ↑
//	     └── BeginDrain() ───┘   (connect failures drain directly)
//
// Audio frames are accepted only in ACTIVE.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a session lifecycle in CONNECTING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnecting}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// AcceptingAudio returns true while incoming frames should be queued.
func (l *Lifecycle) AcceptingAudio() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateActive
}

// Activate transitions CONNECTING → ACTIVE.
func (l *Lifecycle) Activate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateConnecting {
		return ErrNotConnecting
	}
	l.state = StateActive
	return nil
}

// BeginDrain transitions to DRAINING from any non-terminal state.
// Returns false if the session is already draining or closed.
func (l *Lifecycle) BeginDrain() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDraining || l.state == StateClosed {
		return false
	}
	l.state = StateDraining
	return true
}

// Close transitions the session to CLOSED. Can be called from any state.
// Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateClosed
}
