package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/observability/metrics"
)

// Bridge hands events from the adapter's callback goroutine to the
// client-facing session loop. Dispatch blocks the calling goroutine for at
// most the configured timeout waiting for the handoff to be accepted; on
// timeout the event is dropped with a warning. The adapter's internal
// goroutine can therefore never deadlock on a stalled client.
//
// All events for a session funnel through one Bridge into one consumer,
// which preserves per-session ordering.
type Bridge struct {
	out     chan Event
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewBridge creates a bridge with the given buffer size and dispatch timeout.
func NewBridge(sessionID string, buffer int, timeout time.Duration) *Bridge {
	if buffer < 0 {
		buffer = 0
	}
	return &Bridge{
		out:     make(chan Event, buffer),
		timeout: timeout,
		done:    make(chan struct{}),
		log:     logging.WithSession(sessionID).With().Str("component", "bridge").Logger(),
		metrics: metrics.DefaultMetrics,
	}
}

// Dispatch schedules an event for delivery to the session loop. Returns
// false when the event was dropped (bridge closed or handoff timed out).
func (b *Bridge) Dispatch(ev Event) bool {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-b.done:
		b.log.Warn().Str("event", ev.Kind.String()).Msg("Event dropped, bridge closed")
		b.metrics.RecordEventDropped("closed")
		return false
	case b.out <- ev:
		b.metrics.RecordEventDispatched()
		return true
	case <-timer.C:
		b.log.Warn().
			Str("event", ev.Kind.String()).
			Dur("timeout", b.timeout).
			Msg("Event dropped, dispatch timed out")
		b.metrics.RecordEventDropped("timeout")
		return false
	}
}

// Events returns the delivery channel consumed by the session loop.
func (b *Bridge) Events() <-chan Event {
	return b.out
}

// Done is closed when the bridge shuts down; the consumer selects on it to
// stop draining.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Close stops the bridge. The out channel is deliberately left open so late
// adapter callbacks fall through the done case instead of panicking on a
// closed channel. Idempotent.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}
