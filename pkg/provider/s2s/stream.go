package s2s

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// DefaultEventBuffer is the capacity of the Events channel created by
// [NewStream].
const DefaultEventBuffer = 64

// Stream is the inbound half of a session shared by backend implementations.
// The backend's receive goroutine is the only producer; it calls Emit for
// in-order events, Interrupt for barge-in, and Finish exactly once when it
// exits.
type Stream struct {
	ctx      context.Context
	events   chan Event
	priority chan Event
	turn     atomic.Uint64

	mu  sync.Mutex
	err error

	finishOnce sync.Once
}

// NewStream returns a stream whose sends give up once ctx is done.
func NewStream(ctx context.Context, buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Stream{
		ctx:      ctx,
		events:   make(chan Event, buffer),
		priority: make(chan Event, 1),
	}
}

// Events implements [SessionHandle.Events].
func (s *Stream) Events() <-chan Event { return s.events }

// Priority implements [SessionHandle.Priority].
func (s *Stream) Priority() <-chan Event { return s.priority }

// Err implements [SessionHandle.Err].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Turn returns the current response generation.
func (s *Stream) Turn() uint64 { return s.turn.Load() }

// Emit stamps ev with the current turn and queues it, blocking while the
// consumer is behind. It reports false if the stream context ended first.
func (s *Stream) Emit(ev Event) bool {
	ev.Turn = s.turn.Load()
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Interrupt starts a new turn and publishes EventInterrupted on the priority
// channel, replacing any notification the consumer has not read yet.
func (s *Stream) Interrupt() {
	ev := Event{Kind: EventInterrupted, Turn: s.turn.Add(1)}
	select {
	case <-s.priority:
	default:
	}
	select {
	case s.priority <- ev:
	default:
	}
}

// Finish closes both channels. A non-nil final event is delivered first
// unless the stream context has ended; an EventError also sets Err.
func (s *Stream) Finish(final *Event) {
	s.finishOnce.Do(func() {
		if final != nil {
			if final.Kind == EventError {
				s.mu.Lock()
				s.err = final.Err
				s.mu.Unlock()
			}
			if s.ctx.Err() == nil {
				s.Emit(*final)
			}
		}
		close(s.events)
		close(s.priority)
	})
}

// ReadFailure maps a WebSocket read error to the terminal event it implies:
// a normal or going-away close from the remote end is EventClosed, anything
// else is EventError.
func ReadFailure(err error) Event {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		var ce websocket.CloseError
		reason := ""
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		return Event{Kind: EventClosed, Reason: reason}
	default:
		return Event{Kind: EventError, Err: &TransportError{Op: "read", Err: err}}
	}
}
