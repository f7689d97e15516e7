// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw
// microphone audio and returns synthesised interviewer speech in a single,
// stateful session. The session configuration (voice, instructions,
// transcription switches) is sent once as the handshake and never re-sent.
//
// The central abstraction is [SessionHandle]: outbound audio goes through
// SendAudio, everything inbound arrives as a tagged [Event] on one of two
// channels. Barge-in notifications travel on a separate priority channel so a
// consumer can act on them ahead of audio that is already queued.
//
// Sessions do not reconnect. A remote close or transport failure ends the
// session; a new session is a new Connect.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"fmt"
	"time"
)

// EventKind discriminates the [Event] union.
type EventKind int

const (
	// EventAudio carries a chunk of PCM16 agent speech at the provider's
	// output sample rate.
	EventAudio EventKind = iota + 1

	// EventTranscript carries a transcription fragment for either speaker.
	EventTranscript

	// EventInterrupted reports that the remote agent detected the candidate
	// speaking over it. Delivered on [SessionHandle.Priority].
	EventInterrupted

	// EventClosed reports that the remote end closed the session normally.
	EventClosed

	// EventError reports an unrecoverable transport failure. Err holds a
	// [*TransportError].
	EventError
)

// String returns a lower-case name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventInterrupted:
		return "interrupted"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Speaker identifies the origin of a transcript fragment.
type Speaker int

const (
	// SpeakerCandidate is the person at the microphone.
	SpeakerCandidate Speaker = iota + 1

	// SpeakerAgent is the remote interviewer.
	SpeakerAgent
)

// Event is one inbound message from a session. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind

	// Audio is PCM16 little-endian mono speech (EventAudio).
	Audio []byte

	// Speaker and Text describe a transcript fragment (EventTranscript).
	Speaker Speaker
	Text    string

	// Reason is the remote close reason (EventClosed).
	Reason string

	// Err is the failure cause (EventError).
	Err error

	// Turn is the response generation the event belongs to. It increases by
	// one on every interruption; an EventInterrupted carries the new value, so
	// audio with a lower Turn was produced before the barge-in.
	Turn uint64
}

// VoiceProfile names a prebuilt provider voice.
type VoiceProfile struct {
	// ID is the provider's voice identifier, e.g. "Kore".
	ID string

	// Name is a human-readable label.
	Name string

	// Provider names the backend the voice belongs to.
	Provider string
}

// SessionConfig is the one-time handshake payload for a new session.
type SessionConfig struct {
	// Voice selects the synthesised voice.
	Voice VoiceProfile

	// Instructions is the system-level prompt describing the interviewer
	// persona and the interview context.
	Instructions string

	// InputTranscription asks the provider to transcribe candidate speech.
	InputTranscription bool

	// OutputTranscription asks the provider to transcribe agent speech.
	OutputTranscription bool
}

// Capabilities describes static properties of the S2S provider.
type Capabilities struct {
	// InputSampleRate is the PCM16 rate SendAudio expects.
	InputSampleRate int

	// OutputSampleRate is the PCM16 rate of EventAudio payloads.
	OutputSampleRate int

	// MaxSessionDuration is the provider-imposed session limit. Zero means no
	// documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the voice profiles available for this provider.
	Voices []VoiceProfile
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one PCM16 chunk at [Capabilities.InputSampleRate].
	// It returns an error once the session is closed; callers treat send
	// failures as a lost frame.
	SendAudio(chunk []byte) error

	// Events delivers audio, transcript, and terminal events in arrival order.
	// The channel is closed after a terminal event (EventClosed or EventError)
	// or after Close. A local Close produces no terminal event.
	Events() <-chan Event

	// Priority delivers EventInterrupted. Pending notifications are coalesced
	// so the channel always holds the most recent one. It is closed together
	// with Events.
	Priority() <-chan Event

	// Err returns the error that ended the session, or nil if it ended cleanly
	// or is still open.
	Err() error

	// Close terminates the session. Idempotent.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect dials the backend and performs the handshake. It returns only
	// once the remote end has acknowledged the configuration, or ctx is done.
	// Failures are returned as [*TransportError].
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the backend.
	Capabilities() Capabilities
}

// TransportError reports a handshake failure or a mid-session disconnect.
// It is fatal for the session.
type TransportError struct {
	// Op is the failing phase: "dial", "handshake", "read", "write", "server".
	Op string

	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("s2s: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
