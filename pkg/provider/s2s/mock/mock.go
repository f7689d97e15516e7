// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script the inbound event stream and inspect what the engine
// sent and whether it closed the session.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Kind: s2s.EventAudio, Audio: pcm})
//	sess.Interrupt()
//	sess.CloseRemote("bye")
package mock

import (
	"context"
	"sync"

	"github.com/Sangini-spec/InterVue-X/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh
	// [NewSession].
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until it is closed or the context
	// is done. A cancelled context yields a handshake TransportError.
	Gate chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	connectErr := p.ConnectErr
	sess := p.Session
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &s2s.TransportError{Op: "handshake", Err: ctx.Err()}
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}
	if sess == nil {
		sess = NewSession()
	}
	return sess, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// ConnectCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle backed by a real
// [s2s.Stream], so turn stamping and channel closing behave like a backend.
type Session struct {
	stream *s2s.Stream
	cancel context.CancelFunc

	// streamMu serialises producers so nothing is sent after Finish.
	streamMu sync.Mutex
	finished bool

	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns an open session with a default-sized event buffer.
func NewSession() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		stream: s2s.NewStream(ctx, s2s.DefaultEventBuffer),
		cancel: cancel,
	}
}

// ── Scripting ─────────────────────────────────────────────────────────────────

// Emit queues ev as the remote end would. It reports false once the session
// has been closed.
func (s *Session) Emit(ev s2s.Event) bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.finished {
		return false
	}
	return s.stream.Emit(ev)
}

// Interrupt publishes a barge-in notification and starts a new turn.
func (s *Session) Interrupt() {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if !s.finished {
		s.stream.Interrupt()
	}
}

// Turn returns the current response generation.
func (s *Session) Turn() uint64 { return s.stream.Turn() }

// CloseRemote ends the session as a normal remote close with reason.
func (s *Session) CloseRemote(reason string) {
	s.finish(&s2s.Event{Kind: s2s.EventClosed, Reason: reason})
}

// Fail ends the session with a transport failure wrapping err.
func (s *Session) Fail(err error) {
	s.finish(&s2s.Event{Kind: s2s.EventError, Err: &s2s.TransportError{Op: "read", Err: err}})
}

func (s *Session) finish(final *s2s.Event) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.stream.Finish(final)
}

// ── SessionHandle ─────────────────────────────────────────────────────────────

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

func (s *Session) Events() <-chan s2s.Event   { return s.stream.Events() }
func (s *Session) Priority() <-chan s2s.Event { return s.stream.Priority() }
func (s *Session) Err() error                 { return s.stream.Err() }

// Close records the call, ends the stream without a terminal event, and
// returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()

	s.cancel()
	s.finish(nil)
	return err
}

// ── Inspection ────────────────────────────────────────────────────────────────

// Sent returns a copy of the recorded audio chunks. Thread-safe.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	copy(out, s.SendAudioCalls)
	return out
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
