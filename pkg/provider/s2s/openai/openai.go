// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded PCM16 at 24 kHz in both directions.
// The handshake is a session.update acknowledged by session.updated; barge-in
// is reported by the server VAD as input_audio_buffer.speech_started.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Sangini-spec/InterVue-X/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// sampleRate is the fixed pcm16 rate of the Realtime API.
	sampleRate = 24000

	transcriptionModel = "whisper-1"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:    sampleRate,
		OutputSampleRate:   sampleRate,
		MaxSessionDuration: 30 * time.Minute,
		Voices: []s2s.VoiceProfile{
			{ID: "alloy", Name: "Alloy", Provider: "openai"},
			{ID: "ash", Name: "Ash", Provider: "openai"},
			{ID: "ballad", Name: "Ballad", Provider: "openai"},
			{ID: "coral", Name: "Coral", Provider: "openai"},
			{ID: "echo", Name: "Echo", Provider: "openai"},
			{ID: "sage", Name: "Sage", Provider: "openai"},
			{ID: "shimmer", Name: "Shimmer", Provider: "openai"},
			{ID: "verse", Name: "Verse", Provider: "openai"},
		},
	}
}

// Connect dials the Realtime endpoint, sends session.update and waits for
// session.updated. Every failure is a [*s2s.TransportError].
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, &s2s.TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(4 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		stream: s2s.NewStream(sessCtx, s2s.DefaultEventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.handshake(ctx, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, &s2s.TransportError{Op: "handshake", Err: err}
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *serverErrorDetail) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	stream *s2s.Stream

	mu     sync.Mutex
	closed bool

	// currentTxText accumulates response.audio_transcript.delta events until
	// response.audio_transcript.done is received. Only touched by receiveLoop.
	currentTxText string

	ctx    context.Context
	cancel context.CancelFunc
}

// handshake sends session.update and reads until session.updated.
func (s *session) handshake(ctx context.Context, cfg s2s.SessionConfig) error {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice.ID,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionParams{Model: transcriptionModel}
	}
	data, err := json.Marshal(sessionUpdateMessage{Type: "session.update", Session: params})
	if err != nil {
		return fmt.Errorf("marshal session.update: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write session.update: %w", err)
	}

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await session.updated: %w", err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			if evt.Error != nil {
				return evt.Error
			}
			return errors.New("unknown server error")
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the stream: it finishes it when it exits.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.stream.Finish(nil)
				return
			}
			final := s2s.ReadFailure(err)
			s.stream.Finish(&final)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if !s.handleServerEvent(&evt) {
			s.stream.Finish(nil)
			return
		}
	}
}

// handleServerEvent translates one server event. It reports false if the
// session context ended while emitting.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "input_audio_buffer.speech_started":
		s.currentTxText = ""
		s.stream.Interrupt()

	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return true
		}
		return s.stream.Emit(s2s.Event{Kind: s2s.EventAudio, Audio: audioData})

	case "response.audio_transcript.delta":
		s.currentTxText += evt.Delta

	case "response.audio_transcript.done":
		text := s.currentTxText
		s.currentTxText = ""
		if text == "" {
			return true
		}
		return s.stream.Emit(s2s.Event{Kind: s2s.EventTranscript, Speaker: s2s.SpeakerAgent, Text: text})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return true
		}
		return s.stream.Emit(s2s.Event{Kind: s2s.EventTranscript, Speaker: s2s.SpeakerCandidate, Text: evt.Transcript})

	case "error":
		// Realtime error events describe rejected client events; the
		// connection itself stays usable.
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		slog.Warn("openai: realtime error event", "err", msg)
	}
	return true
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// errClosed is returned by SendAudio after Close.
var errClosed = errors.New("openai: session closed")

// SendAudio delivers a raw PCM16 audio chunk (24 kHz) to the model.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(chunk)
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	})
}

func (s *session) Events() <-chan s2s.Event   { return s.stream.Events() }
func (s *session) Priority() <-chan s2s.Event { return s.stream.Priority() }
func (s *session) Err() error                 { return s.stream.Err() }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
