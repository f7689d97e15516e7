// Package interview runs voice interview sessions.
//
// An [Engine] owns at most one session at a time and drives it through
// Idle → Connecting → Active → Ending → Finished, or into Failed from any
// state. All session state is owned by a single goroutine: public methods,
// transport events, playback speaking callbacks, capture device errors and
// the elapsed ticker are all delivered to it as messages, so the speaking
// count and the state are never written from two places at once.
//
// Resources are tied to transitions. Entering Active is the only place the
// microphone starts and the speaker is acquired; entering Ending or Failed is
// the only place they are released together with the transport. Every
// release is independent, so a failure in one does not leak the others.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sangini-spec/InterVue-X/internal/analysis"
	"github.com/Sangini-spec/InterVue-X/internal/capture"
	"github.com/Sangini-spec/InterVue-X/internal/history"
	"github.com/Sangini-spec/InterVue-X/internal/observe"
	"github.com/Sangini-spec/InterVue-X/internal/playback"
	"github.com/Sangini-spec/InterVue-X/internal/transcript"
	"github.com/Sangini-spec/InterVue-X/pkg/audio"
	"github.com/Sangini-spec/InterVue-X/pkg/provider/s2s"
)

var (
	// ErrNotIdle is returned when starting or resetting while a session is
	// connecting, active or ending.
	ErrNotIdle = errors.New("interview: session already running")

	// ErrNotActive is returned by Stop when there is no session.
	ErrNotActive = errors.New("interview: no active session")

	// ErrClosed is returned by every method after [Engine.Close].
	ErrClosed = errors.New("interview: engine closed")
)

// InputFactory opens the microphone for a new session.
type InputFactory func() (audio.InputDevice, error)

// OutputFactory opens the speaker for a new session.
type OutputFactory func() (audio.OutputDevice, error)

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures an [Engine].
type Option func(*Engine)

// WithDevices sets the device factories used when a session becomes active.
func WithDevices(in InputFactory, out OutputFactory) Option {
	return func(e *Engine) {
		e.newInput = in
		e.newOutput = out
	}
}

// WithAnalyzer grades finished sessions. Without one no report is produced.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(e *Engine) { e.analyzer = a }
}

// WithHistory persists a summary of every finished session.
func WithHistory(s history.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics records transitions, handshakes and audio counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithProviderName labels handshake metrics and logs.
func WithProviderName(name string) Option {
	return func(e *Engine) { e.providerName = name }
}

// WithFrameDuration sets the capture frame duration.
func WithFrameDuration(d time.Duration) Option {
	return func(e *Engine) { e.frameDur = d }
}

// WithTicks replaces the one-second elapsed ticker. Every value received on
// ch advances elapsed by one second.
func WithTicks(ch <-chan time.Time) Option {
	return func(e *Engine) { e.ticks = ch }
}

// ── Engine ─────────────────────────────────────────────────────────────────────

type connectResult struct {
	gen    uint64
	handle s2s.SessionHandle
	err    error
}

type analysisResult struct {
	id     string
	report analysis.Report
}

// Engine is the session state machine. Create it with [New]; it is safe for
// concurrent use.
type Engine struct {
	provider     s2s.Provider
	providerName string
	newInput     InputFactory
	newOutput    OutputFactory
	analyzer     analysis.Analyzer
	store        history.Store
	metrics      *observe.Metrics
	frameDur     time.Duration
	ticks        <-chan time.Time

	board   board
	speak   speakingMailbox
	turns   *transcript.Accumulator
	cmds    chan func()
	connect chan connectResult
	graded  chan analysisResult

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	bg        sync.WaitGroup

	// Everything below is owned by the run goroutine.
	state         State
	id            string
	cfg           Config
	elapsed       time.Duration
	speaking      int
	muted         bool
	failure       error
	endReason     string
	prioClosed    bool
	gen           uint64
	turn          uint64
	epoch         uint64
	outRate       int
	reportReady   bool
	sessCtx       context.Context
	span          trace.Span
	connectCancel context.CancelFunc
	handle        s2s.SessionHandle
	out           audio.OutputDevice
	sched         *playback.Scheduler
	pipe          *capture.Pipeline
	ticker        *time.Ticker
}

// New creates an engine connecting through provider and starts its event
// loop. Call [Engine.Close] to stop it.
func New(provider s2s.Provider, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		provider: provider,
		turns:    transcript.NewAccumulator(),
		cmds:     make(chan func()),
		connect:  make(chan connectResult),
		graded:   make(chan analysisResult),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		speak:    speakingMailbox{signal: make(chan struct{}, 1)},
	}
	for _, o := range opts {
		o(e)
	}
	if e.providerName == "" {
		e.providerName = "s2s"
	}
	e.publish()
	go e.run()
	return e
}

// Close ends any running session and stops the event loop. Pending analysis
// is cancelled. Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		<-e.done
		e.bg.Wait()
	})
	return nil
}

// Start begins a new session with cfg. It returns once the session is
// Connecting; the handshake completes asynchronously. A finished or failed
// previous session is reset first.
func (e *Engine) Start(ctx context.Context, cfg Config) error {
	return e.call(ctx, func() error { return e.start(cfg) })
}

// Stop ends the session. An active session goes through Ending to Finished;
// a connecting one is abandoned and the engine returns to Idle. Stopping a
// session that already ended is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	return e.call(ctx, e.stop)
}

// Reset returns a finished or failed engine to Idle, discarding the
// transcript and report.
func (e *Engine) Reset(ctx context.Context) error {
	return e.call(ctx, func() error {
		switch e.state {
		case Idle:
			return nil
		case Finished, Failed:
			e.reset()
			return nil
		default:
			return ErrNotIdle
		}
	})
}

// SetMuted gates whether captured frames are forwarded to the transport.
// The microphone keeps running while muted.
func (e *Engine) SetMuted(ctx context.Context, muted bool) error {
	return e.call(ctx, func() error {
		e.muted = muted
		if e.pipe != nil {
			e.pipe.SetMuted(muted)
		}
		e.publish()
		return nil
	})
}

// Transcript returns the turns of the current or last session in arrival
// order.
func (e *Engine) Transcript() []transcript.Turn {
	return e.turns.Turns()
}

// Ping reports whether the event loop is still serving commands.
func (e *Engine) Ping(ctx context.Context) error {
	return e.call(ctx, func() error { return nil })
}

// call runs fn on the event loop and returns its result.
func (e *Engine) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case e.cmds <- func() { errc <- fn() }:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// ── Event loop ─────────────────────────────────────────────────────────────────

func (e *Engine) run() {
	defer close(e.done)
	for {
		events, prio := e.channels()

		// Barge-in is handled ahead of anything already queued.
		if prio != nil {
			select {
			case ev, ok := <-prio:
				e.onPriority(ev, ok)
				continue
			default:
			}
		}

		var (
			tickC  <-chan time.Time
			capErr <-chan error
			outErr <-chan error
		)
		if e.state == Active {
			tickC = e.tickChan()
			if e.pipe != nil {
				capErr = e.pipe.Errors()
			}
			if e.sched != nil {
				outErr = e.sched.Errors()
			}
		}

		select {
		case <-e.ctx.Done():
			e.shutdown()
			return
		case fn := <-e.cmds:
			fn()
		case r := <-e.connect:
			e.onConnected(r)
		case ev, ok := <-prio:
			e.onPriority(ev, ok)
		case ev, ok := <-events:
			if !ok {
				e.onStreamEnd()
				continue
			}
			e.onEvent(ev)
		case <-e.speak.signal:
			e.onSpeaking()
		case <-tickC:
			e.onTick()
		case err := <-capErr:
			e.fail(err)
		case err := <-outErr:
			e.fail(err)
		case r := <-e.graded:
			e.onGraded(r)
		}
	}
}

// channels returns the inbound channels of the active session. The priority
// channel closes together with events; once it has been seen closed it is
// left out so the remaining buffered events are still drained in order.
func (e *Engine) channels() (<-chan s2s.Event, <-chan s2s.Event) {
	if e.handle == nil || e.state != Active {
		return nil, nil
	}
	if e.prioClosed {
		return e.handle.Events(), nil
	}
	return e.handle.Events(), e.handle.Priority()
}

func (e *Engine) tickChan() <-chan time.Time {
	if e.ticks != nil {
		return e.ticks
	}
	if e.ticker != nil {
		return e.ticker.C
	}
	return nil
}

// ── Transitions ────────────────────────────────────────────────────────────────

func (e *Engine) transition(to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	if e.metrics != nil {
		e.metrics.RecordTransition(e.ctx, from.String(), to.String())
		switch {
		case from == Idle && to == Connecting:
			e.metrics.ActiveSessions.Add(e.ctx, 1)
		case from != Idle && (to.Terminal() || to == Idle) && !from.Terminal():
			e.metrics.ActiveSessions.Add(e.ctx, -1)
		}
	}
	observe.Logger(e.sessionCtx()).Info("interview: state change", "from", from.String(), "to", to.String())
	e.publish()
}

func (e *Engine) start(cfg Config) error {
	switch e.state {
	case Idle:
	case Finished, Failed:
		e.reset()
	default:
		return ErrNotIdle
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if limit := e.provider.Capabilities().MaxSessionDuration; limit > 0 && cfg.Duration > limit {
		return &ConfigError{Err: fmt.Errorf("duration %s exceeds provider limit %s", cfg.Duration, limit)}
	}

	e.id = uuid.NewString()
	e.cfg = cfg
	e.muted = false
	e.sessCtx, e.span = observe.StartSpan(observe.WithSession(e.ctx, e.id), "interview.session", trace.WithAttributes(
		attribute.String("session.id", e.id),
		attribute.String("interview.round", cfg.round()),
		attribute.String("interview.persona", cfg.Persona.ID),
	))
	e.transition(Connecting)

	ctx, cancel := context.WithCancel(e.sessCtx)
	e.connectCancel = cancel
	e.gen++
	gen := e.gen
	scfg := s2s.SessionConfig{
		Voice:               s2s.VoiceProfile{ID: cfg.Persona.Voice, Name: cfg.Persona.Name, Provider: e.providerName},
		Instructions:        cfg.Instructions(),
		InputTranscription:  true,
		OutputTranscription: true,
	}

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		hctx, span := observe.StartSpan(ctx, "interview.handshake")
		started := time.Now()
		h, err := e.provider.Connect(hctx, scfg)
		if e.metrics != nil {
			e.metrics.RecordHandshake(hctx, e.providerName, time.Since(started), err)
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()

		select {
		case e.connect <- connectResult{gen: gen, handle: h, err: err}:
		case <-e.ctx.Done():
			if h != nil {
				_ = h.Close()
			}
		}
	}()
	return nil
}

func (e *Engine) onConnected(r connectResult) {
	if r.gen != e.gen || e.state != Connecting {
		if r.handle != nil {
			_ = r.handle.Close()
		}
		return
	}
	if r.err != nil {
		e.fail(r.err)
		return
	}
	e.handle = r.handle
	e.prioClosed = false
	if err := e.activate(); err != nil {
		e.fail(err)
	}
}

// activate acquires the devices and enters Active.
func (e *Engine) activate() error {
	if e.newOutput == nil || e.newInput == nil {
		return &audio.DeviceError{Device: "output", Op: "init", Err: errors.New("no audio device configured")}
	}
	caps := e.provider.Capabilities()

	out, err := e.newOutput()
	if err != nil {
		return asDeviceError("output", "init", err)
	}
	e.out = out
	e.sched = playback.New(playback.NewClock(out.SampleRate()),
		playback.WithNotify(e.speak.post),
		playback.WithMetrics(e.metrics),
	)
	e.epoch = e.sched.Epoch()
	if err := out.Start(e.sched); err != nil {
		return asDeviceError("output", "start", err)
	}
	e.outRate = caps.OutputSampleRate
	if e.outRate == 0 {
		e.outRate = out.SampleRate()
	}

	in, err := e.newInput()
	if err != nil {
		return asDeviceError("input", "init", err)
	}
	opts := []capture.Option{capture.WithTargetRate(caps.InputSampleRate), capture.WithMetrics(e.metrics)}
	if e.frameDur > 0 {
		opts = append(opts, capture.WithFrameDuration(e.frameDur))
	}
	pipe := capture.New(in, e.handle, opts...)
	pipe.SetMuted(e.muted)
	if err := pipe.Start(); err != nil {
		_ = in.Close()
		return err
	}
	e.pipe = pipe

	e.elapsed = 0
	e.speaking = 0
	e.turn = 0
	e.turns.Reset()
	if e.ticks == nil {
		e.ticker = time.NewTicker(time.Second)
	}
	e.transition(Active)
	return nil
}

// end is the Active → Ending → Finished path shared by stop, timeout and
// remote close.
func (e *Engine) end(reason string) {
	if e.state != Active {
		return
	}
	observe.Logger(e.sessionCtx()).Info("interview: ending session", "reason", reason)
	e.endReason = reason
	e.transition(Ending)
	e.teardown()
	e.transition(Finished)
	e.finalize()
}

// fail moves any live session to Failed.
func (e *Engine) fail(err error) {
	if e.state == Idle || e.state.Terminal() {
		return
	}
	observe.Logger(e.sessionCtx()).Error("interview: session failed", "err", err)
	if e.span != nil {
		e.span.RecordError(err)
	}
	e.failure = err
	e.teardown()
	e.transition(Failed)
	e.finalize()
}

func (e *Engine) stop() error {
	switch e.state {
	case Active:
		e.end("stopped")
		return nil
	case Connecting:
		e.gen++
		e.teardown()
		e.transition(Idle)
		e.endSpan()
		return nil
	case Idle:
		return ErrNotActive
	default:
		return nil
	}
}

// reset discards the previous session.
func (e *Engine) reset() {
	e.teardown()
	e.id = ""
	e.cfg = Config{}
	e.elapsed = 0
	e.muted = false
	e.failure = nil
	e.endReason = ""
	e.reportReady = false
	e.turns.Reset()
	e.board.setReport(nil)
	e.transition(Idle)
}

func (e *Engine) shutdown() {
	switch e.state {
	case Active, Connecting, Ending:
		e.fail(ErrClosed)
	default:
		e.teardown()
	}
}

// ── Inbound events ─────────────────────────────────────────────────────────────

func (e *Engine) onEvent(ev s2s.Event) {
	switch ev.Kind {
	case s2s.EventAudio:
		e.onAudio(ev)
	case s2s.EventTranscript:
		e.onTranscript(ev)
	case s2s.EventInterrupted:
		e.interrupt(ev.Turn)
	case s2s.EventClosed:
		e.end("remote closed: " + ev.Reason)
	case s2s.EventError:
		err := ev.Err
		if err == nil {
			err = &s2s.TransportError{Op: "read", Err: errors.New("unknown failure")}
		}
		e.fail(err)
	}
}

func (e *Engine) onPriority(ev s2s.Event, ok bool) {
	if !ok {
		e.prioClosed = true
		return
	}
	e.interrupt(ev.Turn)
}

// onStreamEnd handles the events channel closing without a terminal event.
func (e *Engine) onStreamEnd() {
	if e.state != Active {
		return
	}
	if err := e.handle.Err(); err != nil {
		e.fail(err)
		return
	}
	e.end("stream ended")
}

// interrupt flushes playback for a barge-in that started turn. Notifications
// for a turn already handled are ignored.
func (e *Engine) interrupt(turn uint64) {
	if turn != 0 && turn <= e.turn {
		return
	}
	if turn > e.turn {
		e.turn = turn
	}
	e.epoch = e.sched.Interrupt()
	e.speak.drain()
	e.speaking = 0
	e.publish()
}

func (e *Engine) onAudio(ev s2s.Event) {
	if ev.Turn < e.turn {
		return
	}
	if ev.Turn > e.turn {
		// The barge-in notification was coalesced away or is still queued.
		e.interrupt(ev.Turn)
	}

	samples, err := audio.DecodePCM16(ev.Audio, e.outRate, 1)
	if err != nil {
		slog.Debug("interview: dropping malformed audio chunk", "session_id", e.id, "err", err)
		if e.metrics != nil {
			e.metrics.RecordCodecError(e.ctx, "inbound")
		}
		return
	}
	if rate := e.sched.Clock().SampleRate(); rate != e.outRate {
		samples = audio.ResampleMono(samples, e.outRate, rate)
	}
	if _, err := e.sched.Schedule(samples, e.sched.Next()); err != nil {
		slog.Debug("interview: schedule failed", "session_id", e.id, "err", err)
	}
}

func (e *Engine) onTranscript(ev s2s.Event) {
	if ev.Text == "" {
		return
	}
	speaker, label := transcript.Agent, e.cfg.Persona.Name
	if ev.Speaker == s2s.SpeakerCandidate {
		speaker, label = transcript.Candidate, transcript.CandidateLabel
	}
	e.turns.Append(speaker, label, ev.Text, e.elapsed)
}

func (e *Engine) onSpeaking() {
	before := e.speaking
	for _, ev := range e.speak.drain() {
		if ev.Epoch != e.epoch {
			continue
		}
		e.speaking = max(e.speaking+ev.Delta, 0)
	}
	if e.speaking != before {
		e.publish()
	}
}

func (e *Engine) onTick() {
	e.elapsed += time.Second
	e.publish()
	if e.elapsed >= e.cfg.Duration {
		e.end("duration reached")
	}
}

// ── Teardown ───────────────────────────────────────────────────────────────────

// teardown releases every session resource that is held. Each release runs
// even if an earlier one failed or panicked. Safe to call repeatedly.
func (e *Engine) teardown() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	if e.connectCancel != nil {
		e.connectCancel()
		e.connectCancel = nil
	}
	if e.pipe != nil {
		release(e.id, "capture", e.pipe.Close)
		e.pipe = nil
	}
	if e.handle != nil {
		release(e.id, "transport", e.handle.Close)
		e.handle = nil
	}
	if e.sched != nil {
		release(e.id, "playback", e.sched.Close)
		e.sched = nil
	}
	if e.out != nil {
		release(e.id, "output device", e.out.Close)
		e.out = nil
	}
	e.speak.drain()
	e.speaking = 0
}

func release(sessionID, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("interview: panic during release", "session_id", sessionID, "resource", what, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		slog.Warn("interview: release failed", "session_id", sessionID, "resource", what, "err", err)
	}
}

// ── Post-session ───────────────────────────────────────────────────────────────

// finalize hands the transcript to analysis and history. A failed session
// with nothing said is not analysed.
func (e *Engine) finalize() {
	defer e.endSpan()

	turns := e.turns.Turns()
	if e.analyzer == nil && e.store == nil {
		return
	}
	if e.state == Failed && len(turns) == 0 {
		return
	}

	id := e.id
	req := analysis.Request{
		SessionID:  id,
		Role:       e.cfg.Role,
		Round:      e.cfg.round(),
		Transcript: transcript.Render(turns),
	}
	rec := history.Record{
		ID:              id,
		Role:            e.cfg.role(),
		Round:           e.cfg.round(),
		Persona:         e.cfg.Persona.ID,
		DurationSeconds: int(e.elapsed / time.Second),
		State:           e.state.String(),
		Turns:           turns,
	}
	ctx := e.sessCtx

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		var report *analysis.Report
		if e.analyzer != nil {
			r, err := e.analyzer.Analyze(ctx, req)
			if err != nil {
				observe.Logger(ctx).Warn("interview: analysis failed, using fallback report", "err", err)
				r = analysis.FallbackReport()
			}
			report = &r
			rec.Score = r.Score
			rec.Feedback = r.Feedback
			rec.Report = report
		}
		if e.store != nil {
			if err := e.store.Save(ctx, &rec); err != nil {
				observe.Logger(ctx).Warn("interview: saving history failed", "err", err)
			}
		}
		if report == nil {
			return
		}
		select {
		case e.graded <- analysisResult{id: id, report: *report}:
		case <-e.ctx.Done():
		}
	}()
}

func (e *Engine) onGraded(r analysisResult) {
	if r.id != e.id {
		return
	}
	e.board.setReport(&r.report)
	e.reportReady = true
	e.publish()
}

func (e *Engine) endSpan() {
	if e.span != nil {
		e.span.End()
		e.span = nil
	}
}

func (e *Engine) sessionCtx() context.Context {
	if e.sessCtx != nil {
		return e.sessCtx
	}
	return e.ctx
}

// ── Observation ────────────────────────────────────────────────────────────────

func (e *Engine) publish() {
	s := Snapshot{
		ID:              e.id,
		State:           e.state,
		Persona:         e.cfg.Persona.ID,
		Elapsed:         e.elapsed,
		ElapsedSeconds:  int(e.elapsed / time.Second),
		Duration:        e.cfg.Duration,
		DurationSeconds: int(e.cfg.Duration / time.Second),
		Speaking:        e.speaking > 0,
		SpeakingCount:   e.speaking,
		Muted:           e.muted,
		ReportReady:     e.reportReady,
		EndReason:       e.endReason,
	}
	if e.state == Active && e.cfg.Duration > 0 {
		s.FinalMinute = e.elapsed >= e.cfg.Duration-FinalMinute
	}
	if e.failure != nil {
		s.Error = e.failure.Error()
	}
	e.board.publish(s)
}

func asDeviceError(device, op string, err error) error {
	var de *audio.DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &audio.DeviceError{Device: device, Op: op, Err: err}
}

// speakingMailbox carries playback speaking events from the render thread to
// the event loop without blocking the renderer.
type speakingMailbox struct {
	mu     sync.Mutex
	events []playback.SpeakingEvent
	signal chan struct{}
}

func (m *speakingMailbox) post(ev playback.SpeakingEvent) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *speakingMailbox) drain() []playback.SpeakingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events
	m.events = nil
	return evs
}
