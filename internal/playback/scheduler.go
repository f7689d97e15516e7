package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/Sangini-spec/InterVue-X/internal/observe"
	"github.com/Sangini-spec/InterVue-X/pkg/audio"
)

var _ audio.Renderer = (*Scheduler)(nil)

// ErrClosed is returned by [Scheduler.Schedule] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// SpeakingEvent reports that a segment's start (Delta +1) or end (Delta -1)
// has been reached on the output clock. Epoch identifies the timeline the
// segment was scheduled on; it changes on every [Scheduler.Interrupt].
type SpeakingEvent struct {
	Segment uint64
	Delta   int
	Epoch   uint64
}

// Placement is where a segment landed on the timeline, in output frames.
type Placement struct {
	ID         uint64
	StartFrame int64
	EndFrame   int64
}

// Frames returns the segment length in frames.
func (p Placement) Frames() int64 { return p.EndFrame - p.StartFrame }

type segment struct {
	id         uint64
	samples    []float32
	start, end int64
	startTimer *Timer
	endTimer   *Timer
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithNotify registers fn to receive speaking events. fn is called with the
// scheduler's lock held and from the rendering goroutine, so it must not block
// and must not call back into the scheduler.
func WithNotify(fn func(SpeakingEvent)) Option {
	return func(s *Scheduler) { s.notify = fn }
}

// WithMetrics records segment and interruption counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// ── Scheduler ──────────────────────────────────────────────────────────────────

// Scheduler places decoded agent audio on a virtual timeline and renders it
// into the output device. Segments never overlap: each one starts at the later
// of its requested frame, the end of the previous segment, and the current
// clock. [Scheduler.Interrupt] discards everything at once together with the
// speaking callbacks of every discarded segment.
//
// Scheduler implements [audio.Renderer]; hand it to
// [audio.OutputDevice.Start]. All methods are safe for concurrent use.
type Scheduler struct {
	clock   *Clock
	notify  func(SpeakingEvent)
	metrics *observe.Metrics

	mu          sync.Mutex
	epoch       uint64
	nextID      uint64
	timelineEnd int64
	queue       []*segment
	active      int
	closed      bool

	errs chan error
}

// New creates a scheduler rendering against clock.
func New(clock *Clock, opts ...Option) *Scheduler {
	s := &Scheduler{clock: clock, errs: make(chan error, 1)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Clock returns the output clock the scheduler renders against.
func (s *Scheduler) Clock() *Clock { return s.clock }

// Schedule appends samples to the timeline no earlier than requested (in
// output frames). An empty buffer is placed with zero length and fires no
// speaking events.
func (s *Scheduler) Schedule(samples []float32, requested int64) (Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Placement{}, ErrClosed
	}

	start := max(requested, s.timelineEnd, s.clock.Frames())
	if len(samples) == 0 {
		return Placement{StartFrame: start, EndFrame: start}, nil
	}

	s.nextID++
	seg := &segment{
		id:      s.nextID,
		samples: samples,
		start:   start,
		end:     start + int64(len(samples)),
	}
	epoch := s.epoch
	seg.startTimer = s.clock.At(seg.start, func() { s.fire(epoch, seg.id, +1) })
	seg.endTimer = s.clock.At(seg.end, func() { s.fire(epoch, seg.id, -1) })
	s.queue = append(s.queue, seg)
	s.timelineEnd = seg.end

	if s.metrics != nil {
		s.metrics.PlaybackSegments.Add(context.Background(), 1)
	}
	return Placement{ID: seg.id, StartFrame: seg.start, EndFrame: seg.end}, nil
}

// Next returns the earliest frame a newly scheduled segment could start at.
func (s *Scheduler) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(s.timelineEnd, s.clock.Frames())
}

// Interrupt stops all queued and in-flight audio within the current render
// quantum, cancels every pending speaking callback, and moves the timeline
// end back to the current clock. It returns the new epoch; events carrying an
// older epoch are stale.
func (s *Scheduler) Interrupt() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	if s.metrics != nil {
		s.metrics.PlaybackInterruptions.Add(context.Background(), 1)
	}
	return s.epoch
}

func (s *Scheduler) interruptLocked() {
	s.epoch++
	for _, seg := range s.queue {
		seg.startTimer.Stop()
		seg.endTimer.Stop()
	}
	clear(s.queue)
	s.queue = s.queue[:0]
	s.timelineEnd = s.clock.Frames()
	s.active = 0
}

// Epoch returns the current timeline epoch.
func (s *Scheduler) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Pending returns the number of segments that have not finished playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Active returns the number of segments whose start has been reached but
// whose end has not.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Render implements [audio.Renderer]. It fills out with the timeline's
// samples for the next len(out) frames, silence where nothing is scheduled,
// advances the clock, and fires the speaking callbacks that became due.
func (s *Scheduler) Render(out []float32) {
	clear(out)

	s.mu.Lock()
	from := s.clock.Frames()
	to := from + int64(len(out))
	kept := s.queue[:0]
	for _, seg := range s.queue {
		if seg.start < to && seg.end > from {
			lo, hi := max(seg.start, from), min(seg.end, to)
			copy(out[lo-from:hi-from], seg.samples[lo-seg.start:hi-seg.start])
		}
		if seg.end > to {
			kept = append(kept, seg)
		}
	}
	clear(s.queue[len(kept):])
	s.queue = kept
	due := s.clock.advance(len(out))
	s.mu.Unlock()

	runTimers(due)
}

// OnDeviceError implements [audio.Renderer]. Only the first loss is kept;
// it is delivered on [Scheduler.Errors]. Losses after Close are ignored.
func (s *Scheduler) OnDeviceError(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	var de *audio.DeviceError
	if !errors.As(err, &de) {
		err = &audio.DeviceError{Device: "output", Op: "stopped", Err: err}
	}
	select {
	case s.errs <- err:
	default:
	}
}

// Errors delivers at most one output device loss.
func (s *Scheduler) Errors() <-chan error { return s.errs }

// Close discards playback and rejects further scheduling. It is not counted
// as an interruption. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.interruptLocked()
	s.closed = true
	return nil
}

func (s *Scheduler) fire(epoch, id uint64, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.closed {
		return
	}
	s.active += delta
	if s.active < 0 {
		s.active = 0
	}
	if s.notify != nil {
		s.notify(SpeakingEvent{Segment: id, Delta: delta, Epoch: epoch})
	}
}
