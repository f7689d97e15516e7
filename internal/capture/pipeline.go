// Package capture turns microphone samples into encoded outbound frames.
//
// A [Pipeline] is the [audio.CaptureSink] for an [audio.InputDevice]. The
// device callback only accumulates, encodes and enqueues; a separate sender
// goroutine hands frames to the transport. When the transport falls behind
// the bounded queue fills and new frames are dropped, so the device thread
// never waits on the network.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sangini-spec/InterVue-X/internal/observe"
	"github.com/Sangini-spec/InterVue-X/pkg/audio"
)

var _ audio.CaptureSink = (*Pipeline)(nil)

const (
	// DefaultFrameDuration is the amount of audio carried by one outbound frame.
	DefaultFrameDuration = 128 * time.Millisecond

	// DefaultQueueDepth is the number of encoded frames buffered ahead of the
	// sender before new frames are dropped.
	DefaultQueueDepth = 8
)

// Sender is the outbound half of a transport. SendAudio receives one
// PCM16 frame at the target rate.
type Sender interface {
	SendAudio(frame []byte) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(frame []byte) error

// SendAudio calls f(frame).
func (f SenderFunc) SendAudio(frame []byte) error { return f(frame) }

// Stats is a point-in-time count of frame outcomes.
type Stats struct {
	Sent    uint64
	Muted   uint64
	Dropped uint64
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithFrameDuration sets the duration of each outbound frame.
// Default: [DefaultFrameDuration].
func WithFrameDuration(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.frameDur = d
		}
	}
}

// WithTargetRate resamples captured audio to rate before encoding. By default
// frames are sent at the device rate.
func WithTargetRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.targetRate = rate
		}
	}
}

// WithQueueDepth sets how many encoded frames may wait for the sender.
// Default: [DefaultQueueDepth].
func WithQueueDepth(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueDepth = n
		}
	}
}

// WithMetrics records frame outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// ── Pipeline ───────────────────────────────────────────────────────────────────

// Pipeline owns an input device for the duration of a session. Mute gates
// forwarding only; the device keeps running and frames are still produced.
type Pipeline struct {
	dev        audio.InputDevice
	sender     Sender
	metrics    *observe.Metrics
	frameDur   time.Duration
	targetRate int
	queueDepth int

	// Set in Start.
	frameSamples int
	frames       chan audio.Frame
	errs         chan error
	done         chan struct{}
	wg           sync.WaitGroup

	mu  sync.Mutex // guards buf and seq against overlapping device callbacks
	buf []float32
	seq uint64

	muted      atomic.Bool
	warnedDrop atomic.Bool
	sent       atomic.Uint64
	mutedCount atomic.Uint64
	dropped    atomic.Uint64

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
}

// New creates a pipeline reading from dev and writing to sender. Nothing runs
// until [Pipeline.Start].
func New(dev audio.InputDevice, sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		dev:        dev,
		sender:     sender,
		frameDur:   DefaultFrameDuration,
		queueDepth: DefaultQueueDepth,
		errs:       make(chan error, 1),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start acquires the input device and begins forwarding frames. A device
// failure is returned as [*audio.DeviceError]. Start may be called once.
func (p *Pipeline) Start() error {
	err := errors.New("capture: already started")
	p.startOnce.Do(func() {
		err = p.start()
	})
	return err
}

func (p *Pipeline) start() error {
	rate := p.dev.SampleRate()
	if p.targetRate == 0 {
		p.targetRate = rate
	}
	p.frameSamples = int(int64(rate) * int64(p.frameDur) / int64(time.Second))
	if p.frameSamples <= 0 {
		return &audio.DeviceError{Device: "input", Op: "start", Err: errors.New("frame size is zero")}
	}
	p.frames = make(chan audio.Frame, p.queueDepth)

	p.wg.Add(1)
	go p.sendLoop()

	if err := p.dev.Start(p); err != nil {
		close(p.done)
		p.wg.Wait()
		var de *audio.DeviceError
		if errors.As(err, &de) {
			return err
		}
		return &audio.DeviceError{Device: "input", Op: "start", Err: err}
	}
	p.started.Store(true)
	return nil
}

// SetMuted gates whether produced frames are forwarded.
func (p *Pipeline) SetMuted(muted bool) { p.muted.Store(muted) }

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Errors delivers the first device failure reported after Start.
func (p *Pipeline) Errors() <-chan error { return p.errs }

// Stats returns frame outcome counts since Start.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Sent:    p.sent.Load(),
		Muted:   p.mutedCount.Load(),
		Dropped: p.dropped.Load(),
	}
}

// Close releases the device and stops the sender. Queued frames are dropped.
// Idempotent; safe to call when Start failed or was never called.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.started.Load() {
			err = p.dev.Close()
			close(p.done)
			p.wg.Wait()
		}
	})
	return err
}

// OnSamples implements [audio.CaptureSink]. It runs on the device thread.
func (p *Pipeline) OnSamples(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, samples...)
	for len(p.buf) >= p.frameSamples {
		p.emit(p.buf[:p.frameSamples])
		n := copy(p.buf, p.buf[p.frameSamples:])
		p.buf = p.buf[:n]
	}
}

// OnDeviceError implements [audio.CaptureSink].
func (p *Pipeline) OnDeviceError(err error) {
	var de *audio.DeviceError
	if !errors.As(err, &de) {
		err = &audio.DeviceError{Device: "input", Op: "read", Err: err}
	}
	select {
	case p.errs <- err:
	default:
	}
}

// emit encodes one frame and offers it to the sender. Called with p.mu held.
func (p *Pipeline) emit(samples []float32) {
	p.seq++
	if p.muted.Load() {
		p.mutedCount.Add(1)
		p.record(observe.FrameMuted)
		return
	}

	rate := p.dev.SampleRate()
	if p.targetRate != rate {
		samples = audio.ResampleMono(samples, rate, p.targetRate)
	}
	f := audio.Frame{
		Data:       audio.EncodePCM16(samples),
		SampleRate: p.targetRate,
		Seq:        p.seq,
		Timestamp:  time.Duration(p.seq-1) * p.frameDur,
	}

	select {
	case p.frames <- f:
	default:
		p.dropped.Add(1)
		p.record(observe.FrameDropped)
		if p.warnedDrop.CompareAndSwap(false, true) {
			slog.Warn("capture: sender is behind, dropping frames", "queue_depth", p.queueDepth)
		}
	}
}

func (p *Pipeline) sendLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case f := <-p.frames:
			if err := p.sender.SendAudio(f.Data); err != nil {
				slog.Debug("capture: send failed", "seq", f.Seq, "err", err)
				continue
			}
			p.sent.Add(1)
			p.record(observe.FrameSent)
		}
	}
}

func (p *Pipeline) record(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordCaptureFrame(context.Background(), outcome)
	}
}
