// Package oto implements [audio.OutputDevice] with github.com/ebitengine/oto/v3.
//
// oto allows a single context per process, so [Output] opens it lazily on the
// first Start and keeps it for the life of the process. Subsequent Start calls
// (after Close) reuse the context and create a fresh player.
package oto

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/Sangini-spec/InterVue-X/pkg/audio"
)

var _ audio.OutputDevice = (*Output)(nil)

const defaultBufferSize = 40 * time.Millisecond

// errPollInterval is how often a playing player is checked for errors. oto
// reports player failures only through [oto.Player.Err].
const errPollInterval = 250 * time.Millisecond

var (
	ctxOnce sync.Once
	ctxRate int
	ctxVal  *oto.Context
	ctxErr  error
)

func sharedContext(sampleRate int, buffer time.Duration) (*oto.Context, error) {
	ctxOnce.Do(func() {
		ctxRate = sampleRate
		c, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   buffer,
		})
		if err != nil {
			ctxErr = err
			return
		}
		<-ready
		ctxVal = c
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	if ctxRate != sampleRate {
		return nil, fmt.Errorf("context already opened at %d Hz", ctxRate)
	}
	return ctxVal, nil
}

// Option configures an [Output].
type Option func(*Output)

// WithBufferSize sets the oto hardware buffer duration. Default: 40ms.
func WithBufferSize(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.buffer = d
		}
	}
}

// Output is a speaker device that pulls float samples from an
// [audio.Renderer] whenever oto needs more data.
type Output struct {
	sampleRate int
	buffer     time.Duration

	mu     sync.Mutex
	player *oto.Player
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates an output device at sampleRate. The audio hardware is not
// opened until [Output.Start].
func New(sampleRate int, opts ...Option) *Output {
	o := &Output{sampleRate: sampleRate, buffer: defaultBufferSize}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SampleRate implements [audio.OutputDevice].
func (o *Output) SampleRate() int { return o.sampleRate }

// Start implements [audio.OutputDevice]. Failures are returned as
// [*audio.DeviceError].
func (o *Output) Start(r audio.Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		return &audio.DeviceError{Device: "output", Op: "start", Err: fmt.Errorf("already started")}
	}

	c, err := sharedContext(o.sampleRate, o.buffer)
	if err != nil {
		return &audio.DeviceError{Device: "output", Op: "init", Err: err}
	}
	p := c.NewPlayer(&renderReader{r: r})
	p.Play()
	o.player = p
	o.stop = make(chan struct{})
	o.wg.Add(1)
	go o.watch(p, r, o.stop)
	return nil
}

// watch reports the first player error to r until stop is closed.
func (o *Output) watch(p *oto.Player, r audio.Renderer, stop <-chan struct{}) {
	defer o.wg.Done()
	t := time.NewTicker(errPollInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := p.Err(); err != nil {
				r.OnDeviceError(&audio.DeviceError{Device: "output", Op: "stopped", Err: err})
				return
			}
		}
	}
}

// Close implements [audio.OutputDevice]. Idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	p := o.player
	stop := o.stop
	o.player = nil
	o.stop = nil
	o.mu.Unlock()

	if p == nil {
		return nil
	}
	close(stop)
	o.wg.Wait()
	p.Pause()
	if err := p.Close(); err != nil {
		return fmt.Errorf("oto: close player: %w", err)
	}
	return nil
}

// renderReader adapts a Renderer to the io.Reader oto pulls from. It never
// blocks and never returns EOF: silence is rendered when nothing is queued.
type renderReader struct {
	r       audio.Renderer
	scratch []float32
}

func (rr *renderReader) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}
	if cap(rr.scratch) < n {
		rr.scratch = make([]float32, n)
	}
	rr.scratch = rr.scratch[:n]
	clear(rr.scratch)
	rr.r.Render(rr.scratch)
	for i, s := range rr.scratch {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return n * 4, nil
}
