// Package malgo implements [audio.InputDevice] and [audio.OutputDevice] on top
// of miniaudio via github.com/gen2brain/malgo.
//
// Both devices exchange 32-bit float mono samples with miniaudio so that no
// integer conversion happens on the device thread; PCM16 encoding is done by
// the capture pipeline. A single [Context] may back any number of devices.
package malgo

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	mal "github.com/gen2brain/malgo"

	"github.com/Sangini-spec/InterVue-X/pkg/audio"
)

var (
	_ audio.InputDevice  = (*Input)(nil)
	_ audio.OutputDevice = (*Output)(nil)
)

const defaultPeriod = 20 // milliseconds

// Context owns the miniaudio context shared by devices.
type Context struct {
	ctx *mal.AllocatedContext

	closeOnce sync.Once
}

// NewContext initialises miniaudio with the default backend list.
func NewContext() (*Context, error) {
	cfg := mal.ContextConfig{}
	cfg.ThreadPriority = mal.ThreadPriorityRealtime

	ctx, err := mal.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Close releases the miniaudio context. Devices created from it must be
// closed first. Idempotent.
func (c *Context) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ctx.Uninit()
		c.ctx.Free()
	})
	return err
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures an [Input] or [Output].
type Option func(*deviceOptions)

type deviceOptions struct {
	periodMs uint32
}

// WithPeriod sets the device callback period in milliseconds. Default: 20.
func WithPeriod(ms int) Option {
	return func(o *deviceOptions) {
		if ms > 0 {
			o.periodMs = uint32(ms)
		}
	}
}

func buildOptions(opts []Option) deviceOptions {
	o := deviceOptions{periodMs: defaultPeriod}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ── Input ──────────────────────────────────────────────────────────────────────

// Input is a microphone device delivering mono float samples.
type Input struct {
	ctx        *Context
	sampleRate int
	opts       deviceOptions

	mu      sync.Mutex
	dev     *mal.Device
	closing bool
}

// NewInput creates a microphone device at sampleRate. The hardware is not
// touched until [Input.Start].
func NewInput(ctx *Context, sampleRate int, opts ...Option) *Input {
	return &Input{ctx: ctx, sampleRate: sampleRate, opts: buildOptions(opts)}
}

// SampleRate implements [audio.InputDevice].
func (in *Input) SampleRate() int { return in.sampleRate }

// Start implements [audio.InputDevice]. Failures are returned as
// [*audio.DeviceError].
func (in *Input) Start(sink audio.CaptureSink) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.dev != nil {
		return &audio.DeviceError{Device: "input", Op: "start", Err: fmt.Errorf("already started")}
	}

	cfg := mal.DefaultDeviceConfig(mal.Capture)
	cfg.Capture.Format = mal.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(in.sampleRate)
	cfg.PeriodSizeInMilliseconds = in.opts.periodMs

	var scratch []float32
	callbacks := mal.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount)
			if cap(scratch) < n {
				scratch = make([]float32, n)
			}
			scratch = scratch[:n]
			decodeF32(scratch, pInput)
			sink.OnSamples(scratch)
		},
		Stop: func() {
			in.mu.Lock()
			closing := in.closing
			in.mu.Unlock()
			if !closing {
				sink.OnDeviceError(&audio.DeviceError{Device: "input", Op: "stopped"})
			}
		},
	}

	dev, err := mal.InitDevice(in.ctx.ctx.Context, cfg, callbacks)
	if err != nil {
		return &audio.DeviceError{Device: "input", Op: "init", Err: err}
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return &audio.DeviceError{Device: "input", Op: "start", Err: err}
	}
	in.dev = dev
	in.closing = false
	return nil
}

// Close implements [audio.InputDevice]. Idempotent.
func (in *Input) Close() error {
	in.mu.Lock()
	dev := in.dev
	in.dev = nil
	in.closing = true
	in.mu.Unlock()

	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	if err != nil {
		return fmt.Errorf("malgo: stop input: %w", err)
	}
	return nil
}

// ── Output ─────────────────────────────────────────────────────────────────────

// Output is a speaker device that pulls mono float samples from a renderer.
type Output struct {
	ctx        *Context
	sampleRate int
	opts       deviceOptions

	mu      sync.Mutex
	dev     *mal.Device
	closing bool
}

// NewOutput creates a speaker device at sampleRate. The hardware is not
// touched until [Output.Start].
func NewOutput(ctx *Context, sampleRate int, opts ...Option) *Output {
	return &Output{ctx: ctx, sampleRate: sampleRate, opts: buildOptions(opts)}
}

// SampleRate implements [audio.OutputDevice].
func (o *Output) SampleRate() int { return o.sampleRate }

// Start implements [audio.OutputDevice]. Failures are returned as
// [*audio.DeviceError].
func (o *Output) Start(r audio.Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dev != nil {
		return &audio.DeviceError{Device: "output", Op: "start", Err: fmt.Errorf("already started")}
	}

	cfg := mal.DefaultDeviceConfig(mal.Playback)
	cfg.Playback.Format = mal.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(o.sampleRate)
	cfg.PeriodSizeInMilliseconds = o.opts.periodMs

	var scratch []float32
	callbacks := mal.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			n := int(frameCount)
			if cap(scratch) < n {
				scratch = make([]float32, n)
			}
			scratch = scratch[:n]
			r.Render(scratch)
			encodeF32(pOutput, scratch)
		},
		Stop: func() {
			o.mu.Lock()
			closing := o.closing
			o.mu.Unlock()
			if !closing {
				r.OnDeviceError(&audio.DeviceError{Device: "output", Op: "stopped"})
			}
		},
	}

	dev, err := mal.InitDevice(o.ctx.ctx.Context, cfg, callbacks)
	if err != nil {
		return &audio.DeviceError{Device: "output", Op: "init", Err: err}
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return &audio.DeviceError{Device: "output", Op: "start", Err: err}
	}
	o.dev = dev
	o.closing = false
	return nil
}

// Close implements [audio.OutputDevice]. Idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	dev := o.dev
	o.dev = nil
	o.closing = true
	o.mu.Unlock()

	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	if err != nil {
		return fmt.Errorf("malgo: stop output: %w", err)
	}
	return nil
}

// ── Sample helpers ─────────────────────────────────────────────────────────────

// decodeF32 fills dst from little-endian float32 bytes in src.
func decodeF32(dst []float32, src []byte) {
	for i := range dst {
		if (i+1)*4 > len(src) {
			clear(dst[i:])
			return
		}
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}

// encodeF32 writes samples into dst as little-endian float32 bytes.
func encodeF32(dst []byte, samples []float32) {
	for i, s := range samples {
		if (i+1)*4 > len(dst) {
			return
		}
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}
