// Package mock provides in-memory implementations of [audio.InputDevice] and
// [audio.OutputDevice] for use in unit tests.
//
// Both mocks are safe for concurrent use. They record every Start and Close
// call and expose exported fields that the test sets to control results.
// Audio flow is driven explicitly by the test:
//
//	mic := &mock.InputDevice{Rate: audio.CaptureSampleRate}
//	_ = mic.Start(sink)
//	mic.Emit(make([]float32, 2048)) // delivered to sink.OnSamples
//
//	spk := &mock.OutputDevice{Rate: audio.PlaybackSampleRate}
//	_ = spk.Start(renderer)
//	rendered := spk.Pump(480) // pulls 20ms from the renderer
package mock

import (
	"sync"

	"github.com/Sangini-spec/InterVue-X/pkg/audio"
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock microphone.
type InputDevice struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Defaults to [audio.CaptureSampleRate].
	Rate int

	// StartErr is returned by Start when non-nil; the device stays stopped.
	StartErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	sink    audio.CaptureSink
	running bool
}

var _ audio.InputDevice = (*InputDevice)(nil)

// Start records the call and, unless StartErr is set, begins routing Emit
// calls to sink.
func (d *InputDevice) Start(sink audio.CaptureSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.sink = sink
	d.running = true
	return nil
}

// SampleRate returns Rate or [audio.CaptureSampleRate] when unset.
func (d *InputDevice) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Rate == 0 {
		return audio.CaptureSampleRate
	}
	return d.Rate
}

// Close records the call and stops routing samples.
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.running = false
	d.sink = nil
	return d.CloseErr
}

// Running reports whether the device has been started and not closed.
func (d *InputDevice) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Emit delivers samples to the sink as if the device callback fired.
// It is a no-op while the device is not running.
func (d *InputDevice) Emit(samples []float32) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink.OnSamples(samples)
	}
}

// Fail reports err to the sink as a device loss.
func (d *InputDevice) Fail(err error) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink.OnDeviceError(err)
	}
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock speaker whose callback is driven by [OutputDevice.Pump].
type OutputDevice struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Defaults to [audio.PlaybackSampleRate].
	Rate int

	// StartErr is returned by Start when non-nil; the device stays stopped.
	StartErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	renderer audio.Renderer
}

var _ audio.OutputDevice = (*OutputDevice)(nil)

// Start records the call and, unless StartErr is set, attaches r.
func (d *OutputDevice) Start(r audio.Renderer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.renderer = r
	return nil
}

// SampleRate returns Rate or [audio.PlaybackSampleRate] when unset.
func (d *OutputDevice) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Rate == 0 {
		return audio.PlaybackSampleRate
	}
	return d.Rate
}

// Close records the call and detaches the renderer.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.renderer = nil
	return d.CloseErr
}

// Fail reports err to the attached renderer as a device loss, as if the
// speaker had been unplugged.
func (d *OutputDevice) Fail(err error) {
	d.mu.Lock()
	r := d.renderer
	d.mu.Unlock()
	if r != nil {
		r.OnDeviceError(err)
	}
}

// Pump pulls n samples from the attached renderer, as the device callback
// would, and returns them. It returns silence when no renderer is attached.
func (d *OutputDevice) Pump(n int) []float32 {
	d.mu.Lock()
	r := d.renderer
	d.mu.Unlock()
	out := make([]float32, n)
	if r != nil {
		r.Render(out)
	}
	return out
}
