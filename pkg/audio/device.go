package audio

import "fmt"

// CaptureSink receives microphone samples from an [InputDevice].
//
// OnSamples is called from the device's own callback thread and must not
// block. The slice is only valid for the duration of the call.
type CaptureSink interface {
	OnSamples(samples []float32)

	// OnDeviceError reports that the device stopped delivering audio, for
	// example because it was unplugged or revoked. It is fatal for the session.
	OnDeviceError(err error)
}

// InputDevice is a microphone. Start acquires the device and begins delivering
// mono samples to sink; Close releases it. Close is idempotent, and a closed
// device may be started again.
type InputDevice interface {
	Start(sink CaptureSink) error
	SampleRate() int
	Close() error
}

// Renderer fills out with the next len(out) mono samples to be played. It is
// called from the output device's callback thread and must not block.
type Renderer interface {
	Render(out []float32)

	// OnDeviceError reports that the speaker stopped pulling samples, for
	// example because it was unplugged or revoked. It is fatal for the session.
	OnDeviceError(err error)
}

// OutputDevice is a speaker that pulls samples from a [Renderer]. The device's
// consumption of samples is the output clock for scheduling. Close is
// idempotent, and a closed device may be started again.
type OutputDevice interface {
	Start(r Renderer) error
	SampleRate() int
	Close() error
}

// DeviceError reports that an audio device could not be acquired or was lost
// mid-session. It is fatal for the session that owns the device.
type DeviceError struct {
	// Device names the device kind ("input" or "output").
	Device string

	// Op is the operation that failed ("init", "start", "stopped").
	Op string

	Err error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audio: %s device: %s", e.Device, e.Op)
	}
	return fmt.Sprintf("audio: %s device: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
