// Package audio holds the sample-level building blocks shared by the capture
// and playback paths of an interview session.
//
// Samples inside the process are mono float32 values in [-1, 1]. On the wire
// they travel as 16-bit little-endian signed PCM. [EncodePCM16] and
// [DecodePCM16] convert between the two; both are pure functions and safe for
// concurrent use on independent inputs.
//
// Device backends (microphone, speaker) implement [InputDevice] and
// [OutputDevice] and live in sub-packages (audio/malgo, audio/oto) so that
// callers and tests never depend on cgo audio libraries directly.
package audio

import "time"

const (
	// CaptureSampleRate is the outbound wire rate expected by the remote agent.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of synthesised agent speech.
	PlaybackSampleRate = 24000

	// DefaultFrameSamples is the capture frame size: 2048 samples at 16 kHz is 128ms.
	DefaultFrameSamples = 2048

	// BytesPerSample is the width of one PCM16 sample on the wire.
	BytesPerSample = 2
)

// Frame is a fixed-duration chunk of captured, encoded microphone audio.
// A Frame is immutable once produced: it is created by the capture pipeline,
// handed to the transport exactly once and then discarded.
type Frame struct {
	// Data is PCM16 little-endian mono audio.
	Data []byte

	// SampleRate in Hz of Data.
	SampleRate int

	// Seq is the capture order of this frame within its session, starting at 1.
	Seq uint64

	// Timestamp is the capture position of the first sample relative to the
	// start of capture.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Data)/BytesPerSample, f.SampleRate)
}

// SamplesDuration converts a sample count at sampleRate into a duration.
// It returns 0 for a non-positive sampleRate.
func SamplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}
