package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CodecError reports a malformed audio payload. It is recoverable: callers
// drop the offending chunk and continue.
type CodecError struct {
	// Op is the codec operation that failed ("decode").
	Op string

	// Bytes is the length of the rejected payload.
	Bytes int

	// Reason describes what was wrong with the payload.
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("audio: codec %s: %d bytes: %s", e.Op, e.Bytes, e.Reason)
}

// EncodePCM16 converts float samples in [-1, 1] to little-endian int16 PCM.
//
// Out-of-range values are clamped to the nearest boundary and NaN or ±Inf
// encode as silence. Negative values scale by 32768 and positive values by
// 32767 so that both -1 and 1 map onto the full int16 range, and the result
// is rounded half away from zero.
func EncodePCM16(samples []float32) []byte {
	return AppendPCM16(make([]byte, 0, len(samples)*BytesPerSample), samples)
}

// AppendPCM16 appends the PCM16 encoding of samples to dst and returns the
// extended slice.
func AppendPCM16(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(quantize(s)))
	}
	return dst
}

func quantize(s float32) int16 {
	f := float64(s)
	switch {
	case math.IsNaN(f), math.IsInf(f, 0):
		return 0
	case f >= 1:
		return math.MaxInt16
	case f <= -1:
		return math.MinInt16
	case f < 0:
		return int16(math.Round(f * 32768))
	default:
		return int16(math.Round(f * 32767))
	}
}

// DecodePCM16 converts little-endian int16 PCM into float samples in [-1, 1],
// inverting the scaling used by [EncodePCM16].
//
// The result is interleaved when channels > 1. A payload whose length is not a whole number of sample frames fails
// with a [*CodecError], as do non-positive sampleRate or channels values.
func DecodePCM16(data []byte, sampleRate, channels int) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, &CodecError{Op: "decode", Bytes: len(data), Reason: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}
	if channels <= 0 {
		return nil, &CodecError{Op: "decode", Bytes: len(data), Reason: fmt.Sprintf("invalid channel count %d", channels)}
	}
	frameBytes := BytesPerSample * channels
	if len(data)%frameBytes != 0 {
		return nil, &CodecError{
			Op:     "decode",
			Bytes:  len(data),
			Reason: fmt.Sprintf("not a multiple of the %d-byte sample frame", frameBytes),
		}
	}

	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out, nil
}
