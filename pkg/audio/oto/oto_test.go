package oto

import (
	"encoding/binary"
	"math"
	"testing"
)

type rampRenderer struct{ calls int }

func (r *rampRenderer) Render(out []float32) {
	r.calls++
	for i := range out {
		out[i] = float32(i) / 10
	}
}

func (r *rampRenderer) OnDeviceError(error) {}

func TestRenderReader_EncodesFloat32LE(t *testing.T) {
	t.Parallel()

	r := &rampRenderer{}
	rr := &renderReader{r: r}
	buf := make([]byte, 4*4+3) // trailing partial sample is left untouched
	n, err := rr.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 16 {
		t.Fatalf("n = %d, want 16", n)
	}
	for i := 0; i < 4; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		if want := float32(i) / 10; got != want {
			t.Errorf("sample %d = %v, want %v", i, got, want)
		}
	}
	if r.calls != 1 {
		t.Errorf("Render calls = %d, want 1", r.calls)
	}
}

func TestRenderReader_TinyBuffer(t *testing.T) {
	t.Parallel()

	r := &rampRenderer{}
	rr := &renderReader{r: r}
	n, err := rr.Read(make([]byte, 3))
	if n != 0 || err != nil {
		t.Errorf("Read = (%d, %v), want (0, nil)", n, err)
	}
	if r.calls != 0 {
		t.Errorf("Render should not be called for a sub-sample buffer")
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	o := New(24000, WithBufferSize(0))
	if o.buffer != defaultBufferSize {
		t.Errorf("buffer = %v, want default", o.buffer)
	}
	if o.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d, want 24000", o.SampleRate())
	}
	if err := o.Close(); err != nil {
		t.Errorf("Close before Start: %v", err)
	}
}
