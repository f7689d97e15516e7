package audio_test

import (
	"math"
	"testing"

	"github.com/Sangini-spec/InterVue-X/pkg/audio"
)

func TestResampleMono_SameRate(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2, 0.3}
	got := audio.ResampleMono(in, 16000, 16000)
	if len(got) != len(in) || &got[0] != &in[0] {
		t.Error("same-rate resample should return the input")
	}
}

func TestResampleMono_Upsample(t *testing.T) {
	t.Parallel()
	in := make([]float32, 160) // 10ms at 16 kHz
	for i := range in {
		in[i] = float32(i) / 160
	}
	got := audio.ResampleMono(in, 16000, 24000)
	if len(got) != 240 {
		t.Fatalf("len = %d, want 240", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("ramp not monotonic at %d: %v < %v", i, got[i], got[i-1])
		}
	}
	if got[0] != 0 {
		t.Errorf("first sample = %v, want 0", got[0])
	}
}

func TestResampleMono_Downsample(t *testing.T) {
	t.Parallel()
	in := make([]float32, 480)
	for i := range in {
		in[i] = 0.5
	}
	got := audio.ResampleMono(in, 48000, 16000)
	if len(got) != 160 {
		t.Fatalf("len = %d, want 160", len(got))
	}
	for i, s := range got {
		if math.Abs(float64(s-0.5)) > 1e-6 {
			t.Fatalf("sample %d = %v, want 0.5", i, s)
		}
	}
}

func TestSamplesDuration(t *testing.T) {
	t.Parallel()
	if got := audio.SamplesDuration(audio.DefaultFrameSamples, audio.CaptureSampleRate); got.Milliseconds() != 128 {
		t.Errorf("frame duration = %v, want 128ms", got)
	}
	if got := audio.SamplesDuration(100, 0); got != 0 {
		t.Errorf("zero rate duration = %v, want 0", got)
	}
}
