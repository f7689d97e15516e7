package malgo

import "testing"

func TestF32RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.25, 1, -1}
	buf := make([]byte, len(in)*4)
	encodeF32(buf, in)

	out := make([]float32, len(in))
	decodeF32(out, buf)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeF32_ShortBufferZeroFills(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 4)
	encodeF32(buf, []float32{0.75})

	out := []float32{9, 9, 9}
	decodeF32(out, buf)
	if out[0] != 0.75 || out[1] != 0 || out[2] != 0 {
		t.Errorf("decodeF32 = %v, want [0.75 0 0]", out)
	}
}

func TestWithPeriod(t *testing.T) {
	t.Parallel()

	if got := buildOptions(nil).periodMs; got != defaultPeriod {
		t.Errorf("default period = %d, want %d", got, defaultPeriod)
	}
	if got := buildOptions([]Option{WithPeriod(10)}).periodMs; got != 10 {
		t.Errorf("period = %d, want 10", got)
	}
	if got := buildOptions([]Option{WithPeriod(-1)}).periodMs; got != defaultPeriod {
		t.Errorf("negative period should be ignored, got %d", got)
	}
}
