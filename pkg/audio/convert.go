package audio

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either is non-positive, the input is
// returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1

	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx > last {
			idx = last
		}
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx < last {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
