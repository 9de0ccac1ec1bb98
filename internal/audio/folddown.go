package audio

import "math"

const minus3dB = math.Sqrt2 / 2

// FoldDown mixes an interleaved surround buffer (front L/R, center, LFE,
// then side/rear pairs) to stereo int16 for audition. LFE is dropped.
func FoldDown(samples []float64, channels int) []int16 {
	if channels < 1 {
		return nil
	}
	frames := len(samples) / channels
	out := make([]float64, frames*2)

	if channels <= 2 {
		for i := 0; i < frames; i++ {
			l := samples[i*channels]
			r := l
			if channels == 2 {
				r = samples[i*channels+1]
			}
			out[i*2], out[i*2+1] = l, r
		}
		return Quantize(out)
	}

	// Channel index -> (left gain, right gain).
	gains := make([][2]float64, channels)
	gains[0] = [2]float64{1, 0}
	gains[1] = [2]float64{0, 1}
	gains[2] = [2]float64{minus3dB, minus3dB}
	for c := 4; c+1 < channels; c += 2 {
		gains[c] = [2]float64{minus3dB, 0}
		gains[c+1] = [2]float64{0, minus3dB}
	}
	var norm float64
	for _, g := range gains {
		norm += g[0]
	}

	for i := 0; i < frames; i++ {
		var l, r float64
		for c := 0; c < channels; c++ {
			v := samples[i*channels+c]
			l += v * gains[c][0]
			r += v * gains[c][1]
		}
		out[i*2], out[i*2+1] = l/norm, r/norm
	}
	return Quantize(out)
}
