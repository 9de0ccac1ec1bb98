package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1]: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// CrossfadeFrames blends an outgoing frame with an incoming frame at the given
// progress (0.0 = all outgoing, 1.0 = all incoming) along a smoothstep curve.
// Both frames must have the same length.
func CrossfadeFrames(outgoing, incoming []int16, progress float64) []int16 {
	gain := Smoothstep(progress)
	result := make([]int16, len(outgoing))

	for i := range outgoing {
		mixed := float64(outgoing[i])*(1-gain) + float64(incoming[i])*gain
		if mixed > 32767 {
			mixed = 32767
		} else if mixed < -32768 {
			mixed = -32768
		}
		result[i] = int16(mixed)
	}
	return result
}

// fade tracks an in-progress crossfade from the clip that was playing when
// a new preview arrived.
type fade struct {
	from  Clip
	pos   int // frame index in from
	step  int
	steps int
}

// mix blends the next outgoing frame into incoming and advances the fade.
// It returns false once the fade has completed.
func (f *fade) mix(incoming []int16) ([]int16, bool) {
	if f.step >= f.steps || f.from.Frames() == 0 {
		return incoming, false
	}
	out := CrossfadeFrames(f.from.frame(f.pos), incoming, float64(f.step)/float64(f.steps))
	f.pos++
	f.step++
	return out, f.step < f.steps
}
