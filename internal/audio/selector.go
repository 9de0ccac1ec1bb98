package audio

import "fmt"

// Selector picks which channel of a stem feeds an output channel.
type Selector string

const (
	Mono  Selector = "mono"
	Left  Selector = "left"
	Right Selector = "right"
)

// ParseSelector validates s as a channel selector.
func ParseSelector(s string) (Selector, error) {
	switch sel := Selector(s); sel {
	case Mono, Left, Right:
		return sel, nil
	}
	return "", fmt.Errorf("unknown channel selector %q", s)
}

// Extract returns the selected channel of s scaled to [-1, 1].
// ok is false when the stem is absent.
//
// Mono averages all channels with equal weight. Left and Right fall back
// to the single channel of a mono stem.
func Extract(s Stem, sel Selector) (samples []float64, ok bool) {
	if !s.Present() {
		return nil, false
	}
	ch := s.Channels
	if ch < 1 {
		ch = 1
	}
	frames := len(s.Samples) / ch
	out := make([]float64, frames)

	if ch == 1 {
		for i, v := range s.Samples[:frames] {
			out[i] = float64(v) / FullScale
		}
		return out, true
	}

	switch sel {
	case Left, Right:
		off := 0
		if sel == Right {
			off = 1
		}
		for i := range out {
			out[i] = float64(s.Samples[i*ch+off]) / FullScale
		}
	default:
		for i := range out {
			var sum int
			for c := 0; c < ch; c++ {
				sum += int(s.Samples[i*ch+c])
			}
			out[i] = float64(sum) / float64(ch) / FullScale
		}
	}
	return out, true
}
