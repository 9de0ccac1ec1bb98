package mix

import (
	"math"

	"github.com/satindergrewal/surroundmix/internal/audio"
	"gonum.org/v1/gonum/floats"
)

// PeakCeiling is the maximum absolute sample value of a rendered buffer.
const PeakCeiling = 0.9

// Buffer is an interleaved multichannel render at audio.SampleRate.
type Buffer struct {
	Channels int
	Samples  []float64
}

// Frames returns the per-channel sample count.
func (b Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Channel copies out channel i.
func (b Buffer) Channel(i int) []float64 {
	out := make([]float64, b.Frames())
	for f := range out {
		out[f] = b.Samples[f*b.Channels+i]
	}
	return out
}

// Peak returns the largest absolute sample value.
func (b Buffer) Peak() float64 {
	if len(b.Samples) == 0 {
		return 0
	}
	return math.Max(floats.Max(b.Samples), -floats.Min(b.Samples))
}

// MixChannel sums the sources of one output channel. Absent stems are
// skipped. Each accumulation step truncates to the shorter of the running
// sum and the new source, so a short stem late in the list clips the tail.
// With more than one contributor the sum is divided by sqrt(n).
// It returns nil when nothing contributed.
func MixChannel(stems audio.StemSet, refs []SourceRef) []float64 {
	var mixed []float64
	n := 0
	for _, ref := range refs {
		src, ok := audio.Extract(stems.Get(ref.Stem), ref.Channel)
		if !ok {
			continue
		}
		if mixed == nil {
			floats.Scale(ref.Volume, src)
			mixed = src
		} else {
			l := min(len(mixed), len(src))
			mixed = mixed[:l]
			floats.AddScaled(mixed, ref.Volume, src[:l])
		}
		n++
	}
	if n > 1 {
		floats.Scale(1/math.Sqrt(float64(n)), mixed)
	}
	return mixed
}

// Render mixes every output channel of the channelCount layout, trims them
// to a common length, interleaves them and peak-normalizes the result to
// PeakCeiling. Preview and export both use it, so equal inputs give
// identical buffers.
func Render(stems audio.StemSet, t Topology, channelCount int) (Buffer, error) {
	layout, err := Layout(channelCount)
	if err != nil {
		return Buffer{}, err
	}

	chans := make([][]float64, len(layout))
	frames := -1
	for i, c := range layout {
		m := MixChannel(stems, t.Sources(c))
		if m == nil {
			m = make([]float64, stems.FirstFrames())
		}
		chans[i] = m
		if frames < 0 || len(m) < frames {
			frames = len(m)
		}
	}

	buf := Buffer{Channels: len(layout), Samples: make([]float64, frames*len(layout))}
	for i, ch := range chans {
		for f := 0; f < frames; f++ {
			buf.Samples[f*buf.Channels+i] = ch[f]
		}
	}

	if peak := buf.Peak(); peak > PeakCeiling {
		floats.Scale(PeakCeiling/peak, buf.Samples)
	}
	return buf, nil
}
