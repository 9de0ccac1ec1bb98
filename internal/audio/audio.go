package audio

import "time"

const (
	SampleRate = 48000
	BitDepth   = 16
	FullScale  = 32768.0 // 16-bit PCM divisor

	// Audition playback is a stereo fold-down streamed in 20ms frames.
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	Channels      = 2                    // audition channels
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Clip is a stereo interleaved int16 buffer queued for audition.
type Clip struct {
	Name    string
	Samples []int16
}

// Frames returns the number of whole 20ms frames in the clip.
func (c Clip) Frames() int {
	return len(c.Samples) / FrameSamples
}

// frame returns frame i, wrapping around the end of the clip.
func (c Clip) frame(i int) []int16 {
	n := c.Frames()
	i %= n
	return c.Samples[i*FrameSamples : (i+1)*FrameSamples]
}
