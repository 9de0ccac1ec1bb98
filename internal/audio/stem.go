package audio

import "fmt"

// StemName identifies one of the fixed separated sources.
type StemName string

const (
	Vocals       StemName = "vocals"
	Bass         StemName = "bass"
	Drums        StemName = "drums"
	Guitar       StemName = "guitar"
	Instrumental StemName = "instrumental"
	Piano        StemName = "piano"
	Other        StemName = "other"
)

// StemNames lists every stem in load order.
var StemNames = []StemName{Vocals, Bass, Drums, Guitar, Instrumental, Piano, Other}

// ParseStemName validates s as a stem identifier.
func ParseStemName(s string) (StemName, error) {
	n := StemName(s)
	if !n.Valid() {
		return "", fmt.Errorf("unknown stem %q", s)
	}
	return n, nil
}

// Valid reports whether n is one of StemNames.
func (n StemName) Valid() bool {
	for _, s := range StemNames {
		if s == n {
			return true
		}
	}
	return false
}

// FileName is the stem's file name inside a stem directory.
func (n StemName) FileName() string {
	return string(n) + ".wav"
}

// Stem is one separated source resampled to SampleRate.
// The zero value (or AbsentStem) means the source file was missing.
type Stem struct {
	Name     StemName
	Channels int
	Samples  []int16 // interleaved

	present bool
}

// NewStem wraps decoded interleaved samples.
func NewStem(name StemName, channels int, samples []int16) Stem {
	return Stem{Name: name, Channels: channels, Samples: samples, present: true}
}

// AbsentStem is the placeholder for a stem whose file does not exist.
func AbsentStem(name StemName) Stem {
	return Stem{Name: name}
}

// Present reports whether the stem was loaded.
func (s Stem) Present() bool {
	return s.present
}

// Frames returns the per-channel sample count.
func (s Stem) Frames() int {
	if !s.present || s.Channels < 1 {
		return 0
	}
	return len(s.Samples) / s.Channels
}

// StemSet holds one slot per stem name for a single track.
type StemSet map[StemName]Stem

// Get returns the stem for name, absent if the slot is empty.
func (ss StemSet) Get(name StemName) Stem {
	if s, ok := ss[name]; ok {
		return s
	}
	return AbsentStem(name)
}

// Available lists the present stems in StemNames order.
func (ss StemSet) Available() []StemName {
	var names []StemName
	for _, n := range StemNames {
		if ss.Get(n).Present() {
			names = append(names, n)
		}
	}
	return names
}

// FirstFrames returns the frame count of the first present stem, or 0.
func (ss StemSet) FirstFrames() int {
	for _, n := range StemNames {
		if s := ss.Get(n); s.Present() {
			return s.Frames()
		}
	}
	return 0
}
