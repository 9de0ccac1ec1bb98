// Package mix holds the surround routing model and the engine that renders
// a track's stems into a multichannel buffer.
package mix

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/satindergrewal/surroundmix/internal/audio"
)

// Channel names one output channel of the surround layout.
type Channel string

const (
	FrontLeft     Channel = "front_left"
	FrontRight    Channel = "front_right"
	Center        Channel = "center"
	LFE           Channel = "lfe"
	SurroundLeft  Channel = "surround_left"
	SurroundRight Channel = "surround_right"
	RearLeft      Channel = "rear_left"
	RearRight     Channel = "rear_right"
)

var labels = map[Channel]string{
	FrontLeft:     "Front Left (L)",
	FrontRight:    "Front Right (R)",
	Center:        "Center (C)",
	LFE:           "Low Frequency (LFE)",
	SurroundLeft:  "Surround Left (LS)",
	SurroundRight: "Surround Right (RS)",
	RearLeft:      "Rear Left (LB)",
	RearRight:     "Rear Right (RB)",
}

// Label is the display name for c.
func (c Channel) Label() string {
	return labels[c]
}

var layouts = map[int][]Channel{
	5: {FrontLeft, FrontRight, Center, LFE, SurroundLeft, SurroundRight},
	7: {FrontLeft, FrontRight, Center, LFE, SurroundLeft, SurroundRight, RearLeft, RearRight},
}

// ErrChannelCount is returned for any channel count other than 5 or 7.
var ErrChannelCount = errors.New("channel count must be 5 or 7")

// ValidChannelCount reports whether n is a supported layout.
func ValidChannelCount(n int) bool {
	_, ok := layouts[n]
	return ok
}

// Layout returns the output channel order for n (5 -> 5.1, 7 -> 7.1).
// The result always has n+1 entries; the extra one is LFE.
func Layout(n int) ([]Channel, error) {
	l, ok := layouts[n]
	if !ok {
		return nil, fmt.Errorf("%w: got %d", ErrChannelCount, n)
	}
	return append([]Channel(nil), l...), nil
}

// Suffix is the output file suffix for a channel count.
func Suffix(n int) string {
	return fmt.Sprintf("_%d.1.flac", n)
}

// SourceRef routes one stem channel into an output channel.
type SourceRef struct {
	Stem    audio.StemName `json:"source"`
	Channel audio.Selector `json:"channel"`
	Volume  float64        `json:"volume"`
}

// Ref builds a unit-volume SourceRef.
func Ref(stem audio.StemName, sel audio.Selector) SourceRef {
	return SourceRef{Stem: stem, Channel: sel, Volume: 1}
}

// UnmarshalJSON defaults a missing volume to 1.0.
func (r *SourceRef) UnmarshalJSON(b []byte) error {
	type plain SourceRef
	p := plain{Volume: 1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = SourceRef(p)
	return nil
}

// Validate checks the stem name, selector and volume.
func (r SourceRef) Validate() error {
	if !r.Stem.Valid() {
		return fmt.Errorf("unknown stem %q", r.Stem)
	}
	if _, err := audio.ParseSelector(string(r.Channel)); err != nil {
		return err
	}
	if r.Volume < 0 || math.IsNaN(r.Volume) || math.IsInf(r.Volume, 0) {
		return fmt.Errorf("volume for %s must be a finite non-negative number, got %v", r.Stem, r.Volume)
	}
	return nil
}

// Topology maps each output channel to an ordered list of sources.
// It is a value: attach copies made with Clone, never shared slices.
type Topology struct {
	ChannelCount int
	Routes       map[Channel][]SourceRef
}

// Sources returns the routing list for c (nil if none).
func (t Topology) Sources(c Channel) []SourceRef {
	return t.Routes[c]
}

// Clone returns a deep copy of t.
func (t Topology) Clone() Topology {
	c := Topology{ChannelCount: t.ChannelCount, Routes: make(map[Channel][]SourceRef, len(t.Routes))}
	for ch, refs := range t.Routes {
		c.Routes[ch] = append([]SourceRef(nil), refs...)
	}
	return c
}

// Validate checks that t fits its layout and that every source is valid.
func (t Topology) Validate() error {
	layout, err := Layout(t.ChannelCount)
	if err != nil {
		return err
	}
	known := make(map[Channel]bool, len(layout))
	for _, c := range layout {
		known[c] = true
	}
	for c, refs := range t.Routes {
		if !known[c] {
			return fmt.Errorf("channel %q is not part of the %d.1 layout", c, t.ChannelCount)
		}
		for _, r := range refs {
			if err := r.Validate(); err != nil {
				return fmt.Errorf("channel %s: %w", c, err)
			}
		}
	}
	return nil
}

type channelJSON struct {
	Channel Channel     `json:"channel"`
	Name    string      `json:"name,omitempty"`
	Sources []SourceRef `json:"sources"`
}

type topologyJSON struct {
	ChannelCount int           `json:"channel_count"`
	Channels     []channelJSON `json:"channels"`
}

// MarshalJSON writes the channels in layout order with display labels.
func (t Topology) MarshalJSON() ([]byte, error) {
	layout, err := Layout(t.ChannelCount)
	if err != nil {
		return nil, err
	}
	out := topologyJSON{ChannelCount: t.ChannelCount}
	for _, c := range layout {
		refs := t.Routes[c]
		if refs == nil {
			refs = []SourceRef{}
		}
		out.Channels = append(out.Channels, channelJSON{Channel: c, Name: c.Label(), Sources: refs})
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the MarshalJSON form. Labels are ignored.
func (t *Topology) UnmarshalJSON(b []byte) error {
	var in topologyJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	t.ChannelCount = in.ChannelCount
	t.Routes = make(map[Channel][]SourceRef, len(in.Channels))
	for _, c := range in.Channels {
		if _, dup := t.Routes[c.Channel]; dup {
			return fmt.Errorf("channel %q listed twice", c.Channel)
		}
		t.Routes[c.Channel] = append([]SourceRef{}, c.Sources...)
	}
	return nil
}
