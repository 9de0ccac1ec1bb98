package mix

import "github.com/satindergrewal/surroundmix/internal/audio"

// Default returns a fresh copy of the built-in routing for n channels.
func Default(n int) (Topology, error) {
	if _, err := Layout(n); err != nil {
		return Topology{}, err
	}
	if n == 7 {
		return default71(), nil
	}
	return default51(), nil
}

// front returns the routes shared by both layouts.
func front() map[Channel][]SourceRef {
	return map[Channel][]SourceRef{
		FrontLeft:  {Ref(audio.Drums, audio.Left)},
		FrontRight: {Ref(audio.Drums, audio.Right)},
		Center:     {Ref(audio.Vocals, audio.Mono)},
		LFE:        {Ref(audio.Bass, audio.Mono)},
	}
}

func default51() Topology {
	r := front()
	r[SurroundLeft] = []SourceRef{
		Ref(audio.Piano, audio.Left),
		Ref(audio.Guitar, audio.Left),
		Ref(audio.Instrumental, audio.Left),
		Ref(audio.Other, audio.Left),
		Ref(audio.Vocals, audio.Left),
	}
	r[SurroundRight] = []SourceRef{
		Ref(audio.Piano, audio.Right),
		Ref(audio.Guitar, audio.Right),
		Ref(audio.Instrumental, audio.Right),
		Ref(audio.Other, audio.Right),
		Ref(audio.Vocals, audio.Right),
	}
	return Topology{ChannelCount: 5, Routes: r}
}

func default71() Topology {
	r := front()
	r[SurroundLeft] = []SourceRef{
		Ref(audio.Instrumental, audio.Left),
		Ref(audio.Piano, audio.Left),
		Ref(audio.Vocals, audio.Left),
	}
	r[SurroundRight] = []SourceRef{
		Ref(audio.Instrumental, audio.Right),
		Ref(audio.Piano, audio.Right),
		Ref(audio.Vocals, audio.Right),
	}
	r[RearLeft] = []SourceRef{
		Ref(audio.Guitar, audio.Left),
		Ref(audio.Other, audio.Left),
		Ref(audio.Instrumental, audio.Left),
		Ref(audio.Vocals, audio.Left),
	}
	r[RearRight] = []SourceRef{
		Ref(audio.Guitar, audio.Right),
		Ref(audio.Other, audio.Right),
		Ref(audio.Instrumental, audio.Right),
		Ref(audio.Vocals, audio.Right),
	}
	return Topology{ChannelCount: 7, Routes: r}
}
