package audio

import (
	"context"
	"log"
	"sync"
	"time"
)

// Player loops the latest rendered preview at real-time rate so listeners
// can audition it. A new clip crossfades in from the one playing.
type Player struct {
	clipCh       chan Clip
	frameCh      chan []int16
	stopCh       chan struct{}
	crossfadeDur time.Duration

	mu       sync.RWMutex
	current  string
	position time.Duration
	duration time.Duration
}

// NewPlayer creates an audition player with the given crossfade duration.
func NewPlayer(crossfadeDuration time.Duration) *Player {
	return &Player{
		clipCh:       make(chan Clip, 1),
		frameCh:      make(chan []int16, 100),
		stopCh:       make(chan struct{}, 1),
		crossfadeDur: crossfadeDuration,
	}
}

// Frames returns the channel of outgoing stereo PCM frames (20ms each).
func (p *Player) Frames() <-chan []int16 {
	return p.frameCh
}

// Play replaces whatever is waiting to play with c. Only the newest
// preview matters, so an unconsumed older clip is discarded.
func (p *Player) Play(c Clip) {
	for {
		select {
		case p.clipCh <- c:
			return
		default:
			select {
			case old := <-p.clipCh:
				log.Printf("Audition: dropping stale preview %s", old.Name)
			default:
			}
		}
	}
}

// Stop silences playback until the next Play.
func (p *Player) Stop() {
	select {
	case p.stopCh <- struct{}{}:
	default:
	}
}

// CrossfadeDuration returns the configured crossfade length.
func (p *Player) CrossfadeDuration() time.Duration {
	return p.crossfadeDur
}

// Status returns the clip being auditioned and the loop position.
func (p *Player) Status() (name string, position, duration time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.position, p.duration
}

// Run starts playback. Blocks until ctx is cancelled.
func (p *Player) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	var (
		cur  Clip
		pos  int
		xf   *fade
		have bool
	)
	fadeFrames := int(p.crossfadeDur / FrameDuration)

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-p.clipCh:
			if c.Frames() == 0 {
				log.Printf("Audition: preview %s is shorter than one frame, ignoring", c.Name)
				continue
			}
			if have && fadeFrames > 0 {
				xf = &fade{from: cur, pos: pos, steps: fadeFrames}
			}
			cur, pos, have = c, 0, true
			p.setClip(c)
			log.Printf("Audition: now playing %s (%d frames)", c.Name, c.Frames())
		case <-p.stopCh:
			have, xf = false, nil
			p.setClip(Clip{})
			log.Println("Audition stopped")
		case <-ticker.C:
			if !have {
				continue
			}
			frame := cur.frame(pos)
			if xf != nil {
				var more bool
				frame, more = xf.mix(frame)
				if !more {
					xf = nil
				}
			}
			select {
			case p.frameCh <- frame:
			case <-ctx.Done():
				return
			}
			pos = (pos + 1) % cur.Frames()
			p.updatePosition(pos)
		}
	}
}

func (p *Player) setClip(c Clip) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = c.Name
	p.position = 0
	p.duration = time.Duration(c.Frames()) * FrameDuration
}

func (p *Player) updatePosition(frameIdx int) {
	p.mu.Lock()
	p.position = time.Duration(frameIdx) * FrameDuration
	p.mu.Unlock()
}
