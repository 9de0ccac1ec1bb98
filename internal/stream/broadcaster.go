// Package stream serves the preview audition to browsers, as chunked MP3
// over HTTP or as Opus over WebRTC.
package stream

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// listenerBuffer is ~0.5s of 20ms frames. Audition favours latency over
// smoothness, so a slow listener starts dropping early.
const listenerBuffer = 25

// Broadcaster fans audition frames from the player out to every listener.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	nextID    int
	frames    atomic.Uint64
}

// Listener receives frames from the broadcaster.
type Listener struct {
	ID        int
	Kind      string       // "http" or "webrtc"
	C         chan []int16 // interleaved stereo, one 20ms frame per item
	done      chan struct{}
	once      sync.Once
	dropped   atomic.Uint64
	connected time.Time
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped is the number of frames skipped because the listener lagged.
func (l *Listener) Dropped() uint64 {
	return l.dropped.Load()
}

// NewBroadcaster creates a broadcaster with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[*Listener]struct{})}
}

// Subscribe registers a listener of the given kind.
func (b *Broadcaster) Subscribe(kind string) *Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	l := &Listener{
		ID:        b.nextID,
		Kind:      kind,
		C:         make(chan []int16, listenerBuffer),
		done:      make(chan struct{}),
		connected: time.Now(),
	}
	b.listeners[l] = struct{}{}
	return l
}

// Unsubscribe removes l and closes its Done channel. Repeated calls are no-ops.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// ListenerStats describes one connected listener.
type ListenerStats struct {
	ID        int     `json:"id"`
	Kind      string  `json:"kind"`
	Dropped   uint64  `json:"dropped_frames"`
	Connected float64 `json:"connected_seconds"`
}

// Stats is a snapshot of the broadcaster.
type Stats struct {
	Frames    uint64          `json:"frames"`
	Listeners []ListenerStats `json:"listeners"`
}

// Stats returns the frame count and per-listener state, ordered by ID.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Stats{Frames: b.frames.Load(), Listeners: make([]ListenerStats, 0, len(b.listeners))}
	for l := range b.listeners {
		s.Listeners = append(s.Listeners, ListenerStats{
			ID:        l.ID,
			Kind:      l.Kind,
			Dropped:   l.Dropped(),
			Connected: time.Since(l.connected).Seconds(),
		})
	}
	slices.SortFunc(s.Listeners, func(a, b ListenerStats) int { return cmp.Compare(a.ID, b.ID) })
	return s
}

// Run reads frames from source and fans them out until ctx is done or
// source is closed. A full listener loses the frame instead of blocking.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.frames.Add(1)
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
