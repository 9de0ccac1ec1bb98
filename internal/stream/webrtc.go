package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/surroundmix/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// opusBitrate is generous for a stereo fold-down; audition is local.
const opusBitrate = 128000

// WebRTCHandler negotiates WebRTC sessions that carry the audition as Opus.
type WebRTCHandler struct {
	broadcaster *Broadcaster

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Listener
}

// NewWebRTCHandler creates a WebRTC audition handler.
func NewWebRTCHandler(b *Broadcaster) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		peers:       make(map[*webrtc.PeerConnection]*Listener),
	}
}

// PeerCount returns the number of connected WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := newAuditionPeer()
	if err != nil {
		log.Printf("WebRTC: %v", err)
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}
	<-gatherComplete

	listener := h.broadcaster.Subscribe("webrtc")
	h.mu.Lock()
	h.peers[pc] = listener
	h.mu.Unlock()
	log.Printf("WebRTC audition peer %d connected (total: %d)", listener.ID, h.PeerCount())

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			h.drop(pc)
		}
	})
	go streamOpus(listener, track)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func newAuditionPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"audio",
		"surroundmix-preview",
	)
	if err != nil {
		pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, nil, err
	}
	return pc, track, nil
}

// drop unsubscribes a disconnected peer. Safe to call more than once.
func (h *WebRTCHandler) drop(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	l, ok := h.peers[pc]
	delete(h.peers, pc)
	remaining := len(h.peers)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.broadcaster.Unsubscribe(l)
	pc.Close()
	log.Printf("WebRTC audition peer %d disconnected (remaining: %d, dropped %d frames)", l.ID, remaining, l.Dropped())
}

// Close disconnects every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	pcs := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		pcs = append(pcs, pc)
	}
	h.mu.Unlock()
	for _, pc := range pcs {
		h.drop(pc)
	}
}

func streamOpus(l *Listener, track *webrtc.TrackLocalStaticSample) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC: opus encoder: %v", err)
		return
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		log.Printf("WebRTC: opus bitrate: %v", err)
	}

	buf := make([]byte, 4000)
	for {
		select {
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, buf)
			if err != nil {
				log.Printf("WebRTC: opus encode: %v", err)
				continue
			}
			if err := track.WriteSample(media.Sample{Data: buf[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}
