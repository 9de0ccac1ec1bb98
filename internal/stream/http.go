package stream

import (
	"context"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/surroundmix/internal/audio"
)

// HTTPHandler serves the audition as a chunked MP3 stream. Each connection
// runs its own ffmpeg encoder fed from a broadcaster listener.
type HTTPHandler struct {
	broadcaster *Broadcaster
	ffmpeg      string
}

// NewHTTPHandler creates an MP3 stream handler using the given ffmpeg binary.
func NewHTTPHandler(b *Broadcaster, ffmpeg string) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, ffmpeg: ffmpeg}
}

// mp3Args encodes raw audition PCM on stdin to low-latency MP3 on stdout.
func mp3Args() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpeg, mp3Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Printf("Audition stream: stdin pipe: %v", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("Audition stream: stdout pipe: %v", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Audition stream: start %s: %v", h.ffmpeg, err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "surroundmix preview")

	listener := h.broadcaster.Subscribe("http")
	defer h.broadcaster.Unsubscribe(listener)
	log.Printf("Audition HTTP listener %d connected (total: %d)", listener.ID, h.broadcaster.ListenerCount())
	defer func() {
		log.Printf("Audition HTTP listener %d disconnected (dropped %d frames)", listener.ID, listener.Dropped())
	}()

	go func() {
		defer stdin.Close()
		pump(ctx, listener, stdin)
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("Audition stream: ffmpeg read: %v", err)
			}
			break
		}
	}
	cancel()
	cmd.Wait()
}

// pump writes the listener's frames to w as s16le PCM until ctx ends, the
// listener is unsubscribed, or a write fails.
func pump(ctx context.Context, l *Listener, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
