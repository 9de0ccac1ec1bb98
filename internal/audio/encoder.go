package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Quantize converts [-1, 1] float samples to int16, clipping out-of-range values.
func Quantize(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		q := math.Round(v * FullScale)
		if q > math.MaxInt16 {
			q = math.MaxInt16
		} else if q < math.MinInt16 {
			q = math.MinInt16
		}
		out[i] = int16(q)
	}
	return out
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// WriteWAV writes interleaved float samples as a 16-bit 48kHz WAV.
func (f *Files) WriteWAV(path string, samples []float64, channels int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav %s: %w", path, err)
	}

	q := Quantize(samples)
	data := make([]int, len(q))
	for i, v := range q {
		data[i] = int(v)
	}

	enc := wav.NewEncoder(out, SampleRate, BitDepth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		out.Close()
		return fmt.Errorf("write wav %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finalize wav %s: %w", path, err)
	}
	return out.Close()
}

// WriteFLAC encodes interleaved float samples to a 16-bit 48kHz FLAC via
// ffmpeg. The file appears at path only once encoding has succeeded.
func (f *Files) WriteFLAC(path string, samples []float64, channels int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	part := path + ".part"
	cmd := exec.Command(f.FFmpeg,
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ch_layout", ChannelLayout(channels),
		"-i", "pipe:0",
		"-c:a", "flac",
		"-f", "flac",
		"-loglevel", "error",
		part,
	)
	cmd.Stdin = bytes.NewReader(SamplesToBytes(Quantize(samples)))

	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(part)
		return fmt.Errorf("ffmpeg encode %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return fmt.Errorf("rename %s: %w", part, err)
	}
	return nil
}

// ChannelLayout names the ffmpeg layout for a channel count.
func ChannelLayout(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	case 6:
		return "5.1"
	case 8:
		return "7.1"
	}
	return strconv.Itoa(channels) + "c"
}
