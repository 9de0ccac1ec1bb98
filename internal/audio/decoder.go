package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/go-audio/wav"
)

// Files is the file-system side of the mixer: it loads stem WAVs and
// writes rendered buffers. ffmpeg handles resampling and FLAC encoding.
type Files struct {
	FFmpeg string
}

// NewFiles creates a Files using the given ffmpeg binary.
func NewFiles(ffmpeg string) *Files {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Files{FFmpeg: ffmpeg}
}

// LoadStems reads every <stem>.wav in dir. Missing files become absent
// stems; unreadable files are errors.
func (f *Files) LoadStems(dir string) (StemSet, error) {
	set := make(StemSet, len(StemNames))
	for _, name := range StemNames {
		path := filepath.Join(dir, name.FileName())
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
			log.Printf("Stem missing: %s", path)
			set[name] = AbsentStem(name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat stem %s: %w", path, err)
		}

		stem, err := f.LoadStem(path, name)
		if err != nil {
			return nil, err
		}
		log.Printf("Loaded stem: %s (%d ch, %d frames)", path, stem.Channels, stem.Frames())
		set[name] = stem
	}
	return set, nil
}

// LoadStem decodes one WAV file. 16-bit 48kHz files are read directly;
// anything else goes through ffmpeg to reach 16-bit 48kHz.
func (f *Files) LoadStem(path string, name StemName) (Stem, error) {
	file, err := os.Open(path)
	if err != nil {
		return Stem{}, fmt.Errorf("open stem %s: %w", path, err)
	}
	defer file.Close()

	d := wav.NewDecoder(file)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return Stem{}, fmt.Errorf("read wav header %s: %w", path, err)
	}
	channels := int(d.NumChans)
	if channels < 1 {
		return Stem{}, fmt.Errorf("wav %s: no channels", path)
	}

	if d.SampleRate == SampleRate && d.BitDepth == BitDepth {
		buf, err := d.FullPCMBuffer()
		if err != nil {
			return Stem{}, fmt.Errorf("decode wav %s: %w", path, err)
		}
		samples := make([]int16, len(buf.Data))
		for i, v := range buf.Data {
			samples[i] = int16(v)
		}
		return NewStem(name, channels, samples), nil
	}

	log.Printf("Resampling %s (%d Hz, %d-bit) to %d Hz", path, d.SampleRate, d.BitDepth, SampleRate)
	samples, err := DecodeFile(f.FFmpeg, path, channels)
	if err != nil {
		return Stem{}, err
	}
	return NewStem(name, channels, samples), nil
}

// DecodeFile runs ffmpeg to decode an audio file to raw PCM int16 samples.
// Returns interleaved samples at 48kHz with the requested channel count.
func DecodeFile(ffmpeg, path string, channels int) ([]int16, error) {
	cmd := exec.Command(ffmpeg,
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}

	// Keep whole frames only
	if extra := len(samples) % channels; extra != 0 {
		samples = samples[:len(samples)-extra]
	}
	return samples, nil
}
