package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes a buffer to disk as 16-bit PCM WAV.
func WriteWAV(path string, buf *Buffer) error {
	if buf.Empty() {
		return ErrEmptyAudio
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	channels := buf.NumChannels()
	frames := buf.Frames()

	intBuf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  buf.SampleRate,
		},
		Data:           make([]int, frames*channels),
		SourceBitDepth: 16,
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			intBuf.Data[i*channels+c] = clampInt16(buf.Channels[c][i])
		}
	}

	enc := wav.NewEncoder(f, buf.SampleRate, 16, channels, 1)
	if err := enc.Write(intBuf); err != nil {
		enc.Close()
		return fmt.Errorf("writing WAV data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing WAV file: %w", err)
	}
	return nil
}

func clampInt16(s float64) int {
	v := math.Round(s * 32767.0)
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int(v)
}
