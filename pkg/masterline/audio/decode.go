package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"

	"github.com/go-audio/wav"
)

// DecodeFile decodes a WAV, MP3, OGG or FLAC file into a float64 PCM
// buffer. The format is selected by file extension.
func DecodeFile(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return DecodeWAV(f)
	case ".mp3":
		return DecodeMP3(f)
	case ".ogg", ".oga":
		return DecodeOGG(f)
	case ".flac":
		return DecodeFLAC(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// DecodeWAV reads an entire WAV stream into a buffer.
func DecodeWAV(r io.ReadSeeker) (*Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading WAV PCM data: %w", err)
	}
	if pcm == nil || len(pcm.Data) == 0 {
		return nil, ErrEmptyAudio
	}

	channels := pcm.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm.Data) / channels
	if frames == 0 {
		return nil, ErrEmptyAudio
	}

	scale := 1.0 / float64(int64(1)<<(dec.BitDepth-1))
	buf := NewBuffer(channels, frames, pcm.Format.SampleRate)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			buf.Channels[c][i] = float64(pcm.Data[i*channels+c]) * scale
		}
	}
	return buf, nil
}

// DecodeMP3 reads an entire MP3 stream. go-mp3 always emits 16-bit
// stereo frames at the source sample rate.
func DecodeMP3(r io.Reader) (*Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("opening MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decoding MP3 stream: %w", err)
	}

	const bytesPerFrame = 4 // 2 channels x int16
	frames := len(raw) / bytesPerFrame
	if frames == 0 {
		return nil, ErrEmptyAudio
	}

	buf := NewBuffer(2, frames, dec.SampleRate())
	for i := 0; i < frames; i++ {
		l := int16(uint16(raw[i*4]) | uint16(raw[i*4+1])<<8)
		rr := int16(uint16(raw[i*4+2]) | uint16(raw[i*4+3])<<8)
		buf.Channels[0][i] = float64(l) / 32768.0
		buf.Channels[1][i] = float64(rr) / 32768.0
	}
	return buf, nil
}

// DecodeOGG reads an entire Ogg Vorbis stream.
func DecodeOGG(r io.Reader) (*Buffer, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decoding OGG stream: %w", err)
	}

	channels := format.Channels
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / channels
	if frames == 0 {
		return nil, ErrEmptyAudio
	}

	buf := NewBuffer(channels, frames, format.SampleRate)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			buf.Channels[c][i] = float64(data[i*channels+c])
		}
	}
	return buf, nil
}

// DecodeFLAC reads an entire FLAC stream frame by frame.
func DecodeFLAC(r io.Reader) (*Buffer, error) {
	stream, err := flac.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing FLAC stream: %w", err)
	}

	channels := int(stream.Info.NChannels)
	sampleRate := int(stream.Info.SampleRate)
	scale := 1.0 / float64(int64(1)<<(stream.Info.BitsPerSample-1))

	chs := make([][]float64, channels)
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding FLAC frame: %w", err)
		}
		for c := 0; c < channels && c < len(frame.Subframes); c++ {
			for _, s := range frame.Subframes[c].Samples {
				chs[c] = append(chs[c], float64(s)*scale)
			}
		}
	}

	if len(chs) == 0 || len(chs[0]) == 0 {
		return nil, ErrEmptyAudio
	}
	return &Buffer{Channels: chs, SampleRate: sampleRate}, nil
}
