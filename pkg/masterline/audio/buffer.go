// Package audio provides the PCM buffer type shared by the fingerprint
// extractor and the mastering chain, plus decoding from common formats.
package audio

import (
	"math"
	"time"
)

// Buffer holds de-interleaved PCM samples in float64, one slice per
// channel. All channels have equal length.
type Buffer struct {
	Channels   [][]float64
	SampleRate int
}

// NewBuffer allocates a silent buffer with the given shape.
func NewBuffer(channels, frames, sampleRate int) *Buffer {
	chs := make([][]float64, channels)
	for i := range chs {
		chs[i] = make([]float64, frames)
	}
	return &Buffer{Channels: chs, SampleRate: sampleRate}
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Frames returns the per-channel sample count.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Empty reports whether the buffer carries no audio.
func (b *Buffer) Empty() bool {
	return b.Frames() == 0
}

// Duration returns the buffer length as wall time.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Mono mixes all channels down to a single slice by averaging.
// A mono buffer returns its channel directly.
func (b *Buffer) Mono() []float64 {
	if b.NumChannels() == 0 {
		return nil
	}
	if b.NumChannels() == 1 {
		return b.Channels[0]
	}
	n := b.Frames()
	out := make([]float64, n)
	scale := 1.0 / float64(len(b.Channels))
	for _, ch := range b.Channels {
		for i := 0; i < n; i++ {
			out[i] += ch[i] * scale
		}
	}
	return out
}

// MidSide decomposes a stereo buffer into mid (L+R)/2 and side (L-R)/2.
// Mono input yields the channel itself and a zero side signal.
func (b *Buffer) MidSide() (mid, side []float64) {
	n := b.Frames()
	if b.NumChannels() < 2 {
		return b.Mono(), make([]float64, n)
	}
	l, r := b.Channels[0], b.Channels[1]
	mid = make([]float64, n)
	side = make([]float64, n)
	for i := 0; i < n; i++ {
		mid[i] = (l[i] + r[i]) / 2
		side[i] = (l[i] - r[i]) / 2
	}
	return mid, side
}

// Slice returns a view of frames [from, to) sharing the underlying
// storage. Bounds are clamped to the buffer.
func (b *Buffer) Slice(from, to int) *Buffer {
	n := b.Frames()
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if from > to {
		from = to
	}
	chs := make([][]float64, len(b.Channels))
	for i, ch := range b.Channels {
		chs[i] = ch[from:to]
	}
	return &Buffer{Channels: chs, SampleRate: b.SampleRate}
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := NewBuffer(b.NumChannels(), b.Frames(), b.SampleRate)
	for i, ch := range b.Channels {
		copy(out.Channels[i], ch)
	}
	return out
}

// RMS returns the root-mean-square level across all channels, linear.
func (b *Buffer) RMS() float64 {
	n := b.Frames()
	if n == 0 || b.NumChannels() == 0 {
		return 0
	}
	var sum float64
	for _, ch := range b.Channels {
		for _, s := range ch {
			sum += s * s
		}
	}
	return math.Sqrt(sum / float64(n*len(b.Channels)))
}

// Peak returns the largest absolute sample value across all channels.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, ch := range b.Channels {
		for _, s := range ch {
			if a := math.Abs(s); a > peak {
				peak = a
			}
		}
	}
	return peak
}
