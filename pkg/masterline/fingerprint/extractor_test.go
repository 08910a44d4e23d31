package fingerprint

import (
	"math"
	"testing"

	"github.com/avshenoy/masterline/pkg/masterline/audio"
)

func sineBuffer(freq float64, channels, frames, sampleRate int) *audio.Buffer {
	buf := audio.NewBuffer(channels, frames, sampleRate)
	for c := 0; c < channels; c++ {
		for i := 0; i < frames; i++ {
			buf.Channels[c][i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		}
	}
	return buf
}

func noiseBuffer(frames, sampleRate int) *audio.Buffer {
	buf := audio.NewBuffer(1, frames, sampleRate)
	// deterministic pseudo-noise, no rand dependency
	seed := uint64(12345)
	for i := 0; i < frames; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		buf.Channels[0][i] = (float64(seed>>11)/float64(1<<53))*1.6 - 0.8
	}
	return buf
}

func TestExtractNeutralOnBadInput(t *testing.T) {
	e := NewExtractor(nil)
	neutral := Neutral()

	cases := []struct {
		name string
		buf  *audio.Buffer
	}{
		{"nil buffer", nil},
		{"empty buffer", audio.NewBuffer(0, 0, 44100)},
		{"too short", audio.NewBuffer(1, 100, 44100)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fp := e.Extract(tc.buf)
			if fp == nil {
				t.Fatal("Extract returned nil")
			}
			if !fp.Equal(neutral, 1e-9) {
				t.Error("degraded input should produce the neutral fingerprint")
			}
		})
	}
}

func TestExtractBounded(t *testing.T) {
	e := NewExtractor(nil)

	for name, buf := range map[string]*audio.Buffer{
		"sine":    sineBuffer(440, 2, 44100, 44100),
		"noise":   noiseBuffer(44100, 44100),
		"silence": audio.NewBuffer(2, 44100, 44100),
	} {
		t.Run(name, func(t *testing.T) {
			fp := e.Extract(buf)
			if !fp.Bounded() {
				t.Errorf("fingerprint out of [0,1]: %v", fp.Dims)
			}
			if fp.SchemaVersion != SchemaVersion {
				t.Errorf("schema = %d, want %d", fp.SchemaVersion, SchemaVersion)
			}
		})
	}
}

func TestExtractDeterministic(t *testing.T) {
	e := NewExtractor(nil)
	buf := noiseBuffer(44100, 44100)

	a := e.Extract(buf)
	b := e.Extract(buf)
	if !a.Equal(b, 0) {
		t.Error("same input produced different fingerprints")
	}
}

func TestExtractDistinguishesMaterial(t *testing.T) {
	e := NewExtractor(nil)

	tone := e.Extract(sineBuffer(440, 1, 44100, 44100))
	noise := e.Extract(noiseBuffer(44100, 44100))

	// a pure tone is far flatter in crest and far less flat in spectrum
	if tone.Dims[DimSpectralFlatness] >= noise.Dims[DimSpectralFlatness] {
		t.Errorf("tone flatness %f should be below noise flatness %f",
			tone.Dims[DimSpectralFlatness], noise.Dims[DimSpectralFlatness])
	}
	if tone.Dims[DimZeroCrossingRate] >= noise.Dims[DimZeroCrossingRate] {
		t.Errorf("tone ZCR %f should be below noise ZCR %f",
			tone.Dims[DimZeroCrossingRate], noise.Dims[DimZeroCrossingRate])
	}
}

func TestStereoDims(t *testing.T) {
	// identical channels: zero width, full correlation
	mono := sineBuffer(440, 2, 44100, 44100)
	fp := NewExtractor(nil).Extract(mono)

	if fp.Dims[DimStereoWidth] > 0.01 {
		t.Errorf("identical channels should have ~0 width, got %f", fp.Dims[DimStereoWidth])
	}
	if fp.Dims[DimPhaseCorrelation] < 0.99 {
		t.Errorf("identical channels should have ~1 correlation, got %f", fp.Dims[DimPhaseCorrelation])
	}

	// inverted channels: wide and anti-correlated
	inv := sineBuffer(440, 2, 44100, 44100)
	for i := range inv.Channels[1] {
		inv.Channels[1][i] = -inv.Channels[1][i]
	}
	fp = NewExtractor(nil).Extract(inv)
	if fp.Dims[DimStereoWidth] < 0.5 {
		t.Errorf("inverted channels should be wide, got %f", fp.Dims[DimStereoWidth])
	}
	if fp.Dims[DimPhaseCorrelation] > 0.1 {
		t.Errorf("inverted channels should anti-correlate, got %f", fp.Dims[DimPhaseCorrelation])
	}
}

func TestSilenceRatio(t *testing.T) {
	buf := sineBuffer(440, 1, 88200, 44100)
	// silence the second half
	for i := 44100; i < 88200; i++ {
		buf.Channels[0][i] = 0
	}

	fp := NewExtractor(nil).Extract(buf)
	if fp.Dims[DimSilenceRatio] < 0.3 || fp.Dims[DimSilenceRatio] > 0.7 {
		t.Errorf("half-silent track: silence ratio %f, want ~0.5", fp.Dims[DimSilenceRatio])
	}
}
