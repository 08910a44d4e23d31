package fingerprint

import (
	"math"
	"testing"
)

func TestHammingWindow(t *testing.T) {
	w := Hamming(1024)
	if len(w) != 1024 {
		t.Fatalf("len = %d, want 1024", len(w))
	}
	// symmetric, peaked in the middle, never zero
	for i := 0; i < 512; i++ {
		if math.Abs(w[i]-w[1023-i]) > 1e-9 {
			t.Fatalf("asymmetric at %d", i)
		}
	}
	if w[512] < w[0] {
		t.Error("window should peak in the middle")
	}
}

func TestSTFTShape(t *testing.T) {
	n := WindowSize + 3*HopSize
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 1000 * float64(i) / 44100)
	}

	spec, err := STFT(samples, WindowSize, HopSize, Hamming(WindowSize), FFTReal)
	if err != nil {
		t.Fatal(err)
	}
	if len(spec) != 4 {
		t.Errorf("frames = %d, want 4", len(spec))
	}
	for _, frame := range spec {
		if len(frame) != WindowSize/2 {
			t.Fatalf("bins = %d, want %d", len(frame), WindowSize/2)
		}
	}
}

func TestSTFTPeakBin(t *testing.T) {
	const sr = 44100
	const freq = 1000.0
	samples := make([]float64, 4*WindowSize)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * freq * float64(i) / sr)
	}

	spec, err := STFT(samples, WindowSize, HopSize, Hamming(WindowSize), FFTReal)
	if err != nil {
		t.Fatal(err)
	}

	peak := 0
	for i, m := range spec[0] {
		if m > spec[0][peak] {
			peak = i
		}
	}
	wantBin := freq * WindowSize / sr
	if math.Abs(float64(peak)-wantBin) > 2 {
		t.Errorf("peak bin = %d, want ~%.0f", peak, wantBin)
	}
}

func TestOnsetDetection(t *testing.T) {
	const sr = 44100
	samples := make([]float64, sr)
	// four distinct bursts in one second of silence
	for _, at := range []int{0, 11025, 22050, 33075} {
		for i := 0; i < 2048 && at+i < len(samples); i++ {
			samples[at+i] = 0.8 * math.Sin(2*math.Pi*880*float64(i)/sr)
		}
	}

	spec, err := STFT(samples, WindowSize, HopSize, Hamming(WindowSize), FFTReal)
	if err != nil {
		t.Fatal(err)
	}
	env := onsetEnvelope(spec)
	onsets := pickOnsets(env)

	if len(onsets) < 3 || len(onsets) > 6 {
		t.Errorf("detected %d onsets for 4 bursts", len(onsets))
	}
}
