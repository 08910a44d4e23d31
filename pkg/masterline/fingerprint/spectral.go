package fingerprint

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Analysis window geometry. The window is a power of two so both the
// general FFT and the radix-2 fast path accept it.
const (
	WindowSize = 1024
	HopSize    = 256
)

// Transform computes the complex spectrum of one windowed frame.
// The default is go-dsp's FFTReal; the batch fast path injects a
// radix-2 implementation.
type Transform func(frame []float64) []complex128

// FFTReal is the default transform.
func FFTReal(frame []float64) []complex128 {
	return fft.FFTReal(frame)
}

// Hamming returns a Hamming window of length n.
func Hamming(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// MagnitudeSpectrum keeps the magnitudes of the positive-frequency half.
func MagnitudeSpectrum(spectrum []complex128) []float64 {
	half := len(spectrum) / 2
	mag := make([]float64, half)
	for i := 0; i < half; i++ {
		mag[i] = cmplx.Abs(spectrum[i])
	}
	return mag
}

// STFT computes a magnitude spectrogram (frames x bins) from samples.
func STFT(samples []float64, windowSize, hopSize int, window []float64, transform Transform) ([][]float64, error) {
	if len(window) != windowSize {
		return nil, errors.New("window length must equal windowSize")
	}
	if len(samples) < windowSize {
		return nil, errors.New("input shorter than window size")
	}
	if transform == nil {
		transform = FFTReal
	}

	spectrogram := make([][]float64, 0, 1+(len(samples)-windowSize)/hopSize)
	frame := make([]float64, windowSize)
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		copy(frame, samples[start:start+windowSize])
		for i := 0; i < windowSize; i++ {
			frame[i] *= window[i]
		}
		spectrogram = append(spectrogram, MagnitudeSpectrum(transform(frame)))
	}
	return spectrogram, nil
}

const specEps = 1e-12

// spectralCentroid returns the magnitude-weighted mean frequency in Hz.
func spectralCentroid(mag []float64, freqs []float64) float64 {
	var num, den float64
	for i, m := range mag {
		num += freqs[i] * m
		den += m
	}
	if den < specEps {
		return 0
	}
	return num / den
}

// spectralRolloff returns the frequency below which the given fraction
// of total spectral energy lies.
func spectralRolloff(mag []float64, freqs []float64, fraction float64) float64 {
	var total float64
	for _, m := range mag {
		total += m * m
	}
	if total < specEps {
		return 0
	}
	target := total * fraction
	var cum float64
	for i, m := range mag {
		cum += m * m
		if cum >= target {
			return freqs[i]
		}
	}
	return freqs[len(freqs)-1]
}

// spectralFlatness returns geometric mean / arithmetic mean, in [0,1].
func spectralFlatness(mag []float64) float64 {
	if len(mag) == 0 {
		return 0
	}
	var logSum, sum float64
	for _, m := range mag {
		v := m*m + specEps
		logSum += math.Log(v)
		sum += v
	}
	n := float64(len(mag))
	geo := math.Exp(logSum / n)
	arith := sum / n
	if arith < specEps {
		return 0
	}
	return clamp01(geo / arith)
}

// spectralBandwidth returns the second moment around the centroid, Hz.
func spectralBandwidth(mag []float64, freqs []float64, centroid float64) float64 {
	var num, den float64
	for i, m := range mag {
		d := freqs[i] - centroid
		num += d * d * m
		den += m
	}
	if den < specEps {
		return 0
	}
	return math.Sqrt(num / den)
}

// spectralFlux returns the half-wave rectified frame-to-frame change,
// normalized by the current frame energy.
func spectralFlux(prev, cur []float64) float64 {
	var flux, energy float64
	for i := range cur {
		d := cur[i] - prev[i]
		if d > 0 {
			flux += d
		}
		energy += cur[i]
	}
	if energy < specEps {
		return 0
	}
	return clamp01(flux / energy)
}

// highFreqRatio returns the fraction of spectral energy above cutoff Hz.
func highFreqRatio(mag []float64, freqs []float64, cutoff float64) float64 {
	var high, total float64
	for i, m := range mag {
		e := m * m
		total += e
		if freqs[i] >= cutoff {
			high += e
		}
	}
	if total < specEps {
		return 0
	}
	return clamp01(high / total)
}

// binFrequencies returns the center frequency of each spectrogram bin.
func binFrequencies(nBins, sampleRate, windowSize int) []float64 {
	res := float64(sampleRate) / float64(windowSize)
	freqs := make([]float64, nBins)
	for i := range freqs {
		freqs[i] = float64(i) * res
	}
	return freqs
}

// chromaProfile folds one magnitude frame onto 12 pitch classes.
func chromaProfile(mag []float64, freqs []float64) [12]float64 {
	var chroma [12]float64
	for i, m := range mag {
		f := freqs[i]
		if f < 27.5 { // below A0, mostly rumble
			continue
		}
		pitch := int(math.Round(12*math.Log2(f/440.0))) + 69
		pc := ((pitch % 12) + 12) % 12
		chroma[pc] += m
	}
	return chroma
}

// harmonicPercussive estimates the harmonic and percussive energy split
// of a spectrogram using median filtering: harmonic content is smooth
// along time, percussive content is smooth along frequency.
func harmonicPercussive(spec [][]float64) (harmonic, percussive float64) {
	const filterLen = 9
	nFrames := len(spec)
	if nFrames == 0 {
		return 0, 0
	}
	nBins := len(spec[0])

	col := make([]float64, 0, filterLen)
	row := make([]float64, 0, filterLen)
	for t := 0; t < nFrames; t++ {
		for f := 0; f < nBins; f++ {
			col = col[:0]
			for dt := -filterLen / 2; dt <= filterLen/2; dt++ {
				if ti := t + dt; ti >= 0 && ti < nFrames {
					col = append(col, spec[ti][f])
				}
			}
			row = row[:0]
			for df := -filterLen / 2; df <= filterLen/2; df++ {
				if fi := f + df; fi >= 0 && fi < nBins {
					row = append(row, spec[t][fi])
				}
			}
			h := median(col)
			p := median(row)
			e := spec[t][f] * spec[t][f]
			if h >= p {
				harmonic += e
			} else {
				percussive += e
			}
		}
	}
	return harmonic, percussive
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	tmp := make([]float64, len(v))
	copy(tmp, v)
	insertionSort(tmp)
	mid := len(tmp) / 2
	if len(tmp)%2 == 1 {
		return tmp[mid]
	}
	return (tmp[mid-1] + tmp[mid]) / 2
}

// insertionSort is enough for the short median windows used here.
func insertionSort(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}
