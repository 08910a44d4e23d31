package fingerprint

import (
	"math"
	"sort"
	"time"

	"github.com/avshenoy/masterline/pkg/masterline/audio"
)

// Extractor computes fingerprints from PCM buffers. It is stateless and
// safe for concurrent use; the same input bytes always produce the same
// dimensions (GeneratedAt aside).
type Extractor struct {
	windowSize int
	hopSize    int
	window     []float64
	transform  Transform
}

// NewExtractor returns an extractor with the default window geometry
// and FFT. A nil transform selects go-dsp's FFTReal.
func NewExtractor(transform Transform) *Extractor {
	if transform == nil {
		transform = FFTReal
	}
	return &Extractor{
		windowSize: WindowSize,
		hopSize:    HopSize,
		window:     Hamming(WindowSize),
		transform:  transform,
	}
}

// Analysis thresholds, all in dBFS unless noted.
const (
	silenceFloorDB    = -60.0
	activityFloorDB   = -40.0
	rolloffFraction   = 0.85
	highFreqCutoffHz  = 4000.0
	onsetDensityCeil  = 10.0 // onsets/sec mapped to dim 1.0
	loudnessVarCeilDB = 20.0
)

// Extract computes the 25-dimension fingerprint of a buffer. It never
// fails: empty, nil or too-short input degrades to Neutral().
func (e *Extractor) Extract(buf *audio.Buffer) *Fingerprint {
	if buf == nil || buf.Empty() || buf.SampleRate <= 0 || buf.Frames() < e.windowSize {
		return Neutral()
	}

	mono := buf.Mono()
	spec, err := STFT(mono, e.windowSize, e.hopSize, e.window, e.transform)
	if err != nil || len(spec) == 0 {
		return Neutral()
	}

	fp := &Fingerprint{
		SchemaVersion: SchemaVersion,
		SampleRate:    buf.SampleRate,
		Duration:      buf.Duration().Seconds(),
		GeneratedAt:   time.Now().UTC(),
	}

	freqs := binFrequencies(len(spec[0]), buf.SampleRate, e.windowSize)
	nyquist := float64(buf.SampleRate) / 2

	e.spectralDims(fp, spec, freqs, nyquist)
	e.dynamicsDims(fp, mono, buf)
	e.temporalDims(fp, mono, spec, buf.SampleRate)
	e.harmonicDims(fp, spec, freqs)
	e.stereoDims(fp, buf)

	for i := range fp.Dims {
		fp.Dims[i] = clamp01(fp.Dims[i])
	}
	return fp
}

func (e *Extractor) spectralDims(fp *Fingerprint, spec [][]float64, freqs []float64, nyquist float64) {
	n := len(spec)
	centroids := make([]float64, n)
	rolloffs := make([]float64, n)
	flatnesses := make([]float64, n)
	bandwidths := make([]float64, n)
	fluxes := make([]float64, 0, n)
	hfrs := make([]float64, n)

	for t, mag := range spec {
		c := spectralCentroid(mag, freqs)
		centroids[t] = c
		rolloffs[t] = spectralRolloff(mag, freqs, rolloffFraction)
		flatnesses[t] = spectralFlatness(mag)
		bandwidths[t] = spectralBandwidth(mag, freqs, c)
		hfrs[t] = highFreqRatio(mag, freqs, highFreqCutoffHz)
		if t > 0 {
			fluxes = append(fluxes, spectralFlux(spec[t-1], mag))
		}
	}

	fp.Dims[DimSpectralCentroid] = medianOf(centroids) / nyquist
	fp.Dims[DimSpectralRolloff] = medianOf(rolloffs) / nyquist
	fp.Dims[DimSpectralFlatness] = medianOf(flatnesses)
	fp.Dims[DimSpectralBandwidth] = medianOf(bandwidths) / nyquist
	fp.Dims[DimSpectralFlux] = medianOf(fluxes)
	fp.Dims[DimHighFreqRatio] = medianOf(hfrs)
}

func (e *Extractor) dynamicsDims(fp *Fingerprint, mono []float64, buf *audio.Buffer) {
	frameRMSDB, framePeaks := frameLevels(mono, e.windowSize, e.hopSize)

	rmsDB := medianOf(frameRMSDB)
	peak := buf.Peak()
	peakDB := linearToDB(peak)

	fp.Dims[DimLoudness] = loudnessToDim(rmsDB)
	fp.Dims[DimPeakLevel] = peak
	fp.Dims[DimCrestFactor] = crestToDim(peakDB - rmsDB)
	fp.Dims[DimDynamicRange] = clamp01((percentile(frameRMSDB, 0.9) - percentile(frameRMSDB, 0.1)) / -loudnessFloorDB)

	var silent int
	for _, db := range frameRMSDB {
		if db <= silenceFloorDB {
			silent++
		}
	}
	if len(frameRMSDB) > 0 {
		fp.Dims[DimSilenceRatio] = float64(silent) / float64(len(frameRMSDB))
	}

	// variation dims: dispersion of frame loudness and peak consistency
	_, loudStd := meanStd(frameRMSDB)
	fp.Dims[DimLoudnessVariation] = clamp01(loudStd / loudnessVarCeilDB)

	peakMean, peakStd := meanStd(framePeaks)
	if peakMean > 0 {
		fp.Dims[DimPeakConsistency] = clamp01(1 - peakStd/peakMean)
	}
}

func (e *Extractor) temporalDims(fp *Fingerprint, mono []float64, spec [][]float64, sampleRate int) {
	env := onsetEnvelope(spec)
	onsets := pickOnsets(env)

	duration := float64(len(mono)) / float64(sampleRate)
	if duration > 0 {
		fp.Dims[DimOnsetDensity] = clamp01(float64(len(onsets)) / duration / onsetDensityCeil)
	}

	if peak := maxOf(env); peak > 0 {
		var sum float64
		for _, v := range env {
			sum += v
		}
		fp.Dims[DimOnsetStrength] = clamp01(sum / float64(len(env)) / peak)
	}

	var crossings int
	for i := 1; i < len(mono); i++ {
		if (mono[i-1] < 0) != (mono[i] < 0) {
			crossings++
		}
	}
	fp.Dims[DimZeroCrossingRate] = float64(crossings) / float64(len(mono))

	frameRMSDB, _ := frameLevels(mono, e.windowSize, e.hopSize)
	var active int
	for _, db := range frameRMSDB {
		if db > activityFloorDB {
			active++
		}
	}
	if len(frameRMSDB) > 0 {
		fp.Dims[DimActivityLevel] = float64(active) / float64(len(frameRMSDB))
	}
}

func (e *Extractor) harmonicDims(fp *Fingerprint, spec [][]float64, freqs []float64) {
	harmonic, percussive := harmonicPercussive(spec)
	total := harmonic + percussive
	if total > 0 {
		fp.Dims[DimHarmonicRatio] = harmonic / total
		fp.Dims[DimPercussiveRatio] = percussive / total
	}

	// aggregate chroma over all frames, tracking frame-to-frame movement
	var agg [12]float64
	var prev [12]float64
	var havePrev bool
	var changeSum float64
	var changeCount int
	for _, mag := range spec {
		ch := chromaProfile(mag, freqs)
		for i, v := range ch {
			agg[i] += v
		}
		if havePrev {
			changeSum += chromaDistance(prev, ch)
			changeCount++
		}
		prev = ch
		havePrev = true
	}

	var sum, max float64
	for _, v := range agg {
		sum += v
		if v > max {
			max = v
		}
	}
	if sum > 0 {
		var centroid float64
		for i, v := range agg {
			centroid += float64(i) * v / sum
		}
		fp.Dims[DimChromaCentroid] = centroid / 11.0

		var spread float64
		for i, v := range agg {
			d := float64(i) - centroid
			spread += d * d * v / sum
		}
		fp.Dims[DimChromaSpread] = clamp01(math.Sqrt(spread) / 6.0)

		// max/sum lies in [1/12, 1]; rescale so a flat profile maps to 0
		fp.Dims[DimChromaPeakiness] = clamp01((max/sum - 1.0/12.0) / (1.0 - 1.0/12.0))
	}
	if changeCount > 0 {
		fp.Dims[DimTonalStability] = clamp01(1 - changeSum/float64(changeCount))
	}
}

func (e *Extractor) stereoDims(fp *Fingerprint, buf *audio.Buffer) {
	if buf.NumChannels() < 2 {
		fp.Dims[DimStereoWidth] = 0
		fp.Dims[DimPhaseCorrelation] = 1
		return
	}

	mid, side := buf.MidSide()
	midRMS := rmsOf(mid)
	sideRMS := rmsOf(side)
	if midRMS+sideRMS > 0 {
		fp.Dims[DimStereoWidth] = sideRMS / (midRMS + sideRMS)
	}

	fp.Dims[DimPhaseCorrelation] = (pearson(buf.Channels[0], buf.Channels[1]) + 1) / 2
}

// chromaDistance is the cosine distance between two chroma frames.
func chromaDistance(a, b [12]float64) float64 {
	var dot, na, nb float64
	for i := 0; i < 12; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na < specEps || nb < specEps {
		return 0
	}
	return clamp01(1 - dot/math.Sqrt(na*nb))
}

// frameLevels computes per-frame RMS (dB) and peak (linear) series.
func frameLevels(samples []float64, windowSize, hopSize int) (rmsDB, peaks []float64) {
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		var sum, peak float64
		for _, s := range samples[start : start+windowSize] {
			sum += s * s
			if a := math.Abs(s); a > peak {
				peak = a
			}
		}
		rmsDB = append(rmsDB, linearToDB(math.Sqrt(sum/float64(windowSize))))
		peaks = append(peaks, peak)
	}
	return rmsDB, peaks
}

func linearToDB(v float64) float64 {
	if v < specEps {
		return loudnessFloorDB
	}
	db := 20 * math.Log10(v)
	if db < loudnessFloorDB {
		return loudnessFloorDB
	}
	return db
}

func rmsOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, s := range v {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(v)))
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA < specEps || varB < specEps {
		return 0
	}
	c := cov / math.Sqrt(varA*varB)
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	return c
}

func medianOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	tmp := make([]float64, len(v))
	copy(tmp, v)
	sort.Float64s(tmp)
	mid := len(tmp) / 2
	if len(tmp)%2 == 1 {
		return tmp[mid]
	}
	return (tmp[mid-1] + tmp[mid]) / 2
}

func percentile(v []float64, p float64) float64 {
	if len(v) == 0 {
		return 0
	}
	tmp := make([]float64, len(v))
	copy(tmp, v)
	sort.Float64s(tmp)
	idx := int(p * float64(len(tmp)-1))
	return tmp[idx]
}

func maxOf(v []float64) float64 {
	var m float64
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	return m
}
