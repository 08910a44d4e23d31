// Package fingerprint computes a fixed 25-dimension acoustic summary of
// a PCM buffer. The vector drives mastering decisions downstream and is
// cached keyed by a content signature of the source bytes.
package fingerprint

import (
	"math"
	"time"
)

// SchemaVersion identifies the dimension layout. Bump it whenever a
// dimension is added, removed or reordered; cached vectors from other
// versions are regenerated rather than reinterpreted.
const SchemaVersion = 2

// Dimension indices. Order is fixed for a given schema version.
const (
	DimSpectralCentroid = iota
	DimSpectralRolloff
	DimSpectralFlatness
	DimSpectralBandwidth
	DimSpectralFlux
	DimHighFreqRatio

	DimLoudness
	DimPeakLevel
	DimCrestFactor
	DimDynamicRange
	DimSilenceRatio

	DimOnsetDensity
	DimOnsetStrength
	DimZeroCrossingRate
	DimActivityLevel

	DimHarmonicRatio
	DimPercussiveRatio
	DimChromaCentroid
	DimChromaSpread
	DimChromaPeakiness
	DimTonalStability

	DimStereoWidth
	DimPhaseCorrelation

	DimLoudnessVariation
	DimPeakConsistency

	NumDims = 25
)

// dimNames is indexed by the Dim constants above.
var dimNames = [NumDims]string{
	"spectral_centroid",
	"spectral_rolloff",
	"spectral_flatness",
	"spectral_bandwidth",
	"spectral_flux",
	"high_freq_ratio",
	"loudness",
	"peak_level",
	"crest_factor",
	"dynamic_range",
	"silence_ratio",
	"onset_density",
	"onset_strength",
	"zero_crossing_rate",
	"activity_level",
	"harmonic_ratio",
	"percussive_ratio",
	"chroma_centroid",
	"chroma_spread",
	"chroma_peakiness",
	"tonal_stability",
	"stereo_width",
	"phase_correlation",
	"loudness_variation",
	"peak_consistency",
}

// DimName returns the name of a dimension index, or "" when out of range.
func DimName(i int) string {
	if i < 0 || i >= NumDims {
		return ""
	}
	return dimNames[i]
}

// dB ranges used to map loudness and crest factor into [0,1].
const (
	loudnessFloorDB = -60.0
	crestCeilingDB  = 30.0
)

// Fingerprint is the acoustic summary of one track. Every dimension is
// bounded to [0,1]; LoudnessDB and CrestDB recover the dB values the
// decision engine works in.
type Fingerprint struct {
	SchemaVersion    int              `json:"schema_version"`
	ContentSignature string           `json:"content_signature"`
	Dims             [NumDims]float64 `json:"fingerprint"`
	SampleRate       int              `json:"sample_rate"`
	Duration         float64          `json:"duration"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Neutral returns the documented default fingerprint used when the
// extractor receives empty or malformed input. Its loudness and crest
// dims classify as loud+compressed, so downstream mastering degrades to
// pass-through instead of guessing at aggressive processing.
func Neutral() *Fingerprint {
	fp := &Fingerprint{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
	}
	for i := range fp.Dims {
		fp.Dims[i] = 0.5
	}
	fp.Dims[DimLoudness] = loudnessToDim(-10)
	fp.Dims[DimCrestFactor] = crestToDim(10)
	fp.Dims[DimPeakLevel] = 0.9
	fp.Dims[DimSilenceRatio] = 0
	fp.Dims[DimStereoWidth] = 0
	fp.Dims[DimPhaseCorrelation] = 1
	return fp
}

// LoudnessDB maps the loudness dimension back to dBFS.
func (fp *Fingerprint) LoudnessDB() float64 {
	return (fp.Dims[DimLoudness] - 1) * -loudnessFloorDB
}

// CrestDB maps the crest-factor dimension back to dB.
func (fp *Fingerprint) CrestDB() float64 {
	return fp.Dims[DimCrestFactor] * crestCeilingDB
}

// Equal reports whether two fingerprints carry the same schema version
// and dimensions within tol.
func (fp *Fingerprint) Equal(other *Fingerprint, tol float64) bool {
	if fp == nil || other == nil {
		return fp == other
	}
	if fp.SchemaVersion != other.SchemaVersion {
		return false
	}
	for i := range fp.Dims {
		if math.Abs(fp.Dims[i]-other.Dims[i]) > tol {
			return false
		}
	}
	return true
}

// Bounded reports whether every dimension lies in [0,1].
func (fp *Fingerprint) Bounded() bool {
	for _, d := range fp.Dims {
		if d < 0 || d > 1 || math.IsNaN(d) || math.IsInf(d, 0) {
			return false
		}
	}
	return true
}

func loudnessToDim(db float64) float64 {
	return clamp01(1 - db/loudnessFloorDB)
}

func crestToDim(db float64) float64 {
	return clamp01(db / crestCeilingDB)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
