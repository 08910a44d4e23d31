// Package mastering derives per-track processing parameters from an
// acoustic fingerprint and applies them chunk by chunk with bounded
// level movement across chunk boundaries.
package mastering

import "github.com/avshenoy/masterline/pkg/masterline/fingerprint"

// Quadrant is the 2D classification bucket from crossing the loudness
// and crest-factor thresholds.
type Quadrant int

const (
	QuadrantLoudCompressed Quadrant = iota
	QuadrantLoudDynamic
	QuadrantQuietCompressed
	QuadrantQuietDynamic
)

func (q Quadrant) String() string {
	switch q {
	case QuadrantLoudCompressed:
		return "loud_compressed"
	case QuadrantLoudDynamic:
		return "loud_dynamic"
	case QuadrantQuietCompressed:
		return "quiet_compressed"
	case QuadrantQuietDynamic:
		return "quiet_dynamic"
	default:
		return "unknown"
	}
}

// Loud reports whether the quadrant is on the loudness-optimized side
// of the boundary, where the restraint rule applies.
func (q Quadrant) Loud() bool {
	return q == QuadrantLoudCompressed || q == QuadrantLoudDynamic
}

// Classification thresholds and derivation tuning, all in dB unless
// noted.
const (
	// DefaultLoudnessThresholdDB separates loud from quiet material.
	DefaultLoudnessThresholdDB = -12.0
	// DefaultCrestThresholdDB separates compressed from dynamic material.
	DefaultCrestThresholdDB = 13.0
	// DefaultTargetLoudnessDB is the normalization target for material
	// that receives the full chain.
	DefaultTargetLoudnessDB = -14.0

	// EQ band gain bounds
	eqMaxBoostDB = 3.0
	eqMaxCutDB   = -2.0

	// compressor derivation
	compThresholdHeadroomDB = 6.0
	compRatioMin            = 1.5
	compRatioMax            = 4.0
	compAttackMs            = 10.0
	compReleaseMs           = 150.0
	compKneeDB              = 6.0

	// intermediate quadrants get the full chain scaled down
	intermediateScale = 0.5

	// stereo-domain targets
	widthNarrowSource = 0.15 // below: widen
	widthWideSource   = 0.40 // above: narrow slightly
	widenFactor       = 1.2
	narrowFactor      = 0.9
	phaseRiskCorr     = 0.5 // below: pull width in to protect mono sums

	// limiter ceiling, linear
	limiterCeiling = 0.98
)

// NumEQBands is the fixed band count of the parameter set.
const NumEQBands = 8

// eqBandFreqs are the peaking band centers in Hz.
var eqBandFreqs = [NumEQBands]float64{60, 150, 400, 1000, 2500, 6000, 10000, 14000}

// CompressorParams configures the soft-knee compressor.
type CompressorParams struct {
	ThresholdDB float64
	Ratio       float64
	AttackMs    float64
	ReleaseMs   float64
	KneeDB      float64
}

// enabled reports whether the settings do anything.
func (p CompressorParams) enabled() bool {
	return p.Ratio > 1
}

// ParameterSet is the complete, immutable processing recipe for one
// track. It is derived exactly once per stream; a mastering toggle
// re-derives a fresh set rather than editing this one.
type ParameterSet struct {
	EQGains              [NumEQBands]float64
	Compressor           CompressorParams
	ExpanderAmount       float64
	LimiterCeiling       float64
	TargetLoudnessDB     float64
	NormalizationDB      float64
	StereoWidth          float64
	FrequencyPassThrough bool
	Class                Quadrant
}

// Thresholds carries the configurable quadrant boundaries.
type Thresholds struct {
	LoudnessDB float64
	CrestDB    float64
	TargetDB   float64
}

// DefaultThresholds returns the observed default boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LoudnessDB: DefaultLoudnessThresholdDB,
		CrestDB:    DefaultCrestThresholdDB,
		TargetDB:   DefaultTargetLoudnessDB,
	}
}

// Classify crosses the two independent thresholds.
func Classify(loudnessDB, crestDB float64, t Thresholds) Quadrant {
	loud := loudnessDB >= t.LoudnessDB
	compressed := crestDB < t.CrestDB
	switch {
	case loud && compressed:
		return QuadrantLoudCompressed
	case loud:
		return QuadrantLoudDynamic
	case compressed:
		return QuadrantQuietCompressed
	default:
		return QuadrantQuietDynamic
	}
}

// Derive turns a fingerprint into the track's parameter set.
//
// The restraint rule: material already optimized for loudness gets no
// frequency-domain processing at all. Re-applying nonlinear frequency
// processing to such material compounds distortion, so both loud
// quadrants come out with zeroed EQ, a bypassed compressor and only
// stereo-domain adjustments. Quiet+dynamic gets the full adaptive
// chain; quiet+compressed gets the chain scaled down.
func Derive(fp *fingerprint.Fingerprint, t Thresholds) ParameterSet {
	loudness := fp.LoudnessDB()
	crest := fp.CrestDB()
	class := Classify(loudness, crest, t)

	params := ParameterSet{
		Class:          class,
		LimiterCeiling: limiterCeiling,
		StereoWidth:    deriveStereoWidth(fp),
	}

	if class.Loud() {
		params.FrequencyPassThrough = true
		params.Compressor = CompressorParams{Ratio: 1}
		params.TargetLoudnessDB = loudness // leave level alone
		return params
	}

	scale := 1.0
	if class == QuadrantQuietCompressed {
		scale = intermediateScale
	}

	params.EQGains = deriveEQGains(fp, scale)
	params.Compressor = deriveCompressor(fp, loudness, crest, scale)
	params.ExpanderAmount = deriveExpander(fp, crest, scale)
	params.NormalizationDB = (t.TargetDB - loudness) * scale
	params.TargetLoudnessDB = loudness + params.NormalizationDB
	return params
}

// PassThrough returns the parameter set for an unmastered stream: no
// frequency processing, unity stereo width, only the safety limiter.
func PassThrough() ParameterSet {
	return ParameterSet{
		Class:                QuadrantLoudCompressed,
		FrequencyPassThrough: true,
		Compressor:           CompressorParams{Ratio: 1},
		StereoWidth:          1,
		LimiterCeiling:       limiterCeiling,
	}
}

// deriveEQGains shapes the bands from the fingerprint's frequency and
// energy-ratio dimensions. Gains are bounded to a gentle corrective
// range; mastering EQ nudges, it does not carve.
func deriveEQGains(fp *fingerprint.Fingerprint, scale float64) [NumEQBands]float64 {
	var gains [NumEQBands]float64

	brightness := fp.Dims[fingerprint.DimSpectralCentroid]
	highRatio := fp.Dims[fingerprint.DimHighFreqRatio]
	flatness := fp.Dims[fingerprint.DimSpectralFlatness]
	harmonic := fp.Dims[fingerprint.DimHarmonicRatio]

	// dull material gets air, harsh material gets a top shave
	if highRatio < 0.1 {
		lift := (0.1 - highRatio) / 0.1 * eqMaxBoostDB
		gains[6] = lift
		gains[7] = lift * 0.7
	} else if brightness > 0.35 {
		cut := (brightness - 0.35) / 0.65 * eqMaxCutDB
		gains[5] = cut
		gains[6] = cut
	}

	// thin low end gets warmth, tubby low end a small cut
	lowRatio := 1 - highRatio
	if lowRatio < 0.6 {
		gains[0] = (0.6 - lowRatio) / 0.6 * eqMaxBoostDB * 0.8
		gains[1] = gains[0] * 0.6
	} else if lowRatio > 0.95 {
		gains[1] = eqMaxCutDB * 0.5
	}

	// noisy (flat-spectrum) material gets a presence dip instead of a
	// boost that would lift the noise floor with it
	if flatness > 0.5 && harmonic < 0.5 {
		gains[4] = eqMaxCutDB * flatness * 0.5
	}

	for i := range gains {
		gains[i] *= scale
		if gains[i] > eqMaxBoostDB {
			gains[i] = eqMaxBoostDB
		}
		if gains[i] < eqMaxCutDB {
			gains[i] = eqMaxCutDB
		}
	}
	return gains
}

func deriveCompressor(fp *fingerprint.Fingerprint, loudness, crest, scale float64) CompressorParams {
	// more dynamic material tolerates a higher ratio before pumping
	ratio := compRatioMin + (crest/crestSpanDB)*(compRatioMax-compRatioMin)
	if ratio > compRatioMax {
		ratio = compRatioMax
	}
	ratio = 1 + (ratio-1)*scale

	// percussive material wants a slower attack so transients survive
	attack := compAttackMs
	if fp.Dims[fingerprint.DimPercussiveRatio] > 0.5 {
		attack *= 2
	}

	return CompressorParams{
		ThresholdDB: loudness + compThresholdHeadroomDB,
		Ratio:       ratio,
		AttackMs:    attack,
		ReleaseMs:   compReleaseMs,
		KneeDB:      compKneeDB,
	}
}

// crestSpanDB normalizes crest factor into the ratio derivation.
const crestSpanDB = 30.0

func deriveExpander(fp *fingerprint.Fingerprint, crest, scale float64) float64 {
	// heavily squashed quiet material gets a touch of expansion back
	if crest >= DefaultCrestThresholdDB {
		return 0
	}
	amount := (DefaultCrestThresholdDB - crest) / DefaultCrestThresholdDB * 0.3
	return amount * scale
}

func deriveStereoWidth(fp *fingerprint.Fingerprint) float64 {
	width := fp.Dims[fingerprint.DimStereoWidth]
	corr := fp.Dims[fingerprint.DimPhaseCorrelation]

	if corr < phaseRiskCorr {
		return narrowFactor
	}
	if width < widthNarrowSource && width > 0 {
		return widenFactor
	}
	if width > widthWideSource {
		return narrowFactor
	}
	return 1.0
}
