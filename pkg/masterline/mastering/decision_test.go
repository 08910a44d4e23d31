package mastering

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
)

func fpWith(loudnessDB, crestDB float64) *fingerprint.Fingerprint {
	fp := fingerprint.Neutral()
	fp.Dims[fingerprint.DimLoudness] = 1 + loudnessDB/60
	fp.Dims[fingerprint.DimCrestFactor] = crestDB / 30
	return fp
}

func TestClassifyQuadrants(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name       string
		loudness   float64
		crest      float64
		want       Quadrant
	}{
		{"loud compressed", -6, 8, QuadrantLoudCompressed},
		{"loud dynamic", -6, 18, QuadrantLoudDynamic},
		{"quiet compressed", -20, 8, QuadrantQuietCompressed},
		{"quiet dynamic", -20, 18, QuadrantQuietDynamic},
		// exactly on both boundaries: loudness >= -12 is loud,
		// crest >= 13 is dynamic
		{"on boundaries", -12, 13, QuadrantLoudDynamic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.loudness, tc.crest, th))
		})
	}
}

func TestRestraintRule(t *testing.T) {
	th := DefaultThresholds()

	for _, tc := range []struct {
		name     string
		loudness float64
		crest    float64
	}{
		{"loud compressed", -6, 8},
		{"loud dynamic", -6, 18},
	} {
		t.Run(tc.name, func(t *testing.T) {
			params := Derive(fpWith(tc.loudness, tc.crest), th)

			assert.True(t, params.FrequencyPassThrough,
				"loud material gets no frequency processing")
			assert.Equal(t, [NumEQBands]float64{}, params.EQGains,
				"EQ gains must be zero")
			assert.False(t, params.Compressor.enabled(),
				"compressor must be bypassed")
			assert.Zero(t, params.NormalizationDB,
				"level is left alone")

			// stereo-domain adjustments stay live
			assert.Greater(t, params.StereoWidth, 0.0)
			assert.Greater(t, params.LimiterCeiling, 0.0)
		})
	}
}

func TestQuietDynamicGetsFullChain(t *testing.T) {
	params := Derive(fpWith(-22, 18), DefaultThresholds())

	assert.False(t, params.FrequencyPassThrough)
	assert.True(t, params.Compressor.enabled())
	// -22 dB material normalizes up toward the -14 dB target
	assert.InDelta(t, 8, params.NormalizationDB, 1e-9)
	assert.Equal(t, QuadrantQuietDynamic, params.Class)
}

func TestQuietCompressedScaledDown(t *testing.T) {
	full := Derive(fpWith(-22, 18), DefaultThresholds())
	scaled := Derive(fpWith(-22, 8), DefaultThresholds())

	assert.False(t, scaled.FrequencyPassThrough)
	assert.Equal(t, QuadrantQuietCompressed, scaled.Class)
	// same distance to target, half the correction
	assert.InDelta(t, full.NormalizationDB/2, scaled.NormalizationDB, 1e-9)
}

func TestDeriveNeutralFingerprintIsPassThrough(t *testing.T) {
	// unknown material must degrade to the safe path
	params := Derive(fingerprint.Neutral(), DefaultThresholds())
	assert.True(t, params.FrequencyPassThrough)
	assert.Equal(t, QuadrantLoudCompressed, params.Class)
}

func TestCustomThresholds(t *testing.T) {
	th := Thresholds{LoudnessDB: -20, CrestDB: 10, TargetDB: -16}
	// -18 dB is quiet under defaults but loud under the custom boundary
	params := Derive(fpWith(-18, 15), th)
	assert.True(t, params.Class.Loud())
}

func TestPassThroughParams(t *testing.T) {
	params := PassThrough()
	assert.True(t, params.FrequencyPassThrough)
	assert.False(t, params.Compressor.enabled())
	assert.InDelta(t, 1.0, params.StereoWidth, 1e-12)
	assert.Zero(t, params.NormalizationDB)
}

func TestStereoWidthDerivation(t *testing.T) {
	th := DefaultThresholds()

	narrow := fpWith(-6, 8)
	narrow.Dims[fingerprint.DimStereoWidth] = 0.05
	narrow.Dims[fingerprint.DimPhaseCorrelation] = 0.9
	assert.Greater(t, Derive(narrow, th).StereoWidth, 1.0, "narrow material widens")

	wide := fpWith(-6, 8)
	wide.Dims[fingerprint.DimStereoWidth] = 0.6
	wide.Dims[fingerprint.DimPhaseCorrelation] = 0.9
	assert.Less(t, Derive(wide, th).StereoWidth, 1.0, "very wide material narrows")

	risky := fpWith(-6, 8)
	risky.Dims[fingerprint.DimStereoWidth] = 0.05
	risky.Dims[fingerprint.DimPhaseCorrelation] = 0.2
	assert.LessOrEqual(t, Derive(risky, th).StereoWidth, 1.0,
		"poor phase correlation blocks widening")
}
