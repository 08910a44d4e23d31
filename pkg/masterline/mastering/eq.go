package mastering

import "math"

// biquad is a direct-form-I second-order filter section.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

// newPeakingEQ builds an RBJ peaking filter at freq Hz with the given
// gain. Gains near zero produce a pass-through section.
func newPeakingEQ(sampleRate int, freq, q, gainDB float64) *biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / float64(sampleRate)
	alpha := math.Sin(w0) / (2 * q)
	cosW0 := math.Cos(w0)

	b0 := 1 + alpha*a
	b1 := -2 * cosW0
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosW0
	a2 := 1 - alpha/a

	return &biquad{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}
}

// process filters samples in place.
func (f *biquad) process(samples []float64) {
	for i, x := range samples {
		y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
		f.x2, f.x1 = f.x1, x
		f.y2, f.y1 = f.y1, y
		samples[i] = y
	}
}

const eqBandQ = 1.0

// applyEQ runs the parameter set's bands over every channel. Bands
// with negligible gain are skipped; filter state is chunk-local, the
// crossfade window masks the boundary.
func applyEQ(channels [][]float64, sampleRate int, gains [NumEQBands]float64) {
	nyquist := float64(sampleRate) / 2
	for _, ch := range channels {
		for band, gainDB := range gains {
			if math.Abs(gainDB) < 0.05 {
				continue
			}
			freq := eqBandFreqs[band]
			if freq >= nyquist*0.95 {
				continue
			}
			newPeakingEQ(sampleRate, freq, eqBandQ, gainDB).process(ch)
		}
	}
}
