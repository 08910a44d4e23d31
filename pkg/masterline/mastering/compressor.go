package mastering

import "math"

// compressor is a soft-knee dynamics processor with peak-envelope
// attack/release detection and automatic makeup gain.
type compressor struct {
	threshold  float64 // linear
	kneeLower  float64
	kneeUpper  float64
	kneeWidth  float64
	ratio      float64
	attackFac  float64
	releaseFac float64
	makeup     float64 // linear

	peak float64 // envelope state, per instance
}

func newCompressor(p CompressorParams, sampleRate int) *compressor {
	c := &compressor{
		threshold: math.Pow(10, p.ThresholdDB/20),
		ratio:     p.Ratio,
	}

	kneeHalf := p.KneeDB / 2
	c.kneeLower = math.Pow(10, (p.ThresholdDB-kneeHalf)/20)
	c.kneeUpper = math.Pow(10, (p.ThresholdDB+kneeHalf)/20)
	c.kneeWidth = c.kneeUpper - c.kneeLower

	sr := float64(sampleRate)
	c.attackFac = 1 - math.Exp(-math.Ln2/(p.AttackMs*0.001*sr))
	c.releaseFac = math.Exp(-math.Ln2 / (p.ReleaseMs * 0.001 * sr))

	// makeup compensates the gain reduction at threshold
	makeupDB := -p.ThresholdDB * (1 - 1/p.Ratio)
	c.makeup = math.Pow(10, makeupDB/20)
	return c
}

// process compresses samples in place.
func (c *compressor) process(samples []float64) {
	for i, s := range samples {
		level := math.Abs(s)
		if level > c.peak {
			c.peak += (level - c.peak) * c.attackFac
		} else {
			c.peak = level + (c.peak-level)*c.releaseFac
		}
		samples[i] = s * c.gainAt(c.peak) * c.makeup
	}
}

// gainAt evaluates the soft-knee curve for a detected peak level.
func (c *compressor) gainAt(peak float64) float64 {
	switch {
	case peak <= c.kneeLower:
		return 1
	case peak >= c.kneeUpper:
		return math.Pow(c.threshold/peak, 1-1/c.ratio)
	default:
		// cubic hermite blend across the knee
		pos := (peak - c.kneeLower) / c.kneeWidth
		smooth := pos * pos * (3 - 2*pos)
		compressed := math.Pow(c.threshold/c.kneeUpper, 1-1/c.ratio)
		return 1 + (compressed-1)*smooth
	}
}

// applyCompressor runs one fresh compressor per channel.
func applyCompressor(channels [][]float64, p CompressorParams, sampleRate int) {
	if !p.enabled() {
		return
	}
	for _, ch := range channels {
		newCompressor(p, sampleRate).process(ch)
	}
}

// applyExpander restores a fraction of lost dynamics on squashed
// material: samples below the median envelope are pushed down slightly,
// widening the level distribution.
func applyExpander(channels [][]float64, amount float64) {
	if amount <= 0 {
		return
	}
	for _, ch := range channels {
		var sum float64
		for _, s := range ch {
			sum += math.Abs(s)
		}
		if len(ch) == 0 {
			continue
		}
		pivot := sum / float64(len(ch))
		if pivot <= 0 {
			continue
		}
		for i, s := range ch {
			level := math.Abs(s)
			if level < pivot {
				// deepen quiet passages proportionally to distance
				// from the pivot, bounded by amount
				reduction := 1 - amount*(1-level/pivot)
				ch[i] = s * reduction
			}
		}
	}
}
