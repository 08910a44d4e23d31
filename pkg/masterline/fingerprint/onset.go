package fingerprint

import "math"

// onsetEnvelope computes a per-frame onset strength signal as the
// half-wave rectified spectral flux, lightly smoothed.
func onsetEnvelope(spec [][]float64) []float64 {
	if len(spec) < 2 {
		return nil
	}
	env := make([]float64, len(spec))
	for t := 1; t < len(spec); t++ {
		var flux float64
		prev, cur := spec[t-1], spec[t]
		for i := range cur {
			if d := cur[i] - prev[i]; d > 0 {
				flux += d
			}
		}
		env[t] = flux
	}
	// 3-point moving average knocks down single-frame jitter
	smoothed := make([]float64, len(env))
	for t := range env {
		sum, n := env[t], 1.0
		if t > 0 {
			sum += env[t-1]
			n++
		}
		if t < len(env)-1 {
			sum += env[t+1]
			n++
		}
		smoothed[t] = sum / n
	}
	return smoothed
}

// pickOnsets returns the frame indices of onset peaks: local maxima
// that rise above the envelope mean by a fraction of its deviation.
func pickOnsets(env []float64) []int {
	if len(env) < 3 {
		return nil
	}
	mean, std := meanStd(env)
	threshold := mean + 0.5*std

	onsets := make([]int, 0, 16)
	lastOnset := -minOnsetGapFrames
	for t := 1; t < len(env)-1; t++ {
		if env[t] < threshold {
			continue
		}
		if env[t] < env[t-1] || env[t] < env[t+1] {
			continue
		}
		if t-lastOnset < minOnsetGapFrames {
			continue
		}
		onsets = append(onsets, t)
		lastOnset = t
	}
	return onsets
}

// minOnsetGapFrames suppresses double-triggers on one attack
// (~50ms at the default window geometry and 44.1kHz).
const minOnsetGapFrames = 8

func meanStd(v []float64) (mean, std float64) {
	if len(v) == 0 {
		return 0, 0
	}
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	for _, x := range v {
		d := x - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(v)))
	return mean, std
}
