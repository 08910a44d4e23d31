package mastering

import "math"

// applyLimiter clamps peaks above ceiling with a short release so the
// correction does not pump. This is a safety net after the rest of the
// chain, not a loudness tool.
func applyLimiter(channels [][]float64, ceiling float64, sampleRate int) {
	if ceiling <= 0 {
		return
	}
	release := math.Exp(-math.Ln2 / (0.05 * float64(sampleRate))) // 50ms

	for _, ch := range channels {
		gain := 1.0
		for i, s := range ch {
			level := math.Abs(s)
			want := 1.0
			if level*gain > ceiling && level > 0 {
				want = ceiling / level
			}
			if want < gain {
				gain = want // instant attack
			} else {
				gain = want + (gain-want)*release
			}
			ch[i] = s * gain
		}
	}
}

// applyStereoWidth scales the side signal of a stereo pair. width 1.0
// is untouched, below narrows, above widens. Mono input is returned
// unchanged.
func applyStereoWidth(channels [][]float64, width float64) {
	if len(channels) < 2 || width == 1.0 {
		return
	}
	l, r := channels[0], channels[1]
	n := len(l)
	if len(r) < n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		mid := (l[i] + r[i]) / 2
		side := (l[i] - r[i]) / 2 * width
		l[i] = mid + side
		r[i] = mid - side
	}
}

// applyGainDB scales every channel by a dB amount.
func applyGainDB(channels [][]float64, gainDB float64) {
	if gainDB == 0 {
		return
	}
	g := math.Pow(10, gainDB/20)
	for _, ch := range channels {
		for i := range ch {
			ch[i] *= g
		}
	}
}
