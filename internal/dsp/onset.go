package dsp

// OnsetWeights blend the energy and spectral flux terms of the onset
// strength signal. Negative weights are treated as zero.
type OnsetWeights struct {
	Energy   float64 // weight of the short-time energy difference term
	Spectral float64 // weight of the positive spectral flux term
}

// DefaultOnsetWeights weighs both terms equally.
func DefaultOnsetWeights() OnsetWeights {
	return OnsetWeights{Energy: 1.0, Spectral: 1.0}
}

// OnsetStrength derives an onset-strength signal from consecutive frames.
// The output is aligned 1:1 with the input frames; the first value is always
// zero since flux needs a predecessor. All values are non-negative, zero
// meaning no onset evidence at that frame.
func OnsetStrength(frames []Frame, weights OnsetWeights) []float64 {
	if weights.Energy < 0 {
		weights.Energy = 0
	}
	if weights.Spectral < 0 {
		weights.Spectral = 0
	}

	strength := make([]float64, len(frames))
	for i := 1; i < len(frames); i++ {
		energyFlux := frames[i].Energy - frames[i-1].Energy
		if energyFlux < 0 {
			energyFlux = 0
		}

		var spectralFlux float64
		prev := frames[i-1].Magnitudes
		for k, m := range frames[i].Magnitudes {
			if k >= len(prev) {
				break
			}
			if d := m - prev[k]; d > 0 {
				spectralFlux += d
			}
		}

		strength[i] = weights.Energy*energyFlux + weights.Spectral*spectralFlux
	}
	return strength
}
