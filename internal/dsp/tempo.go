package dsp

import (
	"math"

	"github.com/beatscan/beatscan-go/internal/model"
)

// Tempo tie-break policy: when two period candidates score within
// TempoTieEpsilon (relative) of each other, the one whose BPM falls inside
// the culturally common [CommonTempoLow, CommonTempoHigh] band wins. The
// constants are deliberately exported so the policy is visible and testable
// rather than an undocumented magic number.
const (
	CommonTempoLow  = 90.0  // lower edge of the preferred BPM band
	CommonTempoHigh = 140.0 // upper edge of the preferred BPM band
	TempoTieEpsilon = 0.02  // relative score margin treated as a tie
)

// FallbackBPM is reported with zero confidence when the onset signal is too
// short or too flat to estimate periodicity.
const FallbackBPM = 120.0

// TempoParams configures EstimateTempo.
type TempoParams struct {
	SampleRate  int     // sample rate of the analyzed buffer in Hz
	HopSize     int     // hop size used to produce the onset signal
	MinTempo    float64 // lowest BPM considered
	MaxTempo    float64 // highest BPM considered
	TempoWeight float64 // scaling applied to periodicity scores; <= 0 means 1
}

// EstimateTempo searches lag candidates whose periods correspond to tempos in
// [MinTempo, MaxTempo] and scores each by the autocorrelation of the onset
// strength signal. Confidence is the normalized margin between the best and
// second-best scoring periods: a low margin means the estimate is ambiguous.
func EstimateTempo(onset []float64, p TempoParams) model.Tempo {
	fallback := model.Tempo{
		BPM:           FallbackBPM,
		Confidence:    0,
		TimeSignature: &model.TimeSignature{Numerator: 4, Denominator: 4},
	}

	if p.SampleRate <= 0 || p.HopSize <= 0 || p.MinTempo <= 0 || p.MaxTempo <= p.MinTempo {
		return fallback
	}
	weight := p.TempoWeight
	if weight <= 0 {
		weight = 1
	}

	framesPerSecond := float64(p.SampleRate) / float64(p.HopSize)
	lagMin := int(math.Floor(60 * framesPerSecond / p.MaxTempo))
	lagMax := int(math.Ceil(60 * framesPerSecond / p.MinTempo))
	if lagMin < 1 {
		lagMin = 1
	}
	if lagMax >= len(onset) {
		lagMax = len(onset) - 1
	}
	if lagMax < lagMin {
		return fallback
	}

	scores := make(map[int]float64, lagMax-lagMin+1)
	for lag := lagMin; lag <= lagMax; lag++ {
		var acc float64
		for i := 0; i+lag < len(onset); i++ {
			acc += onset[i] * onset[i+lag]
		}
		scores[lag] = weight * acc / float64(len(onset)-lag)
	}

	bestLag, bestScore := -1, 0.0
	for lag := lagMin; lag <= lagMax; lag++ {
		if scores[lag] > bestScore {
			bestLag, bestScore = lag, scores[lag]
		}
	}
	if bestLag < 0 || bestScore <= 0 {
		return fallback
	}

	// Tie-break: among candidates within the epsilon margin of the best,
	// prefer one inside the common tempo band.
	if bpm := lagToBPM(bestLag, framesPerSecond); bpm < CommonTempoLow || bpm > CommonTempoHigh {
		for lag := lagMin; lag <= lagMax; lag++ {
			if lag == bestLag {
				continue
			}
			bpm := lagToBPM(lag, framesPerSecond)
			if bpm < CommonTempoLow || bpm > CommonTempoHigh {
				continue
			}
			if scores[lag] >= bestScore*(1-TempoTieEpsilon) {
				bestLag = lag
				bestScore = scores[lag]
				break
			}
		}
	}

	// Second-best search excludes the winner's neighborhood and its octave
	// lags: harmonics of the same periodicity express the same tempo and do
	// not make the estimate ambiguous.
	secondScore := 0.0
	for lag := lagMin; lag <= lagMax; lag++ {
		if isHarmonicOf(lag, bestLag) {
			continue
		}
		if scores[lag] > secondScore {
			secondScore = scores[lag]
		}
	}

	confidence := 0.0
	if bestScore > 0 {
		confidence = (bestScore - secondScore) / bestScore
	}
	confidence = math.Max(0, math.Min(1, confidence))

	return model.Tempo{
		BPM:           lagToBPM(bestLag, framesPerSecond),
		Confidence:    confidence,
		TimeSignature: &model.TimeSignature{Numerator: 4, Denominator: 4},
	}
}

func lagToBPM(lag int, framesPerSecond float64) float64 {
	return 60 * framesPerSecond / float64(lag)
}

// isHarmonicOf reports whether lag sits within one frame of an integer
// multiple or integer fraction of ref, ref included.
func isHarmonicOf(lag, ref int) bool {
	for mult := ref; mult <= lag+1; mult += ref {
		if lag >= mult-1 && lag <= mult+1 {
			return true
		}
	}
	for div := 2; ref/div >= 1; div++ {
		sub := ref / div
		if lag >= sub-1 && lag <= sub+1 {
			return true
		}
		if sub <= 1 {
			break
		}
	}
	return false
}
