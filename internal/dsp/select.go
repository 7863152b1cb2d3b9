package dsp

import (
	"sort"

	"github.com/beatscan/beatscan-go/internal/model"
)

// adaptiveMaxIterations bounds the threshold search of the adaptive
// selection method before it falls back to energy ranking.
const adaptiveMaxIterations = 32

// regularToleranceFraction is the fraction of one beat interval within which
// a real candidate may be snapped to a grid point by the regular method.
const regularToleranceFraction = 0.25

// SelectorParams configures candidate generation.
type SelectorParams struct {
	SampleRate          int     // sample rate of the analyzed buffer in Hz
	HopSize             int     // hop size used to produce the onset signal
	ConfidenceThreshold float64 // minimum normalized prominence for a candidate
}

// GenerateCandidates finds local maxima of the onset strength signal above
// the confidence threshold. Candidate confidence is peak strength normalized
// by the global maximum; timestamps are strictly increasing.
func GenerateCandidates(onset []float64, p SelectorParams) []model.BeatCandidate {
	if p.SampleRate <= 0 || p.HopSize <= 0 {
		return nil
	}

	var peak float64
	for _, v := range onset {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return nil
	}

	secondsPerFrame := float64(p.HopSize) / float64(p.SampleRate)
	var candidates []model.BeatCandidate
	for i := 1; i < len(onset)-1; i++ {
		if onset[i] <= onset[i-1] || onset[i] < onset[i+1] {
			continue
		}
		confidence := onset[i] / peak
		if confidence < p.ConfidenceThreshold {
			continue
		}
		candidates = append(candidates, model.BeatCandidate{
			Timestamp:  float64(i) * secondsPerFrame,
			Strength:   onset[i],
			Confidence: confidence,
		})
	}
	return candidates
}

// SelectBeats reduces candidates to at most target beats using the given
// selection method. A target of 0 means no limit. The result is ordered by
// timestamp ascending and deterministic for identical inputs; ties are broken
// by candidate position.
func SelectBeats(candidates []model.BeatCandidate, tempo model.Tempo, method model.SelectionMethod, target int, duration float64) []model.Beat {
	switch method {
	case model.SelectionEnergy:
		return toBeats(selectByEnergy(candidates, target))
	case model.SelectionAdaptive:
		return toBeats(selectAdaptive(candidates, target))
	case model.SelectionRegular:
		return selectRegular(candidates, tempo, target, duration)
	case model.SelectionUniform:
		fallthrough
	default:
		return toBeats(selectUniform(candidates, target))
	}
}

// selectUniform picks evenly spaced candidates by rank position, preserving
// the first and last candidate.
func selectUniform(candidates []model.BeatCandidate, target int) []model.BeatCandidate {
	n := len(candidates)
	if target <= 0 || n <= target {
		return candidates
	}
	if target == 1 {
		return candidates[:1]
	}

	out := make([]model.BeatCandidate, 0, target)
	lastIdx := -1
	for k := 0; k < target; k++ {
		idx := int(float64(k)*float64(n-1)/float64(target-1) + 0.5)
		if idx == lastIdx {
			continue
		}
		out = append(out, candidates[idx])
		lastIdx = idx
	}
	return out
}

// selectByEnergy keeps the top-N candidates by strength, then restores
// timestamp order.
func selectByEnergy(candidates []model.BeatCandidate, target int) []model.BeatCandidate {
	n := len(candidates)
	if target <= 0 || n <= target {
		return candidates
	}

	ranked := make([]int, n)
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if candidates[ranked[a]].Strength != candidates[ranked[b]].Strength {
			return candidates[ranked[a]].Strength > candidates[ranked[b]].Strength
		}
		return ranked[a] < ranked[b]
	})

	keep := ranked[:target]
	sort.Ints(keep)

	out := make([]model.BeatCandidate, 0, target)
	for _, idx := range keep {
		out = append(out, candidates[idx])
	}
	return out
}

// selectAdaptive raises the confidence threshold until the candidate count
// fits the target. The search falls back to energy ranking in two cases:
// the threshold overshoots and empties the candidate set, or the iteration
// bound is reached. An empty selection is never returned when candidates
// exist and target > 0; the caller asked for beats, so a step that strands
// zero of them yields the top candidates by strength instead.
func selectAdaptive(candidates []model.BeatCandidate, target int) []model.BeatCandidate {
	n := len(candidates)
	if target <= 0 || n <= target {
		return candidates
	}

	threshold := 0.0
	for _, c := range candidates {
		if c.Confidence < threshold || threshold == 0 {
			threshold = c.Confidence
		}
	}

	for iter := 0; iter < adaptiveMaxIterations; iter++ {
		threshold += (1 - threshold) * 0.1

		var kept []model.BeatCandidate
		for _, c := range candidates {
			if c.Confidence >= threshold {
				kept = append(kept, c)
			}
		}
		if len(kept) <= target {
			if len(kept) == 0 {
				break
			}
			return kept
		}
	}

	return selectByEnergy(candidates, target)
}

// selectRegular resamples the candidate sequence on a beat grid derived from
// the estimated tempo, snapping each grid point to the nearest candidate
// within a tolerance window or synthesizing a zero-confidence beat otherwise.
func selectRegular(candidates []model.BeatCandidate, tempo model.Tempo, target int, duration float64) []model.Beat {
	if tempo.BPM <= 0 || duration <= 0 {
		return toBeats(selectUniform(candidates, target))
	}

	interval := 60.0 / tempo.BPM
	tolerance := interval * regularToleranceFraction

	var beats []model.Beat
	for t := 0.0; t < duration; t += interval {
		if target > 0 && len(beats) >= target {
			break
		}

		nearest := -1
		nearestDist := tolerance
		for i, c := range candidates {
			d := c.Timestamp - t
			if d < 0 {
				d = -d
			}
			if d <= nearestDist {
				nearest = i
				nearestDist = d
			}
		}

		if nearest >= 0 {
			c := candidates[nearest]
			beats = append(beats, model.Beat{
				Timestamp:  c.Timestamp,
				Confidence: c.Confidence,
				Strength:   c.Strength,
			})
		} else {
			beats = append(beats, model.Beat{
				Timestamp:  t,
				Confidence: 0,
				Strength:   0,
				Metadata:   map[string]any{"synthesized": true},
			})
		}
	}
	return beats
}

func toBeats(candidates []model.BeatCandidate) []model.Beat {
	beats := make([]model.Beat, len(candidates))
	for i, c := range candidates {
		beats[i] = model.Beat{
			Timestamp:  c.Timestamp,
			Confidence: c.Confidence,
			Strength:   c.Strength,
		}
	}
	return beats
}

// FilterByConfidence drops candidates below minConfidence. An empty result is
// valid output, not an error.
func FilterByConfidence(candidates []model.BeatCandidate, minConfidence float64) []model.BeatCandidate {
	if minConfidence <= 0 {
		return candidates
	}
	var out []model.BeatCandidate
	for _, c := range candidates {
		if c.Confidence >= minConfidence {
			out = append(out, c)
		}
	}
	return out
}
