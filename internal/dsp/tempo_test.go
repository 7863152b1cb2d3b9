package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clickOnset(numFrames, period int) []float64 {
	onset := make([]float64, numFrames)
	for i := 0; i < numFrames; i += period {
		onset[i] = 1.0
	}
	return onset
}

func defaultTempoParams() TempoParams {
	return TempoParams{
		SampleRate:  44100,
		HopSize:     512,
		MinTempo:    60,
		MaxTempo:    180,
		TempoWeight: 1.0,
	}
}

func TestEstimateTempoClickTrack(t *testing.T) {
	p := defaultTempoParams()
	framesPerSecond := float64(p.SampleRate) / float64(p.HopSize) // ~86.13

	// Period of 43 frames is ~120 BPM.
	onset := clickOnset(1000, 43)
	tempo := EstimateTempo(onset, p)

	expected := 60 * framesPerSecond / 43
	assert.InDelta(t, expected, tempo.BPM, 1.0)
	assert.Positive(t, tempo.Confidence)
	assert.LessOrEqual(t, tempo.Confidence, 1.0)

	require.NotNil(t, tempo.TimeSignature)
	assert.Equal(t, 4, tempo.TimeSignature.Numerator)
	assert.Equal(t, 4, tempo.TimeSignature.Denominator)
}

func TestEstimateTempoFallbackOnShortSignal(t *testing.T) {
	tempo := EstimateTempo([]float64{1, 0, 1}, defaultTempoParams())
	assert.InDelta(t, FallbackBPM, tempo.BPM, 1e-9)
	assert.Zero(t, tempo.Confidence)
}

func TestEstimateTempoFallbackOnFlatSignal(t *testing.T) {
	tempo := EstimateTempo(make([]float64, 500), defaultTempoParams())
	assert.InDelta(t, FallbackBPM, tempo.BPM, 1e-9)
	assert.Zero(t, tempo.Confidence)
}

func TestEstimateTempoInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TempoParams)
	}{
		{"zero_sample_rate", func(p *TempoParams) { p.SampleRate = 0 }},
		{"zero_hop", func(p *TempoParams) { p.HopSize = 0 }},
		{"inverted_range", func(p *TempoParams) { p.MinTempo = 180; p.MaxTempo = 60 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultTempoParams()
			tt.mutate(&p)
			tempo := EstimateTempo(clickOnset(1000, 43), p)
			assert.InDelta(t, FallbackBPM, tempo.BPM, 1e-9)
			assert.Zero(t, tempo.Confidence)
		})
	}
}

// A constant onset signal scores every period identically, so the estimator
// must apply the documented tie-break and settle on a tempo within the
// common band rather than the first lag scanned.
func TestEstimateTempoTieBreakPrefersCommonRange(t *testing.T) {
	onset := make([]float64, 600)
	for i := range onset {
		onset[i] = 1.0
	}

	tempo := EstimateTempo(onset, defaultTempoParams())
	assert.GreaterOrEqual(t, tempo.BPM, CommonTempoLow)
	assert.LessOrEqual(t, tempo.BPM, CommonTempoHigh)
}

func TestEstimateTempoConfidenceDropsWithAmbiguity(t *testing.T) {
	p := defaultTempoParams()

	clean := EstimateTempo(clickOnset(1000, 43), p)

	// Two competing periodicities make the estimate ambiguous.
	mixed := clickOnset(1000, 43)
	for i := 0; i < len(mixed); i += 59 {
		mixed[i] = 1.0
	}
	ambiguous := EstimateTempo(mixed, p)

	assert.Greater(t, clean.Confidence, ambiguous.Confidence)
}
