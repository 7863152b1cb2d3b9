// Package dsp implements the beat detection pipeline stages: frame analysis,
// onset detection, tempo estimation and beat candidate selection.
package dsp

import (
	"context"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Frame holds the per-window features computed by the FrameAnalyzer.
type Frame struct {
	Index      int       // frame position, timestamp = Index * hop / sampleRate
	Energy     float64   // short-time energy, sum of squared samples
	Magnitudes []float64 // positive-frequency spectral magnitudes of the windowed frame
}

// FrameAnalyzer slices a sample buffer into overlapping Hann-windowed frames
// and computes per-frame energy and spectral magnitudes. An analyzer is tied
// to one window/hop geometry so the FFT plan and window table are reused
// across frames. It holds no per-call state; Analyze is a pure function of
// its inputs and safe for concurrent use with distinct output slices.
type FrameAnalyzer struct {
	windowSize int
	hopSize    int
	window     []float64
	fft        *fourier.FFT
}

// checkpointInterval is the number of frames processed between context
// cancellation checks.
const checkpointInterval = 64

// NewFrameAnalyzer builds an analyzer for the given geometry. windowSize and
// hopSize must be positive.
func NewFrameAnalyzer(windowSize, hopSize int) *FrameAnalyzer {
	if windowSize <= 0 || hopSize <= 0 {
		panic("dsp: window and hop sizes must be positive")
	}
	return &FrameAnalyzer{
		windowSize: windowSize,
		hopSize:    hopSize,
		window:     hann(windowSize),
		fft:        fourier.NewFFT(windowSize),
	}
}

// WindowSize returns the analysis window length in samples.
func (fa *FrameAnalyzer) WindowSize() int { return fa.windowSize }

// HopSize returns the stride between consecutive windows in samples.
func (fa *FrameAnalyzer) HopSize() int { return fa.hopSize }

// NumFrames returns the number of frames Analyze produces for a buffer of
// the given length. The final partial window, if any, is zero-padded rather
// than dropped so total duration accounting is preserved.
func (fa *FrameAnalyzer) NumFrames(sampleCount int) int {
	if sampleCount <= 0 {
		return 0
	}
	if sampleCount <= fa.windowSize {
		return 1
	}
	full := 1 + (sampleCount-fa.windowSize)/fa.hopSize
	if (sampleCount-fa.windowSize)%fa.hopSize != 0 {
		return full + 1
	}
	return full
}

// Analyze computes the frame sequence for samples. The context is checked
// between processing chunks so a cancelled offloaded operation stops at the
// next checkpoint rather than running to completion.
func (fa *FrameAnalyzer) Analyze(ctx context.Context, samples []float64) ([]Frame, error) {
	n := fa.NumFrames(len(samples))
	frames := make([]Frame, 0, n)
	buf := make([]float64, fa.windowSize)

	for i := 0; i < n; i++ {
		if i%checkpointInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		start := i * fa.hopSize
		var energy float64
		for k := 0; k < fa.windowSize; k++ {
			if start+k < len(samples) {
				s := samples[start+k]
				energy += s * s
				buf[k] = s * fa.window[k]
			} else {
				buf[k] = 0
			}
		}

		coeffs := fa.fft.Coefficients(nil, buf)
		mags := make([]float64, fa.windowSize/2)
		for k := range mags {
			re := real(coeffs[k])
			im := imag(coeffs[k])
			mags[k] = math.Hypot(re, im)
		}

		frames = append(frames, Frame{Index: i, Energy: energy, Magnitudes: mags})
	}

	return frames, nil
}

// MeanMagnitude returns the average spectral magnitude of the frame.
func (f *Frame) MeanMagnitude() float64 {
	if len(f.Magnitudes) == 0 {
		return 0
	}
	var sum float64
	for _, m := range f.Magnitudes {
		sum += m
	}
	return sum / float64(len(f.Magnitudes))
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
