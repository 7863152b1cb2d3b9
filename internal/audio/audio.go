// Package audio provides the sample buffer model, input validation and the
// file decoding collaborators used by the beat detection pipeline.
package audio

import (
	"fmt"

	"github.com/beatscan/beatscan-go/internal/errors"
)

// Data is a decoded mono sample sequence with its sample rate.
type Data struct {
	Samples    []float64 // normalized samples in [-1, 1]
	SampleRate int       // sample rate in Hz
}

// Duration returns the buffer length in seconds.
func (d *Data) Duration() float64 {
	if d.SampleRate <= 0 {
		return 0
	}
	return float64(len(d.Samples)) / float64(d.SampleRate)
}

// Sentinel errors for buffer normalization and validation
var (
	ErrNilBuffer             = errors.NewStd("audio buffer is nil")
	ErrEmptyBuffer           = errors.NewStd("audio buffer is empty")
	ErrBufferTooShort        = errors.NewStd("audio buffer is shorter than the minimum frame size")
	ErrNonFiniteSample       = errors.NewStd("audio buffer contains invalid values")
	ErrUnsupportedBufferType = errors.NewStd("unsupported audio buffer type")
)

// NormalizeBuffer converts a caller-supplied numeric sample buffer into the
// canonical float64 sequence. Supported inputs are []float64, []float32,
// []int, []int16 and []int32; integer samples are assumed to already be in
// normalized range and are converted verbatim.
func NormalizeBuffer(buffer any) ([]float64, error) {
	if buffer == nil {
		return nil, errors.New(ErrNilBuffer).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}

	switch b := buffer.(type) {
	case []float64:
		out := make([]float64, len(b))
		copy(out, b)
		return out, nil
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, errors.New(ErrUnsupportedBufferType).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("buffer_type", fmt.Sprintf("%T", buffer)).
			Build()
	}
}
