package audio

import (
	"math"

	"github.com/beatscan/beatscan-go/internal/errors"
)

// DefaultMinFrameSize is the minimum buffer length accepted by Validate when
// the caller does not override the frame size.
const DefaultMinFrameSize = 2048

// Validate checks a normalized sample buffer for use by the analysis pipeline.
// It rejects empty buffers, buffers shorter than minFrameSize and buffers
// containing non-finite samples. The non-finite scan is a single linear pass
// and stops at the first offending sample.
func Validate(samples []float64, minFrameSize int) error {
	if minFrameSize <= 0 {
		minFrameSize = DefaultMinFrameSize
	}

	if samples == nil {
		return errors.New(ErrNilBuffer).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}

	if len(samples) == 0 {
		return errors.New(ErrEmptyBuffer).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}

	if len(samples) < minFrameSize {
		return errors.Newf("%w: %d samples, minimum is %d", ErrBufferTooShort, len(samples), minFrameSize).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("minimum", minFrameSize).
			Context("actual", len(samples)).
			Build()
	}

	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Newf("%w: non-finite sample at index %d", ErrNonFiniteSample, i).
				Component("audio").
				Category(errors.CategoryValidation).
				Context("index", i).
				Build()
		}
	}

	return nil
}
