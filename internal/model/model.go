// Package model defines the shared data types produced and consumed by the
// beat detection pipeline.
package model

import "time"

// SelectionMethod is the policy used to reduce beat candidates to the
// requested picture count.
type SelectionMethod string

const (
	SelectionUniform  SelectionMethod = "uniform"
	SelectionAdaptive SelectionMethod = "adaptive"
	SelectionEnergy   SelectionMethod = "energy"
	SelectionRegular  SelectionMethod = "regular"
)

// Valid reports whether m is one of the known selection methods.
func (m SelectionMethod) Valid() bool {
	switch m {
	case SelectionUniform, SelectionAdaptive, SelectionEnergy, SelectionRegular:
		return true
	default:
		return false
	}
}

// BeatCandidate is a detected onset event before quality-based reduction.
type BeatCandidate struct {
	Timestamp  float64 `json:"timestamp"`  // seconds from buffer start
	Strength   float64 `json:"strength"`   // raw onset-strength value, >= 0
	Confidence float64 `json:"confidence"` // normalized peak prominence in [0, 1]
}

// Beat is a final selected beat.
type Beat struct {
	Timestamp  float64        `json:"timestamp"`
	Confidence float64        `json:"confidence"`
	Strength   float64        `json:"strength"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TimeSignature describes the meter attached to a tempo estimate.
type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// Tempo is an estimated tempo with its confidence.
type Tempo struct {
	BPM           float64        `json:"bpm"`
	Confidence    float64        `json:"confidence"`
	TimeSignature *TimeSignature `json:"time_signature,omitempty"`
}

// ProgressFunc receives completion percentage in [0, 100].
type ProgressFunc func(percent float64)

// ParseOptions carries per-call tuning for a parse operation. Zero values
// fall back to the parser configuration.
type ParseOptions struct {
	MinConfidence      float64         `json:"min_confidence"`       // drop beats below this confidence
	WindowSize         int             `json:"window_size"`          // analysis window length in samples
	HopSize            int             `json:"hop_size"`             // stride between windows in samples
	SampleRate         int             `json:"sample_rate"`          // sample rate of the buffer in Hz
	TargetPictureCount int             `json:"target_picture_count"` // 0 means no limit
	SelectionMethod    SelectionMethod `json:"selection_method"`
	Filename           string          `json:"filename,omitempty"` // opaque label carried into result metadata
	Progress           ProgressFunc    `json:"-"`
}

// ResultMetadata describes how a ParseResult was produced.
type ResultMetadata struct {
	ProcessingTime time.Duration `json:"processing_time_ns"`
	SampleCount    int           `json:"sample_count"`
	SampleRate     int           `json:"sample_rate"`
	FrameCount     int           `json:"frame_count"`
	Filename       string        `json:"filename,omitempty"`
	Algorithms     []string      `json:"algorithms,omitempty"` // analysis stages that ran
	Plugins        []string      `json:"plugins,omitempty"`    // plugins that observed this parse
	Error          string        `json:"error,omitempty"`      // per-item error annotation in batch results
}

// ParseResult is the output of one parse operation. Beats are ordered by
// timestamp ascending.
type ParseResult struct {
	Beats    []Beat         `json:"beats"`
	Tempo    Tempo          `json:"tempo"`
	Metadata ResultMetadata `json:"metadata"`
}

// StreamOptions tunes chunked stream parsing.
type StreamOptions struct {
	ChunkSize int          // samples per chunk read from the stream, > 0
	Overlap   float64      // fraction of chunk carried over, in [0, 1)
	Progress  ProgressFunc // progress callback, exceptions must not abort processing
}
