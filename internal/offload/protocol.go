// Package offload runs parse operations off the calling goroutine. A worker
// owns one parser and executes requests from a bounded queue; a client
// correlates requests and responses by id, enforcing timeouts, retries and
// cancellation on its own clock so an unresponsive worker can never block
// the caller.
package offload

import (
	"github.com/beatscan/beatscan-go/internal/model"
)

// MessageType discriminates the protocol envelope payload.
type MessageType string

const (
	// Requests
	TypeParseBuffer  MessageType = "parse-buffer"
	TypeParseStream  MessageType = "parse-stream"
	TypeBatchProcess MessageType = "batch-process"

	// Responses
	TypeProgress MessageType = "progress"
	TypeResult   MessageType = "result"
	TypeError    MessageType = "error"

	// Control, no response expected
	TypeCancel MessageType = "cancel"
)

// Message is the protocol envelope. ID is generated by the client per
// in-flight operation and echoed on every associated response.
type Message struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// BufferPayload carries one sample buffer for a parse-buffer request.
type BufferPayload struct {
	Samples []float64          `json:"samples"`
	Options model.ParseOptions `json:"options"`
}

// StreamPayload carries pre-read stream chunks for a parse-stream request.
// Chunks are concatenated worker-side in order.
type StreamPayload struct {
	Chunks  [][]float64        `json:"chunks"`
	Options model.ParseOptions `json:"options"`
}

// BatchPayload fans out several buffers as one logical operation.
type BatchPayload struct {
	Buffers [][]float64        `json:"buffers"`
	Options model.ParseOptions `json:"options"`
}

// ProgressPayload reports completion percentage for an in-flight operation.
// Values outside [0, 100] are clamped by the client, never rejected.
type ProgressPayload struct {
	Percent float64 `json:"percent"`
}

// ResultPayload carries the outcome of a parse request. Batch requests set
// Results with one entry per input buffer; single requests set Result.
type ResultPayload struct {
	Result  *model.ParseResult   `json:"result,omitempty"`
	Results []*model.ParseResult `json:"results,omitempty"`
}

// ErrorPayload is a worker-side failure serialized for the client, which
// rethrows it as a typed error rather than an opaque string.
type ErrorPayload struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}
