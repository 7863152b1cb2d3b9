package offload

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beatscan/beatscan-go/internal/audio"
	"github.com/beatscan/beatscan-go/internal/conf"
	"github.com/beatscan/beatscan-go/internal/errors"
	"github.com/beatscan/beatscan-go/internal/logging"
	"github.com/beatscan/beatscan-go/internal/model"
	"github.com/beatscan/beatscan-go/internal/observability/metrics"
)

// Sentinel errors for the client/worker transport
var (
	ErrWorkerUnavailable = errors.NewStd("worker is not available")
	ErrQueueFull         = errors.NewStd("worker request queue is full")
	ErrClientClosed      = errors.NewStd("offload client is closed")
)

// outcome is the settled state of one operation. Exactly one of result,
// results or err is meaningful.
type outcome struct {
	result  *model.ParseResult
	results []*model.ParseResult
	err     error
}

// pendingOp tracks one in-flight operation. Settlement happens exactly
// once: settle removes the entry from the pending map under the client
// lock, so timeout, cancellation and a worker response can race safely.
type pendingOp struct {
	ch       chan outcome
	timer    *time.Timer
	progress model.ProgressFunc
	start    time.Time
}

// Client submits operations to a worker and correlates responses by id.
// Timeouts are wall-clock based and owned by the client, so a deadline
// holds even against a crashed or unresponsive worker.
type Client struct {
	worker *Worker
	cfg    conf.OffloadSettings
	log    *slog.Logger
	m      *metrics.OffloadMetrics

	mu      sync.Mutex
	pending map[string]*pendingOp
	closed  bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithOffloadMetrics attaches a metrics recorder to the client.
func WithOffloadMetrics(m *metrics.OffloadMetrics) ClientOption {
	return func(c *Client) { c.m = m }
}

// NewClient creates a client bound to a started worker. An unavailable
// worker fails here, before any operation is recorded.
func NewClient(worker *Worker, cfg conf.OffloadSettings, opts ...ClientOption) (*Client, error) {
	if worker == nil || !worker.available() {
		return nil, errors.New(ErrWorkerUnavailable).
			Component("offload").
			Category(errors.CategoryWorker).
			Build()
	}
	applyOffloadDefaults(&cfg)

	c := &Client{
		worker:  worker,
		cfg:     cfg,
		log:     logging.ForService("offload-client"),
		pending: make(map[string]*pendingOp),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.dispatchLoop()
	return c, nil
}

func applyOffloadDefaults(cfg *conf.OffloadSettings) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
}

// Close stops the dispatch loop and settles every in-flight operation with
// ErrClientClosed.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.settle(id, outcome{err: errors.New(ErrClientClosed).
			Component("offload").
			Category(errors.CategoryCancellation).
			Build()})
	}

	close(c.quit)
	c.wg.Wait()
}

// PendingOperationCount returns the number of operations awaiting a
// response.
func (c *Client) PendingOperationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Operation is a handle for one in-flight request.
type Operation struct {
	ID     string
	client *Client
	ch     chan outcome
}

// Cancel sends a cancel control message and settles the operation locally
// right away: a crashed worker must not block cancellation. A result the
// worker sends later for this id is ignored.
func (op *Operation) Cancel() {
	// Best effort; the worker may already be gone.
	_ = op.client.worker.submit(Message{ID: op.ID, Type: TypeCancel})

	op.client.settle(op.ID, outcome{err: errors.Newf("operation %s cancelled", op.ID).
		Component("offload").
		Category(errors.CategoryCancellation).
		Build()})
}

// Wait blocks until the operation settles or ctx is done. Context
// expiration cancels the operation before returning.
func (op *Operation) Wait(ctx context.Context) (*model.ParseResult, error) {
	out, err := op.wait(ctx)
	if err != nil {
		return nil, err
	}
	return out.result, nil
}

// WaitBatch is Wait for batch-process operations.
func (op *Operation) WaitBatch(ctx context.Context) ([]*model.ParseResult, error) {
	out, err := op.wait(ctx)
	if err != nil {
		return nil, err
	}
	return out.results, nil
}

func (op *Operation) wait(ctx context.Context) (outcome, error) {
	select {
	case out := <-op.ch:
		return out, out.err
	case <-ctx.Done():
		op.Cancel()
		out := <-op.ch
		return out, out.err
	}
}

// SubmitBuffer submits one buffer for offloaded parsing. The buffer is
// normalized client-side so the worker always receives canonical floats.
// Transport-level submission failures are retried with a fresh id up to the
// configured maximum; domain errors from the worker are never retried.
func (c *Client) SubmitBuffer(ctx context.Context, buffer any, opts model.ParseOptions) (*Operation, error) {
	samples, err := audio.NormalizeBuffer(buffer)
	if err != nil {
		return nil, err
	}
	progress := opts.Progress
	opts.Progress = nil
	return c.submit(ctx, TypeParseBuffer, BufferPayload{Samples: samples, Options: opts}, progress)
}

// SubmitBatch submits several buffers as one logical operation. Item
// failures become placeholder results; only transport failures reject the
// batch wholesale.
func (c *Client) SubmitBatch(ctx context.Context, buffers [][]float64, opts model.ParseOptions) (*Operation, error) {
	progress := opts.Progress
	opts.Progress = nil
	return c.submit(ctx, TypeBatchProcess, BatchPayload{Buffers: buffers, Options: opts}, progress)
}

// ParseBuffer is the synchronous convenience form of SubmitBuffer.
func (c *Client) ParseBuffer(ctx context.Context, buffer any, opts model.ParseOptions) (*model.ParseResult, error) {
	op, err := c.SubmitBuffer(ctx, buffer, opts)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

// ParseStream reads raw little-endian float32 chunks from r and submits
// them as one parse-stream operation.
func (c *Client) ParseStream(ctx context.Context, r io.Reader, sopts model.StreamOptions, opts model.ParseOptions) (*model.ParseResult, error) {
	if sopts.ChunkSize <= 0 {
		return nil, errors.Newf("stream chunk size must be positive, got %d", sopts.ChunkSize).
			Component("offload").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if sopts.Overlap < 0 || sopts.Overlap >= 1 {
		return nil, errors.Newf("stream overlap must be within [0, 1), got %g", sopts.Overlap).
			Component("offload").
			Category(errors.CategoryConfiguration).
			Build()
	}

	// Overlap is resolved here so the worker receives disjoint chunks and
	// concatenation yields the same buffer the in-process stream path builds.
	overlapSamples := int(float64(sopts.ChunkSize) * sopts.Overlap)

	var chunks [][]float64
	buf := make([]byte, sopts.ChunkSize*4)
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(err).
				Component("offload").
				Category(errors.CategoryCancellation).
				Build()
		}
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			chunk := decodeFloat32Chunk(buf[:n-n%4])
			if len(chunks) > 0 && overlapSamples > 0 && len(chunk) >= overlapSamples {
				chunk = chunk[overlapSamples:]
			}
			chunks = append(chunks, chunk)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, errors.New(readErr).
				Component("offload").
				Category(errors.CategoryFileIO).
				Build()
		}
	}

	progress := opts.Progress
	if progress == nil {
		progress = sopts.Progress
	}
	opts.Progress = nil
	op, err := c.submit(ctx, TypeParseStream, StreamPayload{Chunks: chunks, Options: opts}, progress)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

// BatchProcess is the synchronous convenience form of SubmitBatch.
func (c *Client) BatchProcess(ctx context.Context, buffers [][]float64, opts model.ParseOptions) ([]*model.ParseResult, error) {
	op, err := c.SubmitBatch(ctx, buffers, opts)
	if err != nil {
		return nil, err
	}
	return op.WaitBatch(ctx)
}

// submit registers a pending entry, arms its timeout and enqueues the
// request. Each retry attempt uses a fresh id so a late response to an
// abandoned attempt can never be mistaken for the new one.
func (c *Client) submit(ctx context.Context, msgType MessageType, payload any, progress model.ProgressFunc) (*Operation, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.m != nil {
				c.m.RecordRetry()
			}
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, errors.New(ctx.Err()).
					Component("offload").
					Category(errors.CategoryCancellation).
					Build()
			}
		}

		id := uuid.NewString()
		op, err := c.register(id, progress)
		if err != nil {
			return nil, err
		}

		if err := c.worker.submit(Message{ID: id, Type: msgType, Payload: payload}); err != nil {
			c.unregister(id)
			lastErr = err
			c.log.Warn("submission failed", "id", id, "attempt", attempt, "error", err)
			continue
		}
		return op, nil
	}

	return nil, errors.New(lastErr).
		Component("offload").
		Category(errors.CategoryWorker).
		Context("max_retries", c.cfg.MaxRetries).
		Build()
}

func (c *Client) register(id string, progress model.ProgressFunc) (*Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New(ErrClientClosed).
			Component("offload").
			Category(errors.CategoryState).
			Build()
	}

	op := &pendingOp{
		ch:       make(chan outcome, 1),
		progress: progress,
		start:    time.Now(),
	}
	op.timer = time.AfterFunc(c.cfg.Timeout, func() {
		c.settle(id, outcome{err: errors.Newf("operation %s timed out after %s", id, c.cfg.Timeout).
			Component("offload").
			Category(errors.CategoryTimeout).
			Context("timeout", c.cfg.Timeout.String()).
			Build()})
	})
	c.pending[id] = op
	if c.m != nil {
		c.m.SetPending(len(c.pending))
	}
	return &Operation{ID: id, client: c, ch: op.ch}, nil
}

// unregister removes an entry that never reached the worker, without
// settling its channel.
func (c *Client) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if op, ok := c.pending[id]; ok {
		op.timer.Stop()
		delete(c.pending, id)
		if c.m != nil {
			c.m.SetPending(len(c.pending))
		}
	}
}

// settle resolves one pending operation exactly once. Later settle calls
// for the same id, from any of the racing paths, find no entry and return.
func (c *Client) settle(id string, out outcome) {
	c.mu.Lock()
	op, ok := c.pending[id]
	if ok {
		op.timer.Stop()
		delete(c.pending, id)
		if c.m != nil {
			c.m.SetPending(len(c.pending))
		}
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if c.m != nil {
		c.m.RecordOperation(outcomeLabel(out), time.Since(op.start))
	}
	op.ch <- out
}

func outcomeLabel(out outcome) string {
	switch {
	case out.err == nil:
		return "success"
	case errors.IsTimeout(out.err):
		return "timeout"
	case errors.IsCancellation(out.err):
		return "cancelled"
	default:
		return "error"
	}
}

// dispatchLoop routes worker responses to pending operations. Responses
// for unknown ids, including late results for timed-out or cancelled
// operations, are dropped.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		case msg := <-c.worker.Responses():
			switch msg.Type {
			case TypeProgress:
				c.handleProgress(msg)
			case TypeResult:
				payload, ok := msg.Payload.(ResultPayload)
				if !ok {
					c.settle(msg.ID, outcome{err: errors.NewStd("malformed result payload")})
					continue
				}
				c.settle(msg.ID, outcome{result: payload.Result, results: payload.Results})
			case TypeError:
				c.settle(msg.ID, outcome{err: rehydrateError(msg.Payload)})
			default:
				c.log.Warn("ignoring unexpected response type", "type", msg.Type, "id", msg.ID)
			}
		}
	}
}

// handleProgress forwards a clamped percentage to the caller's callback.
// Progress never settles the entry, and a panicking callback is contained.
func (c *Client) handleProgress(msg Message) {
	payload, ok := msg.Payload.(ProgressPayload)
	if !ok {
		return
	}

	c.mu.Lock()
	op, exists := c.pending[msg.ID]
	c.mu.Unlock()
	if !exists || op.progress == nil {
		return
	}

	percent := payload.Percent
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	defer func() { _ = recover() }()
	op.progress(percent)
}

// rehydrateError turns a serialized worker failure back into a typed error.
func rehydrateError(payload any) error {
	ep, ok := payload.(ErrorPayload)
	if !ok {
		return errors.NewStd("malformed error payload")
	}
	category := errors.ErrorCategory(ep.Category)
	if category == "" {
		category = errors.CategoryGeneric
	}
	return errors.Newf("%s", ep.Message).
		Component("offload").
		Category(category).
		Build()
}

func decodeFloat32Chunk(b []byte) []float64 {
	out := make([]float64, 0, len(b)/4)
	for i := 0; i+4 <= len(b); i += 4 {
		bits := binary.LittleEndian.Uint32(b[i:])
		out = append(out, float64(math.Float32frombits(bits)))
	}
	return out
}
