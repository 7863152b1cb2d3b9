package offload

import (
	"context"
	"log/slog"
	"sync"

	"github.com/beatscan/beatscan-go/internal/beatparser"
	"github.com/beatscan/beatscan-go/internal/errors"
	"github.com/beatscan/beatscan-go/internal/logging"
	"github.com/beatscan/beatscan-go/internal/model"
)

// Worker executes parse requests from a bounded queue against a single
// parser instance. All state lives on the struct, so multiple workers in
// one process are fully independent.
//
// Two goroutines serve a running worker: a control loop that stays
// responsive to cancel messages, and an executor that runs one parse at a
// time. Cancellation is cooperative: the executor stops at the next
// checkpoint (between batch items, between frame chunks) and never emits a
// result for a cancelled id.
type Worker struct {
	parser    *beatparser.Parser
	requests  chan Message
	work      chan Message
	responses chan Message
	quit      chan struct{}
	log       *slog.Logger

	mu        sync.Mutex
	started   bool
	stopped   bool
	queued    map[string]struct{}
	cancels   map[string]context.CancelFunc
	cancelled map[string]struct{}
	wg        sync.WaitGroup
}

// NewWorker creates a worker around the given parser with a request queue
// of the given size. The worker does nothing until Start is called.
func NewWorker(parser *beatparser.Parser, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Worker{
		parser:    parser,
		requests:  make(chan Message, queueSize),
		work:      make(chan Message, queueSize),
		responses: make(chan Message, queueSize*4),
		quit:      make(chan struct{}),
		log:       logging.ForService("offload-worker"),
		queued:    make(map[string]struct{}),
		cancels:   make(map[string]context.CancelFunc),
		cancelled: make(map[string]struct{}),
	}
}

// Start launches the worker's control and executor goroutines. Starting an
// already started or stopped worker is an error.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return errors.New(ErrWorkerUnavailable).
			Component("offload").
			Category(errors.CategoryWorker).
			Build()
	}
	w.started = true

	w.wg.Add(2)
	go w.controlLoop(ctx)
	go w.executorLoop(ctx)
	return nil
}

// Stop shuts the worker down and waits for its goroutines to exit. Requests
// still queued are dropped; the client's timeouts settle their callers.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.stopped = true
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.quit)
	w.wg.Wait()
}

// Responses exposes the worker's response stream to the client.
func (w *Worker) Responses() <-chan Message {
	return w.responses
}

// available reports whether the worker accepts new requests.
func (w *Worker) available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// submit enqueues a request without blocking. A full queue is a transport
// failure the client may retry.
func (w *Worker) submit(msg Message) error {
	if !w.available() {
		return ErrWorkerUnavailable
	}
	select {
	case w.requests <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// controlLoop routes incoming messages. Cancel messages take effect
// immediately even while the executor is busy; work requests are forwarded
// to the executor.
func (w *Worker) controlLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		case msg := <-w.requests:
			switch msg.Type {
			case TypeCancel:
				w.cancelOperation(msg.ID)
			case TypeParseBuffer, TypeParseStream, TypeBatchProcess:
				w.markQueued(msg.ID)
				select {
				case w.work <- msg:
				default:
					w.unmarkQueued(msg.ID)
					w.log.Warn("work queue full, dropping request", "id", msg.ID)
				}
			default:
				w.log.Warn("ignoring unexpected message type", "type", msg.Type, "id", msg.ID)
			}
		}
	}
}

func (w *Worker) executorLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		case msg := <-w.work:
			w.execute(ctx, msg)
		}
	}
}

func (w *Worker) markQueued(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queued[id] = struct{}{}
}

func (w *Worker) unmarkQueued(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.queued, id)
}

// cancelOperation marks an id cancelled and fires its context if the
// operation is currently running. Cancels for unknown ids, including ids
// that already completed, are ignored so they leave no bookkeeping behind.
func (w *Worker) cancelOperation(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.cancels[id]; ok {
		w.cancelled[id] = struct{}{}
		cancel()
		return
	}
	if _, ok := w.queued[id]; ok {
		w.cancelled[id] = struct{}{}
	}
}

func (w *Worker) isCancelled(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.cancelled[id]
	return ok
}

// beginOperation installs a cancellable context for the id. It returns
// false when the id was cancelled before execution began; that entry is
// consumed here so a skipped operation leaves no state behind.
func (w *Worker) beginOperation(ctx context.Context, id string) (context.Context, context.CancelFunc, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.queued, id)
	if _, ok := w.cancelled[id]; ok {
		delete(w.cancelled, id)
		return nil, nil, false
	}
	opCtx, cancel := context.WithCancel(ctx)
	w.cancels[id] = cancel
	return opCtx, cancel, true
}

func (w *Worker) endOperation(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.cancels[id]; ok {
		cancel()
		delete(w.cancels, id)
	}
	delete(w.cancelled, id)
}

func (w *Worker) execute(ctx context.Context, msg Message) {
	opCtx, _, ok := w.beginOperation(ctx, msg.ID)
	if !ok {
		return
	}
	defer w.endOperation(msg.ID)

	switch msg.Type {
	case TypeParseBuffer:
		payload, ok := msg.Payload.(BufferPayload)
		if !ok {
			w.sendError(msg.ID, errors.NewStd("malformed parse-buffer payload"))
			return
		}
		w.runParse(opCtx, msg.ID, payload.Samples, payload.Options)

	case TypeParseStream:
		payload, ok := msg.Payload.(StreamPayload)
		if !ok {
			w.sendError(msg.ID, errors.NewStd("malformed parse-stream payload"))
			return
		}
		var samples []float64
		for _, chunk := range payload.Chunks {
			samples = append(samples, chunk...)
		}
		w.runParse(opCtx, msg.ID, samples, payload.Options)

	case TypeBatchProcess:
		payload, ok := msg.Payload.(BatchPayload)
		if !ok {
			w.sendError(msg.ID, errors.NewStd("malformed batch-process payload"))
			return
		}
		w.runBatch(opCtx, msg.ID, payload)
	}
}

func (w *Worker) runParse(ctx context.Context, id string, samples []float64, opts model.ParseOptions) {
	opts.Progress = func(percent float64) {
		w.sendProgress(id, percent)
	}

	result, err := w.parser.ParseBuffer(ctx, samples, opts)
	if w.isCancelled(id) || ctx.Err() != nil {
		return
	}
	if err != nil {
		w.sendError(id, err)
		return
	}
	w.send(Message{ID: id, Type: TypeResult, Payload: ResultPayload{Result: result}})
}

// runBatch processes each buffer in order. An item failure becomes a
// placeholder result carrying the error, it never aborts the batch. The
// context is checked between items, which is the batch-level cancellation
// checkpoint.
func (w *Worker) runBatch(ctx context.Context, id string, payload BatchPayload) {
	n := len(payload.Buffers)
	results := make([]*model.ParseResult, 0, n)

	for i, buffer := range payload.Buffers {
		if w.isCancelled(id) || ctx.Err() != nil {
			return
		}

		opts := payload.Options
		item := i
		opts.Progress = func(percent float64) {
			w.sendProgress(id, (float64(item)*100+percent)/float64(n))
		}

		result, err := w.parser.ParseBuffer(ctx, buffer, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			results = append(results, &model.ParseResult{
				Beats: []model.Beat{},
				Metadata: model.ResultMetadata{
					SampleCount: len(buffer),
					Error:       err.Error(),
				},
			})
			continue
		}
		results = append(results, result)
	}

	if w.isCancelled(id) || ctx.Err() != nil {
		return
	}
	w.send(Message{ID: id, Type: TypeResult, Payload: ResultPayload{Results: results}})
}

func (w *Worker) sendProgress(id string, percent float64) {
	if w.isCancelled(id) {
		return
	}
	w.send(Message{ID: id, Type: TypeProgress, Payload: ProgressPayload{Percent: percent}})
}

func (w *Worker) sendError(id string, err error) {
	category := string(errors.CategoryGeneric)
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		category = string(enhanced.Category)
	}
	w.send(Message{ID: id, Type: TypeError, Payload: ErrorPayload{
		Message:  err.Error(),
		Category: category,
	}})
}

// send never blocks: a response the client is not draining is dropped with
// a warning, and the client's timeout settles the caller.
func (w *Worker) send(msg Message) {
	select {
	case w.responses <- msg:
	default:
		w.log.Warn("response channel full, dropping message", "id", msg.ID, "type", msg.Type)
	}
}
