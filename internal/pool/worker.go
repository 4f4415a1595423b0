package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"poold/internal/capability"
	"poold/pkg/types"
)

// task is one accepted request travelling through a worker's inbound queue.
type task struct {
	ctx    context.Context
	req    types.GenerateRequest
	out    chan types.Chunk
	record func(failed bool)
}

// Worker wraps one loaded capability runner. It owns a bounded inbound
// queue, processes accepted requests strictly in arrival order, and streams
// chunks back to each caller. All hot-path fields are atomics; the worker
// goroutine is the only writer of its own queue consumption.
type Worker struct {
	id  uint64
	key types.CapabilityKey

	life         lifecycle
	createdAt    time.Time
	lastActivity atomic.Int64 // unix nanos
	active       atomic.Int64 // in-flight processing, bounded at 1

	queue   chan *task
	probeCh chan chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	alloc *Allocation
	log   zerolog.Logger
}

func newWorker(id uint64, key types.CapabilityKey, alloc *Allocation, queueDepth int, log zerolog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:        id,
		key:       key,
		createdAt: time.Now(),
		queue:     make(chan *task, queueDepth),
		probeCh:   make(chan chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		alloc:     alloc,
		log:       log.With().Uint64("worker", id).Str("key", key.String()).Logger(),
	}
	w.touch()
	return w
}

// ID returns the worker's pool-unique sequential id.
func (w *Worker) ID() uint64 { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState { return w.life.load() }

// ActiveRequests returns the number of requests currently processing.
func (w *Worker) ActiveRequests() int64 { return w.active.Load() }

// QueueLen returns the number of accepted-but-unprocessed requests.
func (w *Worker) QueueLen() int { return len(w.queue) }

// loadScore is what the balancer compares: in-flight plus queued work.
func (w *Worker) loadScore() int64 { return w.active.Load() + int64(len(w.queue)) }

func (w *Worker) touch() { w.lastActivity.Store(time.Now().UnixNano()) }

// idleFor returns the time since the worker last showed activity.
func (w *Worker) idleFor() time.Duration {
	return time.Since(time.Unix(0, w.lastActivity.Load()))
}

// Submit enqueues a request onto the bounded inbound queue. A full queue
// fails immediately with backpressure; the queue never grows unbounded.
// record is invoked exactly once when the request finishes, with its
// failure status.
func (w *Worker) Submit(ctx context.Context, req types.GenerateRequest, record func(failed bool)) (<-chan types.Chunk, error) {
	switch w.life.load() {
	case StateReady, StateBusy, StateIdle:
	default:
		return nil, workerUnavailableError{workerID: w.id}
	}
	t := &task{ctx: ctx, req: req, out: make(chan types.Chunk, chunkBuffer), record: record}
	select {
	case w.queue <- t:
		w.touch()
		return t.out, nil
	default:
		return nil, tooBusyError{key: w.key, workerID: w.id}
	}
}

// probe performs one non-blocking request/acknowledge exchange with the
// worker loop. It returns false when the loop does not answer within the
// window.
func (w *Worker) probe(window time.Duration) bool {
	ack := make(chan struct{})
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case w.probeCh <- ack:
	case <-w.done:
		return false
	case <-timer.C:
		return false
	}
	select {
	case <-ack:
		return true
	case <-timer.C:
		return false
	}
}

// beginEvict marks the worker Evicting so selection skips it. Returns false
// when the current state forbids eviction (already dead).
func (w *Worker) beginEvict() bool { return w.life.transition(StateEvicting) }

// shutdown cancels the worker context; the loop drains and exits.
func (w *Worker) shutdown() { w.cancel() }

// run is the worker goroutine: load the capability, then serve the queue
// until shutdown. The allocation claim is released on every exit path.
func (w *Worker) run(load func() (capability.Runner, error)) {
	defer close(w.done)
	defer w.alloc.Release()

	runner, err := load()
	if err != nil {
		// Spawn failure: tear down immediately, surface to queued callers.
		w.log.Error().Err(err).Msg("capability load failed")
		w.life.transition(StateDead)
		w.failQueued(err)
		return
	}
	defer runner.Close()

	if !w.life.transition(StateReady) {
		// Evicted while loading.
		w.failQueued(workerUnavailableError{workerID: w.id})
		w.life.transition(StateDead)
		return
	}
	w.log.Debug().Msg("worker ready")

	for {
		select {
		case t := <-w.queue:
			w.process(runner, t)
		case ack := <-w.probeCh:
			close(ack)
		case <-w.ctx.Done():
			w.failQueued(workerUnavailableError{workerID: w.id})
			w.life.transition(StateDead)
			return
		}
	}
}

// process runs one request to completion and streams its chunks.
func (w *Worker) process(runner capability.Runner, t *task) {
	w.active.Add(1)
	w.life.transition(StateBusy)
	w.touch()

	// Stream close is the completion signal, so it is the last thing to
	// happen: bookkeeping and the outcome callback run first.
	failed := false
	defer close(t.out)
	defer func() {
		w.active.Add(-1)
		w.touch()
		// Queue just emptied -> Idle (eviction clock starts); more work
		// queued -> Ready.
		if len(w.queue) == 0 {
			w.life.transition(StateIdle)
		} else {
			w.life.transition(StateReady)
		}
		if t.record != nil {
			t.record(failed)
		}
	}()

	// A worker teardown cancels in-flight generations too.
	ctx, cancel := joinContexts(t.ctx, w.ctx)
	defer cancel()

	if err := ctx.Err(); err != nil {
		failed = true
		select {
		case t.out <- types.Chunk{Err: w.terminalError(err, t)}:
		default:
		}
		return
	}

	params := capability.Params{
		MaxTokens:   t.req.MaxTokens,
		Temperature: float32(t.req.Temperature),
		TopP:        float32(t.req.TopP),
		TopK:        t.req.TopK,
		Stop:        t.req.Stop,
		Seed:        int(t.req.Seed),
	}

	abandoned := false
	final, err := runner.Generate(ctx, t.req.Prompt, params, func(tok string) error {
		w.touch()
		select {
		case t.out <- types.Chunk{Token: tok}:
			return nil
		case <-ctx.Done():
			// Consumer walked away (or the worker is shutting down): stop
			// generating and count a local failure; the queue keeps moving.
			abandoned = true
			return ctx.Err()
		}
	})
	if err != nil {
		failed = true
		if !abandoned {
			select {
			case t.out <- types.Chunk{Err: w.terminalError(err, t)}:
			case <-t.ctx.Done():
			}
		}
		w.log.Debug().Err(err).Bool("abandoned", abandoned).Msg("generation failed")
		return
	}

	usage := final.Usage
	select {
	case t.out <- types.Chunk{Done: true, FinishReason: final.FinishReason, Usage: &usage}:
	case <-t.ctx.Done():
		failed = true
	}
}

// terminalError renders the message for a failed request's terminal chunk.
// A failure caused by the worker being torn down, not by the caller, carries
// the retry-on-another-worker signal instead of a bare cancellation string.
func (w *Worker) terminalError(err error, t *task) string {
	if w.ctx.Err() != nil && t.ctx.Err() == nil {
		return workerUnavailableError{workerID: w.id}.Error()
	}
	return err.Error()
}

// failQueued drains accepted-but-unprocessed tasks, terminating each stream
// with an error chunk carrying the retry-elsewhere signal.
func (w *Worker) failQueued(cause error) {
	for {
		select {
		case t := <-w.queue:
			select {
			case t.out <- types.Chunk{Err: cause.Error()}:
			default:
			}
			if t.record != nil {
				t.record(true)
			}
			close(t.out)
		default:
			return
		}
	}
}

// joinContexts returns a context canceled when either a or b is done. The
// returned cancel func must be called to release the goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
		case <-b.Done():
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}
