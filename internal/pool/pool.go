package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"poold/internal/capability"
	"poold/pkg/types"
)

// Pool owns the dynamic worker set for one capability key. Dispatch-path
// reads of the worker set go through an atomically swapped snapshot slice;
// structural mutation (add/remove) is serialized under mu, and spawning is
// additionally gated by a compare-and-swap lock so at most one spawn
// decision is in flight.
type Pool struct {
	key    types.CapabilityKey
	cfg    Config
	gov    *Governor
	loader capability.Loader
	log    zerolog.Logger
	pub    EventPublisher

	workers atomic.Pointer[[]*Worker]
	mu      sync.Mutex // guards structural mutation of the worker set

	spawning atomic.Bool // CAS spawn lock
	nextID   atomic.Uint64

	// Last cold-start failure cause, so dispatchers that lost the spawn
	// race surface the same error as the one that held the lock.
	coldStartErr atomic.Pointer[error]

	breaker *Breaker

	requests  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64

	scaleLimiter *rate.Limiter

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	maintWG  sync.WaitGroup
}

// New constructs a pool. The maintenance loop does not run until Start;
// registry callers start only the pool that won the insert race.
func New(key types.CapabilityKey, cfg Config, gov *Governor, loader capability.Loader, log zerolog.Logger, pub EventPublisher) *Pool {
	cfg = cfg.withDefaults()
	if pub == nil {
		pub = NoopPublisher{}
	}
	p := &Pool{
		key:          key,
		cfg:          cfg,
		gov:          gov,
		loader:       loader,
		log:          log.With().Str("key", key.String()).Logger(),
		pub:          pub,
		breaker:      newBreaker(cfg.Breaker),
		scaleLimiter: rate.NewLimiter(rate.Every(scaleUpInterval), scaleUpBurst),
		stopCh:       make(chan struct{}),
	}
	empty := make([]*Worker, 0)
	p.workers.Store(&empty)
	return p
}

// Key returns the capability key this pool serves.
func (p *Pool) Key() types.CapabilityKey { return p.key }

// Breaker exposes the pool's circuit breaker.
func (p *Pool) Breaker() *Breaker { return p.breaker }

// snapshot returns the current worker slice without locking. The slice is
// immutable; mutation replaces the pointer.
func (p *Pool) snapshot() []*Worker { return *p.workers.Load() }

func (p *Pool) addWorker(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.snapshot()
	next := make([]*Worker, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, w)
	p.workers.Store(&next)
}

// removeWorkers drops workers matching keep==false and returns them.
func (p *Pool) removeWorkers(drop func(*Worker) bool) []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.snapshot()
	next := make([]*Worker, 0, len(cur))
	var removed []*Worker
	for _, w := range cur {
		if drop(w) {
			removed = append(removed, w)
			continue
		}
		next = append(next, w)
	}
	if len(removed) > 0 {
		p.workers.Store(&next)
	}
	return removed
}

func (p *Pool) liveCount() int {
	n := 0
	for _, w := range p.snapshot() {
		if w.State().alive() {
			n++
		}
	}
	return n
}

func (p *Pool) hasSelectable() bool {
	for _, w := range p.snapshot() {
		if w.State().selectable() {
			return true
		}
	}
	return false
}

func (p *Pool) allBusy() bool {
	busy := 0
	live := 0
	for _, w := range p.snapshot() {
		st := w.State()
		if !st.alive() {
			continue
		}
		live++
		if st == StateBusy || w.loadScore() > 0 {
			busy++
		}
	}
	return live > 0 && busy == live
}

// recordOutcome feeds per-request results into counters and the breaker.
// Invoked once per accepted request by the worker that processed it.
func (p *Pool) recordOutcome(failed bool) {
	if failed {
		p.failures.Add(1)
		p.breaker.RecordFailure()
		dispatchesTotal.WithLabelValues(p.key.String(), "failure").Inc()
	} else {
		p.successes.Add(1)
		p.breaker.RecordSuccess()
		dispatchesTotal.WithLabelValues(p.key.String(), "success").Inc()
	}
	breakerStateGauge.WithLabelValues(p.key.String()).Set(float64(p.breaker.State()))
}

// Status returns a read-only projection for status reporting.
func (p *Pool) Status() types.PoolStatus {
	snap := p.snapshot()
	ws := make([]types.WorkerStatus, 0, len(snap))
	for _, w := range snap {
		ws = append(ws, types.WorkerStatus{
			ID:          w.ID(),
			State:       w.State().String(),
			Active:      w.ActiveRequests(),
			QueueLen:    w.QueueLen(),
			IdleSeconds: int64(w.idleFor() / time.Second),
			AllocMB:     w.alloc.SizeMB(),
		})
	}
	return types.PoolStatus{
		Key:          p.key,
		Workers:      ws,
		MinWorkers:   p.cfg.MinWorkers,
		MaxWorkers:   p.cfg.MaxWorkers,
		Requests:     p.requests.Load(),
		Successes:    p.successes.Load(),
		Failures:     p.failures.Load(),
		BreakerState: p.breaker.State().String(),
	}
}

// Close stops the maintenance loop and tears down every worker, waiting
// briefly for their goroutines to exit. Used at process shutdown only.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.maintWG.Wait()

	snap := p.snapshot()
	for _, w := range snap {
		w.beginEvict()
		w.shutdown()
	}
	deadline := time.After(2 * time.Second)
	for _, w := range snap {
		select {
		case <-w.done:
		case <-deadline:
		}
		w.alloc.Release()
	}
	p.removeWorkers(func(*Worker) bool { return true })
}
