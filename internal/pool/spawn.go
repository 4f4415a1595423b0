package pool

import "poold/internal/capability"

// ensureCapacity makes sure the pool can plausibly serve a dispatch.
//
// Cold start (zero live workers): pre-warm up to cfg.PreWarm workers by
// requesting that many allocation claims up front. If only some are
// grantable the pool degrades gracefully to what fits; if none are, the
// dispatch fails with MemoryExhausted.
//
// Warm path: evaluated lazily at dispatch time, not on a schedule. When all
// current workers are busy, the cap is not reached, and the governor grants
// another claim, spawn one more worker. Scale-up attempts are paced by the
// rate limiter so a burst cannot spawn-storm.
func (p *Pool) ensureCapacity() error {
	if p.liveCount() == 0 {
		return p.coldStart()
	}
	if p.allBusy() && p.liveCount() < p.cfg.MaxWorkers && p.scaleLimiter.Allow() {
		p.scaleUp()
	}
	return nil
}

func (p *Pool) coldStart() error {
	if !p.spawning.CompareAndSwap(false, true) {
		// Another dispatcher is spawning; the caller proceeds to
		// WaitForWorkers.
		return nil
	}
	defer p.spawning.Store(false)

	// Double-check: the racer that held the lock may have spawned already.
	if p.liveCount() > 0 {
		return nil
	}

	var allocs []*Allocation
	var allocErr error
	for i := 0; i < p.cfg.PreWarm; i++ {
		a, err := p.gov.TryAllocate(p.cfg.CostMB)
		if err != nil {
			allocErr = err
			break
		}
		allocs = append(allocs, a)
	}
	if len(allocs) == 0 {
		p.coldStartErr.Store(&allocErr)
		p.pub.Publish(Event{Name: "cold_start_exhausted", Key: p.key.String(), Fields: map[string]any{"cost_mb": p.cfg.CostMB}})
		return allocErr
	}
	p.coldStartErr.Store(nil)
	if len(allocs) < p.cfg.PreWarm {
		p.log.Info().Int("granted", len(allocs)).Int("wanted", p.cfg.PreWarm).
			Msg("partial pre-warm, degrading to what fits")
	}
	for _, a := range allocs {
		p.spawn(a)
	}
	return nil
}

func (p *Pool) scaleUp() {
	if !p.spawning.CompareAndSwap(false, true) {
		return
	}
	defer p.spawning.Store(false)

	// Re-check under the lock: a racer may have spawned or load may have
	// drained.
	if !p.allBusy() || p.liveCount() >= p.cfg.MaxWorkers {
		return
	}
	a, err := p.gov.TryAllocate(p.cfg.CostMB)
	if err != nil {
		// At memory capacity; not an error, the queues absorb the load.
		p.log.Debug().Err(err).Msg("scale-up skipped")
		return
	}
	p.log.Info().Int("live", p.liveCount()).Msg("all workers busy, spawning one more")
	p.spawn(a)
}

// spawn creates one worker owning the given allocation claim and starts its
// goroutine. The claim is released by the worker on every exit path.
func (p *Pool) spawn(alloc *Allocation) *Worker {
	id := p.nextID.Add(1)
	w := newWorker(id, p.key, alloc, p.cfg.QueueDepth, p.log)
	p.addWorker(w)
	go w.run(func() (capability.Runner, error) {
		return p.loader.Load(p.key)
	})
	workersSpawnedTotal.WithLabelValues(p.key.String()).Inc()
	p.pub.Publish(Event{Name: "worker_spawned", Key: p.key.String(), Fields: map[string]any{"worker": id, "alloc_mb": alloc.SizeMB()}})
	return w
}
