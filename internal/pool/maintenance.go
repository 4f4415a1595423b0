package pool

import (
	"sort"
	"time"
)

// Start launches the pool's maintenance loop: periodic health probes, idle
// eviction and dead-worker sweeps. Idempotent; only the registry's winning
// pool instance is ever started.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.maintWG.Add(1)
	go p.maintain()
}

func (p *Pool) maintain() {
	defer p.maintWG.Done()
	tick := time.NewTicker(p.cfg.MaintenanceInterval)
	defer tick.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-tick.C:
			p.sweep()
		}
	}
}

// sweep runs one maintenance cycle. Probes suspend only this loop, never
// the request path.
func (p *Pool) sweep() {
	p.probeWorkers()
	p.evictIdle()
	p.removeDead()
}

// probeWorkers health-checks workers that have shown no activity for longer
// than the staleness threshold. A recently active worker is alive by
// definition and is not probed, so a long generation that keeps emitting
// chunks is never falsely marked unresponsive.
func (p *Pool) probeWorkers() {
	for _, w := range p.snapshot() {
		st := w.State()
		if !st.alive() || st == StateSpawning {
			continue
		}
		if w.idleFor() < p.cfg.ProbeStaleAfter {
			continue
		}
		if w.probe(p.cfg.ProbeWindow) {
			continue
		}
		if !w.life.transition(StateUnresponsive) {
			continue
		}
		p.log.Warn().Uint64("worker", w.ID()).Msg("worker unresponsive, forcing teardown")
		w.shutdown()
		// The loop may be wedged and never observe the shutdown; force the
		// terminal state so the sweep below removes the handle.
		w.life.transition(StateDead)
		workersEvictedTotal.WithLabelValues(p.key.String(), "unresponsive").Inc()
		p.pub.Publish(Event{Name: "worker_unresponsive", Key: p.key.String(), Fields: map[string]any{"worker": w.ID()}})
	}
}

// evictIdle tears down workers with no in-flight or queued work whose idle
// age exceeds the threshold, oldest first, never dropping the pool below
// MinWorkers.
func (p *Pool) evictIdle() {
	snap := p.snapshot()
	live := 0
	var cands []*Worker
	for _, w := range snap {
		st := w.State()
		if st.alive() {
			live++
		}
		if !st.selectable() {
			continue
		}
		if w.ActiveRequests() != 0 || w.QueueLen() != 0 {
			continue
		}
		if w.idleFor() < p.cfg.IdleTimeout {
			continue
		}
		cands = append(cands, w)
	}
	if len(cands) == 0 {
		return
	}
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].lastActivity.Load() < cands[j].lastActivity.Load()
	})
	budget := live - p.cfg.MinWorkers
	for _, w := range cands {
		if budget <= 0 {
			return
		}
		if !w.beginEvict() {
			continue
		}
		w.shutdown()
		budget--
		p.log.Info().Uint64("worker", w.ID()).Dur("idle", w.idleFor()).Msg("evicting idle worker")
		workersEvictedTotal.WithLabelValues(p.key.String(), "idle").Inc()
		p.pub.Publish(Event{Name: "worker_evicted", Key: p.key.String(), Fields: map[string]any{"worker": w.ID()}})
	}
}

// removeDead drops terminal workers from the set and releases their claims.
// Release is idempotent: the worker goroutine normally releases on exit,
// but a wedged goroutine must not pin budget forever.
func (p *Pool) removeDead() {
	removed := p.removeWorkers(func(w *Worker) bool { return w.State() == StateDead })
	for _, w := range removed {
		w.alloc.Release()
		p.log.Debug().Uint64("worker", w.ID()).Msg("removed dead worker")
	}
}
