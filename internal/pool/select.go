package pool

import "math/rand"

// selectWorker picks a dispatch target with Power-of-Two-Choices: sample two
// candidates (replacement tolerated when the set is small) and take the one
// with the lower load score; ties break on the lowest worker id for
// determinism.
//
// Ready/Idle workers are preferred. When none exist the pool falls back to
// Busy workers so their bounded queues provide backpressure instead of the
// caller stalling on readiness. Spawning, Evicting, Unresponsive and Dead
// workers are never candidates.
func (p *Pool) selectWorker() *Worker {
	snap := p.snapshot()

	cands := make([]*Worker, 0, len(snap))
	for _, w := range snap {
		if w.State().selectable() {
			cands = append(cands, w)
		}
	}
	if len(cands) == 0 {
		for _, w := range snap {
			if w.State() == StateBusy {
				cands = append(cands, w)
			}
		}
	}

	switch len(cands) {
	case 0:
		return nil
	case 1:
		return cands[0]
	}

	a := cands[rand.Intn(len(cands))]
	b := cands[rand.Intn(len(cands))]
	la, lb := a.loadScore(), b.loadScore()
	if la < lb {
		return a
	}
	if lb < la {
		return b
	}
	if a.ID() <= b.ID() {
		return a
	}
	return b
}
