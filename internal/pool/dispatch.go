package pool

import (
	"context"
	"time"

	"poold/pkg/types"
)

// Dispatch admits one request: circuit gate, capacity check, readiness
// wait, Power-of-Two-Choices selection, submit. Submission suspends only
// until the request is enqueued; completion is observed by consuming the
// returned stream.
func (p *Pool) Dispatch(ctx context.Context, req types.GenerateRequest) (<-chan types.Chunk, error) {
	p.requests.Add(1)

	if !p.breaker.Allow() {
		dispatchesTotal.WithLabelValues(p.key.String(), "degraded").Inc()
		return nil, serviceDegradedError{key: p.key}
	}

	stream, err := p.dispatch(ctx, req)
	if err != nil && p.breaker.State() == BreakerHalfOpen {
		// A half-open trial that never reached a worker is still a failed
		// trial. Re-trip so a later cooldown grants fresh trials; otherwise
		// the consumed trial budget would pin the pool half-open forever.
		p.breaker.RecordFailure()
	}
	return stream, err
}

func (p *Pool) dispatch(ctx context.Context, req types.GenerateRequest) (<-chan types.Chunk, error) {
	if err := p.ensureCapacity(); err != nil {
		dispatchesTotal.WithLabelValues(p.key.String(), "exhausted").Inc()
		return nil, err
	}

	w := p.selectWorker()
	if w == nil {
		// Cold start or every worker mid-spawn: bridge the load latency.
		if err := p.WaitForWorkers(ctx, p.cfg.WaitTimeout); err != nil {
			return nil, err
		}
		w = p.selectWorker()
		if w == nil {
			dispatchesTotal.WithLabelValues(p.key.String(), "timeout").Inc()
			return nil, waitTimeoutError{key: p.key, timeout: p.cfg.WaitTimeout}
		}
	}

	stream, err := w.Submit(ctx, req, p.recordOutcome)
	if err == nil {
		return stream, nil
	}
	if IsTooBusy(err) || IsWorkerUnavailable(err) {
		// One reselect before surfacing backpressure to the caller.
		if w2 := p.selectWorker(); w2 != nil && w2 != w {
			if stream2, err2 := w2.Submit(ctx, req, p.recordOutcome); err2 == nil {
				return stream2, nil
			}
		}
		dispatchesTotal.WithLabelValues(p.key.String(), "backpressure").Inc()
	}
	return nil, err
}

// WaitForWorkers blocks until at least one worker is in the Ready or Idle
// state, or the timeout elapses. Readiness is defined by worker state, not
// heartbeat freshness; staleness belongs to the maintenance loop.
//
// It also detects failed cold starts: when no spawn is in flight and no
// live worker remains, the recorded cold-start cause (or a generic spawn
// failure) is returned so the caller is not pinned for the whole timeout.
func (p *Pool) WaitForWorkers(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.cfg.WaitTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	for {
		if p.hasSelectable() {
			return nil
		}
		if p.liveCount() == 0 && !p.spawning.Load() {
			if ep := p.coldStartErr.Load(); ep != nil && *ep != nil {
				return *ep
			}
			return spawnFailedError{key: p.key}
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return waitTimeoutError{key: p.key, timeout: timeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
