package pool

import (
	"fmt"
	"time"

	"poold/pkg/types"
)

// memoryExhaustedError signals that the governor cannot grant the requested
// allocation. Surfaced as-is; never auto-retried.
type memoryExhaustedError struct {
	requestedMB int64
	availableMB int64
}

func (e memoryExhaustedError) Error() string {
	return fmt.Sprintf("memory exhausted: requested %d MB, available %d MB", e.requestedMB, e.availableMB)
}

// IsMemoryExhausted reports whether err indicates insufficient budget.
func IsMemoryExhausted(err error) bool {
	_, ok := err.(memoryExhaustedError)
	return ok
}

// spawnFailedError signals that worker spawning completed but produced no
// live worker (model load failed). The pool retries on the next dispatch.
type spawnFailedError struct{ key types.CapabilityKey }

func (e spawnFailedError) Error() string {
	return "spawn failed: no worker became ready for " + e.key.String()
}

// IsSpawnFailed reports whether err indicates a failed worker spawn.
func IsSpawnFailed(err error) bool {
	_, ok := err.(spawnFailedError)
	return ok
}

// waitTimeoutError signals WaitForWorkers exceeded its bound.
type waitTimeoutError struct {
	key     types.CapabilityKey
	timeout time.Duration
}

func (e waitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for a ready worker for %s", e.timeout, e.key)
}

// IsWaitTimeout reports whether err indicates a readiness wait timeout.
func IsWaitTimeout(err error) bool {
	_, ok := err.(waitTimeoutError)
	return ok
}

// serviceDegradedError signals the pool's circuit breaker is open; dispatch
// fails fast without contacting any worker.
type serviceDegradedError struct{ key types.CapabilityKey }

func (e serviceDegradedError) Error() string {
	return "service degraded: circuit open for " + e.key.String()
}

// IsServiceDegraded reports whether err indicates an open circuit breaker.
func IsServiceDegraded(err error) bool {
	_, ok := err.(serviceDegradedError)
	return ok
}

// tooBusyError signals queue overflow backpressure for 429 mapping.
type tooBusyError struct {
	key      types.CapabilityKey
	workerID uint64
}

func (e tooBusyError) Error() string {
	return fmt.Sprintf("too busy: worker %d queue full for %s", e.workerID, e.key)
}

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// workerUnavailableError signals the chosen worker can no longer accept work
// (evicted, dead, or unresponsive). Callers may retry on another worker.
type workerUnavailableError struct{ workerID uint64 }

func (e workerUnavailableError) Error() string {
	return fmt.Sprintf("worker %d unavailable, retry on another worker", e.workerID)
}

// IsWorkerUnavailable reports whether err indicates a retriable worker loss.
func IsWorkerUnavailable(err error) bool {
	_, ok := err.(workerUnavailableError)
	return ok
}
