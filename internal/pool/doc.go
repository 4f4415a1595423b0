// Package pool provides admission control and scheduling for long-lived
// capability workers under a finite logical memory budget. It is structured
// into small files by concern:
//
//   - pool.go: core Pool type, copy-on-write worker set, status projection.
//   - config.go: Config and package defaults.
//   - governor.go: Governor budget counter and scoped Allocation claims.
//   - state.go: atomic worker lifecycle state machine.
//   - worker.go: Worker queue, processing loop, probe, teardown.
//   - spawn.go: cold-start pre-warm and lazy adaptive scale-up.
//   - select.go: Power-of-Two-Choices dispatch target selection.
//   - dispatch.go: Dispatch entry and WaitForWorkers readiness bridge.
//   - maintenance.go: background health probes, idle eviction, dead sweep.
//   - breaker.go: per-pool circuit breaker.
//   - errors.go: error types and predicate helpers (IsTooBusy, ...).
//   - events.go: lifecycle event publisher (noop default, memory for tests).
//   - metrics.go: Prometheus collectors.
//
// External packages should treat this package as the orchestration layer
// below the registry and use public methods only (New, Start, Dispatch,
// WaitForWorkers, Status, Close). Internal types are subject to change.
package pool
