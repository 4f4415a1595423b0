package pool

import "sync/atomic"

// WorkerState is the integer-backed lifecycle state of one worker. The hot
// dispatch path reads it with a single atomic load; transitions go through
// compare-and-exchange against a validity table, never a lock.
type WorkerState uint32

const (
	// StateSpawning: goroutine started, capability load in progress.
	StateSpawning WorkerState = iota
	// StateReady: loaded, no request processing, queue may hold work.
	StateReady
	// StateBusy: at least one request processing.
	StateBusy
	// StateIdle: ready with an empty queue; tracked for eviction.
	StateIdle
	// StateUnresponsive: health probe failed; teardown pending.
	StateUnresponsive
	// StateEvicting: excluded from selection, draining to teardown.
	StateEvicting
	// StateDead: terminal; removed from the pool on the next sweep.
	StateDead
)

func (s WorkerState) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateIdle:
		return "idle"
	case StateUnresponsive:
		return "unresponsive"
	case StateEvicting:
		return "evicting"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// selectable reports whether the load balancer may route to this state.
func (s WorkerState) selectable() bool { return s == StateReady || s == StateIdle }

// alive reports whether the worker still counts toward pool capacity.
func (s WorkerState) alive() bool {
	switch s {
	case StateSpawning, StateReady, StateBusy, StateIdle:
		return true
	}
	return false
}

// validTransition is the lifecycle table. Spawning -> Ready <-> Busy <-> Idle
// -> Evicting -> Dead, plus Unresponsive -> Dead for probe failures. A worker
// with in-flight requests goes through Evicting; it never jumps to Dead.
func validTransition(from, to WorkerState) bool {
	switch from {
	case StateSpawning:
		return to == StateReady || to == StateEvicting || to == StateDead
	case StateReady:
		return to == StateBusy || to == StateIdle || to == StateEvicting || to == StateUnresponsive
	case StateBusy:
		return to == StateReady || to == StateIdle || to == StateEvicting || to == StateUnresponsive
	case StateIdle:
		return to == StateBusy || to == StateReady || to == StateEvicting || to == StateUnresponsive
	case StateUnresponsive:
		return to == StateDead
	case StateEvicting:
		return to == StateDead
	}
	return false
}

// lifecycle is the atomic state cell embedded in each worker.
type lifecycle struct {
	v atomic.Uint32
}

func (l *lifecycle) load() WorkerState { return WorkerState(l.v.Load()) }

// transition moves to the target state if the table allows it from the
// current state. Returns false when the move is invalid; a concurrent racer
// changing the state retries the check against the new value.
func (l *lifecycle) transition(to WorkerState) bool {
	for {
		cur := WorkerState(l.v.Load())
		if cur == to {
			return true
		}
		if !validTransition(cur, to) {
			return false
		}
		if l.v.CompareAndSwap(uint32(cur), uint32(to)) {
			return true
		}
	}
}
