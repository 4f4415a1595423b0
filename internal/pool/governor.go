package pool

import (
	"sync"
	"sync/atomic"
)

// Governor tracks a logical memory budget in MB shared by every pool in the
// process. It never inspects host memory counters; workers cost whatever the
// configuration says they cost.
//
// The reserved counter is the only resource shared across pools, so it uses
// compare-and-exchange updates rather than a lock: independent pools'
// allocate/release never block each other.
type Governor struct {
	budgetMB   int64
	reservedMB atomic.Int64
}

// NewGovernor returns a governor over budgetMB of logical memory.
func NewGovernor(budgetMB int64) *Governor {
	if budgetMB <= 0 {
		budgetMB = defaultBudgetMB
	}
	return &Governor{budgetMB: budgetMB}
}

// TryAllocate atomically reserves sizeMB and returns a scoped claim, or
// fails immediately with a memory-exhausted error. No blocking, no partial
// reservation.
func (g *Governor) TryAllocate(sizeMB int64) (*Allocation, error) {
	if sizeMB <= 0 {
		// Unknown cost still occupies at least one MB so budget checks
		// cannot be bypassed.
		sizeMB = 1
	}
	for {
		cur := g.reservedMB.Load()
		if cur+sizeMB > g.budgetMB {
			return nil, memoryExhaustedError{requestedMB: sizeMB, availableMB: g.budgetMB - cur}
		}
		if g.reservedMB.CompareAndSwap(cur, cur+sizeMB) {
			// Re-read so a racing release cannot leave a stale gauge value.
			memoryReservedMB.Set(float64(g.reservedMB.Load()))
			return &Allocation{gov: g, sizeMB: sizeMB}, nil
		}
	}
}

// BudgetMB returns the configured budget.
func (g *Governor) BudgetMB() int64 { return g.budgetMB }

// ReservedMB returns the sum of outstanding allocation sizes.
func (g *Governor) ReservedMB() int64 { return g.reservedMB.Load() }

// AvailableMB returns budget minus reservations.
func (g *Governor) AvailableMB() int64 { return g.budgetMB - g.reservedMB.Load() }

// Allocation is a scoped claim on the governor's budget, exclusively owned
// by the worker that requested it. Release returns the claim exactly once;
// every worker exit path calls it.
type Allocation struct {
	gov    *Governor
	sizeMB int64
	once   sync.Once
}

// SizeMB returns the claimed size.
func (a *Allocation) SizeMB() int64 { return a.sizeMB }

// Release returns the claim to the governor. Safe to call more than once.
func (a *Allocation) Release() {
	a.once.Do(func() {
		a.gov.reservedMB.Add(-a.sizeMB)
		memoryReservedMB.Set(float64(a.gov.reservedMB.Load()))
	})
}
