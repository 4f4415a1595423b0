package pool

import (
	"sync/atomic"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState uint32

const (
	// BreakerClosed: normal operation, all dispatches admitted.
	BreakerClosed BreakerState = iota
	// BreakerOpen: failing fast; dispatches rejected until cooldown.
	BreakerOpen
	// BreakerHalfOpen: cooldown elapsed; a bounded number of trials allowed.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one pool's circuit breaker.
type BreakerConfig struct {
	// FailureRatio opens the circuit when failures/(failures+successes)
	// within the window reaches this value.
	FailureRatio float64
	// MinSamples is the minimum window population before the ratio counts.
	MinSamples uint64
	// Window is the rolling measurement interval.
	Window time.Duration
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenTrials bounds admitted requests while half-open.
	HalfOpenTrials uint64
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureRatio <= 0 {
		c.FailureRatio = defaultBreakerFailureRatio
	}
	if c.MinSamples == 0 {
		c.MinSamples = defaultBreakerMinSamples
	}
	if c.Window <= 0 {
		c.Window = defaultBreakerWindow
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultBreakerCooldown
	}
	if c.HalfOpenTrials == 0 {
		c.HalfOpenTrials = defaultBreakerHalfOpenTrials
	}
	return c
}

// Breaker is a per-pool failure-rate gate on atomics. The window counters
// are approximate: a reset racing a record can lose a sample at the window
// edge, which the ratio tolerates by design of MinSamples.
type Breaker struct {
	cfg BreakerConfig

	state       atomic.Uint32
	failures    atomic.Uint64
	successes   atomic.Uint64
	windowStart atomic.Int64 // unix nanos
	openedAt    atomic.Int64 // unix nanos
	trials      atomic.Uint64
}

func newBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{cfg: cfg.withDefaults()}
	b.windowStart.Store(time.Now().UnixNano())
	return b
}

// State returns the current breaker position.
func (b *Breaker) State() BreakerState { return BreakerState(b.state.Load()) }

// Allow reports whether a dispatch may proceed. While open it flips to
// half-open once the cooldown elapses and then admits a bounded number of
// trial requests.
func (b *Breaker) Allow() bool {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed:
		b.rotateWindow()
		return true
	case BreakerOpen:
		opened := b.openedAt.Load()
		if time.Since(time.Unix(0, opened)) < b.cfg.Cooldown {
			return false
		}
		if b.state.CompareAndSwap(uint32(BreakerOpen), uint32(BreakerHalfOpen)) {
			b.trials.Store(0)
		}
		return b.admitTrial()
	case BreakerHalfOpen:
		return b.admitTrial()
	}
	return false
}

func (b *Breaker) admitTrial() bool {
	return b.trials.Add(1) <= b.cfg.HalfOpenTrials
}

// RecordSuccess notes a completed request. A half-open trial success closes
// the circuit and resets the window.
func (b *Breaker) RecordSuccess() {
	if b.state.CompareAndSwap(uint32(BreakerHalfOpen), uint32(BreakerClosed)) {
		b.resetWindow(time.Now().UnixNano())
		return
	}
	b.rotateWindow()
	b.successes.Add(1)
}

// RecordFailure notes a failed request. A half-open trial failure reopens
// the circuit; in the closed state the rolling ratio decides.
func (b *Breaker) RecordFailure() {
	if b.State() == BreakerHalfOpen {
		b.trip()
		return
	}
	b.rotateWindow()
	f := b.failures.Add(1)
	s := b.successes.Load()
	total := f + s
	if total >= b.cfg.MinSamples && float64(f)/float64(total) >= b.cfg.FailureRatio {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.openedAt.Store(time.Now().UnixNano())
	b.state.Store(uint32(BreakerOpen))
}

// rotateWindow resets the counters once the rolling window has elapsed.
func (b *Breaker) rotateWindow() {
	now := time.Now().UnixNano()
	start := b.windowStart.Load()
	if time.Duration(now-start) < b.cfg.Window {
		return
	}
	if b.windowStart.CompareAndSwap(start, now) {
		b.failures.Store(0)
		b.successes.Store(0)
	}
}

func (b *Breaker) resetWindow(now int64) {
	b.windowStart.Store(now)
	b.failures.Store(0)
	b.successes.Store(0)
}
