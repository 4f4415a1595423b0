package pool

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"poold/pkg/types"
)

// fastConfig keeps maintenance cycles short and probes out of the way so
// lifecycle tests finish quickly.
func fastConfig() Config {
	return Config{
		CostMB:              8,
		MaxWorkers:          4,
		PreWarm:             2,
		QueueDepth:          4,
		IdleTimeout:         60 * time.Millisecond,
		MaintenanceInterval: 20 * time.Millisecond,
		ProbeWindow:         50 * time.Millisecond,
		ProbeStaleAfter:     time.Hour,
		WaitTimeout:         2 * time.Second,
		Breaker:             BreakerConfig{Window: time.Minute, Cooldown: time.Minute},
	}
}

func TestPoolColdStartPreWarms(t *testing.T) {
	p, gov := newTestPool(t, fastConfig(), 64, &fakeLoader{tokens: []string{"ok"}})

	stream, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	tokens, terminal := drain(t, stream)
	if strings.Join(tokens, "") != "ok" || !terminal.Done {
		t.Fatalf("tokens=%v terminal=%+v", tokens, terminal)
	}

	if got := len(p.snapshot()); got != 2 {
		t.Fatalf("cold start spawned %d workers, want pre-warm 2", got)
	}
	if got := gov.ReservedMB(); got != 16 {
		t.Fatalf("ReservedMB = %d, want 16 for two workers", got)
	}
}

func TestPoolColdStartDegradesToBudget(t *testing.T) {
	// Budget fits one worker; pre-warm of two degrades to one.
	p, gov := newTestPool(t, fastConfig(), 12, &fakeLoader{})

	stream, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	drain(t, stream)

	if got := len(p.snapshot()); got != 1 {
		t.Fatalf("spawned %d workers, want 1 under constrained budget", got)
	}
	if got := gov.ReservedMB(); got != 8 {
		t.Fatalf("ReservedMB = %d, want 8", got)
	}
}

func TestPoolColdStartMemoryExhausted(t *testing.T) {
	p, _ := newTestPool(t, fastConfig(), 4, &fakeLoader{})

	_, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "hi"})
	if !IsMemoryExhausted(err) {
		t.Fatalf("IsMemoryExhausted(%v) = false", err)
	}
	if got := len(p.snapshot()); got != 0 {
		t.Fatalf("%d workers exist after exhausted cold start", got)
	}
}

func TestPoolSpawnFailureSurfaced(t *testing.T) {
	p, gov := newTestPool(t, fastConfig(), 64, &fakeLoader{failLoads: 1 << 20})

	_, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "hi"})
	if !IsSpawnFailed(err) {
		t.Fatalf("IsSpawnFailed(%v) = false", err)
	}
	// Dead spawns hand their claims back.
	waitFor(t, time.Second, func() bool { return gov.ReservedMB() == 0 }, "budget not returned after failed spawns")
}

func TestPoolScalesUpWhenAllBusy(t *testing.T) {
	cfg := fastConfig()
	cfg.PreWarm = 1
	cfg.MaxWorkers = 3
	fl := &fakeLoader{tokens: []string{"x", "y"}, genDelay: 60 * time.Millisecond}
	p, _ := newTestPool(t, cfg, 64, fl)

	first, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch 1: %v", err)
	}
	waitFor(t, time.Second, func() bool { return p.allBusy() }, "worker never went busy")

	second, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch 2: %v", err)
	}
	if got := len(p.snapshot()); got != 2 {
		t.Fatalf("worker count = %d after busy dispatch, want 2", got)
	}

	drain(t, first)
	drain(t, second)
}

func TestPoolScaleUpRespectsMaxWorkers(t *testing.T) {
	cfg := fastConfig()
	cfg.PreWarm = 1
	cfg.MaxWorkers = 1
	fl := &fakeLoader{tokens: []string{"x"}, genDelay: 60 * time.Millisecond}
	p, _ := newTestPool(t, cfg, 64, fl)

	first, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch 1: %v", err)
	}
	waitFor(t, time.Second, func() bool { return p.allBusy() }, "worker never went busy")

	// Queues on the busy worker instead of spawning past the cap.
	second, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch 2: %v", err)
	}
	if got := len(p.snapshot()); got != 1 {
		t.Fatalf("worker count = %d, want 1 at the cap", got)
	}

	drain(t, first)
	drain(t, second)
}

func TestPoolBreakerOpensAndFailsFast(t *testing.T) {
	cfg := fastConfig()
	cfg.PreWarm = 1
	cfg.Breaker = BreakerConfig{FailureRatio: 0.5, MinSamples: 2, Window: time.Minute, Cooldown: time.Minute, HalfOpenTrials: 1}
	fl := &fakeLoader{genErr: context.DeadlineExceeded}
	p, _ := newTestPool(t, cfg, 64, fl)

	for i := 0; i < 2; i++ {
		stream, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
		if err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
		_, terminal := drain(t, stream)
		if terminal.Err == "" {
			t.Fatalf("request %d did not fail", i)
		}
	}
	waitFor(t, time.Second, func() bool { return p.Breaker().State() == BreakerOpen }, "breaker never opened")

	_, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if !IsServiceDegraded(err) {
		t.Fatalf("IsServiceDegraded(%v) = false", err)
	}
}

// A half-open trial burned on backpressure (queue full, no worker reached)
// must re-trip the breaker rather than leak the trial: after the next
// cooldown the pool gets fresh trials and can close once a request lands.
func TestPoolBreakerHalfOpenRecoversAfterBackpressure(t *testing.T) {
	cfg := fastConfig()
	cfg.PreWarm = 1
	cfg.MaxWorkers = 1
	cfg.QueueDepth = 1
	cfg.Breaker = BreakerConfig{FailureRatio: 0.5, MinSamples: 1, Window: time.Minute, Cooldown: 50 * time.Millisecond, HalfOpenTrials: 1}
	fl := &fakeLoader{tokens: []string{"x"}, genDelay: 300 * time.Millisecond}
	p, _ := newTestPool(t, cfg, 64, fl)

	// Saturate the only worker: one processing plus a full queue.
	first, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch 1: %v", err)
	}
	w := p.snapshot()[0]
	waitFor(t, time.Second, func() bool { return w.ActiveRequests() == 1 }, "first request never started")
	second, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch 2: %v", err)
	}

	p.breaker.trip()
	time.Sleep(cfg.Breaker.Cooldown + 20*time.Millisecond)

	_, err = p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if !IsTooBusy(err) {
		t.Fatalf("IsTooBusy(%v) = false", err)
	}
	if got := p.Breaker().State(); got != BreakerOpen {
		t.Fatalf("breaker = %v after trial burned on backpressure, want open", got)
	}

	drain(t, first)
	drain(t, second)

	// Fresh cooldown, fresh trial: the recovered worker closes the circuit.
	time.Sleep(cfg.Breaker.Cooldown + 20*time.Millisecond)
	stream, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch after recovery: %v", err)
	}
	drain(t, stream)
	if got := p.Breaker().State(); got != BreakerClosed {
		t.Fatalf("breaker = %v after successful trial, want closed", got)
	}
}

// Every dispatcher racing a failed cold start sees the real cause, not a
// generic spawn failure.
func TestPoolColdStartRaceSurfacesCause(t *testing.T) {
	p, _ := newTestPool(t, fastConfig(), 4, &fakeLoader{})

	// The losing dispatcher's path: capacity check done elsewhere, then
	// WaitForWorkers observes the recorded cause.
	if err := p.ensureCapacity(); !IsMemoryExhausted(err) {
		t.Fatalf("IsMemoryExhausted(%v) = false", err)
	}
	if err := p.WaitForWorkers(testCtx(t), 100*time.Millisecond); !IsMemoryExhausted(err) {
		t.Fatalf("WaitForWorkers after exhausted cold start: %v, want memory exhausted", err)
	}

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if !IsMemoryExhausted(err) {
			t.Fatalf("dispatcher %d: IsMemoryExhausted(%v) = false", i, err)
		}
	}
}

func TestPoolEvictsIdleDownToMinWorkers(t *testing.T) {
	cfg := fastConfig()
	cfg.MinWorkers = 1
	p, gov := newTestPool(t, cfg, 64, &fakeLoader{})
	p.Start()

	stream, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	drain(t, stream)
	if got := len(p.snapshot()); got != 2 {
		t.Fatalf("pre-warm spawned %d workers, want 2", got)
	}

	waitFor(t, 2*time.Second, func() bool { return len(p.snapshot()) == 1 }, "idle worker never evicted")
	// The floor holds across further cycles.
	time.Sleep(5 * cfg.MaintenanceInterval)
	if got := len(p.snapshot()); got != 1 {
		t.Fatalf("worker count = %d, eviction went below min workers", got)
	}
	if got := gov.ReservedMB(); got != 8 {
		t.Fatalf("ReservedMB = %d, want 8 after one eviction", got)
	}
}

func TestPoolMaintenanceRemovesUnresponsive(t *testing.T) {
	cfg := fastConfig()
	cfg.ProbeStaleAfter = 10 * time.Millisecond
	cfg.ProbeWindow = 20 * time.Millisecond
	p, gov := newTestPool(t, cfg, 64, &fakeLoader{})
	p.Start()

	// A handle with no serving goroutine never answers probes.
	w := stubWorker(t, p, StateReady, 0)
	w.lastActivity.Store(time.Now().Add(-time.Minute).UnixNano())

	waitFor(t, 2*time.Second, func() bool { return len(p.snapshot()) == 0 }, "unresponsive worker never removed")
	if got := gov.ReservedMB(); got != 0 {
		t.Fatalf("ReservedMB = %d, want 0 after teardown", got)
	}
}

func TestPoolWaitForWorkersTimeout(t *testing.T) {
	p, _ := newTestPool(t, fastConfig(), 64, &fakeLoader{})
	p.spawning.Store(true) // simulate a spawn that never lands
	defer p.spawning.Store(false)

	err := p.WaitForWorkers(testCtx(t), 50*time.Millisecond)
	if !IsWaitTimeout(err) {
		t.Fatalf("IsWaitTimeout(%v) = false", err)
	}
}

func TestPoolWaitForWorkersCallerCancel(t *testing.T) {
	p, _ := newTestPool(t, fastConfig(), 64, &fakeLoader{})
	p.spawning.Store(true)
	defer p.spawning.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.WaitForWorkers(ctx, time.Second); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPoolStatusProjection(t *testing.T) {
	p, _ := newTestPool(t, fastConfig(), 64, &fakeLoader{})
	stream, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	drain(t, stream)

	st := p.Status()
	if st.Key != p.Key() {
		t.Fatalf("status key = %v, want %v", st.Key, p.Key())
	}
	if len(st.Workers) != 2 {
		t.Fatalf("status workers = %d, want 2", len(st.Workers))
	}
	if st.Requests != 1 || st.Successes != 1 || st.Failures != 0 {
		t.Fatalf("counters = %d/%d/%d, want 1/1/0", st.Requests, st.Successes, st.Failures)
	}
	if st.BreakerState != "closed" {
		t.Fatalf("breaker state = %q, want closed", st.BreakerState)
	}
}

// Full lifecycle at max_workers=1, min_workers=0: spawn on demand, serve,
// idle out, return the budget, then cold-start again on the next request.
func TestPoolLifecycleRoundTrip(t *testing.T) {
	cfg := fastConfig()
	cfg.PreWarm = 1
	cfg.MaxWorkers = 1
	cfg.MinWorkers = 0
	fl := &fakeLoader{tokens: []string{"a", "b"}}
	p, gov := newTestPool(t, cfg, 64, fl)
	p.Start()

	stream, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	tokens, _ := drain(t, stream)
	if strings.Join(tokens, "") != "ab" {
		t.Fatalf("tokens = %v", tokens)
	}

	waitFor(t, 2*time.Second, func() bool { return len(p.snapshot()) == 0 }, "idle worker never evicted")
	waitFor(t, time.Second, func() bool { return gov.ReservedMB() == 0 }, "budget never returned")

	// Next request cold-starts a fresh worker.
	stream, err = p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch after eviction: %v", err)
	}
	drain(t, stream)
	if fl.loadCount() < 2 {
		t.Fatalf("loadCount = %d, want a second cold start", fl.loadCount())
	}
}

func TestPoolCloseReleasesEverything(t *testing.T) {
	p, gov := newTestPool(t, fastConfig(), 64, &fakeLoader{})
	p.Start()

	stream, err := p.Dispatch(testCtx(t), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	drain(t, stream)

	p.Close()
	if got := len(p.snapshot()); got != 0 {
		t.Fatalf("%d workers remain after Close", got)
	}
	if got := gov.ReservedMB(); got != 0 {
		t.Fatalf("ReservedMB = %d after Close, want 0", got)
	}
}
