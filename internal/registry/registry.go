// Package registry maps capability keys to worker pools and exposes the
// sole public dispatch entry point. Pools are created lazily on first
// lookup and live for the process lifetime; there is no per-pool teardown
// API short of Close at shutdown.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"poold/internal/capability"
	"poold/internal/config"
	"poold/internal/pool"
	"poold/pkg/types"
)

// Registry is the process-wide pool directory. Construct once in main and
// share; all methods are safe for concurrent use.
type Registry struct {
	cfg    config.Config
	gov    *pool.Governor
	loader capability.Loader
	log    zerolog.Logger
	pub    pool.EventPublisher

	pools sync.Map // types.CapabilityKey -> *pool.Pool

	startTime time.Time
}

// Option tweaks registry construction.
type Option func(*Registry)

// WithPublisher installs a lifecycle event publisher on every pool.
func WithPublisher(pub pool.EventPublisher) Option {
	return func(r *Registry) { r.pub = pub }
}

// New constructs a registry over one shared memory governor.
func New(cfg config.Config, loader capability.Loader, log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		cfg:       cfg,
		gov:       pool.NewGovernor(int64(cfg.BudgetMB)),
		loader:    loader,
		log:       log,
		pub:       pool.NoopPublisher{},
		startTime: time.Now(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Governor exposes the shared budget for status reporting and tests.
func (r *Registry) Governor() *pool.Governor { return r.gov }

// GetOrCreatePool returns the pool for key, creating it on first access.
// Concurrent first-accesses for the same key yield exactly one pool: the
// insert is a single LoadOrStore, and only the winning instance starts its
// maintenance loop.
func (r *Registry) GetOrCreatePool(key types.CapabilityKey) *pool.Pool {
	if v, ok := r.pools.Load(key); ok {
		return v.(*pool.Pool)
	}
	p := pool.New(key, r.poolConfig(key), r.gov, r.loader, r.log, r.pub)
	if actual, loaded := r.pools.LoadOrStore(key, p); loaded {
		// Lost the insert race; the unstarted loser is garbage.
		return actual.(*pool.Pool)
	}
	p.Start()
	r.log.Info().Str("key", key.String()).Msg("pool created")
	return p
}

// Dispatch routes one request to the pool for its capability key. It is the
// sole public entry point for inference traffic.
func (r *Registry) Dispatch(ctx context.Context, req types.GenerateRequest) (<-chan types.Chunk, error) {
	key, err := r.resolveKey(req)
	if err != nil {
		return nil, err
	}
	return r.GetOrCreatePool(key).Dispatch(ctx, req)
}

func (r *Registry) resolveKey(req types.GenerateRequest) (types.CapabilityKey, error) {
	model := req.Model
	if model == "" {
		model = r.cfg.DefaultModel
		if model == "" {
			return types.CapabilityKey{}, modelNotFoundError{id: "(unspecified)"}
		}
	}
	cap := req.Capability
	if cap == "" {
		cap = types.CapTextGeneration
	}
	return types.CapabilityKey{Model: model, Capability: cap}, nil
}

// poolConfig converts file settings for the key's model into pool tunables.
func (r *Registry) poolConfig(key types.CapabilityKey) pool.Config {
	s := r.cfg.SettingsFor(key.Model)
	return pool.Config{
		CostMB:              int64(s.CostMB),
		MinWorkers:          s.MinWorkers,
		MaxWorkers:          s.MaxWorkers,
		PreWarm:             s.PreWarm,
		QueueDepth:          s.QueueDepth,
		IdleTimeout:         time.Duration(s.IdleTimeoutSec) * time.Second,
		MaintenanceInterval: time.Duration(s.MaintenanceSec) * time.Second,
		ProbeWindow:         time.Duration(s.ProbeWindowMS) * time.Millisecond,
		ProbeStaleAfter:     time.Duration(s.ProbeStaleSec) * time.Second,
		WaitTimeout:         time.Duration(s.WaitTimeoutSec) * time.Second,
		Breaker: pool.BreakerConfig{
			FailureRatio:   s.BreakerFailureRatio,
			MinSamples:     uint64(s.BreakerMinSamples),
			Window:         time.Duration(s.BreakerWindowSec) * time.Second,
			Cooldown:       time.Duration(s.BreakerCooldownSec) * time.Second,
			HalfOpenTrials: uint64(s.BreakerHalfOpenTrials),
		},
	}
}

// Ready reports whether the process can serve traffic. A registry with no
// pools yet is ready (pools are created lazily on first dispatch); with
// pools present, at least one must hold a live worker.
func (r *Registry) Ready() bool {
	pools := 0
	live := false
	r.pools.Range(func(_, v any) bool {
		pools++
		for _, w := range v.(*pool.Pool).Status().Workers {
			switch w.State {
			case "spawning", "ready", "busy", "idle":
				live = true
				return false
			}
		}
		return true
	})
	return pools == 0 || live
}

// Status returns a read-only projection of every pool and the shared budget.
func (r *Registry) Status() types.StatusResponse {
	var pools []types.PoolStatus
	r.pools.Range(func(_, v any) bool {
		pools = append(pools, v.(*pool.Pool).Status())
		return true
	})
	return types.StatusResponse{
		Pools: pools,
		Memory: types.MemoryStatus{
			BudgetMB:    r.gov.BudgetMB(),
			ReservedMB:  r.gov.ReservedMB(),
			AvailableMB: r.gov.AvailableMB(),
		},
		UptimeSeconds: int64(time.Since(r.startTime) / time.Second),
		ServerTime:    time.Now().Unix(),
	}
}

// Close tears down every pool. Used at process shutdown only.
func (r *Registry) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pools.Range(func(_, v any) bool {
			v.(*pool.Pool).Close()
			return true
		})
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
