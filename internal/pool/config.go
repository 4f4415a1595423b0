package pool

import "time"

// Defaults applied when corresponding Config fields are unset.
const (
	defaultBudgetMB              = int64(8192)
	defaultCostMB                = int64(512)
	defaultMaxWorkers            = 4
	defaultPreWarm               = 2
	defaultQueueDepth            = 32
	defaultIdleTimeout           = 5 * time.Minute
	defaultMaintenanceInterval   = 10 * time.Second
	defaultProbeWindow           = 1 * time.Second
	defaultProbeStaleAfter       = 30 * time.Second
	defaultWaitTimeout           = 30 * time.Second
	defaultBreakerFailureRatio   = 0.5
	defaultBreakerMinSamples     = 5
	defaultBreakerWindow         = 30 * time.Second
	defaultBreakerCooldown       = 60 * time.Second
	defaultBreakerHalfOpenTrials = 3

	// Adaptive scale-up pacing: at most one spawn per interval with a small
	// burst, so a dispatch burst cannot spawn-storm while workers warm.
	scaleUpInterval = 500 * time.Millisecond
	scaleUpBurst    = 2

	// Buffered chunks per response stream before the producer blocks on the
	// consumer.
	chunkBuffer = 16

	// Readiness poll period for WaitForWorkers.
	readyPollInterval = 20 * time.Millisecond
)

// Config encapsulates all tunables for one capability pool.
type Config struct {
	// CostMB is the logical memory claimed per worker.
	CostMB int64
	// MinWorkers is the floor eviction never goes below.
	MinWorkers int
	// MaxWorkers caps the live worker set.
	MaxWorkers int
	// PreWarm is how many workers a cold start attempts to spawn.
	PreWarm int
	// QueueDepth bounds each worker's inbound queue.
	QueueDepth int
	// IdleTimeout is the idle age after which a worker is evicted.
	IdleTimeout time.Duration
	// MaintenanceInterval paces the health/eviction sweep.
	MaintenanceInterval time.Duration
	// ProbeWindow bounds one probe request/acknowledge exchange.
	ProbeWindow time.Duration
	// ProbeStaleAfter is how long a worker may show no activity before the
	// maintenance loop probes it. Recently active workers are not probed,
	// which keeps false positives away from momentarily idle workers.
	ProbeStaleAfter time.Duration
	// WaitTimeout bounds the dispatch-path wait for a ready worker.
	WaitTimeout time.Duration
	// Breaker tunes the pool's circuit breaker.
	Breaker BreakerConfig
}

func (c Config) withDefaults() Config {
	if c.CostMB <= 0 {
		c.CostMB = defaultCostMB
	}
	if c.MinWorkers < 0 {
		c.MinWorkers = 0
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
	if c.MinWorkers > c.MaxWorkers {
		c.MinWorkers = c.MaxWorkers
	}
	if c.PreWarm <= 0 {
		c.PreWarm = defaultPreWarm
	}
	if c.PreWarm > c.MaxWorkers {
		c.PreWarm = c.MaxWorkers
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = defaultMaintenanceInterval
	}
	if c.ProbeWindow <= 0 {
		c.ProbeWindow = defaultProbeWindow
	}
	if c.ProbeStaleAfter <= 0 {
		c.ProbeStaleAfter = defaultProbeStaleAfter
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = defaultWaitTimeout
	}
	c.Breaker = c.Breaker.withDefaults()
	return c
}
