package types

// WorkerStatus summarizes one pool worker for /status.
type WorkerStatus struct {
	// Sequential worker id, unique within its pool.
	ID uint64 `json:"id"`
	// Lifecycle state (spawning, ready, busy, idle, unresponsive, evicting, dead).
	State string `json:"state"`
	// In-flight requests currently being processed.
	Active int64 `json:"active"`
	// Requests queued behind the in-flight one.
	QueueLen int `json:"queue_len"`
	// Seconds since the worker last showed activity.
	IdleSeconds int64 `json:"idle_seconds"`
	// Memory claimed for this worker in MB.
	AllocMB int64 `json:"alloc_mb"`
}

// PoolStatus summarizes one capability pool for /status.
type PoolStatus struct {
	Key          CapabilityKey  `json:"key"`
	Workers      []WorkerStatus `json:"workers"`
	MinWorkers   int            `json:"min_workers"`
	MaxWorkers   int            `json:"max_workers"`
	Requests     uint64         `json:"requests"`
	Successes    uint64         `json:"successes"`
	Failures     uint64         `json:"failures"`
	BreakerState string         `json:"breaker_state"`
}

// MemoryStatus reports the governor's logical budget accounting.
type MemoryStatus struct {
	BudgetMB    int64 `json:"budget_mb"`
	ReservedMB  int64 `json:"reserved_mb"`
	AvailableMB int64 `json:"available_mb"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Pools         []PoolStatus `json:"pools"`
	Memory        MemoryStatus `json:"memory"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	ServerTime    int64        `json:"server_time_unix"`
}
