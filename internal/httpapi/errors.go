package httpapi

import (
	"encoding/json"
	"net/http"

	"poold/internal/capability"
	"poold/internal/pool"
	"poold/internal/registry"
	"poold/pkg/types"
)

// statusForError maps dispatch errors to HTTP status codes:
// backpressure -> 429, breaker open / missing runtime -> 503, readiness
// timeout -> 504, budget exhausted -> 507, failed spawn -> 500.
func statusForError(err error) int {
	switch {
	case registry.IsModelNotFound(err):
		return http.StatusNotFound
	case pool.IsTooBusy(err), pool.IsWorkerUnavailable(err):
		return http.StatusTooManyRequests
	case pool.IsServiceDegraded(err), capability.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case pool.IsWaitTimeout(err):
		return http.StatusGatewayTimeout
	case pool.IsMemoryExhausted(err):
		return http.StatusInsufficientStorage
	case pool.IsSpawnFailed(err):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: code})
}
