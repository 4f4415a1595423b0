// Package capability defines the contract between the pool layer and the
// model runtimes it hosts. A Loader builds one Runner per worker; a Runner
// owns one loaded model and streams tokens for one request at a time.
package capability

import (
	"context"

	"poold/pkg/types"
)

// Params captures generation parameters passed to the runtime.
type Params struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
	TopK        int
	Stop        []string
	Seed        int
}

// Final summarizes a generation after streaming.
type Final struct {
	Content      string
	FinishReason string
	Usage        types.Usage
}

// Runner is one loaded model instance. Runners are not safe for concurrent
// Generate calls; the owning worker serializes requests.
type Runner interface {
	// Generate streams tokens for the prompt via onToken and returns the
	// final summary. Implementations must return promptly when the context
	// is canceled or when onToken returns an error.
	Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (Final, error)
	// Close releases the loaded model.
	Close() error
}

// Loader constructs a Runner for a capability key, loading the model under
// the runtime's device configuration. Loading may take a long time; callers
// run it off the dispatch path.
type Loader interface {
	Load(key types.CapabilityKey) (Runner, error)
}
