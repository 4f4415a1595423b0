//go:build !llama

package capability

import (
	"poold/pkg/types"
)

// This file provides a no-CGO stub for the llama loader. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.
// The real loader lives in llama.go (tagged 'llama').

// Built reports whether this binary was compiled with real llama support.
func Built() bool { return false }

// LlamaLoader is a stub that satisfies Loader but refuses to load models
// without the 'llama' build tag. This avoids any mocked behavior in
// production binaries built without CGO support.
type LlamaLoader struct {
	ModelsDir string
	CtxSize   int
	Threads   int
}

func NewLlamaLoader(modelsDir string, ctxSize, threads int) *LlamaLoader {
	return &LlamaLoader{ModelsDir: modelsDir, CtxSize: ctxSize, Threads: threads}
}

func (l *LlamaLoader) Load(key types.CapabilityKey) (Runner, error) {
	return nil, ErrUnavailable("llama support not built (missing 'llama' build tag)")
}
