//go:build llama

package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"poold/pkg/types"
)

// Built reports whether this binary was compiled with real llama support.
func Built() bool { return true }

// LlamaLoader loads GGUF models from a directory via go-llama.cpp.
type LlamaLoader struct {
	ModelsDir string
	CtxSize   int
	Threads   int
}

// NewLlamaLoader returns a Loader backed by the in-process llama runtime.
func NewLlamaLoader(modelsDir string, ctxSize, threads int) *LlamaLoader {
	return &LlamaLoader{ModelsDir: modelsDir, CtxSize: ctxSize, Threads: threads}
}

// Load resolves <models-dir>/<model>.gguf and loads it. Loading blocks until
// the weights are mapped; the pool runs this inside the worker goroutine.
func (l *LlamaLoader) Load(key types.CapabilityKey) (Runner, error) {
	if key.Capability != types.CapTextGeneration {
		return nil, fmt.Errorf("llama runtime does not serve capability %q", key.Capability)
	}
	path := key.Model
	if !strings.HasSuffix(strings.ToLower(path), ".gguf") {
		path += ".gguf"
	}
	if l.ModelsDir != "" {
		path = filepath.Join(l.ModelsDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	mo := []llama.ModelOption{}
	if l.CtxSize > 0 {
		mo = append(mo, llama.SetContext(l.CtxSize))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaRunner{model: m, threads: l.Threads}, nil
}

// llamaRunner owns one loaded model.
type llamaRunner struct {
	model   *llama.LLama
	threads int
}

func (r *llamaRunner) Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (Final, error) {
	if r.model == nil {
		return Final{}, errors.New("llama model not initialized")
	}
	// Bridge token streaming to onToken and respect cancellation.
	r.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onToken(tok); err != nil {
			return false
		}
		return true
	})
	po := predictOptions(params, r.threads)
	text, err := r.model.Predict(prompt, po...)
	if err != nil {
		if ctx.Err() != nil {
			return Final{}, ctx.Err()
		}
		return Final{}, err
	}
	// Token counts are not available without deeper hooks.
	return Final{Content: text, FinishReason: "stop"}, nil
}

func (r *llamaRunner) Close() error {
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
	return nil
}

func predictOptions(params Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(maxInt(1, params.MaxTokens)),
		llama.SetThreads(maxInt(1, threads)),
	}
	if params.TopP > 0 {
		po = append(po, llama.SetTopP(params.TopP))
	}
	if params.TopK > 0 {
		po = append(po, llama.SetTopK(params.TopK))
	}
	if params.Temperature > 0 {
		po = append(po, llama.SetTemperature(params.Temperature))
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
