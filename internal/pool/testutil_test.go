package pool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"poold/internal/capability"
	"poold/pkg/types"
)

// fakeLoader is a lightweight in-memory capability loader for tests.
type fakeLoader struct {
	mu        sync.Mutex
	loads     int
	failLoads int // fail the first N loads
	loadDelay time.Duration

	tokens   []string
	genDelay time.Duration
	genErr   error
}

func (f *fakeLoader) Load(key types.CapabilityKey) (capability.Runner, error) {
	f.mu.Lock()
	f.loads++
	n := f.loads
	f.mu.Unlock()
	if f.loadDelay > 0 {
		time.Sleep(f.loadDelay)
	}
	if n <= f.failLoads {
		return nil, errors.New("model load failed")
	}
	tokens := f.tokens
	if tokens == nil {
		tokens = []string{"hello", " world"}
	}
	return &fakeRunner{tokens: tokens, genDelay: f.genDelay, genErr: f.genErr}, nil
}

func (f *fakeLoader) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

type fakeRunner struct {
	tokens   []string
	genDelay time.Duration
	genErr   error
}

func (r *fakeRunner) Generate(ctx context.Context, prompt string, params capability.Params, onToken func(string) error) (capability.Final, error) {
	if r.genErr != nil {
		return capability.Final{}, r.genErr
	}
	for _, tok := range r.tokens {
		if r.genDelay > 0 {
			select {
			case <-time.After(r.genDelay):
			case <-ctx.Done():
				return capability.Final{}, ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return capability.Final{}, ctx.Err()
		default:
		}
		if err := onToken(tok); err != nil {
			return capability.Final{}, err
		}
	}
	return capability.Final{
		Content:      strings.Join(r.tokens, ""),
		FinishReason: "stop",
		Usage:        types.Usage{PromptTokens: 2, CompletionTokens: len(r.tokens), TotalTokens: 2 + len(r.tokens)},
	}, nil
}

func (r *fakeRunner) Close() error { return nil }

// testKey derives a distinct capability key per test so shared collectors
// never collide across cases.
func testKey(t *testing.T) types.CapabilityKey {
	t.Helper()
	return types.CapabilityKey{Model: t.Name(), Capability: types.CapTextGeneration}
}

// newTestPool builds a pool over a fresh governor and closes it on cleanup.
func newTestPool(t *testing.T, cfg Config, budgetMB int64, loader capability.Loader) (*Pool, *Governor) {
	t.Helper()
	gov := NewGovernor(budgetMB)
	p := New(testKey(t), cfg, gov, loader, zerolog.Nop(), nil)
	t.Cleanup(p.Close)
	return p, gov
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// drain consumes a response stream until it closes, splitting the terminal
// chunk from the tokens.
func drain(t *testing.T, stream <-chan types.Chunk) (tokens []string, terminal types.Chunk) {
	t.Helper()
	sawTerminal := false
	for chunk := range stream {
		if chunk.Done || chunk.Err != "" {
			if sawTerminal {
				t.Fatalf("stream produced two terminal chunks")
			}
			sawTerminal = true
			terminal = chunk
			continue
		}
		tokens = append(tokens, chunk.Token)
	}
	if !sawTerminal {
		t.Fatalf("stream closed without a terminal chunk")
	}
	return tokens, terminal
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", d, msg)
}
