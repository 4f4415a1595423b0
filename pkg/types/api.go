package types

// Capability names the function a loaded model serves.
type Capability string

const (
	// CapTextGeneration is prompt-to-token-stream generation.
	CapTextGeneration Capability = "text-generation"
	// CapTextEmbedding is prompt-to-vector embedding.
	CapTextEmbedding Capability = "text-embedding"
)

// CapabilityKey identifies one pool: a model id plus the capability it
// serves. Keys are comparable and used directly as map keys.
type CapabilityKey struct {
	Model      string     `json:"model"`
	Capability Capability `json:"capability"`
}

func (k CapabilityKey) String() string {
	return k.Model + "/" + string(k.Capability)
}

// GenerateRequest is an inference request submitted to the dispatch entry
// point.
type GenerateRequest struct {
	// Model identifier. If empty, the server default is used.
	Model string `json:"model,omitempty"`
	// Capability kind. Defaults to text-generation.
	Capability Capability `json:"capability,omitempty"`
	// Prompt text to generate a completion for.
	Prompt string `json:"prompt"`
	// Maximum number of new tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Sampling temperature (higher = more random).
	Temperature float64 `json:"temperature,omitempty"`
	// Nucleus sampling probability.
	TopP float64 `json:"top_p,omitempty"`
	// Top-K sampling: limit candidates to top K tokens.
	TopK int `json:"top_k,omitempty"`
	// Optional stop sequences.
	Stop []string `json:"stop,omitempty"`
	// Random seed; 0 lets the runtime choose.
	Seed int64 `json:"seed,omitempty"`
}

// Usage contains token accounting for a completed generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one element of a response stream. A stream carries zero or more
// token chunks and is terminated by exactly one chunk with either Done set
// (normal completion, with usage) or Err set (failure). The channel is
// closed after the terminal chunk.
type Chunk struct {
	Token        string `json:"token,omitempty"`
	Done         bool   `json:"done,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	Err          string `json:"error,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
