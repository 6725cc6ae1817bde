// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a remote model API (OpenAI, Anthropic and the other
// any-llm backends) behind one interface used both by the live interviewer
// and by the post-session transcript analysis.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// the context is cancelled.
package llm

import (
	"context"
	"encoding/json"

	"github.com/nwang783/just-in-case/pkg/types"
)

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ResponseFormat asks the model for a JSON reply matching Schema.
type ResponseFormat struct {
	// Name identifies the schema to the backend, e.g. "transcript_analysis".
	Name string

	// Schema is a JSON Schema document.
	Schema json.RawMessage

	// Strict requests exact schema adherence where the backend supports it.
	Strict bool
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []types.Message

	// Temperature controls randomness in [0, 2]. Zero keeps the backend
	// default.
	Temperature float64

	// MaxTokens caps the completion length. Zero keeps the backend default.
	MaxTokens int

	// SystemPrompt is injected before Messages as a system instruction.
	SystemPrompt string

	// ResponseFormat, when set, requests a structured JSON reply. Backends
	// without native support append the schema to the system prompt.
	ResponseFormat *ResponseFormat
}

// Chunk is one fragment of a streaming completion.
type Chunk struct {
	// Text is the incremental content; may be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length",
	// "content_filter" or "error".
	FinishReason string
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content string

	// Refusal is set when the model declined to answer.
	Refusal string

	Usage Usage
}

// Provider is the abstraction over an LLM backend.
type Provider interface {
	// StreamCompletion starts a streaming completion. The returned channel is
	// never nil when err is nil and must be drained by the caller. Failures
	// after the stream started are reported as a Chunk with FinishReason
	// "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the tokens messages would occupy in the context
	// window. It may overcount but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities describes the model. Constant for the provider lifetime.
	Capabilities() types.ModelCapabilities
}

// EstimateTokens is a backend-independent approximation of four characters
// per token plus a small per-message overhead.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += 4 + (len(m.Role)+len(m.Content)+3)/4
	}
	return total
}

// SchemaInstruction renders rf as a system-prompt suffix for backends that
// cannot enforce a schema natively.
func SchemaInstruction(rf *ResponseFormat) string {
	if rf == nil || len(rf.Schema) == 0 {
		return ""
	}
	return "Respond with a single JSON object and nothing else. It must validate against this JSON Schema:\n" + string(rf.Schema)
}
