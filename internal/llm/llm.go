// Package llm defines the opaque language-model capability the agent loop
// and the suggestion analyzer depend on. Given a message history and a tool
// schema, a client returns either one tool call or a text continuation, and
// may deliver partial text before finishing. Provider-specific wire formats
// live behind this interface.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// ChatMessage is one entry of the prompt history sent to the model.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant, tool
	Content string `json:"content"`
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// ToolCall is the model's request to invoke one tool.
type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"arguments"`
}

// CompletionRequest carries the full history plus the available tools.
type CompletionRequest struct {
	Messages []ChatMessage
	Tools    []ToolDefinition
}

// Completion is the model's next action: exactly one of ToolCall or Text.
type Completion struct {
	ToolCall *ToolCall
	Text     string
}

// ChunkFunc receives incremental text deltas while a completion streams.
// Returning an error aborts the stream.
type ChunkFunc func(delta string) error

// Client is the language-model capability.
type Client interface {
	// Complete returns the model's next action. When onChunk is non-nil,
	// text output is additionally delivered as deltas in arrival order;
	// the returned Completion.Text is their concatenation.
	Complete(ctx context.Context, req CompletionRequest, onChunk ChunkFunc) (*Completion, error)

	// CompleteJSON invokes the model under a structured-output contract and
	// returns the raw JSON document for the caller to parse.
	CompleteJSON(ctx context.Context, prompt string) (json.RawMessage, error)
}

// ── Timeout decorator ───────────────────────────────────────

type timeoutClient struct {
	inner   Client
	timeout time.Duration
}

// WithTimeout bounds every model invocation. A call that exceeds the bound
// fails with context.DeadlineExceeded instead of hanging its caller.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{inner: c, timeout: d}
}

func (t *timeoutClient) Complete(ctx context.Context, req CompletionRequest, onChunk ChunkFunc) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Complete(ctx, req, onChunk)
}

func (t *timeoutClient) CompleteJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.CompleteJSON(ctx, prompt)
}
