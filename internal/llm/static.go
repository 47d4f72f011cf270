package llm

import (
	"context"
	"encoding/json"
)

// Static is a Client that always answers with a fixed reply. It is the
// zero-config default when no model provider is wired, so the server stays
// runnable end to end without credentials.
type Static struct {
	Reply string
}

// NewStatic creates a static client with the given reply.
func NewStatic(reply string) *Static {
	if reply == "" {
		reply = "No language model is configured. Set up a model provider to enable the assistant."
	}
	return &Static{Reply: reply}
}

func (s *Static) Complete(_ context.Context, _ CompletionRequest, onChunk ChunkFunc) (*Completion, error) {
	if onChunk != nil {
		if err := onChunk(s.Reply); err != nil {
			return nil, err
		}
	}
	return &Completion{Text: s.Reply}, nil
}

func (s *Static) CompleteJSON(_ context.Context, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{"analysis":"No language model is configured.","suggestions":[]}`), nil
}
