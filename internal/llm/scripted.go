package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Step is one scripted model response. Exactly one of ToolCall, Text or Err
// should be set.
type Step struct {
	ToolCall *ToolCall
	Text     string
	// Chunks, when set, is streamed before Text; Text then defaults to
	// their concatenation.
	Chunks []string
	JSON   string
	Err    error
}

// Scripted is a deterministic Client that replays a fixed sequence of
// responses. It backs tests and the zero-config local mode, where no real
// provider is wired.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls int
}

// NewScripted creates a scripted client that replays steps in order.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Calls reports how many completions have been requested.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scripted) next() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.steps) {
		return Step{}, fmt.Errorf("scripted client exhausted after %d calls", s.calls)
	}
	step := s.steps[s.calls]
	s.calls++
	return step, nil
}

func (s *Scripted) Complete(ctx context.Context, _ CompletionRequest, onChunk ChunkFunc) (*Completion, error) {
	step, err := s.next()
	if err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	if step.ToolCall != nil {
		return &Completion{ToolCall: step.ToolCall}, nil
	}

	text := step.Text
	if len(step.Chunks) > 0 {
		text = ""
		for _, c := range step.Chunks {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			if onChunk != nil {
				if err := onChunk(c); err != nil {
					return nil, err
				}
			}
			text += c
		}
	} else if onChunk != nil && text != "" {
		if err := onChunk(text); err != nil {
			return nil, err
		}
	}
	return &Completion{Text: text}, nil
}

func (s *Scripted) CompleteJSON(_ context.Context, _ string) (json.RawMessage, error) {
	step, err := s.next()
	if err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return json.RawMessage(step.JSON), nil
}
