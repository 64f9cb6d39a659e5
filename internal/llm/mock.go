package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/techbire/techbire-ai/internal/transcript"
)

const providerMock = "mock"

// MockModel provides deterministic local replies when no provider is
// configured.
type MockModel struct{}

func NewMockModel() *MockModel { return &MockModel{} }

func (m *MockModel) Name() string { return providerMock }

func (m *MockModel) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for _, word := range strings.SplitAfter(buildMockReply(req), " ") {
			if err := ctx.Err(); err != nil {
				yield(Chunk{}, err)
				return
			}
			if !yield(TextChunk(word), nil) {
				return
			}
		}
	}
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.Input)
	if base == "" {
		base = "nothing"
	}

	var last string
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == transcript.RoleUser {
			last = strings.TrimSpace(req.History[i].Text)
			break
		}
	}
	if last == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", base, last)
}

// ScriptedModel replays a fixed chunk sequence, optionally ending with an
// error. It records the requests it receives.
type ScriptedModel struct {
	Chunks []Chunk
	Err    error

	mu       sync.Mutex
	requests []Request
}

func (m *ScriptedModel) Name() string { return "scripted" }

func (m *ScriptedModel) Stream(_ context.Context, req Request) iter.Seq2[Chunk, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	return func(yield func(Chunk, error) bool) {
		for _, c := range m.Chunks {
			if !yield(c, nil) {
				return
			}
		}
		if m.Err != nil {
			yield(Chunk{}, m.Err)
		}
	}
}

// Requests returns the requests seen so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}
