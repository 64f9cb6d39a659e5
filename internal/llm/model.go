// Package llm wraps the hosted model providers behind a streaming Model
// interface.
package llm

import (
	"context"
	"fmt"
	"iter"

	"github.com/techbire/techbire-ai/internal/transcript"
)

// Request is one model call: the conversation so far plus the new input.
type Request struct {
	SessionID string
	History   []transcript.Turn
	Input     string
}

// Chunk is one element of a streamed response. A chunk without text is not
// fatal; Detail says what the provider sent instead.
type Chunk struct {
	Text    string
	HasText bool
	Detail  string
}

// TextChunk builds a chunk carrying a text fragment.
func TextChunk(text string) Chunk {
	return Chunk{Text: text, HasText: true}
}

// Model streams a response for a request. The sequence ends early with a
// non-nil error when the call itself fails; no chunks follow an error.
type Model interface {
	Name() string
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
}

// ProviderError is a failed call to a hosted model.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
