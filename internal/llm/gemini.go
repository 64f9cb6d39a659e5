package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/techbire/techbire-ai/internal/transcript"
)

const providerGemini = "gemini"

// GeminiModel calls the Gemini API through the genai SDK.
type GeminiModel struct {
	client *genai.Client
	model  string
}

func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiModel{client: client, model: model}, nil
}

func (m *GeminiModel) Name() string { return providerGemini }

func (m *GeminiModel) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		contents := geminiContents(req)
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.model, contents, nil) {
			if err != nil {
				yield(Chunk{}, &ProviderError{Provider: providerGemini, Status: geminiStatus(err), Err: err})
				return
			}
			if !yield(geminiChunk(resp), nil) {
				return
			}
		}
	}
}

func geminiContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		switch t.Role {
		case transcript.RoleUser:
			contents = append(contents, genai.NewContentFromText(t.Text, genai.RoleUser))
		case transcript.RoleBot:
			contents = append(contents, genai.NewContentFromText(t.Text, genai.RoleModel))
		}
	}
	return append(contents, genai.NewContentFromText(req.Input, genai.RoleUser))
}

// geminiChunk collects the text parts of the first candidate. Thought parts
// are not answer text.
func geminiChunk(resp *genai.GenerateContentResponse) Chunk {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return Chunk{Detail: "response has no candidates"}
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return Chunk{Detail: fmt.Sprintf("candidate has no content (finish reason %q)", cand.FinishReason)}
	}
	var (
		b       strings.Builder
		hasText bool
	)
	for _, p := range cand.Content.Parts {
		if p == nil || p.Thought || p.Text == "" {
			continue
		}
		b.WriteString(p.Text)
		hasText = true
	}
	if !hasText {
		return Chunk{Detail: fmt.Sprintf("candidate has no text parts (finish reason %q)", cand.FinishReason)}
	}
	return TextChunk(b.String())
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}
