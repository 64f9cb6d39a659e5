package llm

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/sashabaranov/go-openai"

	"github.com/techbire/techbire-ai/internal/transcript"
)

const providerOpenAI = "openai"

// OpenAIModel streams from any OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

func NewOpenAIModel(apiKey, baseURL, model string) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIModel{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (m *OpenAIModel) Name() string { return providerOpenAI }

func (m *OpenAIModel) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		stream, err := m.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    m.model,
			Messages: openAIMessages(req),
			Stream:   true,
		})
		if err != nil {
			yield(Chunk{}, &ProviderError{Provider: providerOpenAI, Status: openAIStatus(err), Err: err})
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Chunk{}, &ProviderError{Provider: providerOpenAI, Status: openAIStatus(err), Err: err})
				return
			}
			if len(resp.Choices) == 0 {
				if !yield(Chunk{Detail: "stream chunk has no choices"}, nil) {
					return
				}
				continue
			}
			// Role announcements and the closing finish_reason delta carry no
			// content and are part of a normal stream.
			content := resp.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if !yield(TextChunk(content), nil) {
				return
			}
		}
	}
}

func openAIMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, t := range req.History {
		switch t.Role {
		case transcript.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.Text})
		case transcript.RoleBot:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.Text})
		}
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Input})
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
