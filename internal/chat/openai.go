package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type completionAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient talks to an OpenAI-compatible chat-completion endpoint.
type OpenAIClient struct {
	client      completionAPI
	model       string
	maxTokens   int
	temperature float32
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client for the given model.
func NewOpenAIClient(client completionAPI, model string, maxTokens int) *OpenAIClient {
	if client == nil {
		panic("chat: completion client cannot be nil")
	}
	if model == "" {
		model = openai.GPT4TurboPreview
	}
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &OpenAIClient{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: 0.7,
	}
}

// Send forwards the conversation to the completion endpoint.
func (c *OpenAIClient) Send(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Response{}, errors.New("chat: message is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+3)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.Variant.SystemPrompt(),
	})
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: questionContext(req.Question),
	})
	for _, msg := range req.History {
		role := openai.ChatMessageRoleAssistant
		if msg.Role == RoleUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Message})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("chat: completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("chat: completion returned no choices")
	}

	return Response{
		Text:         resp.Choices[0].Message.Content,
		MessageCount: len(req.History) + 2,
	}, nil
}
