// Package chat is the port to the model-completion service used by the
// elicitation game. A remote provider (OpenAI-compatible or Bedrock) is
// wrapped with a deterministic scripted responder so a participant's
// conversation never stalls on transport failure.
package chat

import (
	"context"

	"github.com/oversightlab/llm-safety-study/internal/questions"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one transcript entry in the wire shape the port exchanges.
type Message struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Request carries a new participant message plus the model-facing history.
type Request struct {
	Message string
	History []Message
	// Question provides context for the system prompt and the scripted
	// responder; its concealed answer never leaves the server.
	Question questions.Question
	Variant  PromptVariant
}

// Response is the model's reply. MessageCount is the running count of
// displayed user+assistant exchanges as reported by the service: the prior
// history length plus the new user/assistant pair.
type Response struct {
	Text         string `json:"response"`
	MessageCount int    `json:"messageCount"`
}

// Client sends a chat request to a model-completion service.
type Client interface {
	Send(ctx context.Context, req Request) (Response, error)
}
