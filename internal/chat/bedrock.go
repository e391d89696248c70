package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient talks to a Bedrock model via the Converse API.
type BedrockClient struct {
	api       bedrockConverseAPI
	modelID   string
	maxTokens int32
}

var _ Client = (*BedrockClient)(nil)

// NewBedrockClient builds a client for the given Bedrock model id.
func NewBedrockClient(api bedrockConverseAPI, modelID string, maxTokens int) *BedrockClient {
	if api == nil {
		panic("chat: bedrock converse client cannot be nil")
	}
	if modelID == "" {
		panic("chat: bedrock model id cannot be empty")
	}
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &BedrockClient{api: api, modelID: modelID, maxTokens: int32(maxTokens)}
}

// Send forwards the conversation through Bedrock Converse.
func (c *BedrockClient) Send(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Response{}, errors.New("chat: message is required")
	}

	system := []brtypes.SystemContentBlock{
		&brtypes.SystemContentBlockMemberText{Value: req.Variant.SystemPrompt()},
	}

	messages := make([]brtypes.Message, 0, len(req.History)+2)
	messages = append(messages, userMessage(questionContext(req.Question)))
	for _, msg := range req.History {
		content := strings.TrimSpace(msg.Message)
		if content == "" {
			continue
		}
		switch msg.Role {
		case RoleUser:
			messages = append(messages, userMessage(content))
		case RoleAssistant:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
			})
		default:
			return Response{}, fmt.Errorf("chat: unsupported role %q", msg.Role)
		}
	}
	messages = append(messages, userMessage(req.Message))

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.modelID),
		System:   system,
		Messages: messages,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.maxTokens),
			Temperature: aws.Float32(0.7),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("chat: bedrock converse failed: %w", err)
	}

	text, err := converseText(out)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text, MessageCount: len(req.History) + 2}, nil
}

func userMessage(content string) brtypes.Message {
	return brtypes.Message{
		Role:    brtypes.ConversationRoleUser,
		Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
	}
}

func converseText(out *bedrockruntime.ConverseOutput) (string, error) {
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("chat: bedrock returned no message output")
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("chat: bedrock returned empty content")
	}
	return b.String(), nil
}
