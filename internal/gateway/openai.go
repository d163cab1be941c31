package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/gpa-insight/internal/domain"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAIBackend calls the OpenAI Responses API.
type OpenAIBackend struct {
	client          openai.Client
	maxOutputTokens int64
}

// NewOpenAIBackend creates a Responses API backend. baseURL may be empty.
// SDK retries are disabled; a failed call is final.
func NewOpenAIBackend(apiKey, baseURL string, maxOutputTokens int64) *OpenAIBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &OpenAIBackend{
		client:          openai.NewClient(opts...),
		maxOutputTokens: maxOutputTokens,
	}
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return string(ProviderOpenAI) }

// Generate implements Backend.
func (b *OpenAIBackend) Generate(ctx context.Context, model string, messages []domain.ConversationMessage) (string, error) {
	items := make(responses.ResponseInputParam, 0, len(messages))
	for _, m := range messages {
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, openAIRole(m.Role)))
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if b.maxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(b.maxOutputTokens)
	}

	resp, err := b.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses: %w", err)
	}
	return outputText(resp), nil
}

func openAIRole(r domain.Role) responses.EasyInputMessageRole {
	switch r {
	case domain.RoleSystem:
		return responses.EasyInputMessageRoleSystem
	case domain.RoleAssistant:
		return responses.EasyInputMessageRoleAssistant
	default:
		return responses.EasyInputMessageRoleUser
	}
}

// outputText joins every output_text part of the response's messages.
func outputText(resp *responses.Response) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if part.Type != "output_text" {
				continue
			}
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
