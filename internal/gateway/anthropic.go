package gateway

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ashureev/gpa-insight/internal/domain"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicBackend calls the Anthropic Messages API.
type AnthropicBackend struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicBackend creates a Messages API backend. baseURL may be empty.
func NewAnthropicBackend(apiKey, baseURL string, maxTokens int64) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicBackend{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
	}
}

// Name implements Backend.
func (b *AnthropicBackend) Name() string { return string(ProviderAnthropic) }

// Generate implements Backend.
func (b *AnthropicBackend) Generate(ctx context.Context, model string, messages []domain.ConversationMessage) (string, error) {
	system, turns := anthropicConversation(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  turns,
		MaxTokens: b.maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// systemTurnPrefix marks a system turn that arrived after the conversation
// started and is sent as user text instead.
const systemTurnPrefix = "System: "

// anthropicConversation maps messages onto the Messages API shape. Leading
// system turns become the system prompt. Later system turns stay in place as
// prefixed user text, and consecutive turns of one role share a message.
func anthropicConversation(messages []domain.ConversationMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	turns := make([]anthropic.MessageParam, 0, len(messages))
	var lastRole domain.Role

	for _, m := range messages {
		role, text := m.Role, m.Content
		if role == domain.RoleSystem {
			if len(turns) == 0 {
				system = append(system, anthropic.TextBlockParam{Text: text})
				continue
			}
			role, text = domain.RoleUser, systemTurnPrefix+text
		}
		if role != domain.RoleAssistant {
			role = domain.RoleUser
		}

		block := anthropic.NewTextBlock(text)
		if len(turns) > 0 && role == lastRole {
			last := &turns[len(turns)-1]
			last.Content = append(last.Content, block)
			continue
		}
		if role == domain.RoleAssistant {
			turns = append(turns, anthropic.NewAssistantMessage(block))
		} else {
			turns = append(turns, anthropic.NewUserMessage(block))
		}
		lastRole = role
	}
	return system, turns
}
