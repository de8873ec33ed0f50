package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tradedesk/internal/domain"
)

const chatDefaultModel = "gpt-4o-mini"

// ChatAdapter implements domain.Adapter for OpenAI-compatible
// chat-completions endpoints. Tool-call arguments stay JSON text on both
// legs: the wire gives us a string and RawArgs carries it to the loop
// untouched.
type ChatAdapter struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

type ChatConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Logger  *slog.Logger
}

// NewChatAdapter creates a chat-style adapter. APIBase overrides the default
// endpoint so OpenRouter-style compatible gateways work unchanged.
func NewChatAdapter(cfg ChatConfig) *ChatAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = cfg.APIBase
	}
	model := cfg.Model
	if model == "" {
		model = chatDefaultModel
	}
	return &ChatAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: cfg.Logger,
	}
}

func (a *ChatAdapter) Name() string              { return "chat" }
func (a *ChatAdapter) Kind() domain.ProviderKind { return domain.ProviderChat }

func (a *ChatAdapter) ResolveTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResponse, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(req.Messages),
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	// An empty tool subset means no Tools field at all; some compatible
	// backends reject an explicit empty list.
	if len(req.Tools) > 0 {
		chatReq.Tools = toChatTools(req.Tools)
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: response has no choices")
	}

	choice := resp.Choices[0]
	out := &domain.TurnResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:      tc.ID,
			Name:    tc.Function.Name,
			RawArgs: tc.Function.Arguments,
		})
	}
	return out, nil
}

// toChatMessages maps neutral history onto the wire shape. Assistant turns
// that requested tools are re-echoed with their original call IDs and
// argument text, because the API rejects tool results whose prior request
// turn is missing.
func toChatMessages(msgs []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.Role == "tool" {
			cm.ToolCallID = m.ToolCallID
			cm.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.RawArgs,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toChatTools(defs []domain.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}
