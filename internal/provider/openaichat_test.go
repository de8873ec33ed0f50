package provider

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"tradedesk/internal/domain"
)

func TestToChatMessages_RolesPassThrough(t *testing.T) {
	msgs := []domain.Message{
		{Role: "system", Content: "you are the technician"},
		{Role: "user", Content: "is US30 a long here?"},
		{Role: "assistant", Content: "looking at levels now"},
	}

	out := toChatMessages(msgs)

	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	for i, m := range msgs {
		if out[i].Role != m.Role || out[i].Content != m.Content {
			t.Fatalf("message %d mismatch: %+v", i, out[i])
		}
	}
}

func TestToChatMessages_ToolCallArgumentsStayRaw(t *testing.T) {
	rawArgs := `{"limit": 10, "filter": {"symbol": "US30"}}`
	msgs := []domain.Message{
		{Role: "assistant", ToolCalls: []domain.ToolCall{
			{ID: "call-7", Name: "get_recent_trades", RawArgs: rawArgs},
		}},
	}

	out := toChatMessages(msgs)

	if len(out[0].ToolCalls) != 1 {
		t.Fatalf("expected 1 wire tool call, got %d", len(out[0].ToolCalls))
	}
	tc := out[0].ToolCalls[0]
	if tc.ID != "call-7" || tc.Type != openai.ToolTypeFunction {
		t.Fatalf("unexpected tool call envelope: %+v", tc)
	}
	if tc.Function.Arguments != rawArgs {
		t.Fatalf("arguments must pass through byte-for-byte, got %q", tc.Function.Arguments)
	}
}

func TestToChatMessages_ToolResultCorrelation(t *testing.T) {
	msgs := []domain.Message{
		{Role: "tool", ToolCallID: "call-7", ToolName: "get_recent_trades", Content: `[]`},
	}

	out := toChatMessages(msgs)

	if out[0].Role != "tool" {
		t.Fatalf("expected tool role, got %q", out[0].Role)
	}
	if out[0].ToolCallID != "call-7" {
		t.Fatalf("expected tool_call_id preserved, got %q", out[0].ToolCallID)
	}
	if out[0].Name != "get_recent_trades" {
		t.Fatalf("expected tool name preserved, got %q", out[0].Name)
	}
}

func TestToChatTools_SchemaMapping(t *testing.T) {
	defs := []domain.ToolDefinition{
		{
			Name:        "run_risk_review",
			Description: "Evaluate a trade plan against desk risk policy",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol": map[string]any{"type": "string"},
				},
				"required": []string{"symbol"},
			},
		},
	}

	out := toChatTools(defs)

	if len(out) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out))
	}
	if out[0].Type != openai.ToolTypeFunction {
		t.Fatalf("expected function tool type, got %q", out[0].Type)
	}
	if out[0].Function.Name != "run_risk_review" {
		t.Fatalf("unexpected function name %q", out[0].Function.Name)
	}
	if out[0].Function.Parameters == nil {
		t.Fatal("expected parameters schema carried over")
	}
}

func TestNewChatAdapter_Defaults(t *testing.T) {
	a := NewChatAdapter(ChatConfig{APIKey: "sk-test"})
	if a.model != chatDefaultModel {
		t.Fatalf("expected default model %q, got %q", chatDefaultModel, a.model)
	}
	if a.Kind() != domain.ProviderChat {
		t.Fatalf("expected chat kind, got %q", a.Kind())
	}
}
