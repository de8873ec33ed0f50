package tool

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"tradedesk/internal/domain"
)

// stubTool is a minimal tool for testing the registry.
type stubTool struct {
	name   string
	result string
	err    error
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub: " + s.name }
func (s *stubTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return s.result, s.err
}

var _ domain.Tool = (*stubTool)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	tool := &stubTool{name: "test_tool", result: "ok"}
	reg.Register(tool)

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("expected to find registered tool")
	}
	if got.Name() != "test_tool" {
		t.Fatalf("expected 'test_tool', got %q", got.Name())
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry(testLogger())
	got := reg.Get("nonexistent")
	if got != nil {
		t.Fatal("expected nil for unknown tool")
	}
}

func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "echo", result: "hello"})

	result, err := reg.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "hello" {
		t.Fatalf("expected 'hello', got %q", result)
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	reg := NewRegistry(testLogger())
	_, err := reg.Execute(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "alpha"})
	reg.Register(&stubTool{name: "beta"})

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
	nameSet := map[string]bool{}
	for _, n := range names {
		nameSet[n] = true
	}
	if !nameSet["alpha"] || !nameSet["beta"] {
		t.Fatalf("missing expected names: %v", names)
	}
}

func TestRegistry_GetDefinitions(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "tool1"})
	reg.Register(&stubTool{name: "tool2"})

	defs := reg.GetDefinitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "dup", result: "v1"})
	reg.Register(&stubTool{name: "dup", result: "v2"})

	result, _ := reg.Execute(context.Background(), "dup", nil)
	if result != "v2" {
		t.Fatalf("expected overwritten tool result 'v2', got %q", result)
	}
}

// --- ToolParameters ---

func TestToolParameters_WithRequired(t *testing.T) {
	params := ToolParameters(
		map[string]Param{
			"symbol": {Type: "string", Description: "The instrument"},
			"limit":  {Type: "number", Description: "Row cap"},
		},
		[]string{"symbol"},
	)

	if params["type"] != "object" {
		t.Fatal("expected type=object")
	}
	props := params["properties"].(map[string]any)
	if len(props) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(props))
	}

	symbolParam := props["symbol"].(map[string]any)
	if symbolParam["description"] != "The instrument" {
		t.Fatalf("expected 'The instrument', got %q", symbolParam["description"])
	}

	required := params["required"].([]string)
	if len(required) != 1 || required[0] != "symbol" {
		t.Fatalf("unexpected required: %v", required)
	}
}

func TestToolParameters_NoRequired(t *testing.T) {
	params := ToolParameters(
		map[string]Param{
			"filter": {Type: "string", Description: "Match text"},
		},
		nil,
	)
	if _, ok := params["required"]; ok {
		t.Fatal("should not have 'required' key when nil")
	}
}

// --- Args helpers ---

func TestArgsString_StringValue(t *testing.T) {
	args := map[string]any{"key": "value"}
	if got := ArgsString(args, "key"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
}

func TestArgsString_MissingKey(t *testing.T) {
	args := map[string]any{"other": "value"}
	if got := ArgsString(args, "key"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestArgsString_NilArgs(t *testing.T) {
	if got := ArgsString(nil, "key"); got != "" {
		t.Fatalf("expected empty for nil args, got %q", got)
	}
}

func TestArgsFloat_JSONNumber(t *testing.T) {
	args := map[string]any{"risk_percent": 0.75}
	if got := ArgsFloat(args, "risk_percent"); got != 0.75 {
		t.Fatalf("expected 0.75, got %v", got)
	}
}

func TestArgsInt_TruncatesFloat(t *testing.T) {
	args := map[string]any{"limit": 7.0}
	if got := ArgsInt(args, "limit"); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestArgsStringSlice_FromAnySlice(t *testing.T) {
	args := map[string]any{"tags": []any{"discipline", "US30", 42.0}}
	got := ArgsStringSlice(args, "tags")
	if len(got) != 2 || got[0] != "discipline" || got[1] != "US30" {
		t.Fatalf("expected non-string items dropped, got %v", got)
	}
}

func TestArgsFloatSlice_FromAnySlice(t *testing.T) {
	args := map[string]any{"take_profits": []any{44250.0, 44500.5}}
	got := ArgsFloatSlice(args, "take_profits")
	if len(got) != 2 || got[1] != 44500.5 {
		t.Fatalf("unexpected: %v", got)
	}
}
