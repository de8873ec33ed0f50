package domain

import "context"

// ProviderKind selects which wire protocol an agent speaks. The set is
// closed: adding a protocol means adding a variant here and an adapter
// implementing it, not a string comparison somewhere deep in a loop.
type ProviderKind string

const (
	// ProviderChat is the chat-completions shape: system/user/assistant/tool
	// message array, tool calls with JSON-string arguments, tool results
	// correlated by call ID.
	ProviderChat ProviderKind = "chat"
	// ProviderGenerate is the generateContent shape: user/model content list,
	// function calls with already-parsed argument objects, tool results as
	// function-response parts.
	ProviderGenerate ProviderKind = "generate"
)

// Valid reports whether k names a known protocol.
func (k ProviderKind) Valid() bool {
	return k == ProviderChat || k == ProviderGenerate
}

// Adapter translates between the neutral message/tool model and one
// provider's request/response shape. Adapters never execute tools; that is
// the loop's job. An empty tool subset must result in the tools field being
// omitted from the outgoing request, not sent as an empty list.
type Adapter interface {
	ResolveTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error)
	Name() string
	Kind() ProviderKind
}

// TurnRequest carries one adapter invocation: the full history so far, the
// agent's visible tool subset, and generation parameters.
type TurnRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// TurnResponse is the neutral result of one adapter invocation: terminal
// text, or one or more requested tool calls.
type TurnResponse struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string // stop | tool_calls | length
	Usage        Usage
	LatencyMs    int64
}

func (r *TurnResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToolCall is a request emitted by a model inside one adapter response.
// RawArgs holds the provider's argument text verbatim; the loop parses it so
// malformed JSON becomes an error tool result instead of an adapter failure.
type ToolCall struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RawArgs string `json:"raw_args"`
}

// ToolDefinition describes one registry entry as providers see it.
// Parameters is a JSON-schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
