package domain

import "context"

// Tool is the interface for desk capabilities (broker reads, journal writes,
// playbook lookup, risk review).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolResult records one tool execution within a turn. A result is always
// produced, error or not: failures are fed back to the model as tool messages
// so it can react in-band, and every result is returned to the caller for
// audit.
type ToolResult struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args,omitempty"`
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error,omitempty"`
}
