package domain

// Message is one entry in a conversation history. Histories are append-only
// within a turn and owned by exactly one loop; they are never shared between
// concurrently running agents.
type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// SystemMessage returns a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage returns a user-role message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}
