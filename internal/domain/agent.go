package domain

// AgentConfig is one configured persona: which protocol and model it speaks,
// how it is prompted, and which slice of the tool registry it may see.
// Read-only for the duration of a turn.
type AgentConfig struct {
	ID            string       `json:"id"`
	DisplayName   string       `json:"display_name"`
	Provider      ProviderKind `json:"provider"`
	Model         string       `json:"model"`
	Temperature   float64      `json:"temperature"`
	SystemPrompt  string       `json:"system_prompt"`
	AllowedTools  []string     `json:"allowed_tools,omitempty"`
	MaxIterations int          `json:"max_iterations,omitempty"`
}

// TurnResult is what one resolved agent turn hands back to the caller:
// the terminal text, every tool execution for audit, and the optional
// structured draft pulled from the text.
type TurnResult struct {
	FinalText   string        `json:"final_text"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`
	Draft       *JournalDraft `json:"draft,omitempty"`
	Iterations  int           `json:"iterations"`
}

// AgentTurn is one agent's slot in a round-table result. Exactly one of Text
// or Err is meaningful; a failed agent still occupies its slot.
type AgentTurn struct {
	AgentID     string        `json:"agent_id"`
	DisplayName string        `json:"display_name"`
	Text        string        `json:"text,omitempty"`
	Err         string        `json:"error,omitempty"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`
	Draft       *JournalDraft `json:"draft,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
}

// RoundTableResult collects one full round: per-agent turns in roster order,
// the moderator's synthesis, and, when the moderator proposed a trade, the
// plan together with its risk verdict.
type RoundTableResult struct {
	RoundID      string       `json:"round_id"`
	Question     string       `json:"question"`
	AgentTurns   []AgentTurn  `json:"agent_turns"`
	Synthesis    string       `json:"synthesis"`
	ProposedPlan *TradePlan   `json:"proposed_plan,omitempty"`
	Verdict      *RiskVerdict `json:"verdict,omitempty"`
	DurationMs   int64        `json:"duration_ms"`
}
