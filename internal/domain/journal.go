package domain

import "time"

// JournalEntry is one persisted trade-journal note.
type JournalEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Tags      []string  `json:"tags,omitempty"`
	Sentiment string    `json:"sentiment,omitempty"` // bullish | bearish | neutral
	Symbol    string    `json:"symbol,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
}

// JournalDraft is the structured payload an agent may emit after the
// JOURNAL_JSON sentinel at the end of its answer. A draft is always
// optional: extraction failure means no draft, never an error.
type JournalDraft struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags,omitempty"`
	Sentiment string   `json:"sentiment,omitempty"`
	AgentID   string   `json:"agent_id,omitempty"`
}
