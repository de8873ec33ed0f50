package tool

import (
	"context"
	"fmt"
	"time"

	"tradedesk/internal/domain"
)

// AppendJournalTool writes one entry to the desk journal. Writes go through
// the desk context, which serializes them, so two agents journaling in the
// same round cannot lose an update.
type AppendJournalTool struct {
	desk    domain.DeskContext
	agentID string
}

// NewAppendJournalTool creates the journal write tool. agentID is stamped on
// entries so the journal shows which persona wrote what; the registry holds
// one shared instance with an empty agentID and the loop attributes entries
// through the draft path instead.
func NewAppendJournalTool(desk domain.DeskContext, agentID string) *AppendJournalTool {
	return &AppendJournalTool{desk: desk, agentID: agentID}
}

func (t *AppendJournalTool) Name() string { return "append_journal_entry" }
func (t *AppendJournalTool) Description() string {
	return "Append an entry to the trade journal. Use for observations worth keeping: setups taken or skipped, mistakes, lessons."
}
func (t *AppendJournalTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"title":     {Type: "string", Description: "Short headline for the entry"},
			"summary":   {Type: "string", Description: "The body of the entry"},
			"tags":      {Type: "array", Description: "Free-form tags, e.g. [\"discipline\", \"US30\"]"},
			"sentiment": {Type: "string", Description: "bullish, bearish or neutral"},
			"symbol":    {Type: "string", Description: "Instrument the entry is about, if any"},
		},
		[]string{"title", "summary"},
	)
}

func (t *AppendJournalTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	title := ArgsString(args, "title")
	summary := ArgsString(args, "summary")
	if title == "" || summary == "" {
		return "", fmt.Errorf("missing argument: title and summary are required")
	}

	entry := domain.JournalEntry{
		Timestamp: time.Now().UTC(),
		Title:     title,
		Summary:   summary,
		Tags:      ArgsStringSlice(args, "tags"),
		Sentiment: ArgsString(args, "sentiment"),
		Symbol:    ArgsString(args, "symbol"),
		AgentID:   t.agentID,
	}

	id, err := t.desk.AppendJournalEntry(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("append journal entry: %w", err)
	}
	return fmt.Sprintf("Journal entry saved with id %s.", id), nil
}

// PlaybooksTool looks up the desk's playbook library.
type PlaybooksTool struct {
	desk domain.DeskContext
}

func NewPlaybooksTool(desk domain.DeskContext) *PlaybooksTool {
	return &PlaybooksTool{desk: desk}
}

func (t *PlaybooksTool) Name() string { return "get_playbooks" }
func (t *PlaybooksTool) Description() string {
	return "List the desk's trading playbooks. Optionally filter by name, bias or tag. Only trades matching an allowed playbook pass an enforced desk policy."
}
func (t *PlaybooksTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"filter": {Type: "string", Description: "Case-insensitive match on playbook name, bias or tags"},
		},
		nil,
	)
}

func (t *PlaybooksTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	filter := ArgsString(args, "filter")

	books, err := t.desk.Playbooks(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("playbooks: %w", err)
	}
	if len(books) == 0 {
		if filter != "" {
			return fmt.Sprintf("No playbooks match %q.", filter), nil
		}
		return "The playbook library is empty.", nil
	}
	return marshalResult(books)
}
