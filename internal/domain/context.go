package domain

import "context"

// DeskContext exposes the desk state that tool handlers read and write
// during a turn. Reads are safe to call concurrently from agents running in
// the same round; implementations must serialize writes to the same backing
// store so two agents journaling at once cannot lose an update.
type DeskContext interface {
	BrokerSnapshot(ctx context.Context) (*BrokerSnapshot, error)
	OpenPositions(ctx context.Context) ([]Position, error)
	RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error)
	AppendJournalEntry(ctx context.Context, entry JournalEntry) (string, error)
	Playbooks(ctx context.Context, filter string) ([]Playbook, error)
	RiskReview(ctx context.Context, plan TradePlan) (*RiskVerdict, error)
}
