package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"tradedesk/internal/domain"
)

const (
	defaultTradesLimit = 10
	maxTradesLimit     = 100
)

// BrokerSnapshotTool reports the account snapshot: balance, equity, open
// PnL, margin and current quotes.
type BrokerSnapshotTool struct {
	desk domain.DeskContext
}

func NewBrokerSnapshotTool(desk domain.DeskContext) *BrokerSnapshotTool {
	return &BrokerSnapshotTool{desk: desk}
}

func (t *BrokerSnapshotTool) Name() string { return "get_broker_snapshot" }
func (t *BrokerSnapshotTool) Description() string {
	return "Get the current broker account snapshot: balance, equity, open PnL, margin usage and the latest quotes for the desk's symbols."
}
func (t *BrokerSnapshotTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *BrokerSnapshotTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	snap, err := t.desk.BrokerSnapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("broker snapshot: %w", err)
	}
	return marshalResult(snap)
}

// OpenPositionsTool lists the positions currently open at the broker.
type OpenPositionsTool struct {
	desk domain.DeskContext
}

func NewOpenPositionsTool(desk domain.DeskContext) *OpenPositionsTool {
	return &OpenPositionsTool{desk: desk}
}

func (t *OpenPositionsTool) Name() string { return "get_open_positions" }
func (t *OpenPositionsTool) Description() string {
	return "List all currently open positions with direction, size, average price and open PnL."
}
func (t *OpenPositionsTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *OpenPositionsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	positions, err := t.desk.OpenPositions(ctx)
	if err != nil {
		return "", fmt.Errorf("open positions: %w", err)
	}
	if len(positions) == 0 {
		return "No open positions.", nil
	}
	return marshalResult(positions)
}

// RecentTradesTool returns the last N journaled trades.
type RecentTradesTool struct {
	desk domain.DeskContext
}

func NewRecentTradesTool(desk domain.DeskContext) *RecentTradesTool {
	return &RecentTradesTool{desk: desk}
}

func (t *RecentTradesTool) Name() string { return "get_recent_trades" }
func (t *RecentTradesTool) Description() string {
	return "Get the most recent trades from the desk journal, newest first. Useful for spotting streaks, overtrading and which playbooks have been working."
}
func (t *RecentTradesTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"limit": {Type: "number", Description: "How many trades to return (default 10, max 100)"},
		},
		nil,
	)
}

func (t *RecentTradesTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	limit := ArgsInt(args, "limit")
	if limit <= 0 {
		limit = defaultTradesLimit
	}
	if limit > maxTradesLimit {
		limit = maxTradesLimit
	}

	trades, err := t.desk.RecentTrades(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("recent trades: %w", err)
	}
	if len(trades) == 0 {
		return "No trades in the journal yet.", nil
	}
	return marshalResult(trades)
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
