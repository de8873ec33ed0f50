package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tradedesk/internal/domain"
)

// fakeDesk implements domain.DeskContext with canned data.
type fakeDesk struct {
	snapshot  *domain.BrokerSnapshot
	positions []domain.Position
	trades    []domain.TradeRecord
	playbooks []domain.Playbook
	verdict   *domain.RiskVerdict
	entries   []domain.JournalEntry
	failWith  error

	lastTradesLimit int
}

func (f *fakeDesk) BrokerSnapshot(ctx context.Context) (*domain.BrokerSnapshot, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.snapshot, nil
}

func (f *fakeDesk) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.positions, nil
}

func (f *fakeDesk) RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	f.lastTradesLimit = limit
	if f.failWith != nil {
		return nil, f.failWith
	}
	if limit < len(f.trades) {
		return f.trades[:limit], nil
	}
	return f.trades, nil
}

func (f *fakeDesk) AppendJournalEntry(ctx context.Context, entry domain.JournalEntry) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	f.entries = append(f.entries, entry)
	return "entry-1", nil
}

func (f *fakeDesk) Playbooks(ctx context.Context, filter string) ([]domain.Playbook, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if filter == "" {
		return f.playbooks, nil
	}
	var out []domain.Playbook
	for _, pb := range f.playbooks {
		if strings.Contains(strings.ToLower(pb.Name), strings.ToLower(filter)) {
			out = append(out, pb)
		}
	}
	return out, nil
}

func (f *fakeDesk) RiskReview(ctx context.Context, plan domain.TradePlan) (*domain.RiskVerdict, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.verdict, nil
}

var _ domain.DeskContext = (*fakeDesk)(nil)

func TestBrokerSnapshotTool(t *testing.T) {
	desk := &fakeDesk{snapshot: &domain.BrokerSnapshot{
		AccountID:   "DEMO-1",
		Currency:    "USD",
		Balance:     25000,
		Equity:      25120.50,
		Environment: "demo",
		Timestamp:   time.Now().UTC(),
	}}
	tool := NewBrokerSnapshotTool(desk)

	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "DEMO-1") || !strings.Contains(out, "25120.5") {
		t.Fatalf("snapshot output missing fields: %s", out)
	}
}

func TestBrokerSnapshotTool_DeskError(t *testing.T) {
	desk := &fakeDesk{failWith: errors.New("broker unreachable")}
	tool := NewBrokerSnapshotTool(desk)

	_, err := tool.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error from desk")
	}
}

func TestOpenPositionsTool_Empty(t *testing.T) {
	tool := NewOpenPositionsTool(&fakeDesk{})
	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "No open positions") {
		t.Fatalf("expected friendly empty message, got %q", out)
	}
}

func TestOpenPositionsTool_WithPositions(t *testing.T) {
	desk := &fakeDesk{positions: []domain.Position{
		{ID: "pos-1", Symbol: "US30", Direction: "long", Quantity: 0.5, AvgPrice: 44100, OpenPnL: 85.0},
	}}
	tool := NewOpenPositionsTool(desk)

	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "US30") {
		t.Fatalf("positions output missing symbol: %s", out)
	}
}

func TestRecentTradesTool_DefaultLimit(t *testing.T) {
	desk := &fakeDesk{}
	tool := NewRecentTradesTool(desk)

	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if desk.lastTradesLimit != defaultTradesLimit {
		t.Fatalf("expected default limit %d, got %d", defaultTradesLimit, desk.lastTradesLimit)
	}
	if !strings.Contains(out, "No trades") {
		t.Fatalf("expected empty message, got %q", out)
	}
}

func TestRecentTradesTool_ClampsLimit(t *testing.T) {
	desk := &fakeDesk{}
	tool := NewRecentTradesTool(desk)

	if _, err := tool.Execute(context.Background(), map[string]any{"limit": 5000.0}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if desk.lastTradesLimit != maxTradesLimit {
		t.Fatalf("expected clamp to %d, got %d", maxTradesLimit, desk.lastTradesLimit)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"limit": -3.0}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if desk.lastTradesLimit != defaultTradesLimit {
		t.Fatalf("negative limit should fall back to default, got %d", desk.lastTradesLimit)
	}
}

func TestAppendJournalTool_RequiresTitleAndSummary(t *testing.T) {
	tool := NewAppendJournalTool(&fakeDesk{}, "")

	if _, err := tool.Execute(context.Background(), map[string]any{"summary": "no title"}); err == nil {
		t.Fatal("expected error for missing title")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"title": "no summary"}); err == nil {
		t.Fatal("expected error for missing summary")
	}
}

func TestAppendJournalTool_SavesEntry(t *testing.T) {
	desk := &fakeDesk{}
	tool := NewAppendJournalTool(desk, "risk-officer")

	out, err := tool.Execute(context.Background(), map[string]any{
		"title":     "Chased the open",
		"summary":   "Entered US30 long without confirmation. Stopped out.",
		"tags":      []any{"discipline", "US30"},
		"sentiment": "frustrated",
		"symbol":    "US30",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "entry-1") {
		t.Fatalf("expected returned id in output, got %q", out)
	}
	if len(desk.entries) != 1 {
		t.Fatalf("expected 1 saved entry, got %d", len(desk.entries))
	}
	saved := desk.entries[0]
	if saved.Title != "Chased the open" {
		t.Fatalf("unexpected title %q", saved.Title)
	}
	if saved.AgentID != "risk-officer" {
		t.Fatalf("expected agent attribution, got %q", saved.AgentID)
	}
	if len(saved.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", saved.Tags)
	}
	if saved.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestPlaybooksTool_Filter(t *testing.T) {
	desk := &fakeDesk{playbooks: []domain.Playbook{
		{ID: "orb", Name: "Opening Range Breakout"},
		{ID: "vwap-fade", Name: "VWAP Fade"},
	}}
	tool := NewPlaybooksTool(desk)

	out, err := tool.Execute(context.Background(), map[string]any{"filter": "vwap"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "VWAP Fade") || strings.Contains(out, "Opening Range") {
		t.Fatalf("filter not applied: %s", out)
	}
}

func TestPlaybooksTool_NoMatch(t *testing.T) {
	desk := &fakeDesk{playbooks: []domain.Playbook{{ID: "orb", Name: "Opening Range Breakout"}}}
	tool := NewPlaybooksTool(desk)

	out, err := tool.Execute(context.Background(), map[string]any{"filter": "scalp"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "No playbooks match") {
		t.Fatalf("expected no-match message, got %q", out)
	}
}

func TestRiskReviewTool_BuildsPlan(t *testing.T) {
	desk := &fakeDesk{verdict: &domain.RiskVerdict{Allowed: true}}
	tool := NewRiskReviewTool(desk)

	out, err := tool.Execute(context.Background(), map[string]any{
		"symbol":       "XAUUSD",
		"direction":    "short",
		"entry":        2410.5,
		"stop_loss":    2415.0,
		"take_profits": []any{2400.0, 2390.0},
		"risk_percent": 0.5,
		"playbook":     "london-sweep",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, `"allowed": true`) && !strings.Contains(out, `"allowed":true`) {
		t.Fatalf("expected verdict JSON, got %q", out)
	}
}

func TestRiskReviewTool_RequiresSymbol(t *testing.T) {
	tool := NewRiskReviewTool(&fakeDesk{verdict: &domain.RiskVerdict{}})
	_, err := tool.Execute(context.Background(), map[string]any{"direction": "long", "risk_percent": 1.0})
	if err == nil {
		t.Fatal("expected error for missing symbol")
	}
}
