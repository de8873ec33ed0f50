package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"tradedesk/internal/domain"
)

// briefDesk serves a richer snapshot than scriptedDesk for brief rendering.
type briefDesk struct {
	scriptedDesk
}

func (d *briefDesk) BrokerSnapshot(context.Context) (*domain.BrokerSnapshot, error) {
	return &domain.BrokerSnapshot{
		AccountID: "DEMO-1", Currency: "USD", Balance: 9850, Equity: 10120.5,
		OpenPnL: 270.5, Environment: "demo",
		Quotes: map[string]domain.Tick{
			"XAUUSD": {Symbol: "XAUUSD", Bid: 2399.8, Ask: 2400.2},
			"US30":   {Symbol: "US30", Bid: 44100.5, Ask: 44102.5},
		},
		Timestamp: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	}, nil
}

func (d *briefDesk) OpenPositions(context.Context) ([]domain.Position, error) {
	return []domain.Position{
		{ID: "pos-1", Symbol: "US30", Direction: "long", Quantity: 0.5, AvgPrice: 44050, OpenPnL: 270.5},
	}, nil
}

func (d *briefDesk) RecentTrades(context.Context, int) ([]domain.TradeRecord, error) {
	return []domain.TradeRecord{
		{Timestamp: time.Date(2026, 2, 27, 15, 0, 0, 0, time.UTC), Symbol: "US30", Direction: "long", PnL: 120, Status: "closed"},
	}, nil
}

func TestDeskBrief_NilDesk(t *testing.T) {
	if got := DeskBrief(context.Background(), nil); got != "" {
		t.Fatalf("expected empty brief, got %q", got)
	}
}

func TestDeskBrief_RendersDeskState(t *testing.T) {
	brief := DeskBrief(context.Background(), &briefDesk{})

	for _, want := range []string{
		"## Desk snapshot",
		"Account DEMO-1 (demo): balance 9850.00 USD, equity 10120.50, open PnL 270.50",
		"US30 44100.50/44102.50",
		"US30 long 0.50 @ 44050.00 (PnL 270.50)",
		"2026-02-27 US30 long PnL 120.00 (closed)",
	} {
		if !strings.Contains(brief, want) {
			t.Fatalf("brief missing %q:\n%s", want, brief)
		}
	}
	// Quote symbols come out sorted.
	if strings.Index(brief, "US30 44100.50") > strings.Index(brief, "XAUUSD") {
		t.Fatalf("quotes not sorted:\n%s", brief)
	}
}

func TestDeskBrief_DegradesOnReadFailures(t *testing.T) {
	brief := DeskBrief(context.Background(), &scriptedDesk{failAll: true})

	if !strings.Contains(brief, "Broker snapshot unavailable: broker offline") {
		t.Fatalf("expected snapshot degradation note:\n%s", brief)
	}
	if !strings.Contains(brief, "Open positions unavailable: broker offline") {
		t.Fatalf("expected positions degradation note:\n%s", brief)
	}
}

func TestRoundTablePrompt(t *testing.T) {
	if got := RoundTablePrompt("", "Bias?"); got != "Bias?" {
		t.Fatalf("empty brief should pass the question through, got %q", got)
	}
	got := RoundTablePrompt("## Desk snapshot\nflat", "Bias?")
	if !strings.Contains(got, "## Desk snapshot") || !strings.Contains(got, "## Question\nBias?") {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestAgentSystemPrompt_AppendsJournalContract(t *testing.T) {
	got := AgentSystemPrompt(domain.AgentConfig{SystemPrompt: "You read charts."})
	if !strings.HasPrefix(got, "You read charts.") {
		t.Fatalf("persona must come first, got %q", got)
	}
	if !strings.Contains(got, JournalSentinel) {
		t.Fatalf("journal contract missing:\n%s", got)
	}
}

func TestModeratorSystemPrompt_AppendsPlanContract(t *testing.T) {
	got := ModeratorSystemPrompt(domain.AgentConfig{SystemPrompt: "You run the desk."})
	if !strings.Contains(got, TradePlanSentinel) {
		t.Fatalf("trade plan contract missing:\n%s", got)
	}
	if !strings.Contains(got, "run_risk_review") {
		t.Fatalf("risk review nudge missing:\n%s", got)
	}
}

func TestSynthesisPrompt_MarksFailedAgents(t *testing.T) {
	turns := []domain.AgentTurn{
		{AgentID: "technician", DisplayName: "Technician", Text: "Up."},
		{AgentID: "macro", Err: "quota exceeded"},
	}
	got := SynthesisPrompt("Bias?", turns)

	if !strings.Contains(got, "### Technician\nUp.") {
		t.Fatalf("healthy answer missing:\n%s", got)
	}
	if !strings.Contains(got, "### macro (unavailable)\nquota exceeded") {
		t.Fatalf("failed agent not marked:\n%s", got)
	}
	if !strings.Contains(got, "The desk was asked:\nBias?") {
		t.Fatalf("question missing:\n%s", got)
	}
}
