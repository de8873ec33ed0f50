package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tradedesk/internal/domain"
)

// briefTradeCount is how many recent trades the shared desk brief includes.
const briefTradeCount = 5

// DeskBrief renders a compact desk snapshot for seeding agent turns. Fetch
// failures become one-line notes, so a dead broker feed degrades the brief
// instead of killing the round.
func DeskBrief(ctx context.Context, desk domain.DeskContext) string {
	if desk == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Desk snapshot\n")

	if snap, err := desk.BrokerSnapshot(ctx); err != nil {
		fmt.Fprintf(&b, "Broker snapshot unavailable: %s\n", err)
	} else {
		fmt.Fprintf(&b, "Account %s (%s): balance %.2f %s, equity %.2f, open PnL %.2f\n",
			snap.AccountID, snap.Environment, snap.Balance, snap.Currency, snap.Equity, snap.OpenPnL)
		if len(snap.Quotes) > 0 {
			symbols := make([]string, 0, len(snap.Quotes))
			for sym := range snap.Quotes {
				symbols = append(symbols, sym)
			}
			sort.Strings(symbols)
			b.WriteString("Quotes:")
			for _, sym := range symbols {
				q := snap.Quotes[sym]
				fmt.Fprintf(&b, " %s %.2f/%.2f", sym, q.Bid, q.Ask)
			}
			b.WriteString("\n")
		}
	}

	if positions, err := desk.OpenPositions(ctx); err != nil {
		fmt.Fprintf(&b, "Open positions unavailable: %s\n", err)
	} else if len(positions) == 0 {
		b.WriteString("No open positions.\n")
	} else {
		fmt.Fprintf(&b, "Open positions (%d):\n", len(positions))
		for _, p := range positions {
			fmt.Fprintf(&b, "- %s %s %.2f @ %.2f (PnL %.2f)\n",
				p.Symbol, p.Direction, p.Quantity, p.AvgPrice, p.OpenPnL)
		}
	}

	if trades, err := desk.RecentTrades(ctx, briefTradeCount); err == nil && len(trades) > 0 {
		fmt.Fprintf(&b, "Last %d trades:\n", len(trades))
		for _, tr := range trades {
			fmt.Fprintf(&b, "- %s %s %s PnL %.2f (%s)\n",
				tr.Timestamp.Format("2006-01-02"), tr.Symbol, tr.Direction, tr.PnL, tr.Status)
		}
	}

	fmt.Fprintf(&b, "Brief taken %s.\n", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}

// RoundTablePrompt seeds one analyst's turn with the shared desk brief and
// the trader's question.
func RoundTablePrompt(brief, question string) string {
	if brief == "" {
		return question
	}
	return brief + "\n## Question\n" + question
}

// AgentSystemPrompt combines an analyst persona with the journal draft
// contract. The contract is textual: a model that violates it simply yields
// no draft, which callers treat as a normal outcome.
func AgentSystemPrompt(cfg domain.AgentConfig) string {
	var b strings.Builder
	b.WriteString(cfg.SystemPrompt)
	if cfg.SystemPrompt != "" && !strings.HasSuffix(cfg.SystemPrompt, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(`
## Journal drafts
When your analysis surfaces a lesson worth keeping, end your answer with a single line:
` + JournalSentinel + ` {"title": "...", "summary": "...", "tags": ["..."], "sentiment": "..."}
Otherwise end with plain text. Never wrap the marker line in a code fence.
`)
	return b.String()
}

// ModeratorSystemPrompt combines the moderator persona with the trade plan
// contract.
func ModeratorSystemPrompt(cfg domain.AgentConfig) string {
	var b strings.Builder
	b.WriteString(cfg.SystemPrompt)
	if cfg.SystemPrompt != "" && !strings.HasSuffix(cfg.SystemPrompt, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(`
## Trade proposals
If, and only if, the panel supports a concrete trade, end your answer with a single line:
` + TradePlanSentinel + ` {"symbol": "...", "direction": "long|short", "entry": 0, "stop_loss": 0, "take_profits": [0], "risk_percent": 0, "playbook": "..."}
Run run_risk_review before proposing when the tool is available. If no trade
is warranted, say so in plain text and emit no marker.
`)
	return b.String()
}

// SynthesisPrompt builds the moderator's view of the round: the original
// question plus every analyst's answer, with failed analysts marked so the
// moderator knows the panel came up short.
func SynthesisPrompt(question string, turns []domain.AgentTurn) string {
	var b strings.Builder
	b.WriteString("The desk was asked:\n")
	b.WriteString(question)
	b.WriteString("\n\nPanel answers:\n")
	for _, turn := range turns {
		if turn.Err != "" {
			fmt.Fprintf(&b, "\n### %s (unavailable)\n%s\n", turnName(turn), turn.Err)
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", turnName(turn), turn.Text)
	}
	b.WriteString("\nSynthesize the panel into one desk view with a clear recommendation.\n")
	return b.String()
}

// stitchedSynthesis is the fallback when the moderator itself fails: the
// panel answers joined under their author names, so the caller still gets
// every agent's contribution.
func stitchedSynthesis(turns []domain.AgentTurn) string {
	var b strings.Builder
	b.WriteString("The moderator was unavailable; the panel answers follow unsynthesized.\n")
	for _, turn := range turns {
		if turn.Err != "" {
			fmt.Fprintf(&b, "\n%s: unavailable (%s)\n", turnName(turn), turn.Err)
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n%s\n", turnName(turn), turn.Text)
	}
	return b.String()
}

func turnName(turn domain.AgentTurn) string {
	if turn.DisplayName != "" {
		return turn.DisplayName
	}
	return turn.AgentID
}
