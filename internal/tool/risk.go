package tool

import (
	"context"
	"fmt"

	"tradedesk/internal/domain"
)

// RiskReviewTool runs a proposed trade through the desk risk policy and
// returns the verdict. The evaluation itself is pure; this tool only gathers
// the current account state to feed it.
type RiskReviewTool struct {
	desk domain.DeskContext
}

func NewRiskReviewTool(desk domain.DeskContext) *RiskReviewTool {
	return &RiskReviewTool{desk: desk}
}

func (t *RiskReviewTool) Name() string { return "run_risk_review" }
func (t *RiskReviewTool) Description() string {
	return "Evaluate a proposed trade against the desk risk policy. Returns allowed true/false with every violated rule and any near-threshold warnings. Run this before endorsing a trade."
}
func (t *RiskReviewTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"symbol":       {Type: "string", Description: "Instrument, e.g. US30"},
			"direction":    {Type: "string", Description: "long or short"},
			"entry":        {Type: "number", Description: "Planned entry price"},
			"stop_loss":    {Type: "number", Description: "Stop loss price"},
			"take_profits": {Type: "array", Description: "Target prices, nearest first"},
			"risk_percent": {Type: "number", Description: "Percent of equity at risk if the stop is hit"},
			"playbook":     {Type: "string", Description: "Playbook id this trade follows, if any"},
		},
		[]string{"symbol", "direction", "risk_percent"},
	)
}

func (t *RiskReviewTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	plan := domain.TradePlan{
		Symbol:      ArgsString(args, "symbol"),
		Direction:   ArgsString(args, "direction"),
		Entry:       ArgsFloat(args, "entry"),
		StopLoss:    ArgsFloat(args, "stop_loss"),
		TakeProfits: ArgsFloatSlice(args, "take_profits"),
		RiskPercent: ArgsFloat(args, "risk_percent"),
		Playbook:    ArgsString(args, "playbook"),
	}
	if plan.Symbol == "" {
		return "", fmt.Errorf("missing argument: symbol")
	}

	verdict, err := t.desk.RiskReview(ctx, plan)
	if err != nil {
		return "", fmt.Errorf("risk review: %w", err)
	}
	return marshalResult(verdict)
}
