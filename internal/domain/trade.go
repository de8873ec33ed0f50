package domain

// TradePlan is a concrete proposed trade, either entered by the trader or
// extracted from a moderator synthesis. RiskPercent is the fraction of
// current equity put at risk if the stop is hit, expressed in percent.
type TradePlan struct {
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"` // long | short
	Entry       float64   `json:"entry"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits,omitempty"`
	RiskPercent float64   `json:"risk_percent"`
	Playbook    string    `json:"playbook,omitempty"`
	Autopilot   bool      `json:"autopilot,omitempty"`
	Rationale   string    `json:"rationale,omitempty"`
}

// RiskVerdict is the evaluator's decision for one plan. Allowed is true
// exactly when Reasons is empty; Warnings inform but never block.
// A verdict is always derived on demand, never stored as authoritative state.
type RiskVerdict struct {
	Allowed  bool     `json:"allowed"`
	Reasons  []string `json:"reasons"`
	Warnings []string `json:"warnings"`
}

// AccountState is the slice of broker state the risk evaluator needs.
type AccountState struct {
	Equity           float64 `json:"equity"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
	RealizedPnLWeek  float64 `json:"realized_pnl_week"`
	Environment      string  `json:"environment"` // live | demo
}

// RuntimeCounters are per-day desk counters derived from the journal.
type RuntimeCounters struct {
	TradesToday int `json:"trades_today"`
}

// RiskLimits are the desk-wide baseline ceilings. Percent values are of
// current equity.
type RiskLimits struct {
	MaxRiskPerTrade float64 `json:"max_risk_per_trade"`
	DailyLossCap    float64 `json:"daily_loss_cap"`
	WeeklyLossCap   float64 `json:"weekly_loss_cap"`
	MaxTradesPerDay int     `json:"max_trades_per_day"`
}

// DeskPolicy optionally tightens the baseline limits. In "advisory" mode a
// playbook outside the allow-list is a warning; in "enforced" mode it blocks.
type DeskPolicy struct {
	Mode             string   `json:"mode"` // advisory | enforced
	MaxRiskPerTrade  float64  `json:"max_risk_per_trade,omitempty"`
	AllowedPlaybooks []string `json:"allowed_playbooks,omitempty"`
}
