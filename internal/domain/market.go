package domain

import "time"

// Tick is one market-data update for a symbol.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

// BrokerSnapshot is the account-level view tools and prompts work from.
type BrokerSnapshot struct {
	AccountID   string          `json:"account_id"`
	Currency    string          `json:"currency"`
	Balance     float64         `json:"balance"`
	Equity      float64         `json:"equity"`
	OpenPnL     float64         `json:"open_pnl"`
	MarginUsed  float64         `json:"margin_used"`
	Environment string          `json:"environment"` // live | demo
	Quotes      map[string]Tick `json:"quotes,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Position is one open position at the broker.
type Position struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction string    `json:"direction"` // long | short
	Quantity  float64   `json:"quantity"`
	AvgPrice  float64   `json:"avg_price"`
	OpenPnL   float64   `json:"open_pnl"`
	OpenedAt  time.Time `json:"opened_at"`
}

// TradeRecord is one journaled trade, open or closed.
type TradeRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	Entry       float64   `json:"entry"`
	Exit        float64   `json:"exit,omitempty"`
	Quantity    float64   `json:"quantity"`
	RiskPercent float64   `json:"risk_percent,omitempty"`
	PnL         float64   `json:"pnl"`
	Status      string    `json:"status"` // open | closed
	Playbook    string    `json:"playbook,omitempty"`
}

// OrderTicket is a concrete order handed to the broker layer after the risk
// gate has passed.
type OrderTicket struct {
	AccountID   string    `json:"account_id"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	Quantity    float64   `json:"quantity"`
	Entry       float64   `json:"entry"` // 0 means market
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits,omitempty"`
}

// Playbook is one trading setup definition from the desk's playbook library.
type Playbook struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	Bias       string   `yaml:"bias" json:"bias"` // long | short | both
	Timeframes []string `yaml:"timeframes" json:"timeframes,omitempty"`
	Rules      []string `yaml:"rules" json:"rules,omitempty"`
	Tags       []string `yaml:"tags" json:"tags,omitempty"`
	Notes      string   `yaml:"notes" json:"notes,omitempty"`
}
