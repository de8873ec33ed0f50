package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradedesk/internal/broker"
	"tradedesk/internal/domain"
	"tradedesk/internal/journal"
	"tradedesk/internal/metrics"
	"tradedesk/internal/playbook"
	"tradedesk/internal/risk"
)

// Desk wires the broker, journal store, playbook library and risk evaluator
// into the runtime context that tools and the round table run against.
type Desk struct {
	broker    broker.Broker
	journal   *journal.Store
	playbooks *playbook.Library
	risk      *risk.Evaluator
	policy    *domain.DeskPolicy
	logger    *slog.Logger

	// writeMu is the desk's single writer: journal appends and order
	// submissions take it so concurrent agents cannot interleave writes.
	writeMu sync.Mutex
}

type Config struct {
	Broker    broker.Broker
	Journal   *journal.Store
	Playbooks *playbook.Library
	Risk      *risk.Evaluator
	Policy    *domain.DeskPolicy
	Logger    *slog.Logger
}

func New(cfg Config) *Desk {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Desk{
		broker:    cfg.Broker,
		journal:   cfg.Journal,
		playbooks: cfg.Playbooks,
		risk:      cfg.Risk,
		policy:    cfg.Policy,
		logger:    cfg.Logger,
	}
}

var _ domain.DeskContext = (*Desk)(nil)

func (d *Desk) BrokerSnapshot(ctx context.Context) (*domain.BrokerSnapshot, error) {
	if d.broker == nil {
		return nil, errors.New("no broker configured")
	}
	return d.broker.Snapshot(ctx)
}

func (d *Desk) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	if d.broker == nil {
		return nil, errors.New("no broker configured")
	}
	return d.broker.Positions(ctx)
}

func (d *Desk) RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if d.journal == nil {
		return nil, errors.New("no journal configured")
	}
	return d.journal.RecentTrades(ctx, limit)
}

func (d *Desk) AppendJournalEntry(ctx context.Context, entry domain.JournalEntry) (string, error) {
	if d.journal == nil {
		return "", errors.New("no journal configured")
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.journal.AppendEntry(ctx, entry)
}

func (d *Desk) Playbooks(_ context.Context, filter string) ([]domain.Playbook, error) {
	if d.playbooks == nil {
		return nil, nil
	}
	return d.playbooks.Find(filter), nil
}

// RiskReview evaluates a plan against live account state. The evaluation
// itself never fails; only assembling the account state can.
func (d *Desk) RiskReview(ctx context.Context, plan domain.TradePlan) (*domain.RiskVerdict, error) {
	if d.risk == nil {
		return nil, errors.New("no risk evaluator configured")
	}
	acct, counters, err := d.accountState(ctx)
	if err != nil {
		return nil, err
	}
	verdict := d.risk.Evaluate(acct, counters, plan, d.policy)
	return &verdict, nil
}

// SubmitOrder is the desk's only order entry point: every ticket passes the
// risk gate first. A rejected plan returns the verdict with no error and no
// position; the caller decides how to present it.
func (d *Desk) SubmitOrder(ctx context.Context, plan domain.TradePlan, quantity float64) (*domain.Position, *domain.RiskVerdict, error) {
	if d.broker == nil {
		return nil, nil, errors.New("no broker configured")
	}
	if quantity <= 0 {
		return nil, nil, errors.New("quantity must be positive")
	}

	verdict, err := d.RiskReview(ctx, plan)
	if err != nil {
		return nil, nil, err
	}
	if !verdict.Allowed {
		metrics.RiskRejections.Inc()
		d.logger.Warn("order rejected by risk policy",
			"symbol", plan.Symbol, "reasons", len(verdict.Reasons))
		return nil, verdict, nil
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	pos, err := d.broker.PlaceOrder(ctx, domain.OrderTicket{
		Symbol:      plan.Symbol,
		Direction:   plan.Direction,
		Quantity:    quantity,
		Entry:       plan.Entry,
		StopLoss:    plan.StopLoss,
		TakeProfits: plan.TakeProfits,
	})
	if err != nil {
		return nil, verdict, fmt.Errorf("place order: %w", err)
	}
	metrics.OrdersPlaced.Inc()

	if d.journal != nil {
		_, jerr := d.journal.RecordTrade(ctx, domain.TradeRecord{
			ID:          pos.ID,
			Timestamp:   pos.OpenedAt,
			Symbol:      pos.Symbol,
			Direction:   pos.Direction,
			Entry:       pos.AvgPrice,
			Quantity:    pos.Quantity,
			RiskPercent: plan.RiskPercent,
			Status:      "open",
			Playbook:    plan.Playbook,
		})
		if jerr != nil {
			// The order is already live; losing the journal row must not
			// unwind it.
			d.logger.Warn("order filled but not journaled", "id", pos.ID, "error", jerr)
		}
	}

	d.logger.Info("order submitted",
		"symbol", pos.Symbol, "direction", pos.Direction,
		"quantity", pos.Quantity, "fill", pos.AvgPrice)
	return pos, verdict, nil
}

// ClosePosition flattens one open position and realizes its PnL into the
// journal, which is where the daily and weekly loss caps read from.
func (d *Desk) ClosePosition(ctx context.Context, positionID string) (*domain.TradeRecord, error) {
	if d.broker == nil {
		return nil, errors.New("no broker configured")
	}
	if positionID == "" {
		return nil, errors.New("position id is required")
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	rec, err := d.broker.ClosePosition(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}
	metrics.PositionsClosed.Inc()

	if d.journal != nil {
		jerr := d.journal.CloseTrade(ctx, rec.ID, rec.Exit, rec.PnL)
		if jerr != nil {
			// The position was opened outside the desk; record it now so the
			// realized PnL still counts against the loss caps.
			if _, rerr := d.journal.RecordTrade(ctx, *rec); rerr != nil {
				d.logger.Warn("position closed but not journaled", "id", rec.ID, "error", rerr)
			}
		}
	}

	d.logger.Info("position closed",
		"id", rec.ID, "symbol", rec.Symbol, "pnl", rec.PnL)
	return rec, nil
}

// RecentOrders reads the venue's own order history, as opposed to the desk
// journal's view of it.
func (d *Desk) RecentOrders(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if d.broker == nil {
		return nil, errors.New("no broker configured")
	}
	return d.broker.RecentOrders(ctx, limit)
}

// accountState assembles the evaluator's inputs: equity and environment from
// the broker, realized PnL and trade counts from the journal.
func (d *Desk) accountState(ctx context.Context) (domain.AccountState, domain.RuntimeCounters, error) {
	var acct domain.AccountState
	var counters domain.RuntimeCounters

	snap, err := d.BrokerSnapshot(ctx)
	if err != nil {
		return acct, counters, fmt.Errorf("risk review needs the account snapshot: %w", err)
	}
	acct.Equity = snap.Equity
	acct.Environment = snap.Environment

	if d.journal == nil {
		return acct, counters, nil
	}

	now := time.Now().UTC()
	dayStart := startOfDay(now)
	weekStart := startOfWeek(now)

	if pnl, err := d.journal.RealizedPnLSince(ctx, dayStart); err == nil {
		acct.RealizedPnLToday = pnl
	} else {
		return acct, counters, fmt.Errorf("read daily pnl: %w", err)
	}
	if pnl, err := d.journal.RealizedPnLSince(ctx, weekStart); err == nil {
		acct.RealizedPnLWeek = pnl
	} else {
		return acct, counters, fmt.Errorf("read weekly pnl: %w", err)
	}
	if n, err := d.journal.CountTradesSince(ctx, dayStart); err == nil {
		counters.TradesToday = n
	} else {
		return acct, counters, fmt.Errorf("count trades: %w", err)
	}
	return acct, counters, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// startOfWeek is Monday 00:00 UTC of the week containing t.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(t.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
