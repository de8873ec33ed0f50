package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/market"

	"github.com/google/uuid"
)

const defaultOrderHistory = 200

// Synthetic is a demo venue backed by the synthetic market feed. Fills are
// instant at the current quote, positions live in memory, and the account
// never talks to a real broker. Order placement holds the account mutex for
// the whole fill so two orders cannot interleave.
type Synthetic struct {
	mu        sync.Mutex
	feed      *market.Feed
	accountID string
	currency  string
	balance   float64
	positions []domain.Position
	orders    []domain.TradeRecord
	logger    *slog.Logger
}

type SyntheticConfig struct {
	Feed      *market.Feed
	AccountID string
	Currency  string
	Balance   float64
	Logger    *slog.Logger
}

func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AccountID == "" {
		cfg.AccountID = "DEMO-1"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Balance <= 0 {
		cfg.Balance = 10000
	}
	return &Synthetic{
		feed:      cfg.Feed,
		accountID: cfg.AccountID,
		currency:  cfg.Currency,
		balance:   cfg.Balance,
		logger:    cfg.Logger,
	}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Snapshot(_ context.Context) (*domain.BrokerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	openPnL := 0.0
	for i := range s.positions {
		s.markPosition(&s.positions[i])
		openPnL += s.positions[i].OpenPnL
	}

	snap := &domain.BrokerSnapshot{
		AccountID:   s.accountID,
		Currency:    s.currency,
		Balance:     s.balance,
		Equity:      s.balance + openPnL,
		OpenPnL:     openPnL,
		Environment: "demo",
		Timestamp:   time.Now().UTC(),
	}
	if s.feed != nil {
		snap.Quotes = s.feed.Snapshot()
	}
	return snap, nil
}

func (s *Synthetic) Positions(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Position, len(s.positions))
	for i := range s.positions {
		s.markPosition(&s.positions[i])
		out[i] = s.positions[i]
	}
	return out, nil
}

func (s *Synthetic) RecentOrders(_ context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Orders are appended oldest-first; serve the newest first.
	n := len(s.orders)
	if limit > n {
		limit = n
	}
	out := make([]domain.TradeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.orders[i])
	}
	return out, nil
}

func (s *Synthetic) PlaceOrder(_ context.Context, ticket domain.OrderTicket) (*domain.Position, error) {
	if err := validateTicket(ticket); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fill := ticket.Entry
	if s.feed != nil {
		tick, ok := s.feed.Last(ticket.Symbol)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, ticket.Symbol)
		}
		if fill == 0 {
			// Market order: cross the spread.
			if ticket.Direction == "long" {
				fill = tick.Ask
			} else {
				fill = tick.Bid
			}
		}
	}
	if fill == 0 {
		return nil, fmt.Errorf("no quote for %s and no limit price", ticket.Symbol)
	}

	now := time.Now().UTC()
	pos := domain.Position{
		ID:        uuid.NewString(),
		Symbol:    ticket.Symbol,
		Direction: ticket.Direction,
		Quantity:  ticket.Quantity,
		AvgPrice:  fill,
		OpenedAt:  now,
	}
	s.positions = append(s.positions, pos)

	s.orders = append(s.orders, domain.TradeRecord{
		ID:        pos.ID,
		Timestamp: now,
		Symbol:    ticket.Symbol,
		Direction: ticket.Direction,
		Entry:     fill,
		Quantity:  ticket.Quantity,
		Status:    "open",
	})
	if len(s.orders) > defaultOrderHistory {
		s.orders = s.orders[len(s.orders)-defaultOrderHistory:]
	}

	s.logger.Info("synthetic order filled",
		"symbol", ticket.Symbol, "direction", ticket.Direction,
		"quantity", ticket.Quantity, "fill", fill,
	)
	return &pos, nil
}

// ClosePosition flattens one position at the current quote and realizes its
// PnL into the balance.
func (s *Synthetic) ClosePosition(_ context.Context, id string) (*domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.positions {
		if s.positions[i].ID != id {
			continue
		}
		pos := s.positions[i]
		s.markPosition(&pos)
		s.positions = append(s.positions[:i], s.positions[i+1:]...)
		s.balance += pos.OpenPnL

		exit := pos.AvgPrice
		if s.feed != nil {
			if tick, ok := s.feed.Last(pos.Symbol); ok {
				exit = closeQuote(pos.Direction, tick)
			}
		}
		rec := domain.TradeRecord{
			ID:        pos.ID,
			Timestamp: time.Now().UTC(),
			Symbol:    pos.Symbol,
			Direction: pos.Direction,
			Entry:     pos.AvgPrice,
			Exit:      exit,
			Quantity:  pos.Quantity,
			PnL:       pos.OpenPnL,
			Status:    "closed",
		}
		s.orders = append(s.orders, rec)
		s.logger.Info("synthetic position closed", "symbol", pos.Symbol, "pnl", pos.OpenPnL)
		return &rec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
}

// markPosition refreshes OpenPnL against the current quote. Caller holds the
// mutex.
func (s *Synthetic) markPosition(pos *domain.Position) {
	if s.feed == nil {
		return
	}
	tick, ok := s.feed.Last(pos.Symbol)
	if !ok {
		return
	}
	pos.OpenPnL = (closeQuote(pos.Direction, tick) - pos.AvgPrice) * pos.Quantity
	if pos.Direction == "short" {
		pos.OpenPnL = -pos.OpenPnL
	}
}

// closeQuote is the price a position would flatten at: longs sell the bid,
// shorts buy the ask.
func closeQuote(direction string, tick domain.Tick) float64 {
	if direction == "long" {
		return tick.Bid
	}
	return tick.Ask
}
