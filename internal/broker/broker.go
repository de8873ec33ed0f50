package broker

import (
	"context"
	"errors"

	"tradedesk/internal/domain"
)

// ErrUnknownSymbol is returned when an order names a symbol the venue does
// not quote.
var ErrUnknownSymbol = errors.New("unknown symbol")

// ErrPositionNotFound is returned when a close names a position the venue
// does not hold.
var ErrPositionNotFound = errors.New("position not found")

// Broker is the desk's view of an execution venue: account state, the open
// book, order history, order entry and position exit. Implementations must
// serialize order placement and closes per account; reads may run
// concurrently.
type Broker interface {
	Snapshot(ctx context.Context) (*domain.BrokerSnapshot, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	RecentOrders(ctx context.Context, limit int) ([]domain.TradeRecord, error)
	PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (*domain.Position, error)
	ClosePosition(ctx context.Context, positionID string) (*domain.TradeRecord, error)
	Name() string
}

func validateTicket(t domain.OrderTicket) error {
	if t.Symbol == "" {
		return errors.New("order has no symbol")
	}
	if t.Direction != "long" && t.Direction != "short" {
		return errors.New("direction must be long or short")
	}
	if t.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}
