package ports

import (
	"context"

	"fibgrid/internal/domain"
)

// PositionSnapshot is the exchange's view of the open position for a symbol.
type PositionSnapshot struct {
	Symbol        string  // Symbol of the position
	Quantity      float64 // Signed position size (positive long, negative short)
	AvgPrice      float64 // Average entry price reported by the exchange
	MarkPrice     float64 // Current mark price
	UnrealizedPnL float64 // Unrealized profit/loss
	Leverage      int     // Leverage currently applied to the position
}

// LimitOrder describes a resting limit order to be placed.
type LimitOrder struct {
	Symbol        string           // Trading symbol
	Side          domain.OrderSide // BUY or SELL
	Price         float64          // Limit price
	Quantity      float64          // Quantity in contracts
	ReduceOnly    bool             // True for orders that may only shrink the position
	ClientOrderID string           // Client-assigned identifier for log correlation
}

// MarketDataSource supplies the current market price.
type MarketDataSource interface {
	// CurrentPrice retrieves the last traded price for a symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// PositionSource supplies the exchange's view of current exposure.
type PositionSource interface {
	// CurrentPosition retrieves the open position snapshot for a symbol.
	// A flat book yields a zero-quantity snapshot, not an error.
	CurrentPosition(ctx context.Context, symbol string) (*PositionSnapshot, error)
}

// OrderGateway places, cancels and inspects orders on the exchange.
// Implementations are assumed to be already authenticated.
type OrderGateway interface {
	// PlaceLimit places a good-till-canceled limit order.
	// Returns the exchange-assigned order ID.
	PlaceLimit(ctx context.Context, order LimitOrder) (string, error)

	// PlaceMarket places a market order and returns the average fill price.
	PlaceMarket(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (float64, error)

	// Cancel cancels an open order. Canceling an order the exchange no
	// longer knows about is treated as success.
	Cancel(ctx context.Context, symbol, orderID string) error

	// OrderState reports the lifecycle state of an order.
	OrderState(ctx context.Context, symbol, orderID string) (domain.OrderState, error)

	// OpenOrders lists the IDs of all open orders for a symbol.
	OpenOrders(ctx context.Context, symbol string) ([]string, error)

	// SetLeverage sets the leverage used for the symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
