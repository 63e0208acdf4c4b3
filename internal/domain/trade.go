package domain

import "time"

// TradeRecord is an immutable log entry for one executed buy or sell.
type TradeRecord struct {
	ID        int64     // Unique identifier (assigned by the store)
	Symbol    string    // Trading symbol (e.g., "SOLUSDT")
	Side      OrderSide // BUY or SELL
	Price     float64   // Execution price
	Quantity  float64   // Executed quantity
	PnL       float64   // Realized profit (sells only, 0 for buys)
	PnLPct    float64   // Realized profit as a percentage of entry notional
	LotRefs   string    // Comma-separated IDs of the lots this trade touched
	Tag       TradeTag  // What produced the trade (level, grid, manual)
	CreatedAt time.Time // Execution timestamp
}

// Notional returns the cash value of the trade.
func (t *TradeRecord) Notional() float64 {
	return t.Price * t.Quantity
}
