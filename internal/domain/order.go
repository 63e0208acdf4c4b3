package domain

import "time"

// RestingOrder is one resting limit order tracked by the order lifecycle
// manager. Exactly four slots exist at once (buy/sell x tier-1/tier-2);
// each slot holds at most one RestingOrder.
type RestingOrder struct {
	OrderID       string     // Exchange-assigned order identifier
	ClientOrderID string     // Client-assigned identifier carrying side/tier/level
	Symbol        string     // Trading symbol
	Side          OrderSide  // BUY or SELL
	Tier          OrderTier  // 1 (nearer) or 2 (further)
	Price         float64    // Quoted limit price (level price plus offset)
	Quantity      float64    // Order quantity in contracts
	Level         PriceLevel // The checkpoint this order targets
	State         OrderState // LIVE, FILLED or CANCELED
	CreatedAt     time.Time  // Placement timestamp
	FilledAt      time.Time  // Fill timestamp (zero value until filled)
}
