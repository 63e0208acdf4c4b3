package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderTier distinguishes the nearer resting order (tier 1) from the one
// positioned behind it (tier 2).
type OrderTier int

const (
	Tier1 OrderTier = 1
	Tier2 OrderTier = 2
)

// OrderState represents the lifecycle state of a resting order as reported
// by the exchange.
type OrderState string

const (
	OrderLive     OrderState = "LIVE"
	OrderFilled   OrderState = "FILLED"
	OrderCanceled OrderState = "CANCELED"
	OrderUnknown  OrderState = "UNKNOWN"
)

// TradeTag classifies what produced a trade.
type TradeTag string

const (
	TagLevel  TradeTag = "level"  // fill of a resting level order
	TagGrid   TradeTag = "grid"   // two-zone grid entry/exit
	TagManual TradeTag = "manual" // operator action or startup sync
)

// Zone identifies which configured price band the market is currently in.
type Zone string

const (
	ZoneHigh Zone = "HIGH"
	ZoneLow  Zone = "LOW"
	ZoneOut  Zone = "OUT" // outside the safe range
)

// DropClass buckets the size of a decline from the reference price.
type DropClass string

const (
	DropNone   DropClass = "none"
	DropNormal DropClass = "normal"
	DropLarge  DropClass = "large"
)
