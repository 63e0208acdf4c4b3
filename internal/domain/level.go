package domain

// PriceLevel is one checkpoint of the target-position curve. Ratio measures
// the distance up from the bottom of the configured range, so ascending
// ratio means ascending price and a non-increasing target position.
type PriceLevel struct {
	Ratio          float64 // Position along the range, in [0,1]
	Price          float64 // Derived checkpoint price
	TargetPosition int     // Contracts to hold once price reaches this level
}
