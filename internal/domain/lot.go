package domain

import "time"

// Lot represents a single acquisition batch. Lots are created once per buy
// execution, consumed oldest-first by sells, and retained after exhaustion
// for audit.
type Lot struct {
	ID         int64     // Unique identifier (assigned by the store)
	Symbol     string    // Trading symbol (e.g., "SOLUSDT")
	EntryPrice float64   // Price at which the lot was acquired
	Quantity   float64   // Remaining quantity still open
	OrigQty    float64   // Quantity originally acquired
	Manual     bool      // True when created by an operator or startup sync rather than a fill
	CreatedAt  time.Time // Timestamp of acquisition
	Note       string    // Free-text annotation (e.g., which level produced it)
}

// IsExhausted reports whether the lot has been fully consumed by sells.
func (l *Lot) IsExhausted() bool {
	return l.Quantity <= 0
}

// SellSlice records the consumption of part of one lot by a single sell.
type SellSlice struct {
	LotID    int64   // Lot the slice was taken from
	Quantity float64 // Quantity consumed from the lot
	PnL      float64 // Realized profit for this slice
}

// SellResult is the outcome of a FIFO sell. Quantity may be less than
// requested when open lots were insufficient; that is a normal partial
// outcome, not an error.
type SellResult struct {
	Quantity      float64     // Quantity actually sold
	RealizedPnL   float64     // Aggregate realized profit across all slices
	AvgEntryPrice float64     // FIFO-weighted average entry price of the consumed slices
	Slices        []SellSlice // Per-lot consumption detail, oldest lot first
}
