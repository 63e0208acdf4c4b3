package ports

import (
	"context"
	"time"

	"fibgrid/internal/domain"
)

// DailyStats aggregates one day's realized results.
type DailyStats struct {
	Day      time.Time // Midnight (UTC) of the day covered
	Trades   int       // Number of trades executed
	Wins     int       // Sells that realized a positive profit
	Losses   int       // Sells that realized a negative profit
	TotalPnL float64   // Sum of realized profit across all sells
}

// WinRate returns the percentage of closing trades that were profitable.
func (s *DailyStats) WinRate() float64 {
	closed := s.Wins + s.Losses
	if closed == 0 {
		return 0
	}
	return float64(s.Wins) / float64(closed) * 100
}

// LedgerStore persists lots and trade records. Lot quantities are mutated
// only through CommitSell so FIFO consumption is always paired with its
// trade record in one transaction.
type LedgerStore interface {
	// InsertLot saves a new lot and returns its assigned ID.
	InsertLot(ctx context.Context, lot *domain.Lot) (int64, error)
	// OpenLots retrieves all non-exhausted lots for a symbol, oldest first.
	OpenLots(ctx context.Context, symbol string) ([]*domain.Lot, error)
	// AllLots retrieves every lot for a symbol, oldest first, including
	// exhausted ones kept for audit.
	AllLots(ctx context.Context, symbol string) ([]*domain.Lot, error)
	// CommitSell applies the lot consumptions of one FIFO sell together with
	// its trade record. All updates and the insert succeed or none do.
	// Returns the assigned trade ID.
	CommitSell(ctx context.Context, symbol string, slices []domain.SellSlice, trade *domain.TradeRecord) (int64, error)
	// InsertTrade saves a trade record that consumed no lots (buys).
	InsertTrade(ctx context.Context, trade *domain.TradeRecord) (int64, error)
	// RecentTrades retrieves the most recent trades for a symbol, newest
	// first, up to limit.
	RecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error)
	// DailyStats aggregates realized results for the day containing t.
	DailyStats(ctx context.Context, symbol string, t time.Time) (*DailyStats, error)
	// Close releases the underlying store resources.
	Close() error
}
