// Package risk enforces the guard rails layered on top of the ladder logic:
// a hard position cap and day-scoped loss and trade limits.
package risk

import (
	"fmt"
	"time"
)

// Config holds configuration for risk management. Zero values disable
// the corresponding limit.
type Config struct {
	MaxPosition    float64 // hard cap on position size in contracts
	MaxDailyLoss   float64 // pause trading once realized daily loss exceeds this
	MaxDailyTrades int     // cap on recorded fills per UTC day
}

// Manager tracks day-scoped realized results and enforces the limits.
// Not safe for concurrent use.
type Manager struct {
	config Config
	stats  Stats
}

// Stats holds the rolling day state.
type Stats struct {
	Day         time.Time // UTC midnight of the day being tracked
	DailyPnL    float64   // realized PnL recorded so far today
	DailyTrades int       // fills recorded so far today
}

// NewManager creates a new risk manager instance.
func NewManager(config Config) *Manager {
	return &Manager{config: config}
}

// RollDay advances the tracked day to the one containing t. It returns
// the previous day and true when a rollover happened, so the caller can
// summarize the finished day before the counters reset.
func (m *Manager) RollDay(t time.Time) (time.Time, bool) {
	day := t.UTC().Truncate(24 * time.Hour)
	if m.stats.Day.IsZero() {
		m.stats.Day = day
		return time.Time{}, false
	}
	if day.Equal(m.stats.Day) {
		return time.Time{}, false
	}
	previous := m.stats.Day
	m.stats = Stats{Day: day}
	return previous, true
}

// RecordFill folds one fill into the daily statistics. Buys carry zero
// PnL; sells carry their realized result.
func (m *Manager) RecordFill(t time.Time, pnl float64) {
	m.RollDay(t)
	m.stats.DailyPnL += pnl
	m.stats.DailyTrades++
}

// AllowEntry reports whether growing the position to newPosition stays
// within the configured cap.
func (m *Manager) AllowEntry(newPosition float64) error {
	if m.config.MaxPosition > 0 && newPosition > m.config.MaxPosition {
		return fmt.Errorf("position %.0f exceeds maximum allowed %.0f", newPosition, m.config.MaxPosition)
	}
	return nil
}

// CheckLimits reports the first breached day limit, or nil when trading
// may continue.
func (m *Manager) CheckLimits() error {
	if m.config.MaxDailyLoss > 0 && m.stats.DailyPnL < -m.config.MaxDailyLoss {
		return fmt.Errorf("daily loss %.2f exceeds maximum allowed %.2f", -m.stats.DailyPnL, m.config.MaxDailyLoss)
	}
	if m.config.MaxDailyTrades > 0 && m.stats.DailyTrades >= m.config.MaxDailyTrades {
		return fmt.Errorf("daily trades %d reached maximum allowed %d", m.stats.DailyTrades, m.config.MaxDailyTrades)
	}
	return nil
}

// Stats returns a copy of the current day statistics.
func (m *Manager) Stats() Stats {
	return m.stats
}
