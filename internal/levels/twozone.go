package levels

import (
	"fmt"
	"math"

	"fibgrid/internal/domain"
	"fibgrid/internal/ports"
)

// ZoneConfig parameterizes the legacy two-zone profile. The boundary splits
// the operating range into a low and a high band; each band interpolates its
// profit target over its own price sub-range, which may extend past the
// trading bounds so the slope can be tuned independently.
type ZoneConfig struct {
	Boundary float64 // Price separating the low band from the high band

	HighRangeMin  float64 // Interpolation sub-range of the high band
	HighRangeMax  float64
	HighProfitMin float64 // Profit pct at HighRangeMax (higher prices earn less)
	HighProfitMax float64 // Profit pct at HighRangeMin

	LowRangeMin  float64 // Interpolation sub-range of the low band
	LowRangeMax  float64
	LowProfitMin float64 // Profit pct at LowRangeMax
	LowProfitMax float64 // Profit pct at LowRangeMin (lower prices earn more)

	HighCapitalRatio float64 // Contract budget multiplier in the high band
	LowCapitalRatio  float64 // Contract budget multiplier in the low band

	DropNormal float64 // Decline from reference that counts as a normal drop
	DropLarge  float64 // Decline from reference that counts as a large drop

	HighNormalQty int // Grid buy size on a normal drop in the high band
	HighLargeQty  int // Grid buy size on a large drop in the high band
	LowNormalQty  int // Grid buy size on a normal drop in the low band
	LowLargeQty   int // Grid buy size on a large drop in the low band
}

// DefaultZoneConfig returns the production profile the legacy deployment ran
// with: boundary 120, gentle 2.3-2.7% targets above it, steeper 3.0-4.5%
// below, and a heavier capital commitment in the low band.
func DefaultZoneConfig() ZoneConfig {
	return ZoneConfig{
		Boundary:         120,
		HighRangeMin:     120,
		HighRangeMax:     200,
		HighProfitMin:    2.3,
		HighProfitMax:    2.7,
		LowRangeMin:      50,
		LowRangeMax:      120,
		LowProfitMin:     3.0,
		LowProfitMax:     4.5,
		HighCapitalRatio: 1.1,
		LowCapitalRatio:  1.8,
		DropNormal:       2.0,
		DropLarge:        5.0,
		HighNormalQty:    1,
		HighLargeQty:     2,
		LowNormalQty:     2,
		LowLargeQty:      3,
	}
}

func (z ZoneConfig) validate(cfg Config) error {
	op := "levels.ZoneConfig"
	if z.Boundary <= cfg.PriceMin || z.Boundary >= cfg.PriceMax {
		return fmt.Errorf("%s: boundary %.2f outside (%.2f, %.2f): %w", op, z.Boundary, cfg.PriceMin, cfg.PriceMax, ports.ErrConfigurationError)
	}
	if z.HighRangeMax <= z.HighRangeMin || z.LowRangeMax <= z.LowRangeMin {
		return fmt.Errorf("%s: empty interpolation sub-range: %w", op, ports.ErrConfigurationError)
	}
	if z.HighProfitMax < z.HighProfitMin || z.LowProfitMax < z.LowProfitMin {
		return fmt.Errorf("%s: inverted profit bounds: %w", op, ports.ErrConfigurationError)
	}
	if z.DropLarge <= z.DropNormal || z.DropNormal <= 0 {
		return fmt.Errorf("%s: drop thresholds must satisfy 0 < normal < large: %w", op, ports.ErrConfigurationError)
	}
	return nil
}

// ZoneModel is the legacy two-zone variant: a continuous linear target
// curve across the range plus profit-target and drop-sizing rules used by
// grid entries. Its ladder is uniformly spaced since the profile has no
// privileged ratios.
type ZoneModel struct {
	cfg    Config
	zone   ZoneConfig
	levels []domain.PriceLevel
}

// NewZoneModel validates both configs and computes the ladder once.
func NewZoneModel(cfg Config, zone ZoneConfig) (*ZoneModel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := zone.validate(cfg); err != nil {
		return nil, err
	}
	return &ZoneModel{cfg: cfg, zone: zone, levels: buildLevels(cfg, uniformRatios(cfg.LevelCount))}, nil
}

// Levels implements Model.
func (m *ZoneModel) Levels() []domain.PriceLevel { return m.levels }

// TargetPositionAt interpolates the target continuously between the bounds
// instead of stepping level to level.
func (m *ZoneModel) TargetPositionAt(price float64) int {
	if price <= m.cfg.PriceMin {
		return m.cfg.MaxPosition
	}
	if price >= m.cfg.PriceMax {
		return 0
	}
	ratio := (price - m.cfg.PriceMin) / (m.cfg.PriceMax - m.cfg.PriceMin)
	target := int(float64(m.cfg.MaxPosition) * (1 - ratio))
	if target < 0 {
		target = 0
	} else if target > m.cfg.MaxPosition {
		target = m.cfg.MaxPosition
	}
	return target
}

// CrossedLevel implements Model.
func (m *ZoneModel) CrossedLevel(oldPrice, newPrice float64) (domain.PriceLevel, bool) {
	return crossedLevel(m.levels, oldPrice, newPrice)
}

// ZoneFor classifies a price into the high band, the low band, or out of
// range.
func (m *ZoneModel) ZoneFor(price float64) domain.Zone {
	if price < m.cfg.PriceMin || price > m.cfg.PriceMax {
		return domain.ZoneOut
	}
	if price >= m.zone.Boundary {
		return domain.ZoneHigh
	}
	return domain.ZoneLow
}

// ProfitTargetAt returns the profit percentage targeted for an entry at
// price, rounded to two decimals. The price is clamped into the band's
// interpolation sub-range first. Out-of-range prices return 0.
func (m *ZoneModel) ProfitTargetAt(price float64) float64 {
	switch m.ZoneFor(price) {
	case domain.ZoneHigh:
		clamped := clamp(price, m.zone.HighRangeMin, m.zone.HighRangeMax)
		ratio := (clamped - m.zone.HighRangeMin) / (m.zone.HighRangeMax - m.zone.HighRangeMin)
		return round2(m.zone.HighProfitMax - ratio*(m.zone.HighProfitMax-m.zone.HighProfitMin))
	case domain.ZoneLow:
		clamped := clamp(price, m.zone.LowRangeMin, m.zone.LowRangeMax)
		ratio := (m.zone.LowRangeMax - clamped) / (m.zone.LowRangeMax - m.zone.LowRangeMin)
		return round2(m.zone.LowProfitMin + ratio*(m.zone.LowProfitMax-m.zone.LowProfitMin))
	default:
		return 0
	}
}

// TakeProfitPrice derives the long exit price for an entry, or 0 when the
// entry price carries no profit target.
func (m *ZoneModel) TakeProfitPrice(entryPrice float64) float64 {
	pct := m.ProfitTargetAt(entryPrice) / 100
	if pct == 0 {
		return 0
	}
	return round2(entryPrice * (1 + pct))
}

// ContractBudget returns the cash to deploy at price for the given capital.
func (m *ZoneModel) ContractBudget(price, capital float64) float64 {
	switch m.ZoneFor(price) {
	case domain.ZoneHigh:
		return capital * m.zone.HighCapitalRatio
	case domain.ZoneLow:
		return capital * m.zone.LowCapitalRatio
	default:
		return 0
	}
}

// ClassifyDrop buckets the decline from the reference price.
func (m *ZoneModel) ClassifyDrop(reference, current float64) domain.DropClass {
	drop := reference - current
	if drop >= m.zone.DropLarge {
		return domain.DropLarge
	}
	if drop >= m.zone.DropNormal {
		return domain.DropNormal
	}
	return domain.DropNone
}

// GridBuyQuantity maps band and drop class to the configured entry size.
// A drop that classifies as none buys nothing.
func (m *ZoneModel) GridBuyQuantity(zone domain.Zone, class domain.DropClass) int {
	switch {
	case zone == domain.ZoneHigh && class == domain.DropNormal:
		return m.zone.HighNormalQty
	case zone == domain.ZoneHigh && class == domain.DropLarge:
		return m.zone.HighLargeQty
	case zone == domain.ZoneLow && class == domain.DropNormal:
		return m.zone.LowNormalQty
	case zone == domain.ZoneLow && class == domain.DropLarge:
		return m.zone.LowLargeQty
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
