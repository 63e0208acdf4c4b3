package levels

import (
	"fmt"
	"sort"

	"fibgrid/internal/domain"
	"fibgrid/internal/ports"
)

// Canonical ratio ordering for level generation. The head of the list holds
// the checkpoints that matter most (range bounds, midpoint, golden-ratio
// retracements), so truncating at a small count keeps the important ones.
var canonicalRatios = []float64{
	0, 1, 0.5, 0.618, 0.382, 0.236, 0.764, 0.146, 0.854,
	0.09, 0.2, 0.3, 0.45, 0.55, 0.7,
}

// MinLevels and MaxLevels bound the configurable ladder size.
const (
	MinLevels = 2
	MaxLevels = 20
)

// Model maps price to a target position and enumerates the ladder of
// checkpoints between the configured bounds. Queries outside the bounds
// saturate rather than fail.
type Model interface {
	// Levels returns the ladder sorted ascending by price.
	Levels() []domain.PriceLevel
	// TargetPositionAt returns the position implied by a price.
	TargetPositionAt(price float64) int
	// CrossedLevel returns the level whose price lies between oldPrice and
	// newPrice, boundary inclusive, for either direction of movement.
	CrossedLevel(oldPrice, newPrice float64) (domain.PriceLevel, bool)
}

// Config bounds a model.
type Config struct {
	PriceMin    float64 // Lower bound of the operating range
	PriceMax    float64 // Upper bound of the operating range
	MaxPosition int     // Contracts held when price sits at the lower bound
	LevelCount  int     // Number of checkpoints to generate
}

func (c Config) validate() error {
	op := "levels.Config"
	if c.PriceMax <= c.PriceMin {
		return fmt.Errorf("%s: price range [%.2f, %.2f] is empty: %w", op, c.PriceMin, c.PriceMax, ports.ErrConfigurationError)
	}
	if c.MaxPosition < 0 {
		return fmt.Errorf("%s: max position %d is negative: %w", op, c.MaxPosition, ports.ErrConfigurationError)
	}
	if c.LevelCount < MinLevels || c.LevelCount > MaxLevels {
		return fmt.Errorf("%s: level count %d outside [%d, %d]: %w", op, c.LevelCount, MinLevels, MaxLevels, ports.ErrConfigurationError)
	}
	return nil
}

// ratiosFor selects the ratio set for n levels: the first n canonical ratios
// when they suffice, uniform spacing otherwise, always sorted ascending.
func ratiosFor(n int) []float64 {
	if n <= len(canonicalRatios) {
		out := make([]float64, n)
		copy(out, canonicalRatios[:n])
		sort.Float64s(out)
		return out
	}
	return uniformRatios(n)
}

// uniformRatios spreads n ratios evenly over [0,1].
func uniformRatios(n int) []float64 {
	out := make([]float64, n)
	step := 1.0 / float64(n-1)
	for i := range out {
		out[i] = float64(i) * step
	}
	out[n-1] = 1
	return out
}

// buildLevels derives the ladder from ascending ratios. Ratio measures the
// distance up from the bottom of the range, so the bottom checkpoint carries
// the full position and the top carries none.
func buildLevels(cfg Config, ratios []float64) []domain.PriceLevel {
	span := cfg.PriceMax - cfg.PriceMin
	out := make([]domain.PriceLevel, len(ratios))
	for i, r := range ratios {
		target := int(float64(cfg.MaxPosition) * (1 - r))
		if target < 0 {
			target = 0
		} else if target > cfg.MaxPosition {
			target = cfg.MaxPosition
		}
		out[i] = domain.PriceLevel{Ratio: r, Price: cfg.PriceMin + span*r, TargetPosition: target}
	}
	return out
}

// crossedLevel scans the ladder for the first level (ascending by price)
// whose price lies between the two observations, including the boundary the
// move just reached. Direction follows from the sign of newPrice-oldPrice
// alone.
func crossedLevel(lvls []domain.PriceLevel, oldPrice, newPrice float64) (domain.PriceLevel, bool) {
	for _, lvl := range lvls {
		if oldPrice > lvl.Price && lvl.Price >= newPrice {
			return lvl, true // fell through the level
		}
		if oldPrice < lvl.Price && lvl.Price <= newPrice {
			return lvl, true // rose through the level
		}
	}
	return domain.PriceLevel{}, false
}

// StepModel answers target queries stepwise from the discrete ladder seeded
// by the canonical ratio set. It is the default variant.
type StepModel struct {
	cfg    Config
	levels []domain.PriceLevel
}

// NewStepModel validates cfg and computes the ladder once. The ladder is
// immutable; configuration changes require a new model.
func NewStepModel(cfg Config) (*StepModel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &StepModel{cfg: cfg, levels: buildLevels(cfg, ratiosFor(cfg.LevelCount))}, nil
}

// Levels implements Model.
func (m *StepModel) Levels() []domain.PriceLevel { return m.levels }

// TargetPositionAt returns the target of the nearest level at or below
// price. Prices at or beyond the bounds saturate to the endpoint targets.
func (m *StepModel) TargetPositionAt(price float64) int {
	if price <= m.cfg.PriceMin {
		return m.cfg.MaxPosition
	}
	if price >= m.cfg.PriceMax {
		return 0
	}
	target := m.cfg.MaxPosition
	for _, lvl := range m.levels {
		if lvl.Price > price {
			break
		}
		target = lvl.TargetPosition
	}
	return target
}

// CrossedLevel implements Model.
func (m *StepModel) CrossedLevel(oldPrice, newPrice float64) (domain.PriceLevel, bool) {
	return crossedLevel(m.levels, oldPrice, newPrice)
}

// AdjacentBelow returns up to n levels strictly below price, nearest first.
func AdjacentBelow(m Model, price float64, n int) []domain.PriceLevel {
	lvls := m.Levels()
	out := make([]domain.PriceLevel, 0, n)
	for i := len(lvls) - 1; i >= 0 && len(out) < n; i-- {
		if lvls[i].Price < price {
			out = append(out, lvls[i])
		}
	}
	return out
}

// AdjacentAbove returns up to n levels strictly above price, nearest first.
func AdjacentAbove(m Model, price float64, n int) []domain.PriceLevel {
	lvls := m.Levels()
	out := make([]domain.PriceLevel, 0, n)
	for _, lvl := range lvls {
		if lvl.Price > price {
			out = append(out, lvl)
			if len(out) == n {
				break
			}
		}
	}
	return out
}
