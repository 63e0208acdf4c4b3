// Package orders maintains the four resting limit orders that pre-position
// liquidity at the next price levels in each direction. Fills feed the
// position ledger and the notification sink; replacement decisions are
// idempotent so an unchanged market costs no exchange calls.
package orders

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"fibgrid/internal/domain"
	"fibgrid/internal/ledger"
	"fibgrid/internal/levels"
	"fibgrid/internal/metrics"
	"fibgrid/internal/ports"

	"github.com/google/uuid"
)

const (
	// A slot is replaced only when its level moved by more than this
	// ratio tolerance or its quantity changed.
	ratioTolerance = 0.001
	qtyTolerance   = 1e-9

	// Tier-2 orders sit one unit further from price than tier-1.
	tierGap = 1.0
)

// Fractional offsets applied to quoted prices so orders do not cluster on
// the exact round level.
var offsets = [...]float64{0.2, 0.3, 0.6, 0.7}

// One slot per (side, tier) pair.
const (
	slotBuyTier1 = iota
	slotBuyTier2
	slotSellTier1
	slotSellTier2
	slotCount
)

func slotIndex(side domain.OrderSide, tier domain.OrderTier) int {
	idx := slotBuyTier1
	if side == domain.Sell {
		idx = slotSellTier1
	}
	if tier == domain.Tier2 {
		idx++
	}
	return idx
}

// Config holds the dependencies and parameters for a Manager.
type Config struct {
	Model    levels.Model
	Ledger   *ledger.Ledger
	Gateway  ports.OrderGateway
	Notifier ports.NotificationSink
	Logger   ports.Logger
	Symbol   string
	Rand     *rand.Rand       // Optional; defaults to a time-seeded source
	Now      func() time.Time // Optional; defaults to time.Now
}

// Manager owns the four resting-order slots (buy/sell x tier-1/tier-2).
// It is not safe for concurrent use: all methods must be called from the
// single evaluation loop, and CheckFills must run before Evaluate within a
// cycle so a tier-1 fill's cascade is visible to replacement decisions.
type Manager struct {
	model    levels.Model
	ledger   *ledger.Ledger
	gateway  ports.OrderGateway
	notifier ports.NotificationSink
	logger   ports.Logger
	symbol   string
	rng      *rand.Rand
	now      func() time.Time

	slots [slotCount]*domain.RestingOrder
}

// New creates a Manager with all four slots empty.
func New(cfg Config) (*Manager, error) {
	op := "orders.New"
	if cfg.Model == nil {
		return nil, fmt.Errorf("%s: model is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%s: ledger is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("%s: gateway is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("%s: notifier is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%s: logger is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%s: symbol is required: %w", op, ports.ErrConfigurationError)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		model:    cfg.Model,
		ledger:   cfg.Ledger,
		gateway:  cfg.Gateway,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		symbol:   cfg.Symbol,
		rng:      rng,
		now:      now,
	}, nil
}

// Evaluate reconciles the four slots against the current price and position.
// Outside the configured range all resting orders are canceled and nothing
// is placed. Placement failures leave the slot empty and are retried on the
// next cycle.
func (m *Manager) Evaluate(ctx context.Context, price, position float64) {
	lvls := m.model.Levels()
	if price < lvls[0].Price || price > lvls[len(lvls)-1].Price {
		if m.liveCount() > 0 {
			m.logger.Warn(ctx, "Price outside trading range, canceling resting orders", map[string]interface{}{
				"price":    price,
				"rangeMin": lvls[0].Price,
				"rangeMax": lvls[len(lvls)-1].Price,
			})
			m.CancelAll(ctx)
		}
		return
	}

	below := levels.AdjacentBelow(m.model, price, 2)
	above := levels.AdjacentAbove(m.model, price, 2)
	m.reconcileSide(ctx, domain.Buy, below, position)
	m.reconcileSide(ctx, domain.Sell, above, position)
}

func (m *Manager) reconcileSide(ctx context.Context, side domain.OrderSide, targets []domain.PriceLevel, position float64) {
	for _, tier := range [...]domain.OrderTier{domain.Tier1, domain.Tier2} {
		i := int(tier) - 1
		if i >= len(targets) {
			m.reconcileSlot(ctx, side, tier, domain.PriceLevel{}, 0)
			continue
		}
		m.reconcileSlot(ctx, side, tier, targets[i], desiredQty(side, targets[i], position))
	}
}

// desiredQty is the quantity that would move the position to the level's
// target if the order fills.
func desiredQty(side domain.OrderSide, lvl domain.PriceLevel, position float64) float64 {
	if side == domain.Buy {
		return math.Max(0, float64(lvl.TargetPosition)-position)
	}
	return math.Max(0, position-float64(lvl.TargetPosition))
}

func (m *Manager) reconcileSlot(ctx context.Context, side domain.OrderSide, tier domain.OrderTier, lvl domain.PriceLevel, qty float64) {
	idx := slotIndex(side, tier)
	cur := m.slots[idx]

	// A tier with no actionable quantity holds no order.
	if qty <= 0 {
		if cur != nil {
			m.cancelSlot(ctx, idx, "level no longer actionable")
		}
		return
	}

	if cur != nil {
		unchanged := math.Abs(cur.Level.Ratio-lvl.Ratio) <= ratioTolerance &&
			math.Abs(cur.Quantity-qty) <= qtyTolerance
		if unchanged {
			return
		}
		if err := m.cancelSlot(ctx, idx, "superseded"); err != nil {
			// Keep tracking the old order rather than risk a duplicate;
			// the cancel is retried next cycle.
			return
		}
	}

	m.placeSlot(ctx, side, tier, lvl, qty)
}

func (m *Manager) placeSlot(ctx context.Context, side domain.OrderSide, tier domain.OrderTier, lvl domain.PriceLevel, qty float64) {
	price := m.quotePrice(side, tier, lvl)
	clientID := uuid.NewString()
	orderID, err := m.gateway.PlaceLimit(ctx, ports.LimitOrder{
		Symbol:        m.symbol,
		Side:          side,
		Price:         price,
		Quantity:      qty,
		ReduceOnly:    side == domain.Sell,
		ClientOrderID: clientID,
	})
	if err != nil {
		m.logger.Error(ctx, err, "Failed to place resting order", map[string]interface{}{
			"side":     side,
			"tier":     int(tier),
			"price":    price,
			"quantity": qty,
		})
		return
	}

	m.slots[slotIndex(side, tier)] = &domain.RestingOrder{
		OrderID:       orderID,
		ClientOrderID: clientID,
		Symbol:        m.symbol,
		Side:          side,
		Tier:          tier,
		Price:         price,
		Quantity:      qty,
		Level:         lvl,
		State:         domain.OrderLive,
		CreatedAt:     m.now(),
	}
	metrics.IncOrdersPlaced(string(side))
	m.logger.Info(ctx, "Placed resting order", map[string]interface{}{
		"orderID":    orderID,
		"side":       side,
		"tier":       int(tier),
		"price":      price,
		"quantity":   qty,
		"levelPrice": lvl.Price,
		"target":     lvl.TargetPosition,
	})
}

// quotePrice shifts the level price by a random fractional offset so the
// order sits just past the level from the approaching side. Tier-2 sits a
// full unit further away to catch larger moves.
func (m *Manager) quotePrice(side domain.OrderSide, tier domain.OrderTier, lvl domain.PriceLevel) float64 {
	off := offsets[m.rng.Intn(len(offsets))]
	var price float64
	if side == domain.Buy {
		price = lvl.Price - 1 + off
		if tier == domain.Tier2 {
			price -= tierGap
		}
	} else {
		price = lvl.Price + off
		if tier == domain.Tier2 {
			price += tierGap
		}
	}
	return math.Round(price*100) / 100
}

// CheckFills queries the exchange state of every live slot and drives the
// ledger and notification side effects for fills. A status failure on one
// slot never blocks the others.
func (m *Manager) CheckFills(ctx context.Context) {
	for idx := 0; idx < slotCount; idx++ {
		ord := m.slots[idx]
		if ord == nil {
			continue
		}
		state, err := m.gateway.OrderState(ctx, m.symbol, ord.OrderID)
		if err != nil {
			m.logger.Error(ctx, err, "Order status check failed", map[string]interface{}{
				"orderID": ord.OrderID,
				"side":    ord.Side,
				"tier":    int(ord.Tier),
			})
			continue
		}
		switch state {
		case domain.OrderFilled:
			m.handleFill(ctx, idx)
		case domain.OrderCanceled:
			m.logger.Warn(ctx, "Resting order canceled externally", map[string]interface{}{
				"orderID": ord.OrderID,
				"side":    ord.Side,
				"tier":    int(ord.Tier),
			})
			m.slots[idx] = nil
		}
	}
}

func (m *Manager) handleFill(ctx context.Context, idx int) {
	ord := m.slots[idx]
	ord.State = domain.OrderFilled
	ord.FilledAt = m.now()
	metrics.IncOrdersFilled(string(ord.Side))

	var pnl float64
	if ord.Side == domain.Buy {
		note := fmt.Sprintf("tier-%d buy at level %.3f", ord.Tier, ord.Level.Ratio)
		if _, err := m.ledger.RecordBuy(ctx, ord.Price, ord.Quantity, domain.TagLevel, note); err != nil {
			m.logger.Error(ctx, err, "Failed to record buy fill", map[string]interface{}{
				"orderID": ord.OrderID, "price": ord.Price, "quantity": ord.Quantity,
			})
		}
	} else {
		res, err := m.ledger.SellFIFO(ctx, ord.Price, ord.Quantity, domain.TagLevel)
		if err != nil {
			m.logger.Error(ctx, err, "Failed to record sell fill", map[string]interface{}{
				"orderID": ord.OrderID, "price": ord.Price, "quantity": ord.Quantity,
			})
		} else {
			pnl = res.RealizedPnL
		}
	}

	m.logger.Info(ctx, "Resting order filled", map[string]interface{}{
		"orderID":  ord.OrderID,
		"side":     ord.Side,
		"tier":     int(ord.Tier),
		"price":    ord.Price,
		"quantity": ord.Quantity,
		"pnl":      pnl,
	})
	m.notifier.Notify(ports.Event{
		Kind:     ports.EventLevelFill,
		Symbol:   m.symbol,
		Side:     ord.Side,
		Price:    ord.Price,
		Quantity: ord.Quantity,
		PnL:      pnl,
		Target:   ord.Level.TargetPosition,
	})

	// A tier-1 fill moves the reference level, so both tiers on that side
	// are recomputed next cycle. A tier-2 fill leaves tier-1 resting to
	// catch the retrace.
	m.slots[idx] = nil
	if ord.Tier == domain.Tier1 {
		sibling := slotIndex(ord.Side, domain.Tier2)
		if m.slots[sibling] != nil {
			if err := m.gateway.Cancel(ctx, m.symbol, m.slots[sibling].OrderID); err != nil {
				m.logger.Error(ctx, err, "Failed to cancel sibling tier-2 order", map[string]interface{}{
					"orderID": m.slots[sibling].OrderID,
				})
			} else {
				metrics.IncOrdersCanceled(string(ord.Side))
			}
			m.slots[sibling] = nil
		}
	}
}

// CancelAll cancels every live resting order, best effort. Slots are
// cleared even when the exchange cancel fails so the next cycle starts
// from a clean state.
func (m *Manager) CancelAll(ctx context.Context) {
	for idx := range m.slots {
		ord := m.slots[idx]
		if ord == nil {
			continue
		}
		if err := m.gateway.Cancel(ctx, m.symbol, ord.OrderID); err != nil {
			m.logger.Error(ctx, err, "Failed to cancel resting order", map[string]interface{}{
				"orderID": ord.OrderID,
				"side":    ord.Side,
				"tier":    int(ord.Tier),
			})
		} else {
			metrics.IncOrdersCanceled(string(ord.Side))
		}
		ord.State = domain.OrderCanceled
		m.slots[idx] = nil
	}
}

// cancelSlot cancels one live order and frees its slot. On failure the
// slot keeps tracking the order.
func (m *Manager) cancelSlot(ctx context.Context, idx int, reason string) error {
	ord := m.slots[idx]
	if ord == nil {
		return nil
	}
	if err := m.gateway.Cancel(ctx, m.symbol, ord.OrderID); err != nil {
		m.logger.Error(ctx, err, "Failed to cancel resting order", map[string]interface{}{
			"orderID": ord.OrderID,
			"side":    ord.Side,
			"tier":    int(ord.Tier),
			"reason":  reason,
		})
		return err
	}
	ord.State = domain.OrderCanceled
	m.slots[idx] = nil
	metrics.IncOrdersCanceled(string(ord.Side))
	m.logger.Info(ctx, "Canceled resting order", map[string]interface{}{
		"orderID": ord.OrderID,
		"side":    ord.Side,
		"tier":    int(ord.Tier),
		"reason":  reason,
	})
	return nil
}

// LiveOrders returns a copy of every live resting order, buy slots first.
func (m *Manager) LiveOrders() []domain.RestingOrder {
	out := make([]domain.RestingOrder, 0, slotCount)
	for _, ord := range m.slots {
		if ord != nil {
			out = append(out, *ord)
		}
	}
	return out
}

func (m *Manager) liveCount() int {
	n := 0
	for _, ord := range m.slots {
		if ord != nil {
			n++
		}
	}
	return n
}
