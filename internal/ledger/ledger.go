package ledger

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fibgrid/internal/domain"
	"fibgrid/internal/ports"
)

// Ledger is the authoritative record of open lots and realized trades for
// one symbol. It owns all lot mutation: buys append lots, sells consume them
// oldest first, and every consumption commits atomically with its trade
// record through the store.
type Ledger struct {
	store  ports.LedgerStore
	logger ports.Logger
	symbol string
	now    func() time.Time
}

// Config wires a Ledger.
type Config struct {
	Store  ports.LedgerStore
	Logger ports.Logger
	Symbol string
	Now    func() time.Time // defaults to time.Now
}

// New validates the configuration and returns a Ledger.
func New(cfg Config) (*Ledger, error) {
	op := "ledger.New"
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: store is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%s: logger is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%s: symbol is required: %w", op, ports.ErrConfigurationError)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: cfg.Store, logger: cfg.Logger, symbol: cfg.Symbol, now: now}, nil
}

// AddLot appends a new acquisition batch and returns its assigned ID.
func (l *Ledger) AddLot(ctx context.Context, price, quantity float64, manual bool, note string) (int64, error) {
	op := "Ledger.AddLot"
	if price <= 0 {
		return 0, fmt.Errorf("%s: price %.4f must be positive: %w", op, price, ports.ErrInvalidInput)
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("%s: quantity %.4f must be positive: %w", op, quantity, ports.ErrInvalidInput)
	}
	lot := &domain.Lot{
		Symbol:     l.symbol,
		EntryPrice: price,
		Quantity:   quantity,
		OrigQty:    quantity,
		Manual:     manual,
		CreatedAt:  l.now(),
		Note:       note,
	}
	id, err := l.store.InsertLot(ctx, lot)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	l.logger.Debug(ctx, "Lot recorded", map[string]interface{}{
		"lotID":    id,
		"price":    price,
		"quantity": quantity,
		"manual":   manual,
	})
	return id, nil
}

// RecordBuy appends the lot for an executed buy and logs its trade record.
// Returns the new lot's ID.
func (l *Ledger) RecordBuy(ctx context.Context, price, quantity float64, tag domain.TradeTag, note string) (int64, error) {
	op := "Ledger.RecordBuy"
	lotID, err := l.AddLot(ctx, price, quantity, false, note)
	if err != nil {
		return 0, err
	}
	trade := &domain.TradeRecord{
		Symbol:    l.symbol,
		Side:      domain.Buy,
		Price:     price,
		Quantity:  quantity,
		LotRefs:   strconv.FormatInt(lotID, 10),
		Tag:       tag,
		CreatedAt: l.now(),
	}
	if _, err := l.store.InsertTrade(ctx, trade); err != nil {
		return 0, fmt.Errorf("%s: lot %d recorded but trade log failed: %w", op, lotID, err)
	}
	return lotID, nil
}

// TotalPosition sums the remaining quantity over all open lots and derives
// the weighted average entry price. A flat book yields (0, 0).
func (l *Ledger) TotalPosition(ctx context.Context) (float64, float64, error) {
	op := "Ledger.TotalPosition"
	lots, err := l.store.OpenLots(ctx, l.symbol)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	var qty, notional float64
	for _, lot := range lots {
		qty += lot.Quantity
		notional += lot.Quantity * lot.EntryPrice
	}
	if qty == 0 {
		return 0, 0, nil
	}
	return qty, notional / qty, nil
}

// SellFIFO consumes open lots oldest first until quantity is satisfied or
// the book runs out. A short or empty book is a normal partial outcome
// reported through the result, never an error. The lot updates and the
// trade record commit together or not at all.
func (l *Ledger) SellFIFO(ctx context.Context, exitPrice, quantity float64, tag domain.TradeTag) (*domain.SellResult, error) {
	op := "Ledger.SellFIFO"
	if exitPrice <= 0 {
		return nil, fmt.Errorf("%s: exit price %.4f must be positive: %w", op, exitPrice, ports.ErrInvalidInput)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%s: quantity %.4f must be positive: %w", op, quantity, ports.ErrInvalidInput)
	}

	lots, err := l.store.OpenLots(ctx, l.symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &domain.SellResult{}
	var entryNotional float64
	remaining := quantity
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		slice := lot.Quantity
		if slice > remaining {
			slice = remaining
		}
		pnl := (exitPrice - lot.EntryPrice) * slice
		res.Slices = append(res.Slices, domain.SellSlice{LotID: lot.ID, Quantity: slice, PnL: pnl})
		res.Quantity += slice
		res.RealizedPnL += pnl
		entryNotional += lot.EntryPrice * slice
		remaining -= slice
	}

	if res.Quantity == 0 {
		l.logger.Warn(ctx, "Sell requested with no open lots", map[string]interface{}{
			"exitPrice": exitPrice,
			"requested": quantity,
		})
		return res, nil
	}
	res.AvgEntryPrice = entryNotional / res.Quantity

	trade := &domain.TradeRecord{
		Symbol:    l.symbol,
		Side:      domain.Sell,
		Price:     exitPrice,
		Quantity:  res.Quantity,
		PnL:       res.RealizedPnL,
		PnLPct:    pnlPct(res.RealizedPnL, entryNotional),
		LotRefs:   lotRefs(res.Slices),
		Tag:       tag,
		CreatedAt: l.now(),
	}
	if _, err := l.store.CommitSell(ctx, l.symbol, res.Slices, trade); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if res.Quantity < quantity {
		l.logger.Warn(ctx, "Sell partially matched", map[string]interface{}{
			"requested": quantity,
			"sold":      res.Quantity,
		})
	}
	return res, nil
}

// SyncInitialPosition reconciles the book with an external snapshot exactly
// once: an already-populated book ignores the snapshot, an empty one gains a
// single manual lot mirroring it. Returns whether a lot was created.
func (l *Ledger) SyncInitialPosition(ctx context.Context, extQty, extAvgPrice float64) (bool, error) {
	op := "Ledger.SyncInitialPosition"
	qty, _, err := l.TotalPosition(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if qty > 0 {
		l.logger.Debug(ctx, "Ledger already holds open lots, exchange snapshot ignored", map[string]interface{}{
			"openQuantity": qty,
		})
		return false, nil
	}
	if extQty <= 0 {
		return false, nil
	}
	if _, err := l.AddLot(ctx, extAvgPrice, extQty, true, "startup sync from exchange"); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	l.logger.Info(ctx, "Ledger synced to exchange snapshot", map[string]interface{}{
		"quantity": extQty,
		"avgPrice": extAvgPrice,
	})
	return true, nil
}

// DailyStats reports realized results for the day containing t.
func (l *Ledger) DailyStats(ctx context.Context, t time.Time) (*ports.DailyStats, error) {
	op := "Ledger.DailyStats"
	stats, err := l.store.DailyStats(ctx, l.symbol, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return stats, nil
}

// pnlPct expresses realized profit as a percentage of entry notional,
// rounded to two decimals.
func pnlPct(pnl, entryNotional float64) float64 {
	if entryNotional == 0 {
		return 0
	}
	return math.Round(pnl/entryNotional*100*100) / 100
}

func lotRefs(slices []domain.SellSlice) string {
	refs := make([]string, len(slices))
	for i, s := range slices {
		refs[i] = strconv.FormatInt(s.LotID, 10)
	}
	return strings.Join(refs, ",")
}
