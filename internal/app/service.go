// Package app wires the price ladder, the resting-order manager, the grid
// overlay and the guard rails into the poll-driven strategy loop.
package app

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fibgrid/internal/domain"
	"fibgrid/internal/ledger"
	"fibgrid/internal/levels"
	"fibgrid/internal/metrics"
	"fibgrid/internal/orders"
	"fibgrid/internal/ports"
	"fibgrid/internal/risk"
)

const (
	defaultCheckInterval = 30 * time.Second

	// Ledger and exchange quantities are compared with this tolerance
	// before a divergence is reported.
	driftTolerance = 1e-9

	// Budget for exchange calls issued after the loop context is gone.
	shutdownTimeout = 15 * time.Second
)

// Config holds the dependencies and parameters for the strategy Service.
type Config struct {
	Symbol        string
	Leverage      int           // 0 leaves the account leverage untouched
	CheckInterval time.Duration // Defaults to 30s
	GridEnabled   bool          // Enables the two-zone market-order overlay
	Capital       float64       // Cash ceiling for grid entries; 0 disables the check

	Model     levels.Model
	Ledger    *ledger.Ledger
	Market    ports.MarketDataSource
	Positions ports.PositionSource
	Gateway   ports.OrderGateway
	Notifier  ports.NotificationSink
	Risk      *risk.Manager
	Logger    ports.Logger

	Rand *rand.Rand       // Optional; passed through to the order manager
	Now  func() time.Time // Optional; defaults to time.Now
}

// State is the loop's cycle-to-cycle memory.
type State struct {
	LastPrice    float64     // Last successfully polled price, 0 until the first poll
	LastBuyPrice float64     // Reference price grid drops are measured from
	Zone         domain.Zone // Band the last polled price fell into
	Paused       bool        // Price left the safe range
	RiskPaused   bool        // A daily risk limit tripped
	CapWarned    bool        // Position-cap notification already sent
}

// Service drives one instrument: poll price and position, resolve fills,
// run the guard rails, execute grid trades and reconcile resting orders.
// It is not safe for concurrent use; Run owns all state.
type Service struct {
	cfg       Config
	logger    ports.Logger
	market    ports.MarketDataSource
	positions ports.PositionSource
	gateway   ports.OrderGateway
	notifier  ports.NotificationSink
	ledger    *ledger.Ledger
	model     levels.Model
	zone      *levels.ZoneModel // nil when the model has no zone semantics
	orders    *orders.Manager
	risk      *risk.Manager
	now       func() time.Time

	priceMin float64
	priceMax float64

	state State
}

// fillRecorder tees executed-trade events into the risk manager's daily
// counters before forwarding them to the real sink.
type fillRecorder struct {
	sink ports.NotificationSink
	risk *risk.Manager
	now  func() time.Time
}

func (r *fillRecorder) Notify(event ports.Event) {
	switch event.Kind {
	case ports.EventLevelFill, ports.EventGridOpen, ports.EventGridClose:
		r.risk.RecordFill(r.now(), event.PnL)
	}
	r.sink.Notify(event)
}

// New validates the configuration and assembles the service, including the
// resting-order manager. All notifications, the order manager's included,
// flow through a sink that feeds the risk manager's daily counters.
func New(cfg Config) (*Service, error) {
	op := "app.New"
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%s: symbol is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("%s: level model is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%s: ledger is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Market == nil {
		return nil, fmt.Errorf("%s: market data source is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Positions == nil {
		return nil, fmt.Errorf("%s: position source is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("%s: order gateway is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("%s: notifier is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Risk == nil {
		return nil, fmt.Errorf("%s: risk manager is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%s: logger is required: %w", op, ports.ErrConfigurationError)
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	lvls := cfg.Model.Levels()
	if len(lvls) == 0 {
		return nil, fmt.Errorf("%s: level model produced no levels: %w", op, ports.ErrConfigurationError)
	}

	teed := &fillRecorder{sink: cfg.Notifier, risk: cfg.Risk, now: now}

	mgr, err := orders.New(orders.Config{
		Model:    cfg.Model,
		Ledger:   cfg.Ledger,
		Gateway:  cfg.Gateway,
		Notifier: teed,
		Logger:   cfg.Logger,
		Symbol:   cfg.Symbol,
		Rand:     cfg.Rand,
		Now:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	zone, _ := cfg.Model.(*levels.ZoneModel)

	return &Service{
		cfg:       cfg,
		logger:    cfg.Logger,
		market:    cfg.Market,
		positions: cfg.Positions,
		gateway:   cfg.Gateway,
		notifier:  teed,
		ledger:    cfg.Ledger,
		model:     cfg.Model,
		zone:      zone,
		orders:    mgr,
		risk:      cfg.Risk,
		now:       now,
		priceMin:  lvls[0].Price,
		priceMax:  lvls[len(lvls)-1].Price,
	}, nil
}

// State returns a copy of the loop's current cycle-to-cycle memory.
func (s *Service) State() State { return s.state }

// Run executes the strategy loop until the context is canceled or a
// termination signal arrives. The first cycle runs immediately after
// startup; later cycles run on the configured interval. On shutdown all
// resting orders are canceled on a best-effort basis.
func (s *Service) Run(ctx context.Context) error {
	op := "app.Run"

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Termination signal received", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.startup(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info(ctx, "Strategy loop started", map[string]interface{}{
		"symbol":    s.cfg.Symbol,
		"interval":  s.cfg.CheckInterval.String(),
		"price_min": s.priceMin,
		"price_max": s.priceMax,
		"grid":      s.cfg.GridEnabled && s.zone != nil,
	})

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// startup reconciles persisted and exchange state before the first cycle.
func (s *Service) startup(ctx context.Context) error {
	op := "app.startup"

	// 1. Apply the configured leverage. Failure is not fatal: trading
	// continues with whatever leverage the account already has.
	if s.cfg.Leverage > 0 {
		if err := s.gateway.SetLeverage(ctx, s.cfg.Symbol, s.cfg.Leverage); err != nil {
			s.logger.Warn(ctx, "Failed to set leverage, continuing with current account leverage", map[string]interface{}{
				"symbol":   s.cfg.Symbol,
				"leverage": s.cfg.Leverage,
				"error":    err.Error(),
			})
		}
	}

	// 2. Reconcile the ledger with the exchange position. A position the
	// ledger does not know about becomes a manual lot at the exchange's
	// average entry price.
	snapshot, err := s.positions.CurrentPosition(ctx, s.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("%s: query exchange position: %w", op, err)
	}
	created, err := s.ledger.SyncInitialPosition(ctx, snapshot.Quantity, snapshot.AvgPrice)
	if err != nil {
		return fmt.Errorf("%s: sync ledger with exchange: %w", op, err)
	}
	if created {
		s.logger.Info(ctx, "Ledger seeded from exchange position", map[string]interface{}{
			"quantity":  snapshot.Quantity,
			"avg_price": snapshot.AvgPrice,
		})
	}

	// 3. Cancel stray open orders left over from a previous run. The order
	// manager starts with empty slots, so anything live on the exchange
	// would otherwise fill unnoticed.
	orderIDs, err := s.gateway.OpenOrders(ctx, s.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("%s: list open orders: %w", op, err)
	}
	for _, id := range orderIDs {
		if err := s.gateway.Cancel(ctx, s.cfg.Symbol, id); err != nil {
			s.logger.Warn(ctx, "Failed to cancel stray order", map[string]interface{}{
				"order_id": id,
				"error":    err.Error(),
			})
		}
	}
	if len(orderIDs) > 0 {
		s.logger.Info(ctx, "Canceled stray open orders", map[string]interface{}{"count": len(orderIDs)})
	}

	// 4. Seed cycle state from the current price when available.
	price, err := s.market.CurrentPrice(ctx, s.cfg.Symbol)
	if err != nil {
		s.logger.Warn(ctx, "Initial price poll failed, state seeds on the first cycle", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		s.state.LastPrice = price
		s.state.LastBuyPrice = price
		if s.zone != nil {
			s.state.Zone = s.zone.ZoneFor(price)
		}
		metrics.SetLastPrice(price)
	}

	s.notifier.Notify(ports.Event{
		Kind:   ports.EventBotStatus,
		Symbol: s.cfg.Symbol,
		Price:  s.state.LastPrice,
		Reason: "started",
	})
	return nil
}

// shutdown cancels resting orders and announces the stop. It runs after the
// loop context is canceled, so exchange calls get a fresh short-lived one.
func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info(ctx, "Strategy loop stopping", map[string]interface{}{"symbol": s.cfg.Symbol})
	s.orders.CancelAll(ctx)
	s.notifier.Notify(ports.Event{
		Kind:   ports.EventBotStatus,
		Symbol: s.cfg.Symbol,
		Price:  s.state.LastPrice,
		Reason: "stopped",
	})
}

// cycle runs one poll-evaluate pass. Failures are logged and skip the rest
// of the cycle; the loop itself never stops on them.
func (s *Service) cycle(ctx context.Context) {
	started := s.now()
	defer func() {
		metrics.IncCycles()
		metrics.ObserveCycleDuration(s.now().Sub(started).Seconds())
	}()

	price, err := s.market.CurrentPrice(ctx, s.cfg.Symbol)
	if err != nil {
		s.logger.Warn(ctx, "Price poll failed, skipping cycle", map[string]interface{}{"error": err.Error()})
		return
	}
	metrics.SetLastPrice(price)

	if prevDay, rolled := s.risk.RollDay(s.now()); rolled {
		s.emitDailySummary(ctx, prevDay)
	}

	snapshot, err := s.positions.CurrentPosition(ctx, s.cfg.Symbol)
	if err != nil {
		s.logger.Warn(ctx, "Position poll failed", map[string]interface{}{"error": err.Error()})
		snapshot = nil
	}

	// Resolve fills before anything else so the ledger position and the
	// slot replacement decisions both see their effects.
	s.orders.CheckFills(ctx)

	position, avgEntry, err := s.ledger.TotalPosition(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Ledger position query failed, skipping cycle")
		return
	}
	metrics.SetPositionContracts(position)
	metrics.SetRealizedPnL(s.risk.Stats().DailyPnL)

	if snapshot != nil && math.Abs(snapshot.Quantity-position) > driftTolerance {
		s.logger.Warn(ctx, "Ledger and exchange position diverge", map[string]interface{}{
			"ledger":   position,
			"exchange": snapshot.Quantity,
		})
	}

	s.observeCrossing(ctx, price)
	s.observeZone(ctx, price)

	if !s.safetyGate(ctx, price) {
		s.state.LastPrice = price
		return
	}
	if !s.riskGate(ctx, price) {
		s.state.LastPrice = price
		return
	}
	s.capWarning(ctx, price, position)

	if s.gridTrade(ctx, price, position, avgEntry) {
		// A market order moved the position; re-read before reconciling
		// resting orders against a stale quantity.
		position, _, err = s.ledger.TotalPosition(ctx)
		if err != nil {
			s.logger.Error(ctx, err, "Ledger position query failed after grid trade, skipping cycle")
			s.state.LastPrice = price
			return
		}
		metrics.SetPositionContracts(position)
	}

	s.orders.Evaluate(ctx, price, position)
	s.state.LastPrice = price
}

// emitDailySummary sends the previous day's results on the first cycle of a
// new UTC day.
func (s *Service) emitDailySummary(ctx context.Context, day time.Time) {
	stats, err := s.ledger.DailyStats(ctx, day)
	if err != nil {
		s.logger.Warn(ctx, "Failed to load daily stats", map[string]interface{}{
			"day":   day.Format("2006-01-02"),
			"error": err.Error(),
		})
		return
	}
	s.logger.Info(ctx, "Daily summary", map[string]interface{}{
		"day":    day.Format("2006-01-02"),
		"trades": stats.Trades,
		"pnl":    stats.TotalPnL,
	})
	s.notifier.Notify(ports.Event{
		Kind:    ports.EventDailySummary,
		Symbol:  s.cfg.Symbol,
		Summary: stats,
	})
}

// observeCrossing reports when the price moved across a ladder level since
// the previous cycle.
func (s *Service) observeCrossing(ctx context.Context, price float64) {
	if s.state.LastPrice <= 0 || price == s.state.LastPrice {
		return
	}
	lvl, ok := s.model.CrossedLevel(s.state.LastPrice, price)
	if !ok {
		return
	}
	direction := "up"
	if price < s.state.LastPrice {
		direction = "down"
	}
	metrics.IncLevelCrossings(direction)
	s.logger.Debug(ctx, "Price crossed a level", map[string]interface{}{
		"level_price": lvl.Price,
		"ratio":       lvl.Ratio,
		"target":      lvl.TargetPosition,
		"direction":   direction,
	})
}

// observeZone tracks which band the price sits in and notifies on moves
// between the high and the low band. Range exits are the safety gate's
// concern and are not reported here.
func (s *Service) observeZone(ctx context.Context, price float64) {
	if s.zone == nil {
		return
	}
	newZone := s.zone.ZoneFor(price)
	oldZone := s.state.Zone
	s.state.Zone = newZone
	if oldZone == "" || oldZone == newZone {
		return
	}
	if oldZone == domain.ZoneOut || newZone == domain.ZoneOut {
		return
	}
	s.logger.Info(ctx, "Price moved between zones", map[string]interface{}{
		"from":  string(oldZone),
		"to":    string(newZone),
		"price": price,
	})
	s.notifier.Notify(ports.Event{
		Kind:   ports.EventZoneChange,
		Symbol: s.cfg.Symbol,
		Price:  price,
		Reason: fmt.Sprintf("%s -> %s, profit target %.2f%%", oldZone, newZone, s.zone.ProfitTargetAt(price)),
	})
}

// safetyGate pauses trading while the price sits outside the ladder range.
// Both the pause and the resume fire once, on the edge. Returns false when
// the rest of the cycle should be skipped.
func (s *Service) safetyGate(ctx context.Context, price float64) bool {
	outside := price < s.priceMin || price > s.priceMax
	if outside {
		if !s.state.Paused {
			s.state.Paused = true
			s.logger.Warn(ctx, "Price left the safe range, pausing", map[string]interface{}{
				"price":     price,
				"price_min": s.priceMin,
				"price_max": s.priceMax,
			})
			s.orders.CancelAll(ctx)
			s.notifier.Notify(ports.Event{
				Kind:   ports.EventSafetyPause,
				Symbol: s.cfg.Symbol,
				Price:  price,
				Reason: fmt.Sprintf("price outside safe range %.2f-%.2f", s.priceMin, s.priceMax),
			})
		}
		return false
	}
	if s.state.Paused {
		s.state.Paused = false
		s.logger.Info(ctx, "Price returned to the safe range, resuming", map[string]interface{}{"price": price})
		s.notifier.Notify(ports.Event{
			Kind:   ports.EventSafetyResume,
			Symbol: s.cfg.Symbol,
			Price:  price,
			Reason: "price back inside the safe range",
		})
	}
	return true
}

// riskGate pauses trading while a daily limit is exceeded and resumes once
// the limits clear, typically at the UTC day rollover.
func (s *Service) riskGate(ctx context.Context, price float64) bool {
	if err := s.risk.CheckLimits(); err != nil {
		if !s.state.RiskPaused {
			s.state.RiskPaused = true
			s.logger.Warn(ctx, "Daily risk limit reached, pausing", map[string]interface{}{"reason": err.Error()})
			s.orders.CancelAll(ctx)
			s.notifier.Notify(ports.Event{
				Kind:   ports.EventSafetyPause,
				Symbol: s.cfg.Symbol,
				Price:  price,
				Reason: "risk limit: " + err.Error(),
			})
		}
		return false
	}
	if s.state.RiskPaused {
		s.state.RiskPaused = false
		s.logger.Info(ctx, "Daily risk limits cleared, resuming")
		s.notifier.Notify(ports.Event{
			Kind:   ports.EventSafetyResume,
			Symbol: s.cfg.Symbol,
			Price:  price,
			Reason: "daily risk limits cleared",
		})
	}
	return true
}

// capWarning notifies once when a single further contract would exceed the
// position cap, and re-arms after room returns.
func (s *Service) capWarning(ctx context.Context, price, position float64) {
	if err := s.risk.AllowEntry(position + 1); err != nil {
		if !s.state.CapWarned {
			s.state.CapWarned = true
			s.logger.Warn(ctx, "Position at configured cap", map[string]interface{}{"position": position})
			s.notifier.Notify(ports.Event{
				Kind:     ports.EventPositionLimit,
				Symbol:   s.cfg.Symbol,
				Price:    price,
				Position: position,
				Reason:   err.Error(),
			})
		}
		return
	}
	s.state.CapWarned = false
}

// gridTrade runs the two-zone market-order overlay: close the whole
// position at the band's profit target, or buy into a classified drop.
// A close and an open never share a cycle. Reports whether a market order
// executed.
func (s *Service) gridTrade(ctx context.Context, price, position, avgEntry float64) bool {
	if s.zone == nil || !s.cfg.GridEnabled {
		return false
	}

	if position > 0 && avgEntry > 0 {
		if tp := s.zone.TakeProfitPrice(avgEntry); tp > 0 && price >= tp {
			return s.closeGrid(ctx, price, position, avgEntry)
		}
	}

	reference := s.state.LastBuyPrice
	if reference <= 0 {
		// Nothing to measure a drop from yet.
		s.state.LastBuyPrice = price
		return false
	}
	class := s.zone.ClassifyDrop(reference, price)
	if class == domain.DropNone {
		return false
	}
	zone := s.zone.ZoneFor(price)
	qty := s.zone.GridBuyQuantity(zone, class)
	if qty <= 0 {
		return false
	}

	if err := s.risk.AllowEntry(position + float64(qty)); err != nil {
		s.logger.Warn(ctx, "Grid entry rejected by position cap", map[string]interface{}{
			"position": position,
			"quantity": qty,
			"reason":   err.Error(),
		})
		s.state.LastBuyPrice = price
		return false
	}
	if s.cfg.Capital > 0 {
		budget := s.zone.ContractBudget(price, s.cfg.Capital)
		if position*avgEntry+float64(qty)*price > budget {
			s.logger.Warn(ctx, "Grid entry rejected by capital budget", map[string]interface{}{
				"position":  position,
				"avg_entry": avgEntry,
				"quantity":  qty,
				"budget":    budget,
			})
			s.state.LastBuyPrice = price
			return false
		}
	}

	return s.openGrid(ctx, price, reference, zone, class, qty, position)
}

// closeGrid sells the whole position at market and records the exit.
func (s *Service) closeGrid(ctx context.Context, price, position, avgEntry float64) bool {
	fillPrice, err := s.gateway.PlaceMarket(ctx, s.cfg.Symbol, domain.Sell, position, true)
	if err != nil {
		s.logger.Error(ctx, err, "Grid take-profit order failed", map[string]interface{}{
			"quantity": position,
			"price":    price,
		})
		return false
	}
	if fillPrice <= 0 {
		fillPrice = price
	}
	result, err := s.ledger.SellFIFO(ctx, fillPrice, position, domain.TagGrid)
	if err != nil {
		// The order executed; the exchange position moved even though the
		// ledger could not be updated.
		s.logger.Error(ctx, err, "Failed to record grid take-profit in ledger", map[string]interface{}{
			"quantity":   position,
			"fill_price": fillPrice,
		})
		return true
	}
	s.logger.Info(ctx, "Grid take-profit executed", map[string]interface{}{
		"quantity":   result.Quantity,
		"fill_price": fillPrice,
		"avg_entry":  result.AvgEntryPrice,
		"pnl":        result.RealizedPnL,
	})
	s.notifier.Notify(ports.Event{
		Kind:     ports.EventGridClose,
		Symbol:   s.cfg.Symbol,
		Side:     domain.Sell,
		Price:    fillPrice,
		Quantity: result.Quantity,
		PnL:      result.RealizedPnL,
		Position: 0,
		Reason:   fmt.Sprintf("take profit from avg entry %.2f", avgEntry),
	})
	s.state.LastBuyPrice = price
	return true
}

// openGrid buys the sized drop entry at market and records the lot.
func (s *Service) openGrid(ctx context.Context, price, reference float64, zone domain.Zone, class domain.DropClass, qty int, position float64) bool {
	fillPrice, err := s.gateway.PlaceMarket(ctx, s.cfg.Symbol, domain.Buy, float64(qty), false)
	if err != nil {
		s.logger.Error(ctx, err, "Grid entry order failed", map[string]interface{}{
			"quantity": qty,
			"price":    price,
		})
		return false
	}
	if fillPrice <= 0 {
		fillPrice = price
	}
	note := fmt.Sprintf("%s drop of %.2f from %.2f in %s zone", class, reference-price, reference, zone)
	if _, err := s.ledger.RecordBuy(ctx, fillPrice, float64(qty), domain.TagGrid, note); err != nil {
		s.logger.Error(ctx, err, "Failed to record grid entry in ledger", map[string]interface{}{
			"quantity":   qty,
			"fill_price": fillPrice,
		})
		return true
	}
	s.logger.Info(ctx, "Grid entry executed", map[string]interface{}{
		"quantity":   qty,
		"fill_price": fillPrice,
		"zone":       string(zone),
		"class":      string(class),
	})
	s.notifier.Notify(ports.Event{
		Kind:     ports.EventGridOpen,
		Symbol:   s.cfg.Symbol,
		Side:     domain.Buy,
		Price:    fillPrice,
		Quantity: float64(qty),
		Position: position + float64(qty),
		Reason:   note,
	})
	s.state.LastBuyPrice = price
	return true
}
