package app

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"fibgrid/internal/domain"
	"fibgrid/internal/ledger"
	"fibgrid/internal/levels"
	"fibgrid/internal/ports"
	"fibgrid/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) hasWarn(msg string) bool {
	for _, got := range m.warnMsgs {
		if got == msg {
			return true
		}
	}
	return false
}

// mockNotifier is mutex-guarded so the Run test can poll it while the
// service goroutine appends.
type mockNotifier struct {
	mu     sync.Mutex
	events []ports.Event
}

func (m *mockNotifier) Notify(event ports.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockNotifier) all() []ports.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.Event(nil), m.events...)
}

func (m *mockNotifier) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

func (m *mockNotifier) countKind(kind ports.EventKind) int {
	n := 0
	for _, ev := range m.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (m *mockNotifier) firstKind(kind ports.EventKind) (ports.Event, bool) {
	for _, ev := range m.all() {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return ports.Event{}, false
}

// memStore is a minimal in-memory ports.LedgerStore.
type memStore struct {
	lots   []*domain.Lot
	trades []*domain.TradeRecord
	daily  *ports.DailyStats
	nextID int64
}

func (s *memStore) InsertLot(ctx context.Context, lot *domain.Lot) (int64, error) {
	s.nextID++
	cp := *lot
	cp.ID = s.nextID
	s.lots = append(s.lots, &cp)
	return cp.ID, nil
}

func (s *memStore) OpenLots(ctx context.Context, symbol string) ([]*domain.Lot, error) {
	var out []*domain.Lot
	for _, lot := range s.lots {
		if lot.Symbol == symbol && lot.Quantity > 0 {
			cp := *lot
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) AllLots(ctx context.Context, symbol string) ([]*domain.Lot, error) {
	return s.OpenLots(ctx, symbol)
}

func (s *memStore) CommitSell(ctx context.Context, symbol string, slices []domain.SellSlice, trade *domain.TradeRecord) (int64, error) {
	for _, sl := range slices {
		for _, lot := range s.lots {
			if lot.ID == sl.LotID {
				lot.Quantity -= sl.Quantity
			}
		}
	}
	return s.InsertTrade(ctx, trade)
}

func (s *memStore) InsertTrade(ctx context.Context, trade *domain.TradeRecord) (int64, error) {
	s.nextID++
	cp := *trade
	cp.ID = s.nextID
	s.trades = append(s.trades, &cp)
	return cp.ID, nil
}

func (s *memStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error) {
	return s.trades, nil
}

func (s *memStore) DailyStats(ctx context.Context, symbol string, t time.Time) (*ports.DailyStats, error) {
	if s.daily != nil {
		return s.daily, nil
	}
	return &ports.DailyStats{Day: t}, nil
}

func (s *memStore) Close() error { return nil }

type mockMarket struct {
	price float64
	err   error
}

func (m *mockMarket) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.price, nil
}

type mockPositions struct {
	snap *ports.PositionSnapshot
	err  error
}

func (m *mockPositions) CurrentPosition(ctx context.Context, symbol string) (*ports.PositionSnapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	cp := *m.snap
	return &cp, nil
}

type marketOrder struct {
	side       domain.OrderSide
	quantity   float64
	reduceOnly bool
}

// mockGateway records placements, cancels and market orders, and serves
// canned order states and open-order listings.
type mockGateway struct {
	placed      []ports.LimitOrder
	placeCalls  int
	placeErr    error
	canceled    []string
	cancelCalls int
	cancelErr   error
	states      map[string]domain.OrderState
	openIDs     []string
	openErr     error
	leverages   []int
	leverageErr error
	market      []marketOrder
	marketFill  float64
	marketErr   error
	nextID      int
}

func newMockGateway() *mockGateway {
	return &mockGateway{states: make(map[string]domain.OrderState)}
}

func (g *mockGateway) PlaceLimit(ctx context.Context, order ports.LimitOrder) (string, error) {
	g.placeCalls++
	if g.placeErr != nil {
		return "", g.placeErr
	}
	g.nextID++
	id := strconv.Itoa(g.nextID)
	g.placed = append(g.placed, order)
	g.states[id] = domain.OrderLive
	return id, nil
}

func (g *mockGateway) PlaceMarket(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (float64, error) {
	if g.marketErr != nil {
		return 0, g.marketErr
	}
	g.market = append(g.market, marketOrder{side: side, quantity: quantity, reduceOnly: reduceOnly})
	return g.marketFill, nil
}

func (g *mockGateway) Cancel(ctx context.Context, symbol, orderID string) error {
	g.cancelCalls++
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, orderID)
	g.states[orderID] = domain.OrderCanceled
	return nil
}

func (g *mockGateway) OrderState(ctx context.Context, symbol, orderID string) (domain.OrderState, error) {
	state, ok := g.states[orderID]
	if !ok {
		return domain.OrderUnknown, nil
	}
	return state, nil
}

func (g *mockGateway) OpenOrders(ctx context.Context, symbol string) ([]string, error) {
	if g.openErr != nil {
		return nil, g.openErr
	}
	return append([]string(nil), g.openIDs...), nil
}

func (g *mockGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if g.leverageErr != nil {
		return g.leverageErr
	}
	g.leverages = append(g.leverages, leverage)
	return nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	svc    *Service
	risk   *risk.Manager
	market *mockMarket
	pos    *mockPositions
	gw     *mockGateway
	store  *memStore
	sink   *mockNotifier
	log    *mockLogger
	clock  *fakeClock
}

func newEnv(t *testing.T, model levels.Model, riskCfg risk.Config, grid bool, capital float64) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	log := &mockLogger{}
	store := &memStore{}
	book, err := ledger.New(ledger.Config{Store: store, Logger: log, Symbol: "SOLUSDT"})
	require.NoError(t, err)
	market := &mockMarket{price: 130}
	pos := &mockPositions{snap: &ports.PositionSnapshot{Symbol: "SOLUSDT"}}
	gw := newMockGateway()
	sink := &mockNotifier{}
	rm := risk.NewManager(riskCfg)
	svc, err := New(Config{
		Symbol:      "SOLUSDT",
		Leverage:    5,
		GridEnabled: grid,
		Capital:     capital,
		Model:       model,
		Ledger:      book,
		Market:      market,
		Positions:   pos,
		Gateway:     gw,
		Notifier:    sink,
		Risk:        rm,
		Logger:      log,
		Rand:        rand.New(rand.NewSource(7)),
		Now:         clock.now,
	})
	require.NoError(t, err)
	return &testEnv{svc: svc, risk: rm, market: market, pos: pos, gw: gw, store: store, sink: sink, log: log, clock: clock}
}

func stepModel(t *testing.T) levels.Model {
	t.Helper()
	model, err := levels.NewStepModel(levels.Config{PriceMin: 100, PriceMax: 160, MaxPosition: 40, LevelCount: 15})
	require.NoError(t, err)
	return model
}

func stepEnv(t *testing.T) *testEnv {
	t.Helper()
	return newEnv(t, stepModel(t), risk.Config{}, false, 0)
}

func zoneModel(t *testing.T) *levels.ZoneModel {
	t.Helper()
	model, err := levels.NewZoneModel(
		levels.Config{PriceMin: 100, PriceMax: 160, MaxPosition: 40, LevelCount: 15},
		levels.ZoneConfig{
			Boundary:         130,
			HighRangeMin:     130,
			HighRangeMax:     160,
			HighProfitMin:    2.0,
			HighProfitMax:    3.0,
			LowRangeMin:      100,
			LowRangeMax:      130,
			LowProfitMin:     3.0,
			LowProfitMax:     4.0,
			HighCapitalRatio: 1.1,
			LowCapitalRatio:  1.8,
			DropNormal:       2,
			DropLarge:        5,
			HighNormalQty:    1,
			HighLargeQty:     2,
			LowNormalQty:     2,
			LowLargeQty:      3,
		},
	)
	require.NoError(t, err)
	return model
}

func zoneEnv(t *testing.T, grid bool, capital float64) *testEnv {
	t.Helper()
	return newEnv(t, zoneModel(t), risk.Config{}, grid, capital)
}

// mustStart runs startup and drops its notifications so cycle assertions
// start from a clean sink.
func mustStart(t *testing.T, env *testEnv) {
	t.Helper()
	require.NoError(t, env.svc.startup(context.Background()))
	env.sink.reset()
}

func TestNewValidation(t *testing.T) {
	model := stepModel(t)
	log := &mockLogger{}
	book, err := ledger.New(ledger.Config{Store: &memStore{}, Logger: log, Symbol: "SOLUSDT"})
	require.NoError(t, err)
	valid := Config{
		Symbol:    "SOLUSDT",
		Model:     model,
		Ledger:    book,
		Market:    &mockMarket{},
		Positions: &mockPositions{},
		Gateway:   newMockGateway(),
		Notifier:  &mockNotifier{},
		Risk:      risk.NewManager(risk.Config{}),
		Logger:    log,
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "missing symbol", mutate: func(c *Config) { c.Symbol = "" }},
		{name: "missing model", mutate: func(c *Config) { c.Model = nil }},
		{name: "missing ledger", mutate: func(c *Config) { c.Ledger = nil }},
		{name: "missing market", mutate: func(c *Config) { c.Market = nil }},
		{name: "missing positions", mutate: func(c *Config) { c.Positions = nil }},
		{name: "missing gateway", mutate: func(c *Config) { c.Gateway = nil }},
		{name: "missing notifier", mutate: func(c *Config) { c.Notifier = nil }},
		{name: "missing risk", mutate: func(c *Config) { c.Risk = nil }},
		{name: "missing logger", mutate: func(c *Config) { c.Logger = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}

	svc, err := New(valid)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, svc.cfg.CheckInterval)
	assert.Equal(t, 100.0, svc.priceMin)
	assert.Equal(t, 160.0, svc.priceMax)
}

func TestStartupReconciliation(t *testing.T) {
	ctx := context.Background()
	env := stepEnv(t)
	env.pos.snap = &ports.PositionSnapshot{Symbol: "SOLUSDT", Quantity: 5, AvgPrice: 118}
	env.gw.openIDs = []string{"11", "12"}

	require.NoError(t, env.svc.startup(ctx))

	assert.Equal(t, []int{5}, env.gw.leverages)

	// The exchange position the ledger did not know about becomes a
	// manual lot at the exchange's average entry.
	require.Len(t, env.store.lots, 1)
	assert.True(t, env.store.lots[0].Manual)
	assert.Equal(t, 118.0, env.store.lots[0].EntryPrice)
	assert.Equal(t, 5.0, env.store.lots[0].Quantity)

	assert.Equal(t, []string{"11", "12"}, env.gw.canceled)

	events := env.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, ports.EventBotStatus, events[0].Kind)
	assert.Equal(t, "started", events[0].Reason)

	assert.Equal(t, 130.0, env.svc.State().LastPrice)
	assert.Equal(t, 130.0, env.svc.State().LastBuyPrice)
}

func TestStartupLeverageFailureIsNotFatal(t *testing.T) {
	env := stepEnv(t)
	env.gw.leverageErr = assert.AnError

	require.NoError(t, env.svc.startup(context.Background()))
	assert.True(t, env.log.hasWarn("Failed to set leverage, continuing with current account leverage"))
}

func TestStartupPositionQueryErrorIsFatal(t *testing.T) {
	env := stepEnv(t)
	env.pos.err = assert.AnError

	assert.Error(t, env.svc.startup(context.Background()))
}

func TestStartupOpenOrdersErrorIsFatal(t *testing.T) {
	env := stepEnv(t)
	env.gw.openErr = assert.AnError

	assert.Error(t, env.svc.startup(context.Background()))
}

func TestStartupSurvivesInitialPricePollFailure(t *testing.T) {
	env := stepEnv(t)
	env.market.err = assert.AnError

	require.NoError(t, env.svc.startup(context.Background()))
	assert.Equal(t, 0.0, env.svc.State().LastPrice)

	// The first successful cycle seeds the state instead.
	env.market.err = nil
	env.svc.cycle(context.Background())
	assert.Equal(t, 130.0, env.svc.State().LastPrice)
}

func TestCyclePricePollFailureSkipsEvaluation(t *testing.T) {
	ctx := context.Background()
	env := stepEnv(t)
	mustStart(t, env)

	env.market.err = assert.AnError
	env.svc.cycle(ctx)

	assert.Equal(t, 0, env.gw.placeCalls)
	assert.True(t, env.log.hasWarn("Price poll failed, skipping cycle"))
	assert.Equal(t, 130.0, env.svc.State().LastPrice)
}

func TestCycleResolvesFillsBeforeEvaluate(t *testing.T) {
	ctx := context.Background()
	env := stepEnv(t)
	mustStart(t, env)

	// Flat book at 130: only the two buy tiers are quoted.
	env.svc.cycle(ctx)
	require.Equal(t, 2, env.gw.placeCalls)

	live := env.svc.orders.LiveOrders()
	var buy1 domain.RestingOrder
	for _, ord := range live {
		if ord.Side == domain.Buy && ord.Tier == domain.Tier1 {
			buy1 = ord
		}
	}
	require.NotEmpty(t, buy1.OrderID)
	env.gw.states[buy1.OrderID] = domain.OrderFilled

	env.svc.cycle(ctx)

	// The fill landed in the ledger before resting orders were re-quoted,
	// and the tee fed the risk manager's daily counters.
	require.Len(t, env.store.lots, 1)
	assert.Equal(t, 22.0, env.store.lots[0].Quantity)
	fill, ok := env.sink.firstKind(ports.EventLevelFill)
	require.True(t, ok)
	assert.Equal(t, domain.Buy, fill.Side)
	assert.Equal(t, 22, fill.Target)
	assert.Equal(t, 1, env.risk.Stats().DailyTrades)
	assert.Equal(t, 0.0, env.risk.Stats().DailyPnL)
}

func TestCycleWarnsOnPositionDrift(t *testing.T) {
	ctx := context.Background()
	env := stepEnv(t)
	mustStart(t, env)

	env.store.lots = append(env.store.lots, &domain.Lot{ID: 99, Symbol: "SOLUSDT", EntryPrice: 120, Quantity: 5, OrigQty: 5})
	env.pos.snap.Quantity = 7

	env.svc.cycle(ctx)
	assert.True(t, env.log.hasWarn("Ledger and exchange position diverge"))
}

func TestSafetyPauseAndResumeEdges(t *testing.T) {
	ctx := context.Background()
	env := stepEnv(t)
	mustStart(t, env)

	env.svc.cycle(ctx)
	require.Equal(t, 2, env.gw.placeCalls)

	// Leaving the range pauses once: orders canceled, one notification.
	env.market.price = 99
	env.svc.cycle(ctx)
	assert.True(t, env.svc.State().Paused)
	assert.Equal(t, 2, env.gw.cancelCalls)
	assert.Equal(t, 1, env.sink.countKind(ports.EventSafetyPause))

	env.market.price = 98
	env.svc.cycle(ctx)
	assert.Equal(t, 1, env.sink.countKind(ports.EventSafetyPause))
	assert.Equal(t, 2, env.gw.placeCalls)

	// Coming back resumes once and trading restarts.
	env.market.price = 101
	env.svc.cycle(ctx)
	assert.False(t, env.svc.State().Paused)
	assert.Equal(t, 1, env.sink.countKind(ports.EventSafetyResume))
	assert.Equal(t, 3, env.gw.placeCalls)
}

func TestRiskPauseAndDailyRollover(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, stepModel(t), risk.Config{MaxDailyLoss: 50}, false, 0)
	mustStart(t, env)

	env.risk.RecordFill(env.clock.t, -60)

	env.svc.cycle(ctx)
	assert.True(t, env.svc.State().RiskPaused)
	assert.Equal(t, 0, env.gw.placeCalls)
	pause, ok := env.sink.firstKind(ports.EventSafetyPause)
	require.True(t, ok)
	assert.Contains(t, pause.Reason, "risk limit:")

	env.svc.cycle(ctx)
	assert.Equal(t, 1, env.sink.countKind(ports.EventSafetyPause))

	// The UTC rollover clears the limits, emits the previous day's
	// summary and resumes trading.
	env.store.daily = &ports.DailyStats{
		Day:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Trades:   3,
		Wins:     1,
		Losses:   2,
		TotalPnL: -60,
	}
	env.clock.advance(24 * time.Hour)
	env.svc.cycle(ctx)

	summary, ok := env.sink.firstKind(ports.EventDailySummary)
	require.True(t, ok)
	require.NotNil(t, summary.Summary)
	assert.Equal(t, -60.0, summary.Summary.TotalPnL)
	assert.False(t, env.svc.State().RiskPaused)
	assert.Equal(t, 1, env.sink.countKind(ports.EventSafetyResume))
	assert.Equal(t, 2, env.gw.placeCalls)
}

func TestCapWarningFiresOnce(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, stepModel(t), risk.Config{MaxPosition: 40}, false, 0)
	env.pos.snap = &ports.PositionSnapshot{Symbol: "SOLUSDT", Quantity: 40, AvgPrice: 120}
	mustStart(t, env)

	env.svc.cycle(ctx)
	assert.True(t, env.svc.State().CapWarned)
	assert.Equal(t, 1, env.sink.countKind(ports.EventPositionLimit))

	env.svc.cycle(ctx)
	assert.Equal(t, 1, env.sink.countKind(ports.EventPositionLimit))

	// Selling down re-arms the warning.
	env.store.lots[0].Quantity = 30
	env.pos.snap.Quantity = 30
	env.svc.cycle(ctx)
	assert.False(t, env.svc.State().CapWarned)
	assert.Equal(t, 1, env.sink.countKind(ports.EventPositionLimit))
}

func TestZoneChangeNotification(t *testing.T) {
	ctx := context.Background()
	env := zoneEnv(t, false, 0)
	env.market.price = 140
	mustStart(t, env)

	env.market.price = 125
	env.svc.cycle(ctx)

	change, ok := env.sink.firstKind(ports.EventZoneChange)
	require.True(t, ok)
	assert.Contains(t, change.Reason, "HIGH -> LOW")
	assert.Equal(t, domain.ZoneLow, env.svc.State().Zone)

	// Staying in the band is quiet.
	env.market.price = 124
	env.svc.cycle(ctx)
	assert.Equal(t, 1, env.sink.countKind(ports.EventZoneChange))
}

func TestGridBuysClassifiedDrop(t *testing.T) {
	ctx := context.Background()
	env := zoneEnv(t, true, 0)
	mustStart(t, env)
	require.Equal(t, 130.0, env.svc.State().LastBuyPrice)

	env.market.price = 127
	env.gw.marketFill = 127.05
	env.svc.cycle(ctx)

	// A 3.00 drop into the low band buys the configured two contracts.
	require.Len(t, env.gw.market, 1)
	assert.Equal(t, domain.Buy, env.gw.market[0].side)
	assert.Equal(t, 2.0, env.gw.market[0].quantity)
	assert.False(t, env.gw.market[0].reduceOnly)

	require.Len(t, env.store.lots, 1)
	assert.Equal(t, 127.05, env.store.lots[0].EntryPrice)
	assert.Equal(t, 2.0, env.store.lots[0].Quantity)
	assert.False(t, env.store.lots[0].Manual)

	open, ok := env.sink.firstKind(ports.EventGridOpen)
	require.True(t, ok)
	assert.Equal(t, 2.0, open.Quantity)
	assert.Equal(t, 2.0, open.Position)
	assert.Equal(t, 127.0, env.svc.State().LastBuyPrice)
	assert.Equal(t, 1, env.risk.Stats().DailyTrades)
}

func TestGridSmallDipDoesNotTrade(t *testing.T) {
	ctx := context.Background()
	env := zoneEnv(t, true, 0)
	mustStart(t, env)

	env.market.price = 129
	env.svc.cycle(ctx)
	assert.Empty(t, env.gw.market)
	assert.Equal(t, 130.0, env.svc.State().LastBuyPrice)
}

func TestGridTakesProfit(t *testing.T) {
	ctx := context.Background()
	env := zoneEnv(t, true, 0)
	env.pos.snap = &ports.PositionSnapshot{Symbol: "SOLUSDT", Quantity: 3, AvgPrice: 120}
	mustStart(t, env)
	require.Len(t, env.store.lots, 1)

	// Avg entry 120 carries a 3.33% target, so 130 is beyond take-profit.
	env.gw.marketFill = 129.9
	env.svc.cycle(ctx)

	require.Len(t, env.gw.market, 1)
	assert.Equal(t, domain.Sell, env.gw.market[0].side)
	assert.Equal(t, 3.0, env.gw.market[0].quantity)
	assert.True(t, env.gw.market[0].reduceOnly)

	assert.Equal(t, 0.0, env.store.lots[0].Quantity)
	require.Len(t, env.store.trades, 1)
	assert.Equal(t, domain.Sell, env.store.trades[0].Side)

	closed, ok := env.sink.firstKind(ports.EventGridClose)
	require.True(t, ok)
	assert.Equal(t, 3.0, closed.Quantity)
	assert.InDelta(t, (129.9-120)*3, closed.PnL, 1e-9)
	assert.InDelta(t, (129.9-120)*3, env.risk.Stats().DailyPnL, 1e-9)
}

func TestGridEntryRejectedByBudget(t *testing.T) {
	ctx := context.Background()
	env := zoneEnv(t, true, 100)
	env.market.price = 140
	mustStart(t, env)

	// One contract at 137 exceeds the high-band budget of 110.
	env.market.price = 137
	env.svc.cycle(ctx)

	assert.Empty(t, env.gw.market)
	assert.True(t, env.log.hasWarn("Grid entry rejected by capital budget"))
	assert.Equal(t, 137.0, env.svc.State().LastBuyPrice)
}

func TestGridEntryRejectedByPositionCap(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, zoneModel(t), risk.Config{MaxPosition: 1}, true, 0)
	mustStart(t, env)

	env.market.price = 127
	env.svc.cycle(ctx)

	assert.Empty(t, env.gw.market)
	assert.True(t, env.log.hasWarn("Grid entry rejected by position cap"))
	assert.Equal(t, 127.0, env.svc.State().LastBuyPrice)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	env := stepEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return env.sink.countKind(ports.EventBotStatus) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop on context cancel")
	}

	events := env.sink.all()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, ports.EventBotStatus, last.Kind)
	assert.Equal(t, "stopped", last.Reason)
}
