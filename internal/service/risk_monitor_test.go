package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
	"github.com/alanyoungcy/hedgerisk/internal/notify"
	"github.com/alanyoungcy/hedgerisk/internal/risk"
	"github.com/alanyoungcy/hedgerisk/internal/store/memory"
)

type recordingSink struct {
	mu   sync.Mutex
	sigs []domain.RiskSignal
}

func (r *recordingSink) Emit(_ context.Context, sig domain.RiskSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigs = append(r.sigs, sig)
	return nil
}

func (r *recordingSink) count(positionID string, kind domain.SignalKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sigs {
		if s.Kind == kind && s.Snapshot.PositionID == positionID {
			n++
		}
	}
	return n
}

// liqTable returns a fixed liquidation price per exchange and side.
type liqTable struct {
	prices map[string]float64
	errs   map[string]error
}

func (l liqTable) LiquidationPrice(_ context.Context, exchange string, in domain.LiquidationInput) (float64, error) {
	if err := l.errs[in.Symbol]; err != nil {
		return 0, err
	}
	return l.prices[exchange+"/"+string(in.Side)], nil
}

func standardLiq() liqTable {
	return liqTable{prices: map[string]float64{
		"bybit/long":    80,
		"binance/short": 120,
	}}
}

type heldLocks struct{ held bool }

func (h *heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if h.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func fp(v float64) *float64 { return &v }

// hedged builds a long-bybit / short-binance position with both legs priced
// at current.
func hedged(id, symbol string, current float64) domain.Position {
	return domain.Position{
		ID:        id,
		Symbol:    symbol,
		StartedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Primary:   domain.Leg{Exchange: "bybit", Side: domain.SideLong, EntryPrice: fp(100), CurrentPrice: fp(current), FilledQuantity: 1, Leverage: 5},
		Hedge:     domain.Leg{Exchange: "binance", Side: domain.SideShort, EntryPrice: fp(100), CurrentPrice: fp(current), FilledQuantity: 1, Leverage: 5},
	}
}

func newMonitor(t *testing.T, store domain.PositionStore, liq domain.LiquidationPriceProvider, sink domain.SignalSink, cfg RiskMonitorConfig, opts ...RiskMonitorOption) *RiskMonitor {
	t.Helper()
	assessor, err := risk.NewAssessor(risk.DefaultThresholds())
	require.NoError(t, err)
	return NewRiskMonitor(store, liq, assessor, sink, cfg, discardLogger(), opts...)
}

func TestRiskMonitor_DangerAlertsOncePerEpisode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	require.NoError(t, store.Create(ctx, hedged("p1", "ETHUSDT", 84)))
	sink := &recordingSink{}
	m := newMonitor(t, store, standardLiq(), sink, RiskMonitorConfig{})

	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.Tick(ctx))

	assert.Equal(t, 1, sink.count("p1", domain.SignalPositionInDanger))
	assert.Equal(t, 2, sink.count("p1", domain.SignalRiskUpdated))
	assert.Zero(t, sink.count("p1", domain.SignalPositionCritical))

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.LiquidationAlertSent)
	assert.True(t, got.Primary.InDanger)
	assert.InDelta(t, 0.8, *got.Primary.ProximityRatio, 1e-9)
	assert.Equal(t, 80.0, *got.Primary.LiquidationPrice)
	assert.False(t, got.Hedge.InDanger)
	assert.Equal(t, 0.0, *got.Hedge.ProximityRatio)
	require.NotNil(t, got.LastLiquidationCheck)
}

type countingSender struct {
	mu     sync.Mutex
	titles []string
}

func (c *countingSender) Send(_ context.Context, title, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	return nil
}

func (c *countingSender) Name() string { return "counting" }

func (c *countingSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.titles)
}

func TestRiskMonitor_RepeatDangerEpisodeReachesOperator(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	require.NoError(t, store.Create(ctx, hedged("p1", "ETHUSDT", 84)))

	sender := &countingSender{}
	notifier := notify.NewNotifier([]notify.Sender{sender}, []string{string(domain.SignalPositionInDanger)}, 15*time.Minute, discardLogger())
	sink := &recordingSink{}
	liq := standardLiq()
	m := newMonitor(t, store, liq, domain.SignalSinkFunc(func(ctx context.Context, sig domain.RiskSignal) error {
		_ = sink.Emit(ctx, sig)
		return notifier.Emit(ctx, sig)
	}), RiskMonitorConfig{ClearAlertOnRecovery: true})

	require.NoError(t, m.Tick(ctx)) // proximity 0.8: danger
	liq.prices["bybit/long"] = 50
	require.NoError(t, m.Tick(ctx)) // proximity 0.32: recovered
	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, got.LiquidationAlertSent)

	liq.prices["bybit/long"] = 80
	require.NoError(t, m.Tick(ctx)) // danger again

	assert.Equal(t, 2, sink.count("p1", domain.SignalPositionInDanger))
	assert.Equal(t, 2, sender.count(), "each danger episode alerts the operator")
}

func TestRiskMonitor_CriticalWithAutoClose(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	require.NoError(t, store.Create(ctx, hedged("p1", "ETHUSDT", 82)))
	sink := &recordingSink{}
	m := newMonitor(t, store, standardLiq(), sink, RiskMonitorConfig{AutoClose: true})

	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.Tick(ctx))

	assert.Equal(t, 2, sink.count("p1", domain.SignalAutoCloseTriggered))
	assert.Equal(t, 2, sink.count("p1", domain.SignalPositionCritical))
	assert.Equal(t, 1, sink.count("p1", domain.SignalPositionInDanger))

	got, _ := store.GetByID(ctx, "p1")
	assert.Equal(t, domain.PositionStatusActive, got.Status, "the monitor never closes positions itself")
}

func TestRiskMonitor_CriticalWithoutAutoClose(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	require.NoError(t, store.Create(ctx, hedged("p1", "ETHUSDT", 82)))
	sink := &recordingSink{}
	m := newMonitor(t, store, standardLiq(), sink, RiskMonitorConfig{AutoClose: false})

	require.NoError(t, m.Tick(ctx))
	assert.Equal(t, 1, sink.count("p1", domain.SignalPositionCritical))
	assert.Zero(t, sink.count("p1", domain.SignalAutoCloseTriggered))
}

func TestRiskMonitor_SkipsMissingDataWithoutFailingTick(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	unpriced := hedged("unpriced", "ETHUSDT", 84)
	unpriced.Hedge.CurrentPrice = nil
	require.NoError(t, store.Create(ctx, unpriced))
	require.NoError(t, store.Create(ctx, hedged("ok", "ETHUSDT", 95)))
	sink := &recordingSink{}
	m := newMonitor(t, store, standardLiq(), sink, RiskMonitorConfig{})

	require.NoError(t, m.Tick(ctx))

	skipped, _ := store.GetByID(ctx, "unpriced")
	assert.Nil(t, skipped.LastLiquidationCheck)
	assert.Zero(t, sink.count("unpriced", domain.SignalRiskUpdated))

	ok, _ := store.GetByID(ctx, "ok")
	assert.NotNil(t, ok.LastLiquidationCheck)
	assert.Equal(t, 1, sink.count("ok", domain.SignalRiskUpdated))
}

func TestRiskMonitor_EvaluateReportsMissingLeg(t *testing.T) {
	m := newMonitor(t, memory.NewPositionStore(), standardLiq(), &recordingSink{}, RiskMonitorConfig{})
	pos := hedged("p1", "ETHUSDT", 90)
	pos.Hedge.EntryPrice = nil

	_, err := m.Evaluate(context.Background(), pos)
	var missing *domain.MissingDataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, domain.LegHedge, missing.Leg)
	assert.Equal(t, "entry_price", missing.Field)
	assert.ErrorIs(t, err, domain.ErrMissingData)
}

func TestRiskMonitor_FetchFailureIsolatedPerPosition(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	require.NoError(t, store.Create(ctx, hedged("bad", "SOLUSDT", 84)))
	require.NoError(t, store.Create(ctx, hedged("good", "ETHUSDT", 84)))

	liq := standardLiq()
	liq.errs = map[string]error{"SOLUSDT": context.DeadlineExceeded}
	sink := &recordingSink{}
	m := newMonitor(t, store, liq, sink, RiskMonitorConfig{Workers: 1})

	require.NoError(t, m.Tick(ctx))

	bad, _ := store.GetByID(ctx, "bad")
	assert.Nil(t, bad.LastLiquidationCheck, "previous values left intact")
	assert.False(t, bad.LiquidationAlertSent)
	assert.Equal(t, 1, sink.count("good", domain.SignalPositionInDanger))

	_, err := m.Evaluate(ctx, hedged("bad", "SOLUSDT", 84))
	assert.ErrorIs(t, err, domain.ErrExternalFetch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRiskMonitor_ClearsLatchOnRecovery(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name      string
		clear     bool
		wantLatch bool
	}{
		{name: "clear enabled", clear: true, wantLatch: false},
		{name: "clear disabled", clear: false, wantLatch: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewPositionStore()
			pos := hedged("p1", "ETHUSDT", 99)
			pos.LiquidationAlertSent = true
			require.NoError(t, store.Create(ctx, pos))
			m := newMonitor(t, store, standardLiq(), &recordingSink{}, RiskMonitorConfig{ClearAlertOnRecovery: tc.clear})

			require.NoError(t, m.Tick(ctx))
			got, _ := store.GetByID(ctx, "p1")
			assert.Equal(t, tc.wantLatch, got.LiquidationAlertSent)
		})
	}
}

func TestRiskMonitor_LatchSetWhileStillInDangerSuppressesAlert(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	pos := hedged("p1", "ETHUSDT", 84)
	pos.LiquidationAlertSent = true
	require.NoError(t, store.Create(ctx, pos))
	sink := &recordingSink{}
	m := newMonitor(t, store, standardLiq(), sink, RiskMonitorConfig{ClearAlertOnRecovery: true})

	require.NoError(t, m.Tick(ctx))
	assert.Zero(t, sink.count("p1", domain.SignalPositionInDanger))
	got, _ := store.GetByID(ctx, "p1")
	assert.True(t, got.LiquidationAlertSent)
}

func TestRiskMonitor_TickLockHeldSkips(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	require.NoError(t, store.Create(ctx, hedged("p1", "ETHUSDT", 84)))
	sink := &recordingSink{}
	locks := &heldLocks{held: true}
	m := newMonitor(t, store, standardLiq(), sink, RiskMonitorConfig{}, WithTickLock(locks))

	require.NoError(t, m.Tick(ctx))
	assert.Zero(t, sink.count("p1", domain.SignalRiskUpdated))

	locks.held = false
	require.NoError(t, m.Tick(ctx))
	assert.Equal(t, 1, sink.count("p1", domain.SignalRiskUpdated))
}

type failingList struct{ domain.PositionStore }

func (failingList) ListActive(context.Context) ([]domain.Position, error) {
	return nil, errors.New("connection reset")
}

func TestRiskMonitor_ListFailureFailsTick(t *testing.T) {
	m := newMonitor(t, failingList{memory.NewPositionStore()}, standardLiq(), &recordingSink{}, RiskMonitorConfig{})
	err := m.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk_monitor: list active positions")
}

func TestRiskMonitor_ProcessesManyPositionsConcurrently(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		require.NoError(t, store.Create(ctx, hedged(id, "ETHUSDT", 84)))
	}
	sink := &recordingSink{}
	m := newMonitor(t, store, standardLiq(), sink, RiskMonitorConfig{Workers: 3})

	require.NoError(t, m.Tick(ctx))
	for _, id := range ids {
		assert.Equal(t, 1, sink.count(id, domain.SignalPositionInDanger), id)
	}
}
