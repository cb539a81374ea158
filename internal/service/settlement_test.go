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
	"github.com/alanyoungcy/hedgerisk/internal/store/memory"
)

type legHistory struct {
	funding []domain.SettlementEvent
	fees    []domain.SettlementEvent
	err     error
}

// fakeHistory serves history per exchange.
type fakeHistory map[string]legHistory

func (f fakeHistory) FundingHistory(_ context.Context, exchange, _ string, _ time.Time) ([]domain.SettlementEvent, error) {
	h := f[exchange]
	return h.funding, h.err
}

func (f fakeHistory) FeeHistory(_ context.Context, exchange, _ string, _ time.Time) ([]domain.SettlementEvent, error) {
	h := f[exchange]
	return h.fees, h.err
}

type fakeRates map[string]domain.FundingRate

func (f fakeRates) FundingRate(_ context.Context, exchange, _ string) (domain.FundingRate, error) {
	r, ok := f[exchange]
	if !ok {
		return domain.FundingRate{}, errors.New("no rate")
	}
	return r, nil
}

type recordingArchiver struct {
	mu   sync.Mutex
	recs []domain.SettlementRecord
}

func (r *recordingArchiver) Archive(_ context.Context, rec domain.SettlementRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

var t0 = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func funding(amounts ...float64) []domain.SettlementEvent {
	out := make([]domain.SettlementEvent, len(amounts))
	for i, a := range amounts {
		out[i] = domain.SettlementEvent{Kind: domain.SettlementFunding, Amount: a, At: t0.Add(time.Duration(i+1) * 8 * time.Hour)}
	}
	return out
}

func fees(amounts ...float64) []domain.SettlementEvent {
	out := make([]domain.SettlementEvent, len(amounts))
	for i, a := range amounts {
		out[i] = domain.SettlementEvent{Kind: domain.SettlementFee, Amount: a, At: t0}
	}
	return out
}

func TestSettlement_PartialFailureKeepsPreviousHedge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	pos := hedged("p1", "BTCUSDT", 100)
	pos.Hedge.TotalFundingEarned = 5
	pos.Hedge.LastFundingPaid = 2
	pos.Hedge.TradingFees = 1
	require.NoError(t, store.Create(ctx, pos))

	history := fakeHistory{
		"bybit":   {funding: funding(2, 3), fees: fees(-0.5)},
		"binance": {err: &domain.ExternalFetchError{Exchange: "binance", Op: "funding_history", Err: context.DeadlineExceeded}},
	}
	r := NewSettlementReconciler(store, history, SettlementConfig{}, discardLogger())

	require.NoError(t, r.Tick(ctx))

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Primary.TotalFundingEarned)
	assert.Equal(t, 3.0, got.Primary.LastFundingPaid)
	assert.Equal(t, 0.5, got.Primary.TradingFees)

	assert.Equal(t, 5.0, got.Hedge.TotalFundingEarned, "failed leg keeps its stored contribution")
	assert.Equal(t, 1.0, got.Hedge.TradingFees)

	assert.Equal(t, 10.0, got.GrossProfit)
	assert.Equal(t, 8.5, got.NetProfit)
	assert.Equal(t, 1, got.FundingUpdateCount)
	assert.NotNil(t, got.LastFundingUpdate)
}

func TestSettlement_BothLegsFailWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	pos := hedged("p1", "BTCUSDT", 100)
	pos.GrossProfit, pos.NetProfit = 4, 3
	require.NoError(t, store.Create(ctx, pos))

	boom := errors.New("exchange down")
	history := fakeHistory{"bybit": {err: boom}, "binance": {err: boom}}
	r := NewSettlementReconciler(store, history, SettlementConfig{}, discardLogger())

	_, err := r.Reconcile(ctx, pos)
	assert.ErrorIs(t, err, ErrNoLegReconciled)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, r.Tick(ctx), "per-position failures never fail the tick")

	got, _ := store.GetByID(ctx, "p1")
	assert.Zero(t, got.FundingUpdateCount)
	assert.Nil(t, got.LastFundingUpdate)
	assert.Equal(t, 3.0, got.NetProfit)
}

func TestSettlement_NetProfitInvariant(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	require.NoError(t, store.Create(ctx, hedged("p1", "BTCUSDT", 100)))

	history := fakeHistory{
		"bybit":   {funding: funding(0.1, 0.2, -0.05), fees: fees(-0.03, 0.01)},
		"binance": {funding: funding(0.07), fees: fees(-0.02)},
	}
	r := NewSettlementReconciler(store, history, SettlementConfig{}, discardLogger())

	rec, err := r.Reconcile(ctx, hedged("p1", "BTCUSDT", 100))
	require.NoError(t, err)

	got, _ := store.GetByID(ctx, "p1")
	assert.InDelta(t, got.GrossProfit-(got.Primary.TradingFees+got.Hedge.TradingFees), got.NetProfit, 1e-12)
	assert.InDelta(t, 0.32, got.GrossProfit, 1e-12)
	assert.InDelta(t, 0.26, got.NetProfit, 1e-12)
	assert.Equal(t, 3, rec.Primary.FundingEvents)
	assert.Equal(t, 1, rec.Hedge.FeeEvents)
}

func TestSettlement_ExpectedSpreadArchiveAndAudit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	require.NoError(t, store.Create(ctx, hedged("p1", "BTCUSDT", 100)))

	history := fakeHistory{
		"bybit":   {funding: funding(1)},
		"binance": {funding: funding(1)},
	}
	rates := fakeRates{
		"bybit":   {Exchange: "bybit", Rate: -0.008, IntervalHours: 1},
		"binance": {Exchange: "binance", Rate: -0.032, IntervalHours: 8},
	}
	archive := &recordingArchiver{}
	audit := memory.NewAuditStore()
	r := NewSettlementReconciler(store, history, SettlementConfig{}, discardLogger(),
		WithFundingRates(rates), WithArchiver(archive), WithSettlementAudit(audit))
	r.now = func() time.Time { return t0.Add(24 * time.Hour) }

	require.NoError(t, r.Tick(ctx))

	got, _ := store.GetByID(ctx, "p1")
	require.NotNil(t, got.ExpectedSpreadPerHour)
	assert.InDelta(t, 0.004, *got.ExpectedSpreadPerHour, 1e-12)

	require.Len(t, archive.recs, 1)
	assert.Equal(t, t0.Add(24*time.Hour), archive.recs[0].ReconciledAt)
	assert.Equal(t, 2.0, archive.recs[0].GrossProfit)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "settlement.reconciled", entries[0].Event)
	assert.Equal(t, "p1", entries[0].Detail["position_id"])
}

func TestSettlement_MissingRateLeavesSpreadUntouched(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	pos := hedged("p1", "BTCUSDT", 100)
	pos.ExpectedSpreadPerHour = fp(0.001)
	require.NoError(t, store.Create(ctx, pos))

	r := NewSettlementReconciler(store, fakeHistory{}, SettlementConfig{}, discardLogger(),
		WithFundingRates(fakeRates{"bybit": {Rate: 0.01, IntervalHours: 8}}))
	require.NoError(t, r.Tick(ctx))

	got, _ := store.GetByID(ctx, "p1")
	assert.Equal(t, 0.001, *got.ExpectedSpreadPerHour)
	assert.Equal(t, 1, got.FundingUpdateCount)
}

func TestSummarizeLeg(t *testing.T) {
	evs := []domain.SettlementEvent{
		{Amount: 0.5, At: t0.Add(16 * time.Hour)},
		{Amount: -0.2, At: t0.Add(24 * time.Hour)},
		{Amount: 0.3, At: t0.Add(8 * time.Hour)},
	}
	got := SummarizeLeg(evs, fees(-0.1, -0.2))
	assert.InDelta(t, 0.6, got.TotalFundingEarned, 1e-12)
	assert.Equal(t, -0.2, got.LastFundingPaid, "most recent by time, not by order")
	assert.InDelta(t, 0.3, got.TradingFees, 1e-12)

	empty := SummarizeLeg(nil, nil)
	assert.Equal(t, domain.FundingLegUpdate{}, empty)
}

func TestProfitTotals(t *testing.T) {
	totals := ProfitTotals(
		domain.Leg{TotalFundingEarned: 12.5, TradingFees: 1.25},
		domain.Leg{TotalFundingEarned: -2, TradingFees: 0.75},
	)
	assert.Equal(t, 10.5, totals.GrossProfit)
	assert.Equal(t, 8.5, totals.NetProfit)
	assert.Nil(t, totals.ExpectedSpreadPerHour)
}
