package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
	"github.com/alanyoungcy/hedgerisk/internal/metrics"
	"github.com/alanyoungcy/hedgerisk/internal/risk"
)

const riskMonitorLockKey = "risk_monitor:tick"

// RiskMonitorConfig holds the tunables for RiskMonitor.
type RiskMonitorConfig struct {
	Workers              int
	AutoClose            bool
	ClearAlertOnRecovery bool
	// LockTTL bounds how long one replica may hold the tick lock. Only used
	// when a LockManager is configured.
	LockTTL time.Duration
}

// RiskMonitor evaluates every ACTIVE position's distance to liquidation on
// each tick, persists the result and emits risk signals.
type RiskMonitor struct {
	positions   domain.PositionStore
	liquidation domain.LiquidationPriceProvider
	assessor    *risk.Assessor
	sink        domain.SignalSink
	locks       domain.LockManager
	metrics     *metrics.Metrics
	cfg         RiskMonitorConfig
	logger      *slog.Logger

	now   func() time.Time
	newID func() string
}

// RiskMonitorOption customises a RiskMonitor.
type RiskMonitorOption func(*RiskMonitor)

// WithTickLock makes each tick take a distributed lock first so that only
// one engine replica evaluates positions at a time.
func WithTickLock(locks domain.LockManager) RiskMonitorOption {
	return func(m *RiskMonitor) { m.locks = locks }
}

// WithRiskMetrics records per-position outcomes and leg proximity.
func WithRiskMetrics(mt *metrics.Metrics) RiskMonitorOption {
	return func(m *RiskMonitor) { m.metrics = mt }
}

// NewRiskMonitor creates a RiskMonitor.
func NewRiskMonitor(
	positions domain.PositionStore,
	liquidation domain.LiquidationPriceProvider,
	assessor *risk.Assessor,
	sink domain.SignalSink,
	cfg RiskMonitorConfig,
	logger *slog.Logger,
	opts ...RiskMonitorOption,
) *RiskMonitor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	m := &RiskMonitor{
		positions:   positions,
		liquidation: liquidation,
		assessor:    assessor,
		sink:        sink,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "risk_monitor")),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Tick evaluates all ACTIVE positions once. Only a failure to list positions
// is returned; per-position failures are logged and skipped.
func (m *RiskMonitor) Tick(ctx context.Context) error {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, riskMonitorLockKey, m.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			m.logger.DebugContext(ctx, "risk_monitor: tick lock held elsewhere, skipping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("risk_monitor: acquire tick lock: %w", err)
		}
		defer unlock()
	}

	active, err := m.positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("risk_monitor: list active positions: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for _, pos := range active {
		g.Go(func() error {
			m.process(ctx, pos)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (m *RiskMonitor) process(ctx context.Context, pos domain.Position) {
	log := m.logger.With(slog.String("position_id", pos.ID), slog.String("symbol", pos.Symbol))

	snap, err := m.Evaluate(ctx, pos)
	if err != nil {
		var missing *domain.MissingDataError
		if errors.As(err, &missing) {
			log.InfoContext(ctx, "risk_monitor: skipping position with missing data",
				slog.String("leg", string(missing.Leg)),
				slog.String("field", missing.Field),
			)
			m.metrics.PositionProcessed("risk_monitor", "skipped")
			return
		}
		log.WarnContext(ctx, "risk_monitor: evaluate position failed", slog.String("error", err.Error()))
		m.metrics.PositionProcessed("risk_monitor", "error")
		return
	}

	// The danger alert fires once per episode: the latch is set in the same
	// write that records the danger.
	alertEdge := snap.InDanger && !pos.LiquidationAlertSent
	var alertSent *bool
	switch {
	case alertEdge:
		alertSent = ptr(true)
	case !snap.InDanger && pos.LiquidationAlertSent && m.cfg.ClearAlertOnRecovery:
		alertSent = ptr(false)
	}

	upd := domain.RiskUpdate{
		Primary:   riskLegUpdate(snap.Primary),
		Hedge:     riskLegUpdate(snap.Hedge),
		CheckedAt: snap.CheckedAt,
		AlertSent: alertSent,
	}
	if err := m.positions.UpdateRiskFields(ctx, pos.ID, upd); err != nil {
		log.WarnContext(ctx, "risk_monitor: persist risk fields failed", slog.String("error", err.Error()))
		m.metrics.PositionProcessed("risk_monitor", "error")
		return
	}
	if alertSent != nil && !*alertSent {
		log.InfoContext(ctx, "risk_monitor: position recovered, alert latch cleared")
	}

	m.metrics.SetLegProximity(pos.ID, string(domain.LegPrimary), snap.Primary.ProximityRatio)
	m.metrics.SetLegProximity(pos.ID, string(domain.LegHedge), snap.Hedge.ProximityRatio)

	for _, kind := range m.signalKinds(snap, alertEdge) {
		m.emit(ctx, log, kind, snap)
	}
	m.metrics.PositionProcessed("risk_monitor", "ok")
}

// signalKinds lists what to emit for one evaluation, most urgent first.
func (m *RiskMonitor) signalKinds(snap domain.RiskSnapshot, alertEdge bool) []domain.SignalKind {
	var kinds []domain.SignalKind
	if snap.Critical && m.cfg.AutoClose {
		kinds = append(kinds, domain.SignalAutoCloseTriggered)
	}
	if snap.Critical {
		kinds = append(kinds, domain.SignalPositionCritical)
	}
	if alertEdge {
		kinds = append(kinds, domain.SignalPositionInDanger)
	}
	return append(kinds, domain.SignalRiskUpdated)
}

func (m *RiskMonitor) emit(ctx context.Context, log *slog.Logger, kind domain.SignalKind, snap domain.RiskSnapshot) {
	sig := domain.RiskSignal{ID: m.newID(), Kind: kind, Snapshot: snap, CreatedAt: snap.CheckedAt}
	if kind != domain.SignalRiskUpdated {
		log.WarnContext(ctx, "risk_monitor: "+string(kind),
			slog.Float64("primary_proximity", snap.Primary.ProximityRatio),
			slog.Float64("hedge_proximity", snap.Hedge.ProximityRatio),
		)
	}
	if err := m.sink.Emit(ctx, sig); err != nil {
		log.WarnContext(ctx, "risk_monitor: emit signal failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Evaluate computes the risk snapshot for one position without persisting
// it. It returns a *domain.MissingDataError when a leg lacks entry or current
// price, and a *domain.ExternalFetchError when a liquidation lookup fails.
func (m *RiskMonitor) Evaluate(ctx context.Context, pos domain.Position) (domain.RiskSnapshot, error) {
	for _, role := range []domain.LegRole{domain.LegPrimary, domain.LegHedge} {
		leg := pos.Leg(role)
		switch {
		case leg.EntryPrice == nil:
			return domain.RiskSnapshot{}, &domain.MissingDataError{PositionID: pos.ID, Leg: role, Field: "entry_price"}
		case leg.CurrentPrice == nil:
			return domain.RiskSnapshot{}, &domain.MissingDataError{PositionID: pos.ID, Leg: role, Field: "current_price"}
		}
	}

	primary, err := m.assessLeg(ctx, pos, domain.LegPrimary)
	if err != nil {
		return domain.RiskSnapshot{}, err
	}
	hedge, err := m.assessLeg(ctx, pos, domain.LegHedge)
	if err != nil {
		return domain.RiskSnapshot{}, err
	}

	return domain.RiskSnapshot{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Primary:    primary,
		Hedge:      hedge,
		InDanger:   primary.InDanger || hedge.InDanger,
		Critical:   primary.Critical || hedge.Critical,
		CheckedAt:  m.now(),
	}, nil
}

func (m *RiskMonitor) assessLeg(ctx context.Context, pos domain.Position, role domain.LegRole) (domain.LegRisk, error) {
	leg := pos.Leg(role)

	liq, err := m.liquidation.LiquidationPrice(ctx, leg.Exchange, domain.LiquidationInput{
		Symbol:     pos.Symbol,
		EntryPrice: *leg.EntryPrice,
		Quantity:   leg.FilledQuantity,
		Leverage:   leg.Leverage,
		Side:       leg.Side,
	})
	if err != nil {
		var fe *domain.ExternalFetchError
		if !errors.As(err, &fe) {
			err = &domain.ExternalFetchError{Exchange: leg.Exchange, Op: "liquidation_price", Err: err}
		}
		return domain.LegRisk{}, fmt.Errorf("%s leg: %w", role, err)
	}

	a, err := m.assessor.Assess(risk.Input{
		Side:             leg.Side,
		EntryPrice:       leg.EntryPrice,
		CurrentPrice:     leg.CurrentPrice,
		LiquidationPrice: liq,
	})
	if err != nil {
		return domain.LegRisk{}, err
	}

	return domain.LegRisk{
		Exchange:         leg.Exchange,
		Side:             leg.Side,
		EntryPrice:       *leg.EntryPrice,
		CurrentPrice:     *leg.CurrentPrice,
		LiquidationPrice: a.LiquidationPrice,
		ProximityRatio:   a.Proximity,
		InDanger:         a.InDanger,
		Critical:         a.Critical,
	}, nil
}

func riskLegUpdate(l domain.LegRisk) domain.RiskLegUpdate {
	return domain.RiskLegUpdate{
		LiquidationPrice: l.LiquidationPrice,
		ProximityRatio:   l.ProximityRatio,
		InDanger:         l.InDanger,
	}
}

func ptr[T any](v T) *T { return &v }
