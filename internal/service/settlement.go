package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/hedgerisk/internal/arbitrage"
	"github.com/alanyoungcy/hedgerisk/internal/domain"
	"github.com/alanyoungcy/hedgerisk/internal/metrics"
)

// ErrNoLegReconciled is returned by Reconcile when neither leg's history
// could be fetched. Nothing is written in that case.
var ErrNoLegReconciled = errors.New("service: no leg reconciled")

// SettlementConfig holds the tunables for SettlementReconciler.
type SettlementConfig struct {
	Workers int
}

// SettlementReconciler periodically rebuilds each ACTIVE position's funding
// income, fees and profit from exchange history.
type SettlementReconciler struct {
	positions domain.PositionStore
	history   domain.HistoryProvider
	rates     domain.FundingRateProvider
	archiver  domain.SettlementArchiver
	audit     domain.AuditStore
	metrics   *metrics.Metrics
	cfg       SettlementConfig
	logger    *slog.Logger

	now func() time.Time
}

// SettlementOption customises a SettlementReconciler.
type SettlementOption func(*SettlementReconciler)

// WithFundingRates enables storing the current combined spread per hour.
func WithFundingRates(p domain.FundingRateProvider) SettlementOption {
	return func(r *SettlementReconciler) { r.rates = p }
}

// WithArchiver keeps a cold copy of every reconciliation.
func WithArchiver(a domain.SettlementArchiver) SettlementOption {
	return func(r *SettlementReconciler) { r.archiver = a }
}

// WithSettlementAudit appends each reconciliation to the audit log.
func WithSettlementAudit(a domain.AuditStore) SettlementOption {
	return func(r *SettlementReconciler) { r.audit = a }
}

// WithSettlementMetrics records outcomes and net profit.
func WithSettlementMetrics(m *metrics.Metrics) SettlementOption {
	return func(r *SettlementReconciler) { r.metrics = m }
}

// NewSettlementReconciler creates a SettlementReconciler.
func NewSettlementReconciler(
	positions domain.PositionStore,
	history domain.HistoryProvider,
	cfg SettlementConfig,
	logger *slog.Logger,
	opts ...SettlementOption,
) *SettlementReconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	r := &SettlementReconciler{
		positions: positions,
		history:   history,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "settlement")),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Tick reconciles all ACTIVE positions once. Only a failure to list
// positions is returned.
func (r *SettlementReconciler) Tick(ctx context.Context) error {
	active, err := r.positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("settlement: list active positions: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for _, pos := range active {
		g.Go(func() error {
			if _, err := r.Reconcile(ctx, pos); err != nil {
				r.logger.WarnContext(ctx, "settlement: reconcile position failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
				r.metrics.PositionProcessed("settlement", "error")
				return nil
			}
			r.metrics.PositionProcessed("settlement", "ok")
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

type legOutcome struct {
	update *domain.FundingLegUpdate
	result domain.LegSettlement
	err    error
}

// Reconcile fetches both legs' history, recomputes profit and persists it.
// A leg whose fetch fails keeps its stored contribution; if both fail
// nothing is written and the error wraps ErrNoLegReconciled.
func (r *SettlementReconciler) Reconcile(ctx context.Context, pos domain.Position) (domain.SettlementRecord, error) {
	log := r.logger.With(slog.String("position_id", pos.ID), slog.String("symbol", pos.Symbol))

	var primary, hedge legOutcome
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); primary = r.reconcileLeg(ctx, pos, domain.LegPrimary) }()
	go func() { defer wg.Done(); hedge = r.reconcileLeg(ctx, pos, domain.LegHedge) }()
	wg.Wait()

	for _, o := range []struct {
		role domain.LegRole
		out  legOutcome
	}{{domain.LegPrimary, primary}, {domain.LegHedge, hedge}} {
		if o.out.err != nil {
			log.WarnContext(ctx, "settlement: leg history unavailable, keeping previous values",
				slog.String("leg", string(o.role)),
				slog.String("exchange", o.out.result.Exchange),
				slog.String("error", o.out.err.Error()),
			)
		}
	}
	if primary.err != nil && hedge.err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("settlement: position %s: %w: %w",
			pos.ID, ErrNoLegReconciled, errors.Join(primary.err, hedge.err))
	}

	primaryLeg := mergeLeg(pos.Primary, primary.update)
	hedgeLeg := mergeLeg(pos.Hedge, hedge.update)
	totals := ProfitTotals(primaryLeg, hedgeLeg)
	totals.ExpectedSpreadPerHour = r.expectedSpread(ctx, log, pos)

	now := r.now()
	if err := r.positions.UpdateFundingFields(ctx, pos.ID, domain.FundingUpdate{
		Primary:   primary.update,
		Hedge:     hedge.update,
		Totals:    totals,
		UpdatedAt: now,
	}); err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("settlement: persist position %s: %w", pos.ID, err)
	}
	r.metrics.SetNetProfit(pos.ID, totals.NetProfit)

	rec := domain.SettlementRecord{
		PositionID:            pos.ID,
		Symbol:                pos.Symbol,
		Primary:               withStored(primary.result, primaryLeg),
		Hedge:                 withStored(hedge.result, hedgeLeg),
		GrossProfit:           totals.GrossProfit,
		NetProfit:             totals.NetProfit,
		ExpectedSpreadPerHour: totals.ExpectedSpreadPerHour,
		ReconciledAt:          now,
	}
	log.InfoContext(ctx, "settlement: position reconciled",
		slog.Float64("gross_profit", rec.GrossProfit),
		slog.Float64("net_profit", rec.NetProfit),
	)
	r.record(ctx, log, rec)
	return rec, nil
}

func (r *SettlementReconciler) reconcileLeg(ctx context.Context, pos domain.Position, role domain.LegRole) legOutcome {
	leg := pos.Leg(role)
	out := legOutcome{result: domain.LegSettlement{Exchange: leg.Exchange}}

	funding, err := r.history.FundingHistory(ctx, leg.Exchange, pos.Symbol, pos.StartedAt)
	if err != nil {
		out.err = fmt.Errorf("%s funding history: %w", role, err)
		out.result.Err = out.err.Error()
		return out
	}
	fees, err := r.history.FeeHistory(ctx, leg.Exchange, pos.Symbol, pos.StartedAt)
	if err != nil {
		out.err = fmt.Errorf("%s fee history: %w", role, err)
		out.result.Err = out.err.Error()
		return out
	}

	upd := SummarizeLeg(funding, fees)
	out.update = &upd
	out.result.FundingEvents = len(funding)
	out.result.FeeEvents = len(fees)
	return out
}

// SummarizeLeg folds one leg's events into its funding fields: the sum of
// funding, the most recent funding amount and the sum of absolute fees.
func SummarizeLeg(funding, fees []domain.SettlementEvent) domain.FundingLegUpdate {
	total := decimal.Zero
	var last domain.SettlementEvent
	for i, ev := range funding {
		total = total.Add(decimal.NewFromFloat(ev.Amount))
		if i == 0 || !ev.At.Before(last.At) {
			last = ev
		}
	}

	feeSum := decimal.Zero
	for _, ev := range fees {
		feeSum = feeSum.Add(decimal.NewFromFloat(ev.Amount).Abs())
	}

	return domain.FundingLegUpdate{
		LastFundingPaid:    last.Amount,
		TotalFundingEarned: total.InexactFloat64(),
		TradingFees:        feeSum.InexactFloat64(),
	}
}

// ProfitTotals computes gross and net profit from the two legs' funding
// fields.
func ProfitTotals(primary, hedge domain.Leg) domain.ProfitTotals {
	gross := decimal.NewFromFloat(primary.TotalFundingEarned).Add(decimal.NewFromFloat(hedge.TotalFundingEarned))
	fees := decimal.NewFromFloat(primary.TradingFees).Add(decimal.NewFromFloat(hedge.TradingFees))
	return domain.ProfitTotals{
		GrossProfit: gross.InexactFloat64(),
		NetProfit:   gross.Sub(fees).InexactFloat64(),
	}
}

func mergeLeg(stored domain.Leg, upd *domain.FundingLegUpdate) domain.Leg {
	if upd != nil {
		stored.LastFundingPaid = upd.LastFundingPaid
		stored.TotalFundingEarned = upd.TotalFundingEarned
		stored.TradingFees = upd.TradingFees
	}
	return stored
}

func withStored(res domain.LegSettlement, leg domain.Leg) domain.LegSettlement {
	res.TotalFundingEarned = leg.TotalFundingEarned
	res.LastFundingPaid = leg.LastFundingPaid
	res.TradingFees = leg.TradingFees
	return res
}

// expectedSpread returns the current combined funding spread per hour, or
// nil when no rate provider is configured or either rate is unavailable.
func (r *SettlementReconciler) expectedSpread(ctx context.Context, log *slog.Logger, pos domain.Position) *float64 {
	if r.rates == nil {
		return nil
	}

	legs := make([]arbitrage.FundingLeg, 0, 2)
	for _, leg := range []domain.Leg{pos.Primary, pos.Hedge} {
		fr, err := r.rates.FundingRate(ctx, leg.Exchange, pos.Symbol)
		if err != nil {
			log.DebugContext(ctx, "settlement: funding rate unavailable",
				slog.String("exchange", leg.Exchange),
				slog.String("error", err.Error()),
			)
			return nil
		}
		legs = append(legs, arbitrage.FundingLeg{ExchangeID: fr.Exchange, Rate: fr.Rate, IntervalHours: fr.IntervalHours})
	}

	spread, err := arbitrage.CombinedSpread(legs[0], legs[1])
	if err != nil {
		log.ErrorContext(ctx, "settlement: invalid funding data from exchange", slog.String("error", err.Error()))
		return nil
	}
	return &spread.SpreadPerHour
}

func (r *SettlementReconciler) record(ctx context.Context, log *slog.Logger, rec domain.SettlementRecord) {
	if r.archiver != nil {
		if err := r.archiver.Archive(ctx, rec); err != nil {
			log.WarnContext(ctx, "settlement: archive failed", slog.String("error", err.Error()))
		}
	}
	if r.audit != nil {
		detail := map[string]any{
			"position_id":  rec.PositionID,
			"symbol":       rec.Symbol,
			"gross_profit": rec.GrossProfit,
			"net_profit":   rec.NetProfit,
		}
		if rec.Primary.Err != "" {
			detail["primary_error"] = rec.Primary.Err
		}
		if rec.Hedge.Err != "" {
			detail["hedge_error"] = rec.Hedge.Err
		}
		if err := r.audit.Log(ctx, "settlement.reconciled", detail); err != nil {
			log.WarnContext(ctx, "settlement: audit log failed", slog.String("error", err.Error()))
		}
	}
}
