package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
	"github.com/alanyoungcy/hedgerisk/internal/server"
	"github.com/alanyoungcy/hedgerisk/internal/service"
)

const (
	watchBatch = 100
	watchBlock = 5 * time.Second
)

// EngineMode runs the risk monitor and the settlement reconciler side by side
// against the same position store.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")
	return a.runSchedulers(ctx, deps, a.riskScheduler(deps), a.settlementScheduler(deps))
}

// MonitorMode runs only the liquidation risk monitor.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runSchedulers(ctx, deps, a.riskScheduler(deps))
}

// SettleMode runs only the settlement reconciler.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")
	return a.runSchedulers(ctx, deps, a.settlementScheduler(deps))
}

// WatchMode tails the durable Redis signal stream written by an engine
// elsewhere, logging each actionable signal and forwarding it to the
// notifier. It starts at the tail of the stream.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	if deps.SignalBus == nil || deps.RiskSink == nil {
		return errors.New("app: watch mode needs redis")
	}
	stream := deps.RiskSink.Stream()
	a.logger.InfoContext(ctx, "starting watch mode", slog.String("stream", stream))

	lastID := "$"
	for {
		msgs, err := deps.SignalBus.StreamReadBlock(ctx, stream, lastID, watchBatch, watchBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.WarnContext(ctx, "watch: stream read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			lastID = msg.ID
			a.handleStreamMessage(ctx, deps, msg)
		}
	}
}

func (a *App) handleStreamMessage(ctx context.Context, deps *Dependencies, msg domain.StreamMessage) {
	var sig domain.RiskSignal
	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		a.logger.WarnContext(ctx, "watch: undecodable signal",
			slog.String("stream_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	a.logger.InfoContext(ctx, "watch: signal",
		slog.String("kind", string(sig.Kind)),
		slog.String("position_id", sig.Snapshot.PositionID),
		slog.String("symbol", sig.Snapshot.Symbol),
		slog.Float64("max_proximity", sig.Snapshot.MaxProximity()),
	)
	if deps.Notifier != nil {
		if err := deps.Notifier.Emit(ctx, sig); err != nil {
			a.logger.WarnContext(ctx, "watch: notify failed",
				slog.String("position_id", sig.Snapshot.PositionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// runSchedulers runs every scheduler plus the ops listener until ctx is
// cancelled. Each scheduler waits for its in-flight tick before returning.
func (a *App) runSchedulers(ctx context.Context, deps *Dependencies, scheds ...*service.Scheduler) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, s := range scheds {
		g.Go(func() error {
			return s.Run(ctx)
		})
	}

	if a.cfg.Metrics.Enabled {
		srv := server.New(a.cfg.Metrics.Addr, deps.Gatherer, deps.HealthChecks, a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	return g.Wait()
}

func (a *App) riskScheduler(deps *Dependencies) *service.Scheduler {
	interval := a.cfg.Risk.Interval.Duration

	opts := []service.RiskMonitorOption{service.WithRiskMetrics(deps.Metrics)}
	if a.cfg.Risk.TickLock && deps.LockManager != nil {
		opts = append(opts, service.WithTickLock(deps.LockManager))
	}

	mon := service.NewRiskMonitor(
		deps.PositionStore,
		deps.Exchanges,
		deps.Assessor,
		deps.Signals,
		service.RiskMonitorConfig{
			Workers:              a.cfg.Risk.Workers,
			AutoClose:            a.cfg.Risk.AutoClose,
			ClearAlertOnRecovery: a.cfg.Risk.ClearAlertOnRecovery,
			LockTTL:              3 * interval,
		},
		a.logger,
		opts...,
	)

	return service.NewScheduler("risk_monitor", interval, mon.Tick, a.logger,
		service.WithImmediateTick(),
		service.WithSchedulerMetrics(deps.Metrics),
	)
}

func (a *App) settlementScheduler(deps *Dependencies) *service.Scheduler {
	opts := []service.SettlementOption{
		service.WithSettlementMetrics(deps.Metrics),
		service.WithSettlementAudit(deps.AuditStore),
	}
	if a.cfg.Settlement.ExpectedSpread {
		opts = append(opts, service.WithFundingRates(deps.Exchanges))
	}
	if deps.Archiver != nil {
		opts = append(opts, service.WithArchiver(deps.Archiver))
	}

	rec := service.NewSettlementReconciler(
		deps.PositionStore,
		deps.Exchanges,
		service.SettlementConfig{Workers: a.cfg.Settlement.Workers},
		a.logger,
		opts...,
	)

	return service.NewScheduler("settlement", a.cfg.Settlement.Interval.Duration, rec.Tick, a.logger,
		service.WithImmediateTick(),
		service.WithSchedulerMetrics(deps.Metrics),
	)
}
