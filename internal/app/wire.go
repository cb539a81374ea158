package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/alanyoungcy/hedgerisk/internal/blob/s3"
	natsbroker "github.com/alanyoungcy/hedgerisk/internal/broker/nats"
	"github.com/alanyoungcy/hedgerisk/internal/cache/redis"
	"github.com/alanyoungcy/hedgerisk/internal/config"
	"github.com/alanyoungcy/hedgerisk/internal/connector"
	"github.com/alanyoungcy/hedgerisk/internal/domain"
	"github.com/alanyoungcy/hedgerisk/internal/metrics"
	"github.com/alanyoungcy/hedgerisk/internal/notify"
	"github.com/alanyoungcy/hedgerisk/internal/platform/binance"
	"github.com/alanyoungcy/hedgerisk/internal/platform/bybit"
	"github.com/alanyoungcy/hedgerisk/internal/risk"
	"github.com/alanyoungcy/hedgerisk/internal/server/handler"
	"github.com/alanyoungcy/hedgerisk/internal/signal"
	"github.com/alanyoungcy/hedgerisk/internal/store/memory"
	"github.com/alanyoungcy/hedgerisk/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
// Optional integrations are nil when disabled.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Exchanges
	Exchanges *connector.Registry
	Assessor  *risk.Assessor

	// Redis
	LockManager domain.LockManager
	SignalBus   *redis.SignalBus
	RiskSink    *redis.RiskSink

	// Signal fan-out
	Signals  *signal.Bus
	Notifier *notify.Notifier

	// Blob storage
	Archiver domain.SettlementArchiver

	// Ops listener
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]handler.Check
}

// needsStore returns true for modes that read or write positions.
func needsStore(mode string) bool {
	switch mode {
	case "engine", "monitor", "settle":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{HealthChecks: make(map[string]handler.Check)}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics.RegisterRuntime(reg)
		deps.Metrics = metrics.New(reg)
		deps.Gatherer = reg
	}

	// --- Stores ---
	if needsStore(mode) {
		switch cfg.Store.Backend {
		case "memory":
			logger.WarnContext(ctx, "wire: using in-memory position store; state is lost on restart")
			deps.PositionStore = memory.NewPositionStore()
			deps.AuditStore = memory.NewAuditStore()
		default:
			pgClient, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Postgres.DSN,
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				MaxConns: cfg.Postgres.PoolMaxConns,
				MinConns: cfg.Postgres.PoolMinConns,
			})
			if err != nil {
				return fail(fmt.Errorf("wire: postgres: %w", err))
			}
			closers = append(closers, pgClient.Close)

			if cfg.Postgres.RunMigrations {
				if err := pgClient.RunMigrations(ctx); err != nil {
					return fail(fmt.Errorf("wire: postgres migrations: %w", err))
				}
			}

			pool := pgClient.Pool()
			deps.HealthChecks["postgres"] = pool.Ping
			deps.PositionStore = postgres.NewPositionStore(pool)
			deps.AuditStore = postgres.NewAuditStore(pool)
		}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis, "hedgerisk-"+mode)
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient, cfg.Redis.LockPrefix)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RiskSink = redis.NewRiskSink(deps.SignalBus, cfg.Redis.ChannelPrefix, cfg.Redis.Stream)

		stream := deps.RiskSink.Stream()
		if err := redisClient.CheckStream(ctx, stream); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.HealthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.CheckStream(ctx, stream)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			cfg.Notify.TelegramAPIBase,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.DedupTTL.Duration, logger)

	// Watch mode only tails the Redis stream; it needs nothing below.
	if !needsStore(mode) {
		return deps, cleanup, nil
	}

	// --- Exchanges ---
	exchanges, err := buildExchanges(cfg, deps.Metrics, logger)
	if err != nil {
		return fail(err)
	}
	deps.Exchanges = exchanges

	// [[contracts]] is read by the sizing tool; fail fast on a bad table.
	if _, err := connector.SpecsFromConfig(cfg.Contracts); err != nil {
		return fail(fmt.Errorf("wire: contracts: %w", err))
	}

	deps.Assessor, err = risk.NewAssessor(risk.Thresholds{
		Danger:   cfg.Risk.DangerThreshold,
		Critical: cfg.Risk.CriticalThreshold,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- S3 settlement archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			// The bucket may come up later; archiving failures are only logged.
			logger.WarnContext(ctx, "wire: s3 health check failed", slog.String("error", err.Error()))
		}
		deps.HealthChecks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewSettlementArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
	}

	// --- Signal fan-out ---
	deps.Signals = signal.NewBus(logger,
		signal.WithSinkTimeout(cfg.Connector.SinkTimeout.Duration),
		signal.WithMetrics(deps.Metrics),
	)
	if deps.RiskSink != nil {
		deps.Signals.Register("redis", deps.RiskSink)
	}
	if cfg.NATS.Enabled {
		pub, err := natsbroker.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, "hedgerisk-"+mode, cfg.NATS.Flush)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, func() { _ = pub.Close() })
		deps.Signals.Register("nats", pub)
	}
	if len(senders) > 0 {
		deps.Signals.Register("notify", deps.Notifier)
	}
	deps.Signals.Register("audit", signal.Filter(signal.NewAuditSink(deps.AuditStore),
		domain.SignalPositionInDanger,
		domain.SignalPositionCritical,
		domain.SignalAutoCloseTriggered,
	))

	return deps, cleanup, nil
}

// buildExchanges registers one connector per configured exchange. Binance and
// Bybit get their native adapters; any other name only gets the isolated
// margin estimator, so settlement and funding rates are unavailable for it.
func buildExchanges(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*connector.Registry, error) {
	callTimeout := cfg.Connector.CallTimeout.Duration
	reg := connector.NewRegistry(callTimeout, m, logger)

	for _, name := range cfg.ExchangeNames() {
		ex := cfg.Exchanges[name]
		entry := newExchange(name, ex, callTimeout)
		if entry.History == nil {
			logger.Warn("wire: no adapter for exchange; using liquidation estimate only",
				slog.String("exchange", name))
		}
		if err := reg.Add(entry); err != nil {
			return nil, fmt.Errorf("wire: exchange %s: %w", name, err)
		}
	}
	return reg, nil
}

func newExchange(name string, ex config.ExchangeConfig, httpTimeout time.Duration) connector.Exchange {
	out := connector.Exchange{Name: name, RPS: ex.RateLimit, Burst: ex.Burst}

	switch strings.ToLower(name) {
	case "binance":
		c := binance.New(binance.Config{
			APIKey:               ex.APIKey,
			APISecret:            ex.APISecret,
			BaseURL:              ex.BaseURL,
			FundingIntervalHours: ex.FundingIntervalHours,
			HTTPTimeout:          httpTimeout,
		})
		out.History, out.Liquidation, out.Rates = c, c, c
	case "bybit":
		c := bybit.New(bybit.Config{
			APIKey:               ex.APIKey,
			APISecret:            ex.APISecret,
			BaseURL:              ex.BaseURL,
			FundingIntervalHours: ex.FundingIntervalHours,
			HTTPTimeout:          httpTimeout,
		})
		out.History, out.Liquidation, out.Rates = c, c, c
	}

	if ex.Liquidation == config.LiquidationEstimate || out.Liquidation == nil {
		out.Liquidation = connector.IsolatedEstimator{MaintenanceRate: ex.MaintenanceRate}
	}
	return out
}
