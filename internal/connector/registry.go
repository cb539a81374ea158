// Package connector routes exchange-agnostic calls to per-exchange adapters.
// Every call is rate limited per exchange, bounded by a timeout, and any
// failure is reported as a *domain.ExternalFetchError.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
	"github.com/alanyoungcy/hedgerisk/internal/metrics"
)

const defaultCallTimeout = 10 * time.Second

// HistorySource fetches realized funding and fee events for one exchange
// using credentials bound at construction.
type HistorySource interface {
	FundingHistory(ctx context.Context, symbol string, since time.Time) ([]domain.SettlementEvent, error)
	FeeHistory(ctx context.Context, symbol string, since time.Time) ([]domain.SettlementEvent, error)
}

// LiquidationSource returns a leg's liquidation price on one exchange.
type LiquidationSource interface {
	LiquidationPrice(ctx context.Context, in domain.LiquidationInput) (float64, error)
}

// RateSource returns the current funding rate on one exchange.
type RateSource interface {
	FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error)
}

// Exchange describes one exchange's adapters. Any source may be nil.
type Exchange struct {
	Name        string
	History     HistorySource
	Liquidation LiquidationSource
	Rates       RateSource
	// RPS and Burst configure the shared limiter for every call to this
	// exchange. RPS <= 0 disables limiting.
	RPS   float64
	Burst int
}

type entry struct {
	Exchange
	limiter *rate.Limiter
}

// Registry implements domain.HistoryProvider, domain.LiquidationPriceProvider
// and domain.FundingRateProvider by dispatching on the exchange name.
type Registry struct {
	mu        sync.RWMutex
	exchanges map[string]*entry
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry. callTimeout bounds every individual
// call; zero uses 10s.
func NewRegistry(callTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Registry {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Registry{
		exchanges: make(map[string]*entry),
		timeout:   callTimeout,
		metrics:   m,
		logger:    logger.With(slog.String("component", "connector")),
	}
}

// Add registers an exchange. Adding the same name twice replaces it.
func (r *Registry) Add(ex Exchange) error {
	name := normalize(ex.Name)
	if name == "" {
		return errors.New("connector: exchange name is required")
	}
	ex.Name = name

	lim := rate.NewLimiter(rate.Inf, 0)
	if ex.RPS > 0 {
		burst := ex.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(ex.RPS), burst)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges[name] = &entry{Exchange: ex, limiter: lim}
	return nil
}

// SetLiquidation overrides the liquidation source of an already registered
// exchange.
func (r *Registry) SetLiquidation(exchange string, src LiquidationSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exchanges[normalize(exchange)]
	if !ok {
		return fmt.Errorf("connector: %s: %w", exchange, domain.ErrUnknownExchange)
	}
	e.Liquidation = src
	return nil
}

// Names returns the registered exchange names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exchanges))
	for n := range r.exchanges {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(exchange string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exchanges[normalize(exchange)]
	return e, ok
}

// FundingHistory implements domain.HistoryProvider.
func (r *Registry) FundingHistory(ctx context.Context, exchange, symbol string, since time.Time) ([]domain.SettlementEvent, error) {
	var out []domain.SettlementEvent
	err := r.call(ctx, exchange, "funding_history", func(ctx context.Context, e *entry) error {
		if e.History == nil {
			return errNotSupported
		}
		var err error
		out, err = e.History.FundingHistory(ctx, symbol, since)
		return err
	})
	return out, err
}

// FeeHistory implements domain.HistoryProvider.
func (r *Registry) FeeHistory(ctx context.Context, exchange, symbol string, since time.Time) ([]domain.SettlementEvent, error) {
	var out []domain.SettlementEvent
	err := r.call(ctx, exchange, "fee_history", func(ctx context.Context, e *entry) error {
		if e.History == nil {
			return errNotSupported
		}
		var err error
		out, err = e.History.FeeHistory(ctx, symbol, since)
		return err
	})
	return out, err
}

// LiquidationPrice implements domain.LiquidationPriceProvider.
func (r *Registry) LiquidationPrice(ctx context.Context, exchange string, in domain.LiquidationInput) (float64, error) {
	var out float64
	err := r.call(ctx, exchange, "liquidation_price", func(ctx context.Context, e *entry) error {
		if e.Liquidation == nil {
			return errNotSupported
		}
		var err error
		out, err = e.Liquidation.LiquidationPrice(ctx, in)
		return err
	})
	return out, err
}

// FundingRate implements domain.FundingRateProvider.
func (r *Registry) FundingRate(ctx context.Context, exchange, symbol string) (domain.FundingRate, error) {
	var out domain.FundingRate
	err := r.call(ctx, exchange, "funding_rate", func(ctx context.Context, e *entry) error {
		if e.Rates == nil {
			return errNotSupported
		}
		var err error
		out, err = e.Rates.FundingRate(ctx, symbol)
		return err
	})
	return out, err
}

var errNotSupported = errors.New("operation not supported by adapter")

// call waits for the exchange's limiter and runs fn under the per-call
// timeout. The limiter wait counts against the same deadline.
func (r *Registry) call(ctx context.Context, exchange, op string, fn func(context.Context, *entry) error) error {
	e, ok := r.lookup(exchange)
	if !ok {
		return &domain.ExternalFetchError{Exchange: exchange, Op: op, Err: domain.ErrUnknownExchange}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := e.limiter.Wait(ctx)
	if err == nil {
		err = fn(ctx, e)
	}
	r.metrics.ObserveExchangeCall(e.Name, op, err, time.Since(start))

	if err != nil {
		r.logger.DebugContext(ctx, "connector: call failed",
			slog.String("exchange", e.Name),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return &domain.ExternalFetchError{Exchange: e.Name, Op: op, Err: err}
	}
	return nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

var (
	_ domain.HistoryProvider          = (*Registry)(nil)
	_ domain.LiquidationPriceProvider = (*Registry)(nil)
	_ domain.FundingRateProvider      = (*Registry)(nil)
)
