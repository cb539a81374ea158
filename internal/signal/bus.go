// Package signal fans risk signals out to every registered sink.
package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
	"github.com/alanyoungcy/hedgerisk/internal/metrics"
)

const defaultSinkTimeout = 5 * time.Second

type namedSink struct {
	name string
	sink domain.SignalSink
}

// Bus is a domain.SignalSink that delivers each signal to all registered
// sinks concurrently. A failing or slow sink never prevents delivery to the
// others; each delivery is bounded by the per-sink timeout.
type Bus struct {
	mu      sync.RWMutex
	sinks   []namedSink
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option customises a Bus.
type Option func(*Bus)

// WithSinkTimeout bounds every individual delivery.
func WithSinkTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithMetrics records emitted signals and sink failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// NewBus creates a Bus with no sinks.
func NewBus(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		timeout: defaultSinkTimeout,
		logger:  logger.With(slog.String("component", "signal_bus")),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register adds a sink under name. Names are used for logs and metrics.
func (b *Bus) Register(name string, sink domain.SignalSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: sink})
}

// Len returns the number of registered sinks.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// Emit delivers sig to every sink and waits for all deliveries. The returned
// error joins every sink failure.
func (b *Bus) Emit(ctx context.Context, sig domain.RiskSignal) error {
	b.mu.RLock()
	sinks := make([]namedSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	b.metrics.SignalEmitted(string(sig.Kind))

	errs := make([]error, len(sinks))
	var wg sync.WaitGroup
	for i, s := range sinks {
		wg.Add(1)
		go func(i int, s namedSink) {
			defer wg.Done()
			errs[i] = b.deliver(ctx, s, sig)
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, s namedSink, sig domain.RiskSignal) (err error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal: sink %s panicked: %v", s.name, r)
		}
		if err != nil {
			b.metrics.SinkError(s.name)
			b.logger.WarnContext(ctx, "signal_bus: sink delivery failed",
				slog.String("sink", s.name),
				slog.String("kind", string(sig.Kind)),
				slog.String("position_id", sig.Snapshot.PositionID),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := s.sink.Emit(ctx, sig); err != nil {
		return fmt.Errorf("signal: sink %s: %w", s.name, err)
	}
	return nil
}

var _ domain.SignalSink = (*Bus)(nil)
