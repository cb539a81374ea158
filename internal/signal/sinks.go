package signal

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// Filter passes only the listed kinds through to sink.
func Filter(sink domain.SignalSink, kinds ...domain.SignalKind) domain.SignalSink {
	return domain.SignalSinkFunc(func(ctx context.Context, sig domain.RiskSignal) error {
		if !slices.Contains(kinds, sig.Kind) {
			return nil
		}
		return sink.Emit(ctx, sig)
	})
}

// ChannelSink hands signals to in-process subscribers over a buffered
// channel. When the buffer is full the signal is dropped and counted.
type ChannelSink struct {
	ch      chan domain.RiskSignal
	dropped atomic.Int64
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan domain.RiskSignal, buffer)}
}

// Emit enqueues sig without blocking.
func (c *ChannelSink) Emit(_ context.Context, sig domain.RiskSignal) error {
	select {
	case c.ch <- sig:
	default:
		c.dropped.Add(1)
	}
	return nil
}

// C returns the receive side of the channel.
func (c *ChannelSink) C() <-chan domain.RiskSignal { return c.ch }

// Dropped returns how many signals were discarded because the buffer was full.
func (c *ChannelSink) Dropped() int64 { return c.dropped.Load() }

// AuditSink appends every signal to an audit log.
type AuditSink struct {
	audit domain.AuditStore
}

// NewAuditSink creates an AuditSink.
func NewAuditSink(audit domain.AuditStore) *AuditSink {
	return &AuditSink{audit: audit}
}

// Emit writes one audit row per signal.
func (a *AuditSink) Emit(ctx context.Context, sig domain.RiskSignal) error {
	return a.audit.Log(ctx, "risk."+string(sig.Kind), map[string]any{
		"signal_id":     sig.ID,
		"position_id":   sig.Snapshot.PositionID,
		"symbol":        sig.Snapshot.Symbol,
		"max_proximity": sig.Snapshot.MaxProximity(),
		"in_danger":     sig.Snapshot.InDanger,
		"critical":      sig.Snapshot.Critical,
	})
}

var (
	_ domain.SignalSink = (*ChannelSink)(nil)
	_ domain.SignalSink = (*AuditSink)(nil)
)
