package domain

import (
	"context"
	"time"
)

// SignalKind identifies what a risk signal reports.
type SignalKind string

const (
	SignalRiskUpdated        SignalKind = "riskUpdated"
	SignalPositionInDanger   SignalKind = "positionInDanger"
	SignalPositionCritical   SignalKind = "positionCritical"
	SignalAutoCloseTriggered SignalKind = "autoCloseTriggered"
)

// LegRisk is the per-leg part of a risk snapshot.
type LegRisk struct {
	Exchange         string  `json:"exchange"`
	Side             Side    `json:"side"`
	EntryPrice       float64 `json:"entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	LiquidationPrice float64 `json:"liquidation_price"`
	ProximityRatio   float64 `json:"proximity_ratio"`
	InDanger         bool    `json:"in_danger"`
	Critical         bool    `json:"critical"`
}

// RiskSnapshot is the result of one risk evaluation of a position.
type RiskSnapshot struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Primary    LegRisk   `json:"primary"`
	Hedge      LegRisk   `json:"hedge"`
	InDanger   bool      `json:"in_danger"`
	Critical   bool      `json:"critical"`
	CheckedAt  time.Time `json:"checked_at"`
}

// MaxProximity returns the larger of the two legs' proximity ratios.
func (s RiskSnapshot) MaxProximity() float64 {
	if s.Primary.ProximityRatio > s.Hedge.ProximityRatio {
		return s.Primary.ProximityRatio
	}
	return s.Hedge.ProximityRatio
}

// RiskSignal is published by the risk monitor to every registered sink.
type RiskSignal struct {
	ID        string       `json:"id"`
	Kind      SignalKind   `json:"kind"`
	Snapshot  RiskSnapshot `json:"snapshot"`
	CreatedAt time.Time    `json:"created_at"`
}

// SignalSink receives risk signals. Implementations must be safe for
// concurrent use; the monitor emits from several workers at once.
type SignalSink interface {
	Emit(ctx context.Context, sig RiskSignal) error
}

// SignalSinkFunc adapts a function to SignalSink.
type SignalSinkFunc func(ctx context.Context, sig RiskSignal) error

// Emit calls f.
func (f SignalSinkFunc) Emit(ctx context.Context, sig RiskSignal) error {
	return f(ctx, sig)
}
