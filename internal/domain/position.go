package domain

import "time"

// PositionStatus tracks where a hedged position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusActive     PositionStatus = "ACTIVE"
	PositionStatusClosing    PositionStatus = "CLOSING"
	PositionStatusClosed     PositionStatus = "CLOSED"
	PositionStatusError      PositionStatus = "ERROR"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
)

// CanTransitionTo reports whether moving from s to next is a forward move
// along ACTIVE -> {CLOSING -> CLOSED, ERROR, LIQUIDATED}.
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	switch s {
	case PositionStatusActive:
		return next == PositionStatusClosing || next == PositionStatusError || next == PositionStatusLiquidated
	case PositionStatusClosing:
		return next == PositionStatusClosed || next == PositionStatusError || next == PositionStatusLiquidated
	default:
		return false
	}
}

// Side is the direction of a single leg.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// LegRole names which half of the hedge a leg is.
type LegRole string

const (
	LegPrimary LegRole = "primary"
	LegHedge   LegRole = "hedge"
)

// Leg is one side of a two-exchange hedged position. Pointer fields are nil
// until the value is known.
type Leg struct {
	Exchange           string
	Side               Side
	EntryPrice         *float64
	CurrentPrice       *float64
	FilledQuantity     float64
	Leverage           float64
	LiquidationPrice   *float64
	ProximityRatio     *float64
	InDanger           bool
	LastFundingPaid    float64
	TotalFundingEarned float64
	TradingFees        float64
}

// Position is one hedged arbitrage trade.
type Position struct {
	ID                    string
	Symbol                string
	Primary               Leg
	Hedge                 Leg
	Status                PositionStatus
	GrossProfit           float64
	NetProfit             float64
	ExpectedSpreadPerHour *float64
	LiquidationAlertSent  bool
	LastLiquidationCheck  *time.Time
	LastFundingUpdate     *time.Time
	FundingUpdateCount    int
	StartedAt             time.Time
}

// Leg returns the leg for the given role.
func (p *Position) Leg(role LegRole) *Leg {
	if role == LegHedge {
		return &p.Hedge
	}
	return &p.Primary
}

// RiskLegUpdate carries the risk fields the monitor writes for one leg.
type RiskLegUpdate struct {
	LiquidationPrice float64
	ProximityRatio   float64
	InDanger         bool
}

// RiskUpdate is written atomically by the risk monitor. AlertSent is nil when
// the latch is left as is.
type RiskUpdate struct {
	Primary   RiskLegUpdate
	Hedge     RiskLegUpdate
	CheckedAt time.Time
	AlertSent *bool
}

// FundingLegUpdate carries the funding fields the reconciler writes for one
// leg.
type FundingLegUpdate struct {
	LastFundingPaid    float64
	TotalFundingEarned float64
	TradingFees        float64
}

// ProfitTotals are the aggregate profit figures recomputed every cycle.
type ProfitTotals struct {
	GrossProfit           float64
	NetProfit             float64
	ExpectedSpreadPerHour *float64
}

// FundingUpdate is written atomically by the settlement reconciler. A nil leg
// means that leg's fetch failed this cycle and its stored fields are kept.
type FundingUpdate struct {
	Primary   *FundingLegUpdate
	Hedge     *FundingLegUpdate
	Totals    ProfitTotals
	UpdatedAt time.Time
}
