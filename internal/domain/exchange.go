package domain

import (
	"context"
	"time"
)

// ContractSpec describes how an exchange sizes a perpetual contract.
// Multiplier is base-currency units per contract; 1 means the exchange trades
// in base currency directly. Order sizes are in contracts.
type ContractSpec struct {
	Exchange     string
	Symbol       string
	Multiplier   float64
	MinOrderSize float64
	MaxOrderSize float64
}

// LiquidationInput is what a liquidation price formula needs for one leg.
type LiquidationInput struct {
	Symbol     string
	EntryPrice float64
	Quantity   float64
	Leverage   float64
	Side       Side
}

// LiquidationPriceProvider computes or looks up a leg's liquidation price.
// The formula is exchange specific and lives entirely behind this interface.
type LiquidationPriceProvider interface {
	LiquidationPrice(ctx context.Context, exchange string, in LiquidationInput) (float64, error)
}

// SettlementKind distinguishes funding payments from trading fees.
type SettlementKind string

const (
	SettlementFunding SettlementKind = "funding"
	SettlementFee     SettlementKind = "fee"
)

// SettlementEvent is one normalized funding payment or fee charge. Funding
// Amount is signed from the account's point of view (positive = received).
// Fee Amount is the charge as reported; consumers sum its absolute value.
type SettlementEvent struct {
	Exchange string
	Symbol   string
	Kind     SettlementKind
	Amount   float64
	Asset    string
	At       time.Time
	Ref      string
}

// HistoryProvider fetches realized funding and fee events for a symbol since
// a point in time. Credentials are bound to the adapter for each exchange.
type HistoryProvider interface {
	FundingHistory(ctx context.Context, exchange, symbol string, since time.Time) ([]SettlementEvent, error)
	FeeHistory(ctx context.Context, exchange, symbol string, since time.Time) ([]SettlementEvent, error)
}

// FundingRate is a current funding rate snapshot for one exchange.
type FundingRate struct {
	Exchange      string
	Symbol        string
	Rate          float64
	IntervalHours float64
	NextFunding   time.Time
}

// FundingRateProvider returns the current funding rate for a symbol.
type FundingRateProvider interface {
	FundingRate(ctx context.Context, exchange, symbol string) (FundingRate, error)
}
