package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// LegSettlement is one leg's part of a reconciliation result. Err is set and
// the amounts are the previously stored ones when the leg's fetch failed.
type LegSettlement struct {
	Exchange           string  `json:"exchange"`
	FundingEvents      int     `json:"funding_events"`
	FeeEvents          int     `json:"fee_events"`
	TotalFundingEarned float64 `json:"total_funding_earned"`
	LastFundingPaid    float64 `json:"last_funding_paid"`
	TradingFees        float64 `json:"trading_fees"`
	Err                string  `json:"error,omitempty"`
}

// SettlementRecord is the outcome of reconciling one position in one cycle.
type SettlementRecord struct {
	PositionID            string        `json:"position_id"`
	Symbol                string        `json:"symbol"`
	Primary               LegSettlement `json:"primary"`
	Hedge                 LegSettlement `json:"hedge"`
	GrossProfit           float64       `json:"gross_profit"`
	NetProfit             float64       `json:"net_profit"`
	ExpectedSpreadPerHour *float64      `json:"expected_spread_per_hour,omitempty"`
	ReconciledAt          time.Time     `json:"reconciled_at"`
}

// SettlementArchiver keeps a cold copy of reconciliation results.
type SettlementArchiver interface {
	Archive(ctx context.Context, rec SettlementRecord) error
}
