package connector

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// IsolatedEstimator approximates the liquidation price of an isolated-margin
// leg whose margin is exactly notional/leverage. It is a fallback for
// exchanges without a position-risk endpoint; real exchange figures differ by
// tiered maintenance rates and fees.
//
// Liquidation happens when equity equals maintenance margin:
//
//	long:  P = E * (1 - 1/L) / (1 - mmr)
//	short: P = E * (1 + 1/L) / (1 + mmr)
type IsolatedEstimator struct {
	MaintenanceRate float64
}

// LiquidationPrice implements LiquidationSource.
func (e IsolatedEstimator) LiquidationPrice(_ context.Context, in domain.LiquidationInput) (float64, error) {
	if in.EntryPrice <= 0 {
		return 0, fmt.Errorf("estimator: entry price %v must be positive", in.EntryPrice)
	}
	if in.Leverage <= 0 {
		return 0, fmt.Errorf("estimator: leverage %v must be positive", in.Leverage)
	}
	if e.MaintenanceRate < 0 || e.MaintenanceRate >= 1 {
		return 0, fmt.Errorf("estimator: maintenance rate %v out of range [0,1)", e.MaintenanceRate)
	}

	inv := 1 / in.Leverage
	switch in.Side {
	case domain.SideLong:
		p := in.EntryPrice * (1 - inv) / (1 - e.MaintenanceRate)
		if p < 0 {
			p = 0
		}
		return p, nil
	case domain.SideShort:
		return in.EntryPrice * (1 + inv) / (1 + e.MaintenanceRate), nil
	default:
		return 0, fmt.Errorf("estimator: unknown side %q", in.Side)
	}
}
