package arbitrage

import (
	"math"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// FundingLeg is one exchange's funding rate together with its settlement
// interval.
type FundingLeg struct {
	ExchangeID    string
	Rate          float64
	IntervalHours float64
}

// Spread is the combined hourly funding of holding both legs.
type Spread struct {
	SpreadPerHour      float64
	PrimaryExchange    string
	HedgeExchange      string
	PrimaryRatePerHour float64
	HedgeRatePerHour   float64
	IsProfitable       bool
}

// NormalizeToHour converts a funding rate paid every intervalHours into a
// per-hour rate.
func NormalizeToHour(rate, intervalHours float64) (float64, error) {
	if intervalHours <= 0 || math.IsNaN(intervalHours) {
		return 0, &domain.InvalidIntervalError{IntervalHours: intervalHours}
	}
	return rate / intervalHours, nil
}

// CombinedSpread picks the leg with the larger absolute hourly rate as
// primary and adds the hedge's signed hourly rate to it. On a tie the first
// argument is primary.
func CombinedSpread(a, b FundingLeg) (Spread, error) {
	normA, err := NormalizeToHour(a.Rate, a.IntervalHours)
	if err != nil {
		return Spread{}, err
	}
	normB, err := NormalizeToHour(b.Rate, b.IntervalHours)
	if err != nil {
		return Spread{}, err
	}

	primary, hedge := a, b
	primaryRate, hedgeRate := normA, normB
	if math.Abs(normB) > math.Abs(normA) {
		primary, hedge = b, a
		primaryRate, hedgeRate = normB, normA
	}

	spread := math.Abs(primaryRate) + hedgeRate
	return Spread{
		SpreadPerHour:      spread,
		PrimaryExchange:    primary.ExchangeID,
		HedgeExchange:      hedge.ExchangeID,
		PrimaryRatePerHour: primaryRate,
		HedgeRatePerHour:   hedgeRate,
		IsProfitable:       spread > 0,
	}, nil
}

// PriceOnlySpread is the plain difference of hourly rates, used when the goal
// is price convergence rather than funding collection.
func PriceOnlySpread(a, b FundingLeg) (float64, error) {
	normA, err := NormalizeToHour(a.Rate, a.IntervalHours)
	if err != nil {
		return 0, err
	}
	normB, err := NormalizeToHour(b.Rate, b.IntervalHours)
	if err != nil {
		return 0, err
	}
	return normA - normB, nil
}

// ExpectedFunding is the funding a position of the given notional should
// collect over hours at the current spread.
func (s Spread) ExpectedFunding(notional, hours float64) float64 {
	return s.SpreadPerHour * notional * hours
}
