package arbitrage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

func TestNormalizeToHour(t *testing.T) {
	got, err := NormalizeToHour(-0.032, 8)
	require.NoError(t, err)
	assert.InDelta(t, -0.004, got, 1e-12)

	got, err = NormalizeToHour(0.0001, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0001, got)
}

func TestNormalizeToHour_InvalidInterval(t *testing.T) {
	for _, h := range []float64{0, -8, math.NaN()} {
		_, err := NormalizeToHour(0.01, h)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInterval)

		var ie *domain.InvalidIntervalError
		require.ErrorAs(t, err, &ie)
	}
}

func TestCombinedSpread(t *testing.T) {
	a := FundingLeg{ExchangeID: "bybit", Rate: -0.008, IntervalHours: 1}
	b := FundingLeg{ExchangeID: "binance", Rate: -0.032, IntervalHours: 8}

	s, err := CombinedSpread(a, b)
	require.NoError(t, err)
	assert.Equal(t, "bybit", s.PrimaryExchange)
	assert.Equal(t, "binance", s.HedgeExchange)
	assert.InDelta(t, -0.008, s.PrimaryRatePerHour, 1e-12)
	assert.InDelta(t, -0.004, s.HedgeRatePerHour, 1e-12)
	assert.InDelta(t, 0.004, s.SpreadPerHour, 1e-12)
	assert.True(t, s.IsProfitable)

	b.Rate = 0.016
	s, err = CombinedSpread(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.010, s.SpreadPerHour, 1e-12)
	assert.True(t, s.IsProfitable)
}

func TestCombinedSpread_ArgumentOrderIndependent(t *testing.T) {
	a := FundingLeg{ExchangeID: "bybit", Rate: 0.0003, IntervalHours: 1}
	b := FundingLeg{ExchangeID: "binance", Rate: -0.0008, IntervalHours: 8}

	ab, err := CombinedSpread(a, b)
	require.NoError(t, err)
	ba, err := CombinedSpread(b, a)
	require.NoError(t, err)

	assert.Equal(t, ab.PrimaryExchange, ba.PrimaryExchange)
	assert.InDelta(t, ab.SpreadPerHour, ba.SpreadPerHour, 1e-15)
}

func TestCombinedSpread_TieKeepsFirst(t *testing.T) {
	a := FundingLeg{ExchangeID: "bybit", Rate: 0.001, IntervalHours: 1}
	b := FundingLeg{ExchangeID: "binance", Rate: -0.008, IntervalHours: 8}

	s, err := CombinedSpread(a, b)
	require.NoError(t, err)
	assert.Equal(t, "bybit", s.PrimaryExchange)

	s, err = CombinedSpread(b, a)
	require.NoError(t, err)
	assert.Equal(t, "binance", s.PrimaryExchange)
}

func TestCombinedSpread_PrimaryByMagnitude(t *testing.T) {
	a := FundingLeg{ExchangeID: "bybit", Rate: 0.0001, IntervalHours: 1}
	b := FundingLeg{ExchangeID: "binance", Rate: -0.0008, IntervalHours: 1}

	s, err := CombinedSpread(a, b)
	require.NoError(t, err)
	assert.Equal(t, "binance", s.PrimaryExchange)
	assert.InDelta(t, 0.0009, s.SpreadPerHour, 1e-12)

	c := FundingLeg{ExchangeID: "okx", Rate: 0, IntervalHours: 8}
	d := FundingLeg{ExchangeID: "gateio", Rate: 0, IntervalHours: 8}
	s, err = CombinedSpread(c, d)
	require.NoError(t, err)
	assert.False(t, s.IsProfitable)
}

func TestCombinedSpread_InvalidInterval(t *testing.T) {
	_, err := CombinedSpread(
		FundingLeg{ExchangeID: "bybit", Rate: 0.001, IntervalHours: 1},
		FundingLeg{ExchangeID: "binance", Rate: 0.001, IntervalHours: 0},
	)
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)
}

func TestPriceOnlySpread(t *testing.T) {
	got, err := PriceOnlySpread(
		FundingLeg{Rate: 0.008, IntervalHours: 8},
		FundingLeg{Rate: 0.0005, IntervalHours: 1},
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.0005, got, 1e-12)
}

func TestSpreadExpectedFunding(t *testing.T) {
	s := Spread{SpreadPerHour: 0.0001}
	assert.InDelta(t, 2.4, s.ExpectedFunding(1000, 24), 1e-9)
}
