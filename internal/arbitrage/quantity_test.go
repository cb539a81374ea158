package arbitrage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

var (
	bybitSpec = domain.ContractSpec{Exchange: "bybit", Symbol: "BTCUSDT", Multiplier: 1}
	gateSpec  = domain.ContractSpec{Exchange: "gateio", Symbol: "BTC_USDT", Multiplier: 10, MinOrderSize: 1, MaxOrderSize: 1000}
)

func TestEffectiveQuantity_UnitMultiplierUnchanged(t *testing.T) {
	for _, x := range []float64{0.0001, 0.5, 1, 15, 73.123, 1e6} {
		res, err := EffectiveQuantity(x, bybitSpec)
		require.NoError(t, err)
		assert.Equal(t, x, res.Effective)
		assert.Equal(t, x, res.Requested)
		assert.False(t, res.Adjusted)
	}
}

func TestEffectiveQuantity_Rounding(t *testing.T) {
	tests := []struct {
		name      string
		requested float64
		contracts float64
		effective float64
	}{
		{"rounds down", 14, 1, 10},
		{"rounds half up", 15, 2, 20},
		{"exact", 30, 3, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := EffectiveQuantity(tt.requested, gateSpec)
			require.NoError(t, err)
			assert.Equal(t, tt.contracts, res.Contracts)
			assert.Equal(t, tt.effective, res.Effective)
			assert.False(t, res.Adjusted)
		})
	}
}

func TestEffectiveQuantity_FractionalMultiplierIsExact(t *testing.T) {
	spec := domain.ContractSpec{Exchange: "okx", Symbol: "BTC-USDT-SWAP", Multiplier: 0.01}
	res, err := EffectiveQuantity(0.37, spec)
	require.NoError(t, err)
	assert.Equal(t, 37.0, res.Contracts)
	assert.Equal(t, 0.37, res.Effective)
}

func TestEffectiveQuantity_ClampSetsAdjusted(t *testing.T) {
	res, err := EffectiveQuantity(2, gateSpec)
	require.NoError(t, err)
	assert.True(t, res.Adjusted)
	assert.Equal(t, 1.0, res.Contracts)
	assert.Equal(t, 10.0, res.Effective)
	assert.Contains(t, res.Reason, "minimum")

	res, err = EffectiveQuantity(50_000, gateSpec)
	require.NoError(t, err)
	assert.True(t, res.Adjusted)
	assert.Equal(t, 1000.0, res.Contracts)
	assert.Equal(t, 10_000.0, res.Effective)
	assert.Contains(t, res.Reason, "maximum")
}

func TestEffectiveQuantity_InvalidInput(t *testing.T) {
	_, err := EffectiveQuantity(-1, gateSpec)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = EffectiveQuantity(1, domain.ContractSpec{Multiplier: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestBalancedQuantities_BothUnit(t *testing.T) {
	res, err := BalancedQuantities(7.3, bybitSpec, bybitSpec)
	require.NoError(t, err)
	assert.Equal(t, 7.3, res.BalancedQuantity)
	assert.Equal(t, 7.3, res.LegA.Effective)
	assert.Equal(t, 7.3, res.LegB.Effective)
	assert.Equal(t, 7.3, res.EffectiveQuantity)
}

func TestBalancedQuantities_EqualLegs(t *testing.T) {
	res, err := BalancedQuantities(15, bybitSpec, gateSpec)
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.BalancedQuantity)
	assert.Equal(t, res.LegA.Effective, res.LegB.Effective)
	assert.Equal(t, 20.0, res.EffectiveQuantity)
	assert.Equal(t, 20.0, res.LegA.Contracts)
	assert.Equal(t, 2.0, res.LegB.Contracts)
}

func TestBalancedQuantities_RestrictiveSideGoverns(t *testing.T) {
	capped := domain.ContractSpec{Exchange: "gateio", Multiplier: 10, MinOrderSize: 1, MaxOrderSize: 3}
	res, err := BalancedQuantities(100, bybitSpec, capped)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.LegA.Effective)
	assert.Equal(t, 30.0, res.LegB.Effective)
	assert.Equal(t, 30.0, res.EffectiveQuantity)
	assert.True(t, res.Adjusted)
}

func TestGraduatedQuantities_FiveParts(t *testing.T) {
	res, err := GraduatedQuantities(75, 5, bybitSpec, gateSpec)
	require.NoError(t, err)

	assert.Equal(t, 20.0, res.QuantityPerPart)
	assert.Equal(t, 0.0, mod(res.QuantityPerPart, 10))
	assert.Equal(t, res.PerPart.LegA.Effective, res.PerPart.LegB.Effective)
	assert.Equal(t, 20.0, res.EffectiveQuantityPerPart)
	assert.Equal(t, 100.0, res.TotalEffectiveQuantity)
	assert.Equal(t, res.EffectiveQuantityPerPart*5, res.TotalEffectiveQuantity)
}

func TestGraduatedQuantities_NaiveSplitWouldMismatch(t *testing.T) {
	naive := 75.0 / 5
	a, err := EffectiveQuantity(naive, bybitSpec)
	require.NoError(t, err)
	b, err := EffectiveQuantity(naive, gateSpec)
	require.NoError(t, err)
	assert.Equal(t, 15.0, a.Effective)
	assert.Equal(t, 20.0, b.Effective)

	res, err := GraduatedQuantities(75, 5, bybitSpec, gateSpec)
	require.NoError(t, err)
	assert.Equal(t, res.PerPart.LegA.Effective, res.PerPart.LegB.Effective)
}

func TestGraduatedQuantities_InvalidParts(t *testing.T) {
	_, err := GraduatedQuantities(75, 0, bybitSpec, gateSpec)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestQuantities_Deterministic(t *testing.T) {
	first, err := GraduatedQuantities(123.45, 7, bybitSpec, gateSpec)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := GraduatedQuantities(123.45, 7, bybitSpec, gateSpec)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestVerifyBalanced(t *testing.T) {
	diff, ok := VerifyBalanced(20, 2, bybitSpec, gateSpec)
	assert.True(t, ok)
	assert.Equal(t, 0.0, diff)

	diff, ok = VerifyBalanced(25, 2, bybitSpec, gateSpec)
	assert.True(t, ok)
	assert.Equal(t, 5.0, diff)

	_, ok = VerifyBalanced(35, 2, bybitSpec, gateSpec)
	assert.False(t, ok)
}

func mod(x, m float64) float64 {
	return x - m*float64(int64(x/m))
}
