package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func newDefaultAssessor(t *testing.T) *Assessor {
	t.Helper()
	a, err := NewAssessor(DefaultThresholds())
	require.NoError(t, err)
	return a
}

func TestAssess_LongLegClassification(t *testing.T) {
	a := newDefaultAssessor(t)

	tests := []struct {
		name     string
		current  float64
		want     float64
		danger   bool
		critical bool
	}{
		{"at entry", 100, 0, false, false},
		{"in profit", 120, 0, false, false},
		{"half way", 90, 0.5, false, false},
		{"danger", 84, 0.8, true, false},
		{"critical", 82, 0.9, true, true},
		{"at liquidation", 80, 1, true, true},
		{"through liquidation", 70, 1, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Assess(Input{
				Side:             domain.SideLong,
				EntryPrice:       ptr(100),
				CurrentPrice:     ptr(tt.current),
				LiquidationPrice: 80,
			})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got.Proximity, 1e-12)
			assert.Equal(t, tt.danger, got.InDanger)
			assert.Equal(t, tt.critical, got.Critical)
			assert.Equal(t, 80.0, got.LiquidationPrice)
		})
	}
}

func TestAssess_ShortLeg(t *testing.T) {
	a := newDefaultAssessor(t)

	got, err := a.Assess(Input{
		Side:             domain.SideShort,
		EntryPrice:       ptr(100),
		CurrentPrice:     ptr(118),
		LiquidationPrice: 120,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Proximity, 1e-12)
	assert.True(t, got.Critical)

	got, err = a.Assess(Input{
		Side:             domain.SideShort,
		EntryPrice:       ptr(100),
		CurrentPrice:     ptr(90),
		LiquidationPrice: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Proximity)
	assert.False(t, got.InDanger)
}

func TestAssess_MissingData(t *testing.T) {
	a := newDefaultAssessor(t)

	_, err := a.Assess(Input{Side: domain.SideLong, CurrentPrice: ptr(90), LiquidationPrice: 80})
	require.ErrorIs(t, err, domain.ErrMissingData)
	var md *domain.MissingDataError
	require.ErrorAs(t, err, &md)
	assert.Equal(t, "entry_price", md.Field)

	_, err = a.Assess(Input{Side: domain.SideLong, EntryPrice: ptr(100), LiquidationPrice: 80})
	require.ErrorAs(t, err, &md)
	assert.Equal(t, "current_price", md.Field)
}

func TestProximity_Monotonic(t *testing.T) {
	prev := -1.0
	for price := 110.0; price >= 70; price -= 0.5 {
		p := Proximity(domain.SideLong, 100, price, 80)
		assert.GreaterOrEqual(t, p, prev, "price %v", price)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		prev = p
	}

	prev = -1.0
	for price := 90.0; price <= 130; price += 0.5 {
		p := Proximity(domain.SideShort, 100, price, 120)
		assert.GreaterOrEqual(t, p, prev, "price %v", price)
		prev = p
	}
}

func TestProximity_ZeroDistance(t *testing.T) {
	assert.Equal(t, 1.0, Proximity(domain.SideLong, 100, 100, 100))
	assert.Equal(t, 1.0, Proximity(domain.SideLong, 100, 99, 100))
	assert.Equal(t, 0.0, Proximity(domain.SideLong, 100, 101, 100))
	assert.Equal(t, 1.0, Proximity(domain.SideShort, 100, 101, 100))
	assert.Equal(t, 0.0, Proximity(domain.SideShort, 100, 99, 100))
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())
	require.NoError(t, Thresholds{Danger: 0.5, Critical: 0.5}.Validate())
	require.NoError(t, Thresholds{Danger: 0.7, Critical: 1}.Validate())

	for _, bad := range []Thresholds{
		{Danger: 0, Critical: 0.9},
		{Danger: 0.95, Critical: 0.9},
		{Danger: 0.8, Critical: 1.1},
		{Danger: -0.1, Critical: 0.5},
	} {
		assert.Error(t, bad.Validate(), "%+v", bad)
		_, err := NewAssessor(bad)
		assert.Error(t, err)
	}
}

func TestAssess_CustomThresholds(t *testing.T) {
	a, err := NewAssessor(Thresholds{Danger: 0.5, Critical: 0.75})
	require.NoError(t, err)

	got, err := a.Assess(Input{
		Side:             domain.SideLong,
		EntryPrice:       ptr(100),
		CurrentPrice:     ptr(90),
		LiquidationPrice: 80,
	})
	require.NoError(t, err)
	assert.True(t, got.InDanger)
	assert.False(t, got.Critical)
}
