// Package risk classifies how close a hedged leg is to forced liquidation.
package risk

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// Default proximity thresholds.
const (
	DefaultDanger   = 0.8
	DefaultCritical = 0.9
)

// Thresholds are the proximity levels at which a leg is classified as in
// danger or critical.
type Thresholds struct {
	Danger   float64
	Critical float64
}

// DefaultThresholds returns 0.8 / 0.9.
func DefaultThresholds() Thresholds {
	return Thresholds{Danger: DefaultDanger, Critical: DefaultCritical}
}

// Validate requires 0 < danger <= critical <= 1.
func (t Thresholds) Validate() error {
	if !(t.Danger > 0) || t.Danger > t.Critical || t.Critical > 1 {
		return fmt.Errorf("risk: thresholds must satisfy 0 < danger <= critical <= 1, got danger=%v critical=%v",
			t.Danger, t.Critical)
	}
	return nil
}

// Input is one leg's prices. EntryPrice and CurrentPrice may be nil when the
// position snapshot has not been priced yet.
type Input struct {
	Side             domain.Side
	EntryPrice       *float64
	CurrentPrice     *float64
	LiquidationPrice float64
}

// Assessment is the classified proximity of one leg.
type Assessment struct {
	LiquidationPrice float64
	Proximity        float64
	InDanger         bool
	Critical         bool
}

// Assessor classifies legs against a fixed set of thresholds. It holds no
// mutable state and is safe for concurrent use.
type Assessor struct {
	thresholds Thresholds
}

// NewAssessor validates t and returns an Assessor.
func NewAssessor(t Thresholds) (*Assessor, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Assessor{thresholds: t}, nil
}

// Assess computes the leg's proximity to liquidation and classifies it. It
// returns a *domain.MissingDataError when entry or current price is absent.
func (a *Assessor) Assess(in Input) (Assessment, error) {
	if in.EntryPrice == nil {
		return Assessment{}, &domain.MissingDataError{Field: "entry_price"}
	}
	if in.CurrentPrice == nil {
		return Assessment{}, &domain.MissingDataError{Field: "current_price"}
	}

	p := Proximity(in.Side, *in.EntryPrice, *in.CurrentPrice, in.LiquidationPrice)
	return Assessment{
		LiquidationPrice: in.LiquidationPrice,
		Proximity:        p,
		InDanger:         p >= a.thresholds.Danger,
		Critical:         p >= a.thresholds.Critical,
	}, nil
}

// Proximity is the fraction of the entry-to-liquidation distance already
// traveled, clamped to [0, 1]. A long leg loses as price falls, a short leg
// as price rises. When entry and liquidation coincide the leg is either at
// liquidation (1) or not (0).
func Proximity(side domain.Side, entry, current, liquidation float64) float64 {
	total := math.Abs(entry - liquidation)

	var traveled float64
	if side == domain.SideLong {
		traveled = math.Max(0, entry-current)
	} else {
		traveled = math.Max(0, current-entry)
	}

	if total == 0 {
		if throughLiquidation(side, current, liquidation) {
			return 1
		}
		return 0
	}
	return clamp(traveled/total, 0, 1)
}

func throughLiquidation(side domain.Side, current, liquidation float64) bool {
	if side == domain.SideLong {
		return current <= liquidation
	}
	return current >= liquidation
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
