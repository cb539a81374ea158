// Package arbitrage holds the pure calculators of the hedged funding-rate
// strategy: leg sizing across exchanges with different contract conventions
// and funding-rate normalization. Nothing in this package performs I/O.
package arbitrage

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// QuantityResult is the outcome of sizing one leg on one exchange.
type QuantityResult struct {
	Requested float64 // base-currency quantity asked for
	Contracts float64 // order size in the exchange's contracts
	Effective float64 // base-currency quantity the order actually represents
	Adjusted  bool    // contracts were clamped to the exchange's min/max
	Reason    string
}

// BalancedResult sizes both legs of a hedge from one desired quantity.
type BalancedResult struct {
	Desired           float64
	BalancedQuantity  float64
	LegA              QuantityResult
	LegB              QuantityResult
	EffectiveQuantity float64 // min(LegA.Effective, LegB.Effective)
	Adjusted          bool
}

// GraduatedResult sizes a hedge built in several equal tranches.
type GraduatedResult struct {
	Total                    float64
	Parts                    int
	QuantityPerPart          float64
	PerPart                  BalancedResult
	EffectiveQuantityPerPart float64
	TotalEffectiveQuantity   float64
}

// EffectiveQuantity converts a base-currency quantity into whole contracts on
// the exchange described by spec. A multiplier of 1 returns requested
// unchanged. Clamping to the order size limits is reported through Adjusted,
// never as an error.
func EffectiveQuantity(requested float64, spec domain.ContractSpec) (QuantityResult, error) {
	if err := checkQuantity("requested", requested); err != nil {
		return QuantityResult{}, err
	}
	if err := checkSpec(spec); err != nil {
		return QuantityResult{}, err
	}
	return effectiveQuantity(requested, spec), nil
}

func effectiveQuantity(requested float64, spec domain.ContractSpec) QuantityResult {
	if spec.Multiplier == 1 {
		return QuantityResult{
			Requested: requested,
			Contracts: requested,
			Effective: requested,
		}
	}

	mult := decimal.NewFromFloat(spec.Multiplier)
	contracts := decimal.NewFromFloat(requested).Div(mult).Round(0)

	res := QuantityResult{Requested: requested}
	if spec.MinOrderSize > 0 && contracts.LessThan(decimal.NewFromFloat(spec.MinOrderSize)) {
		res.Adjusted = true
		res.Reason = fmt.Sprintf("%s below minimum order size %v, raised to minimum", contracts.String(), spec.MinOrderSize)
		contracts = decimal.NewFromFloat(spec.MinOrderSize)
	}
	if spec.MaxOrderSize > 0 && contracts.GreaterThan(decimal.NewFromFloat(spec.MaxOrderSize)) {
		res.Adjusted = true
		res.Reason = fmt.Sprintf("%s above maximum order size %v, lowered to maximum", contracts.String(), spec.MaxOrderSize)
		contracts = decimal.NewFromFloat(spec.MaxOrderSize)
	}

	res.Contracts = contracts.InexactFloat64()
	res.Effective = contracts.Mul(mult).InexactFloat64()
	return res
}

// BalancedQuantities sizes both legs so that they carry the same effective
// exposure. The desired quantity is rounded to the nearest multiple of the
// coarser multiplier, and the position's exposure is whichever leg ends up
// smaller.
func BalancedQuantities(desired float64, a, b domain.ContractSpec) (BalancedResult, error) {
	if err := checkQuantity("desired", desired); err != nil {
		return BalancedResult{}, err
	}
	if err := checkSpec(a); err != nil {
		return BalancedResult{}, err
	}
	if err := checkSpec(b); err != nil {
		return BalancedResult{}, err
	}
	return balancedQuantities(desired, a, b), nil
}

func balancedQuantities(desired float64, a, b domain.ContractSpec) BalancedResult {
	if a.Multiplier == 1 && b.Multiplier == 1 {
		leg := QuantityResult{Requested: desired, Contracts: desired, Effective: desired}
		return BalancedResult{
			Desired:           desired,
			BalancedQuantity:  desired,
			LegA:              leg,
			LegB:              leg,
			EffectiveQuantity: desired,
		}
	}

	m := decimal.NewFromFloat(math.Max(a.Multiplier, b.Multiplier))
	balanced := decimal.NewFromFloat(desired).Div(m).Round(0).Mul(m).InexactFloat64()

	legA := effectiveQuantity(balanced, a)
	legB := effectiveQuantity(balanced, b)

	return BalancedResult{
		Desired:           desired,
		BalancedQuantity:  balanced,
		LegA:              legA,
		LegB:              legB,
		EffectiveQuantity: math.Min(legA.Effective, legB.Effective),
		Adjusted:          legA.Adjusted || legB.Adjusted,
	}
}

// GraduatedQuantities splits total into parts equal tranches and balances each
// tranche independently.
func GraduatedQuantities(total float64, parts int, a, b domain.ContractSpec) (GraduatedResult, error) {
	if parts < 1 {
		return GraduatedResult{}, fmt.Errorf("arbitrage: parts must be >= 1, got %d: %w", parts, domain.ErrInvalidQuantity)
	}
	if err := checkQuantity("total", total); err != nil {
		return GraduatedResult{}, err
	}

	perPart := decimal.NewFromFloat(total).Div(decimal.NewFromInt(int64(parts))).InexactFloat64()
	bal, err := BalancedQuantities(perPart, a, b)
	if err != nil {
		return GraduatedResult{}, err
	}

	effPerPart := decimal.NewFromFloat(bal.EffectiveQuantity)
	return GraduatedResult{
		Total:                    total,
		Parts:                    parts,
		QuantityPerPart:          bal.BalancedQuantity,
		PerPart:                  bal,
		EffectiveQuantityPerPart: bal.EffectiveQuantity,
		TotalEffectiveQuantity:   effPerPart.Mul(decimal.NewFromInt(int64(parts))).InexactFloat64(),
	}, nil
}

// VerifyBalanced checks the open-time invariant: the filled contract counts of
// both legs, converted to base currency, differ by at most one lot step of the
// coarser exchange. It returns the absolute difference in base currency.
func VerifyBalanced(contractsA, contractsB float64, a, b domain.ContractSpec) (float64, bool) {
	effA := decimal.NewFromFloat(contractsA).Mul(decimal.NewFromFloat(a.Multiplier))
	effB := decimal.NewFromFloat(contractsB).Mul(decimal.NewFromFloat(b.Multiplier))
	diff := effA.Sub(effB).Abs()
	step := decimal.NewFromFloat(math.Max(a.Multiplier, b.Multiplier))
	return diff.InexactFloat64(), diff.LessThanOrEqual(step)
}

func checkQuantity(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("arbitrage: %s quantity %v: %w", name, v, domain.ErrInvalidQuantity)
	}
	return nil
}

func checkSpec(spec domain.ContractSpec) error {
	if math.IsNaN(spec.Multiplier) || spec.Multiplier <= 0 {
		return fmt.Errorf("arbitrage: %s %s multiplier %v: %w", spec.Exchange, spec.Symbol, spec.Multiplier, domain.ErrInvalidQuantity)
	}
	if spec.MaxOrderSize > 0 && spec.MinOrderSize > spec.MaxOrderSize {
		return fmt.Errorf("arbitrage: %s %s min order size %v exceeds max %v: %w",
			spec.Exchange, spec.Symbol, spec.MinOrderSize, spec.MaxOrderSize, domain.ErrInvalidQuantity)
	}
	return nil
}
