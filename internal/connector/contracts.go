package connector

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/hedgerisk/internal/config"
	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// ContractSpecs looks up contract sizing by exchange and symbol. Symbols not
// listed default to a multiplier of 1 with no order size limits.
type ContractSpecs struct {
	specs map[string]domain.ContractSpec
}

// NewContractSpecs indexes specs and rejects duplicates and non-positive
// multipliers.
func NewContractSpecs(specs []domain.ContractSpec) (*ContractSpecs, error) {
	m := make(map[string]domain.ContractSpec, len(specs))
	for _, s := range specs {
		if s.Multiplier <= 0 {
			return nil, fmt.Errorf("connector: contract %s/%s: multiplier must be > 0", s.Exchange, s.Symbol)
		}
		k := specKey(s.Exchange, s.Symbol)
		if _, dup := m[k]; dup {
			return nil, fmt.Errorf("connector: contract %s/%s listed twice", s.Exchange, s.Symbol)
		}
		s.Exchange = normalize(s.Exchange)
		m[k] = s
	}
	return &ContractSpecs{specs: m}, nil
}

// SpecsFromConfig indexes the [[contracts]] tables of the configuration.
func SpecsFromConfig(contracts []config.ContractConfig) (*ContractSpecs, error) {
	specs := make([]domain.ContractSpec, 0, len(contracts))
	for _, c := range contracts {
		specs = append(specs, domain.ContractSpec{
			Exchange:     c.Exchange,
			Symbol:       c.Symbol,
			Multiplier:   c.Multiplier,
			MinOrderSize: c.MinOrderSize,
			MaxOrderSize: c.MaxOrderSize,
		})
	}
	return NewContractSpecs(specs)
}

// Lookup returns the spec for exchange/symbol and whether it was configured.
func (c *ContractSpecs) Lookup(exchange, symbol string) (domain.ContractSpec, bool) {
	if s, ok := c.specs[specKey(exchange, symbol)]; ok {
		return s, true
	}
	return domain.ContractSpec{Exchange: normalize(exchange), Symbol: symbol, Multiplier: 1}, false
}

func specKey(exchange, symbol string) string {
	return normalize(exchange) + "|" + strings.ToUpper(strings.TrimSpace(symbol))
}
