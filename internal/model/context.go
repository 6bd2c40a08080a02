package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

type PositionType string

const (
	PositionLending   PositionType = "lending"
	PositionBorrowing PositionType = "borrowing"
	PositionLiquidity PositionType = "liquidity"
	PositionStaking   PositionType = "staking"
	PositionPerp      PositionType = "perp"
)

type Position struct {
	Protocol     string          `json:"protocol" yaml:"protocol"`
	Type         PositionType    `json:"type" yaml:"type"`
	Token        string          `json:"token,omitempty" yaml:"token"`
	Value        decimal.Decimal `json:"value" yaml:"value"`
	HealthFactor *float64        `json:"health_factor,omitempty" yaml:"health_factor"`
}

// ParsingContext is caller-supplied account state. It is resolved before the
// pipeline runs and is never mutated by it.
type ParsingContext struct {
	Balances    map[string]decimal.Decimal `json:"balances,omitempty" yaml:"balances"`
	Positions   []Position                 `json:"positions,omitempty" yaml:"positions"`
	Prices      map[string]decimal.Decimal `json:"prices,omitempty" yaml:"prices"`
	GasPrice    string                     `json:"gas_price,omitempty" yaml:"gas_price"`
	UserAddress string                     `json:"user_address,omitempty" yaml:"user_address"`
}

// Balance looks up a token balance case-insensitively.
func (c *ParsingContext) Balance(token string) (decimal.Decimal, bool) {
	if c == nil || c.Balances == nil {
		return decimal.Zero, false
	}
	if v, ok := c.Balances[token]; ok {
		return v, true
	}
	for k, v := range c.Balances {
		if strings.EqualFold(k, token) {
			return v, true
		}
	}
	return decimal.Zero, false
}

// HasBalances reports whether the caller supplied balance information at all.
func (c *ParsingContext) HasBalances() bool {
	return c != nil && c.Balances != nil
}

// PortfolioValue sums position values and balances that have a known price.
func (c *ParsingContext) PortfolioValue() decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, p := range c.Positions {
		total = total.Add(p.Value)
	}
	for token, amount := range c.Balances {
		price, ok := c.price(token)
		if !ok {
			continue
		}
		total = total.Add(amount.Mul(price))
	}
	return total
}

// PositionSize returns the largest position value held in token, or across
// all positions when token is empty.
func (c *ParsingContext) PositionSize(token string) (decimal.Decimal, bool) {
	if c == nil {
		return decimal.Zero, false
	}
	best := decimal.Zero
	found := false
	for _, p := range c.Positions {
		if token != "" && !strings.EqualFold(p.Token, token) {
			continue
		}
		if !found || p.Value.GreaterThan(best) {
			best = p.Value
			found = true
		}
	}
	return best, found
}

func (c *ParsingContext) price(token string) (decimal.Decimal, bool) {
	if c.Prices == nil {
		return decimal.Zero, false
	}
	if v, ok := c.Prices[token]; ok {
		return v, true
	}
	for k, v := range c.Prices {
		if strings.EqualFold(k, token) {
			return v, true
		}
	}
	return decimal.Zero, false
}
