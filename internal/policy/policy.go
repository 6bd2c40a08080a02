package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/shopspring/decimal"
)

// Rules are the business limits the validator applies per intent. The LTV and
// liquid-token set stand in for a market-data feed and are operator-tunable.
type Rules struct {
	MaxLTV               decimal.Decimal
	BorrowUtilizationPct decimal.Decimal
	LendBalancePct       decimal.Decimal
	MaxPriceImpactPct    float64
	HighLeverage         float64
	LiquidTokens         []string
}

func DefaultRules() Rules {
	return Rules{
		MaxLTV:               decimal.RequireFromString("0.75"),
		BorrowUtilizationPct: decimal.RequireFromString("0.8"),
		LendBalancePct:       decimal.RequireFromString("0.9"),
		MaxPriceImpactPct:    5,
		HighLeverage:         3,
		LiquidTokens:         []string{"USDC", "USDT", "ETH", "SEI", "WSEI"},
	}
}

// IsLiquid reports whether token belongs to the configured liquid set.
func (r Rules) IsLiquid(token string) bool {
	for _, t := range r.LiquidTokens {
		if strings.EqualFold(t, strings.TrimSpace(token)) {
			return true
		}
	}
	return false
}

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
