package validate

import (
	"fmt"
	"regexp"

	"github.com/ggonzalez94/defi-intent/internal/model"
)

type RuleType string

const (
	TypeString   RuleType = "string"
	TypeNumber   RuleType = "number"
	TypeBoolean  RuleType = "boolean"
	TypeToken    RuleType = "token"
	TypeProtocol RuleType = "protocol"
	TypeAddress  RuleType = "address"
)

// Rule checks one parameter by wire name. Type is checked first, then Custom,
// then the constraints. Rules for absent fields are skipped; presence is the
// job of Template.Required.
type Rule struct {
	Field        string
	Type         RuleType
	Min          *float64
	Max          *float64
	MinExclusive bool
	Pattern      *regexp.Regexp
	Enum         []string
	// Custom returns a message when the value is unacceptable.
	Custom func(value any, params model.CommandParameters) string
}

type Template struct {
	Intent   model.Intent
	Required []string
	Rules    []Rule
}

func bound(v float64) *float64 { return &v }

var (
	amountRule   = Rule{Field: "amount", Type: TypeNumber, Min: bound(0), MinExclusive: true}
	tokenRule    = Rule{Field: "token", Type: TypeToken}
	protocolRule = Rule{Field: "protocol", Type: TypeProtocol}
	slippageRule = Rule{Field: "slippage", Type: TypeNumber, Min: bound(0), Max: bound(50), Custom: slippageWithinMax}
	leverageRule = Rule{Field: "leverage", Type: TypeNumber, Min: bound(1), Max: bound(100)}
	deadlineRule = Rule{Field: "deadline", Type: TypeNumber, Min: bound(0), MinExclusive: true}

	optionalRules = []Rule{
		{Field: "max_slippage", Type: TypeNumber, Min: bound(0), Max: bound(50)},
		{Field: "min_output", Type: TypeNumber, Min: bound(0)},
		{Field: "gas_limit", Type: TypeNumber, Min: bound(21000), Max: bound(30000000)},
		{Field: "gas_price", Type: TypeString, Pattern: regexp.MustCompile(`^\d+(\.\d+)?(wei|gwei)?$`)},
		{Field: "recipient", Type: TypeAddress},
		{Field: "referrer", Type: TypeAddress},
	}
)

func slippageWithinMax(value any, params model.CommandParameters) string {
	limit := params.Optional.MaxSlippage
	v, ok := toFloat(value)
	if limit == nil || !ok || v <= *limit {
		return ""
	}
	return fmt.Sprintf("slippage %.2f%% exceeds max_slippage %.2f%%", v, *limit)
}

func rules(base ...Rule) []Rule {
	out := append([]Rule(nil), base...)
	return append(out, optionalRules...)
}

// DefaultTemplates returns the per-intent requirements. Protocol is required
// only where the action refers to an existing position on a venue.
func DefaultTemplates() []Template {
	return []Template{
		{Intent: model.IntentLend, Required: []string{"amount", "token"},
			Rules: rules(amountRule, tokenRule, protocolRule)},
		{Intent: model.IntentWithdraw, Required: []string{"amount", "token", "protocol"},
			Rules: rules(amountRule, tokenRule, protocolRule)},
		{Intent: model.IntentBorrow, Required: []string{"amount", "token"},
			Rules: rules(amountRule, tokenRule, protocolRule, leverageRule)},
		{Intent: model.IntentRepay, Required: []string{"amount", "token", "protocol"},
			Rules: rules(amountRule, tokenRule, protocolRule)},
		{Intent: model.IntentSwap, Required: []string{"amount", "from_token", "to_token"},
			Rules: rules(amountRule,
				Rule{Field: "from_token", Type: TypeToken},
				Rule{Field: "to_token", Type: TypeToken},
				protocolRule, slippageRule, deadlineRule)},
		{Intent: model.IntentAddLiquidity, Required: []string{"amount", "token"},
			Rules: rules(amountRule, tokenRule,
				Rule{Field: "to_token", Type: TypeToken},
				protocolRule, slippageRule)},
		{Intent: model.IntentRemoveLiquidity, Required: []string{"amount", "token", "protocol"},
			Rules: rules(amountRule, tokenRule, protocolRule, slippageRule)},
		{Intent: model.IntentStake, Required: []string{"amount", "token"},
			Rules: rules(amountRule, tokenRule, protocolRule)},
		{Intent: model.IntentUnstake, Required: []string{"amount", "token"},
			Rules: rules(amountRule, tokenRule, protocolRule)},
		{Intent: model.IntentOpenPosition, Required: []string{"amount", "token", "protocol"},
			Rules: rules(amountRule, tokenRule, protocolRule, leverageRule, slippageRule)},
		{Intent: model.IntentClosePosition, Required: []string{"token", "protocol"},
			Rules: rules(amountRule, tokenRule, protocolRule, slippageRule)},
		{Intent: model.IntentArbitrage, Required: []string{"amount", "token"},
			Rules: rules(amountRule, tokenRule, protocolRule, slippageRule)},
		{Intent: model.IntentCrossProtocolArbitrage, Required: []string{"amount", "token"},
			Rules: rules(amountRule, tokenRule, protocolRule, slippageRule)},
		{Intent: model.IntentPortfolioStatus},
		{Intent: model.IntentUnknown},
	}
}

func missingSuggestion(intent model.Intent, field string, protocols []string) string {
	verb := humanIntent(intent)
	switch field {
	case "amount":
		return fmt.Sprintf("say how much to %s, for example \"%s 100 USDC\"", verb, verb)
	case "token":
		return fmt.Sprintf("name the token to %s, for example USDC or SEI", verb)
	case "from_token":
		return "name the token to sell, for example \"swap 100 SEI for USDC\""
	case "to_token":
		return "name the token to buy, for example \"swap 100 SEI for USDC\""
	case "protocol":
		if len(protocols) == 0 {
			return fmt.Sprintf("no known protocol supports %s", verb)
		}
		return fmt.Sprintf("choose a protocol: %s", joinNames(protocols))
	}
	return fmt.Sprintf("provide %s", field)
}
