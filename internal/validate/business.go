package validate

import (
	"fmt"
	"strings"

	"github.com/ggonzalez94/defi-intent/internal/id"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/shopspring/decimal"
)

type businessRule struct {
	intent model.Intent
	check  func(v *Validator, res *Result, in Input)
}

var businessRules = []businessRule{
	{intent: model.IntentLend, check: checkLend},
	{intent: model.IntentBorrow, check: checkBorrow},
	{intent: model.IntentSwap, check: checkSwap},
	{intent: model.IntentAddLiquidity, check: checkAddLiquidity},
}

func (v *Validator) checkBusiness(res *Result, in Input) {
	for _, rule := range businessRules {
		if rule.intent == in.Intent {
			rule.check(v, res, in)
		}
	}
}

func amountOf(p model.CommandParameters) (decimal.Decimal, bool) {
	if p.Primary.Amount == "" {
		return decimal.Zero, false
	}
	d, err := id.ParseDecimal(p.Primary.Amount)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// checkBalance reports amount against the caller's balance of token. Without
// balances in the context nothing is checked; with balances, a token that is
// not listed has a zero balance.
func (v *Validator) checkBalance(res *Result, in Input, token string, warnAbove bool) {
	amt, ok := amountOf(res.Parameters)
	if !ok || token == "" || !in.Context.HasBalances() {
		return
	}
	balance, _ := in.Context.Balance(token)
	if amt.GreaterThan(balance) {
		res.add(model.CommandValidationError{
			Field:      "amount",
			Code:       CodeInsufficientBalance,
			Message:    fmt.Sprintf("amount %s exceeds your %s balance of %s", amt.String(), token, balance.String()),
			Severity:   model.SeverityError,
			Suggestion: balance.String(),
		})
		return
	}
	if warnAbove && amt.GreaterThan(balance.Mul(v.rules.LendBalancePct)) {
		res.add(model.CommandValidationError{
			Field:    "amount",
			Code:     CodeHighBalanceUsage,
			Message:  fmt.Sprintf("amount uses more than %s%% of your %s balance", v.rules.LendBalancePct.Shift(2).String(), token),
			Severity: model.SeverityWarning,
		})
	}
}

func checkLend(v *Validator, res *Result, in Input) {
	v.checkBalance(res, in, res.Parameters.Primary.Token, true)
}

// checkBorrow caps borrowing at the lending collateral times the configured
// LTV. Without any positions in the context nothing is checked.
func checkBorrow(v *Validator, res *Result, in Input) {
	amt, ok := amountOf(res.Parameters)
	if !ok || in.Context == nil || len(in.Context.Positions) == 0 {
		return
	}
	collateral := decimal.Zero
	for _, pos := range in.Context.Positions {
		if pos.Type == model.PositionLending {
			collateral = collateral.Add(pos.Value)
		}
	}
	maxBorrow := collateral.Mul(v.rules.MaxLTV)
	if amt.GreaterThan(maxBorrow) {
		res.add(model.CommandValidationError{
			Field:      "amount",
			Code:       CodeInsufficientCollateral,
			Message:    fmt.Sprintf("amount %s exceeds the maximum borrow of %s against %s of collateral", amt.String(), id.FormatFixed(maxBorrow, 2), collateral.String()),
			Severity:   model.SeverityError,
			Suggestion: id.FormatFixed(maxBorrow, 2),
		})
		return
	}
	if amt.GreaterThan(maxBorrow.Mul(v.rules.BorrowUtilizationPct)) {
		res.add(model.CommandValidationError{
			Field:    "amount",
			Code:     CodeHighUtilization,
			Message:  fmt.Sprintf("borrowing %s uses more than %s%% of your borrow capacity", amt.String(), v.rules.BorrowUtilizationPct.Shift(2).String()),
			Severity: model.SeverityWarning,
		})
	}
}

func checkSwap(v *Validator, res *Result, in Input) {
	p := res.Parameters.Primary
	if p.FromToken != "" && strings.EqualFold(p.FromToken, p.ToToken) {
		res.add(model.CommandValidationError{
			Field:    "to_token",
			Code:     CodeSameToken,
			Message:  fmt.Sprintf("cannot swap %s for itself", p.FromToken),
			Severity: model.SeverityError,
		})
	}
	v.checkBalance(res, in, p.FromToken, false)
	if impact := res.Parameters.Derived.PriceImpact; impact != nil && *impact > v.rules.MaxPriceImpactPct {
		res.add(model.CommandValidationError{
			Field:    "price_impact",
			Code:     CodeHighPriceImpact,
			Message:  fmt.Sprintf("price impact %.2f%% is above %s%%", *impact, formatFloat(v.rules.MaxPriceImpactPct)),
			Severity: model.SeverityWarning,
		})
	}
}

func checkAddLiquidity(v *Validator, res *Result, _ Input) {
	p := res.Parameters.Primary
	for _, token := range []string{p.Token, p.ToToken} {
		if token == "" || v.rules.IsLiquid(token) {
			continue
		}
		res.add(model.CommandValidationError{
			Field:      "token",
			Code:       CodeIlliquidToken,
			Message:    fmt.Sprintf("%s is outside the liquid token set; pools may be thin", token),
			Severity:   model.SeverityWarning,
			Suggestion: fmt.Sprintf("consider one of %s", joinNames(v.rules.LiquidTokens)),
		})
	}
}
