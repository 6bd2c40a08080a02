package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ggonzalez94/defi-intent/internal/amount"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"go.uber.org/zap"
)

const ReasonInvalidEntity = "INVALID_ENTITY"

// extraction is the first pass over the entities. Token and protocol text is
// kept as written; the validator canonicalizes it and reports unknown names
// with suggestions.
type extraction struct {
	params           model.CommandParameters
	amountConfidence float64
}

func (p *Pipeline) extract(req Request) (extraction, error) {
	out := extraction{amountConfidence: 1}
	params := model.CommandParameters{Optional: req.Optional}
	if req.Quote != nil {
		params.Derived = *req.Quote
	}

	tokens := texts(model.EntitiesOf(req.Entities, model.EntityToken))
	assignTokens(&params.Primary, req.Intent, tokens)

	if protocols := texts(model.EntitiesOf(req.Entities, model.EntityProtocol)); len(protocols) > 0 {
		params.Primary.Protocol = protocols[0]
	}

	if amounts := texts(model.EntitiesOf(req.Entities, model.EntityAmount)); len(amounts) > 0 {
		base := params.Primary.Token
		if base == "" {
			base = params.Primary.FromToken
		}
		res, err := p.amounts.Parse(amounts[0], amount.ContextFor(req.Context, p.symbol(base)))
		if err != nil {
			return extraction{}, err
		}
		params.Primary.Amount = res.Exact.String()
		out.amountConfidence = res.Confidence
		if len(amounts) > 1 {
			p.log.Debug("several amounts extracted, using the first", zap.Strings("amounts", amounts))
		}
	}

	if lev := texts(model.EntitiesOf(req.Entities, model.EntityLeverage)); len(lev) > 0 {
		v, err := parseNumber(lev[0], "x")
		if err != nil {
			return extraction{}, invalidEntity(model.EntityLeverage, lev[0])
		}
		params.Primary.Leverage = model.Float(v)
	}
	if slip := texts(model.EntitiesOf(req.Entities, model.EntitySlippage)); len(slip) > 0 {
		v, err := parseNumber(slip[0], "%")
		if err != nil {
			return extraction{}, invalidEntity(model.EntitySlippage, slip[0])
		}
		params.Primary.Slippage = model.Float(v)
	}
	out.params = params
	return out, nil
}

// assignTokens maps token entities to parameter slots. A swap with a single
// token stays directionless so the token-direction question can be asked.
func assignTokens(p *model.PrimaryParameters, intent model.Intent, tokens []string) {
	switch {
	case len(tokens) == 0:
	case intent == model.IntentSwap && len(tokens) >= 2:
		p.FromToken, p.ToToken = tokens[0], tokens[1]
	case intent == model.IntentAddLiquidity && len(tokens) >= 2:
		p.Token, p.ToToken = tokens[0], tokens[1]
	default:
		p.Token = tokens[0]
	}
}

// symbol is the canonical spelling of token when it resolves, used to look
// up balances for relative amounts.
func (p *Pipeline) symbol(token string) string {
	if token == "" {
		return ""
	}
	res, err := p.assets.Resolve(token)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(token))
	}
	return res.Asset.Symbol
}

func texts(entities []model.FinancialEntity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if t := strings.TrimSpace(e.Text()); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseNumber(text, suffix string) (float64, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimSpace(strings.TrimSuffix(t, suffix))
	return strconv.ParseFloat(t, 64)
}

func invalidEntity(typ model.EntityType, text string) error {
	return clierr.Domain(clierr.KindParameterValidation, ReasonInvalidEntity,
		fmt.Sprintf("%s %q is not a number", typ, text)).
		WithDetail("entity_type", string(typ))
}

// confidence averages entity confidences and scales by the amount parse.
func confidence(entities []model.FinancialEntity, amountConfidence float64) float64 {
	sum, n := 0.0, 0
	for _, e := range entities {
		if e.Confidence > 0 {
			sum += e.Confidence
			n++
		}
	}
	c := 1.0
	if n > 0 {
		c = sum / float64(n)
	}
	return roundTo(c*amountConfidence, 4)
}
