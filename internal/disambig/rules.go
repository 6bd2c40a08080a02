package disambig

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/registry"
)

func detectUnclearIntent(_ *Engine, s Subject) bool {
	return s.Intent == "" || s.Intent == model.IntentUnknown
}

type intentHint struct {
	pattern *regexp.Regexp
	intent  model.Intent
}

var intentHints = []intentHint{
	{pattern: regexp.MustCompile(`\b(lend|supply|deposit|earn)\b`), intent: model.IntentLend},
	{pattern: regexp.MustCompile(`\b(swap|trade|exchange|convert|sell|buy)\b`), intent: model.IntentSwap},
	{pattern: regexp.MustCompile(`\bborrow\b`), intent: model.IntentBorrow},
	{pattern: regexp.MustCompile(`\b(liquidity|lp|pool)\b`), intent: model.IntentAddLiquidity},
	{pattern: regexp.MustCompile(`\bstake\b`), intent: model.IntentStake},
	{pattern: regexp.MustCompile(`\b(withdraw|redeem)\b`), intent: model.IntentWithdraw},
	{pattern: regexp.MustCompile(`\brepay\b`), intent: model.IntentRepay},
	{pattern: regexp.MustCompile(`\b(long|short|leverage|position)\b`), intent: model.IntentOpenPosition},
}

var fallbackIntents = []model.Intent{model.IntentLend, model.IntentSwap, model.IntentBorrow, model.IntentAddLiquidity}

var intentLabels = map[model.Intent]string{
	model.IntentLend:         "Lend tokens to earn interest",
	model.IntentSwap:         "Swap one token for another",
	model.IntentBorrow:       "Borrow against collateral",
	model.IntentAddLiquidity: "Provide liquidity to a pool",
	model.IntentStake:        "Stake tokens",
	model.IntentWithdraw:     "Withdraw a deposit",
	model.IntentRepay:        "Repay a loan",
	model.IntentOpenPosition: "Open a leveraged position",
}

func generateUnclearIntent(e *Engine, s Subject) model.DisambiguationOptions {
	text := strings.ToLower(s.Input)
	seen := map[model.Intent]bool{}
	opts := []model.DisambiguationOption{}
	add := func(intent model.Intent, confidence float64) {
		if seen[intent] || len(opts) >= 4 {
			return
		}
		seen[intent] = true
		opts = append(opts, model.DisambiguationOption{
			ID:          string(intent),
			Label:       intentLabels[intent],
			Description: fmt.Sprintf("treat the request as %s", strings.ReplaceAll(string(intent), "_", " ")),
			Intent:      intent,
			Confidence:  confidence,
		})
	}
	for _, hint := range intentHints {
		if hint.pattern.MatchString(text) {
			add(hint.intent, 0.7)
		}
	}
	for _, intent := range fallbackIntents {
		add(intent, 0.4)
	}
	return model.DisambiguationOptions{
		Question:  "What would you like to do?",
		Options:   opts,
		TimeoutMS: e.cfg.UnclearIntentTimeout.Milliseconds(),
	}
}

func detectTokenDirection(_ *Engine, s Subject) bool {
	if s.Intent != model.IntentSwap {
		return false
	}
	p := s.Parameters.Primary
	if p.FromToken != "" || p.ToToken != "" {
		return false
	}
	return len(model.EntitiesOf(s.Entities, model.EntityToken)) == 1 &&
		len(model.EntitiesOf(s.Entities, model.EntityAmount)) == 1
}

func generateTokenDirection(e *Engine, s Subject) model.DisambiguationOptions {
	token := s.Parameters.Primary.Token
	if token == "" {
		token = strings.ToUpper(model.EntitiesOf(s.Entities, model.EntityToken)[0].Text())
	}
	amt := s.Parameters.Primary.Amount
	if amt == "" {
		amt = e.formatAmount(model.EntitiesOf(s.Entities, model.EntityAmount)[0].Text(), s, token)
	}
	return model.DisambiguationOptions{
		Question: fmt.Sprintf("Do you want to swap %s %s for another token, or buy %s with %s of another token?", amt, token, token, amt),
		Options: []model.DisambiguationOption{
			{
				ID:          OptionFromToken,
				Label:       fmt.Sprintf("Sell %s %s", amt, token),
				Description: fmt.Sprintf("%s is the token you pay with", token),
				Parameters:  model.CommandParameters{Primary: model.PrimaryParameters{FromToken: token, Amount: amt}},
				Confidence:  0.6,
			},
			{
				ID:          OptionToToken,
				Label:       fmt.Sprintf("Buy %s", token),
				Description: fmt.Sprintf("%s is the token you receive", token),
				Parameters:  model.CommandParameters{Primary: model.PrimaryParameters{ToToken: token, Amount: amt}},
				Confidence:  0.4,
			},
		},
	}
}

type protocolCandidate struct {
	protocol registry.Protocol
	uses     int
}

// protocolAmbiguity is the one place deciding whether the venue is open.
// With history on two or more viable protocols the question is a choice
// between them (by usage); otherwise it is a missing protocol question over
// every viable venue in rank order.
func (e *Engine) protocolAmbiguity(s Subject) (model.AmbiguityType, []protocolCandidate, bool) {
	if s.Parameters.Primary.Protocol != "" || len(model.EntitiesOf(s.Entities, model.EntityProtocol)) > 0 {
		return "", nil, false
	}
	if s.Intent == "" || s.Intent == model.IntentUnknown {
		return "", nil, false
	}
	viable := e.registry.Viable(s.Intent)
	if len(viable) <= 1 {
		return "", nil, false
	}
	candidates := make([]protocolCandidate, len(viable))
	for i, p := range viable {
		candidates[i] = protocolCandidate{protocol: p}
	}
	used := 0
	if s.Context != nil {
		for _, pos := range s.Context.Positions {
			for i := range candidates {
				if registryMatches(e.registry, pos.Protocol, candidates[i].protocol) {
					if candidates[i].uses == 0 {
						used++
					}
					candidates[i].uses++
				}
			}
		}
	}
	// Stable sort keeps rank order among equally used venues.
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].uses > candidates[j].uses })
	if used >= 2 {
		history := candidates[:0:0]
		for _, c := range candidates {
			if c.uses > 0 {
				history = append(history, c)
			}
		}
		return model.AmbiguityProtocolChoice, history, true
	}
	return model.AmbiguityMissingProtocol, candidates, true
}

func registryMatches(reg *registry.Registry, name string, p registry.Protocol) bool {
	found, ok := reg.Lookup(name)
	return ok && found.Name == p.Name
}

func detectMissingProtocol(e *Engine, s Subject) bool {
	typ, _, ok := e.protocolAmbiguity(s)
	return ok && typ == model.AmbiguityMissingProtocol
}

func detectProtocolChoice(e *Engine, s Subject) bool {
	typ, _, ok := e.protocolAmbiguity(s)
	return ok && typ == model.AmbiguityProtocolChoice
}

func generateProtocolOptions(e *Engine, s Subject) model.DisambiguationOptions {
	typ, candidates, _ := e.protocolAmbiguity(s)
	if len(candidates) > e.cfg.MaxProtocolOptions {
		candidates = candidates[:e.cfg.MaxProtocolOptions]
	}
	totalUses := 0
	for _, c := range candidates {
		totalUses += c.uses
	}
	opts := make([]model.DisambiguationOption, 0, len(candidates))
	for i, c := range candidates {
		desc := fmt.Sprintf("%s venue", c.protocol.Category)
		confidence := math.Max(0.5, 0.9-0.1*float64(i))
		if c.uses > 0 {
			desc += fmt.Sprintf(", used in %d of your positions", c.uses)
		}
		if typ == model.AmbiguityProtocolChoice && totalUses > 0 {
			confidence = math.Round(float64(c.uses)/float64(totalUses)*100) / 100
		}
		opts = append(opts, model.DisambiguationOption{
			ID:          c.protocol.Name,
			Label:       c.protocol.DisplayName,
			Description: desc,
			Parameters:  model.CommandParameters{Primary: model.PrimaryParameters{Protocol: c.protocol.Name}},
			Confidence:  confidence,
		})
	}
	question := fmt.Sprintf("Which protocol should be used to %s?", strings.ReplaceAll(string(s.Intent), "_", " "))
	if typ == model.AmbiguityProtocolChoice {
		question = fmt.Sprintf("You have positions on several protocols. Which one should be used to %s?", strings.ReplaceAll(string(s.Intent), "_", " "))
	}
	return model.DisambiguationOptions{Question: question, Options: opts}
}

func detectMultipleAmounts(_ *Engine, s Subject) bool {
	return len(distinctTexts(model.EntitiesOf(s.Entities, model.EntityAmount))) > 1
}

func generateMultipleAmounts(e *Engine, s Subject) model.DisambiguationOptions {
	token := s.Parameters.Primary.Token
	if token == "" {
		token = s.Parameters.Primary.FromToken
	}
	opts := []model.DisambiguationOption{}
	for i, raw := range distinctTexts(model.EntitiesOf(s.Entities, model.EntityAmount)) {
		value := e.formatAmount(raw, s, token)
		label := strings.TrimSpace(value + " " + token)
		opts = append(opts, model.DisambiguationOption{
			ID:          fmt.Sprintf("amount_%d", i+1),
			Label:       "Use " + label,
			Description: fmt.Sprintf("from %q", raw),
			Parameters:  model.CommandParameters{Primary: model.PrimaryParameters{Amount: value}},
			Confidence:  math.Max(0.3, 0.6-0.1*float64(i)),
		})
	}
	return model.DisambiguationOptions{
		Question: "You mentioned more than one amount. Which one should be used?",
		Options:  opts,
	}
}

func conflictingValues(s Subject, typ model.EntityType) []float64 {
	values := []float64{}
	for _, text := range distinctTexts(model.EntitiesOf(s.Entities, typ)) {
		v, ok := parseMultiplier(text)
		if !ok {
			continue
		}
		dup := false
		for _, existing := range values {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return nil
	}
	return values
}

// parseMultiplier reads "3", "3x", "0.5%" style numbers.
func parseMultiplier(text string) (float64, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimSuffix(strings.TrimSuffix(t, "x"), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
	return v, err == nil
}

func detectParameterConflict(_ *Engine, s Subject) bool {
	return conflictingValues(s, model.EntityLeverage) != nil || conflictingValues(s, model.EntitySlippage) != nil
}

func generateParameterConflict(_ *Engine, s Subject) model.DisambiguationOptions {
	if values := conflictingValues(s, model.EntityLeverage); values != nil {
		opts := make([]model.DisambiguationOption, 0, len(values))
		for i, v := range values {
			opts = append(opts, model.DisambiguationOption{
				ID:         fmt.Sprintf("leverage_%s", strconv.FormatFloat(v, 'f', -1, 64)),
				Label:      fmt.Sprintf("%sx leverage", strconv.FormatFloat(v, 'f', -1, 64)),
				Parameters: model.CommandParameters{Primary: model.PrimaryParameters{Leverage: model.Float(v)}},
				Confidence: math.Max(0.3, 0.6-0.1*float64(i)),
			})
		}
		return model.DisambiguationOptions{Question: "You mentioned different leverage values. Which one should be used?", Options: opts}
	}
	values := conflictingValues(s, model.EntitySlippage)
	opts := make([]model.DisambiguationOption, 0, len(values))
	for i, v := range values {
		opts = append(opts, model.DisambiguationOption{
			ID:         fmt.Sprintf("slippage_%s", strconv.FormatFloat(v, 'f', -1, 64)),
			Label:      fmt.Sprintf("%s%% slippage", strconv.FormatFloat(v, 'f', -1, 64)),
			Parameters: model.CommandParameters{Primary: model.PrimaryParameters{Slippage: model.Float(v)}},
			Confidence: math.Max(0.3, 0.6-0.1*float64(i)),
		})
	}
	return model.DisambiguationOptions{Question: "You mentioned different slippage limits. Which one should be used?", Options: opts}
}

var riskyIntents = map[model.Intent]bool{
	model.IntentOpenPosition:           true,
	model.IntentArbitrage:              true,
	model.IntentCrossProtocolArbitrage: true,
}

func (e *Engine) riskReasons(s Subject) []string {
	reasons := []string{}
	if lev := s.Parameters.Primary.Leverage; lev != nil && *lev > e.cfg.RiskLeverageThreshold {
		reasons = append(reasons, fmt.Sprintf("%sx leverage", strconv.FormatFloat(*lev, 'f', -1, 64)))
	}
	if e.amountValue(s) > e.cfg.RiskAmountThreshold {
		reasons = append(reasons, fmt.Sprintf("an amount above %s", strconv.FormatFloat(e.cfg.RiskAmountThreshold, 'f', -1, 64)))
	}
	if riskyIntents[s.Intent] {
		reasons = append(reasons, fmt.Sprintf("a high-risk %s operation", strings.ReplaceAll(string(s.Intent), "_", " ")))
	}
	return reasons
}

func detectRiskConfirmation(e *Engine, s Subject) bool {
	return len(e.riskReasons(s)) > 0
}

func generateRiskConfirmation(e *Engine, s Subject) model.DisambiguationOptions {
	opts := []model.DisambiguationOption{{
		ID:          OptionConfirm,
		Label:       "Proceed",
		Description: "continue with the parameters as given",
		Confidence:  0.5,
	}}
	if reduced, desc, ok := e.reducedParameters(s); ok {
		opts = append(opts, model.DisambiguationOption{
			ID:          OptionReduce,
			Label:       "Reduce exposure",
			Description: desc,
			Parameters:  reduced,
			Confidence:  0.3,
		})
	}
	opts = append(opts, model.DisambiguationOption{
		ID:          OptionCancel,
		Label:       "Cancel",
		Description: "abandon this operation",
		Confidence:  0.2,
	})
	return model.DisambiguationOptions{
		Question:  fmt.Sprintf("This involves %s. Do you want to proceed?", strings.Join(e.riskReasons(s), " and ")),
		Options:   opts,
		TimeoutMS: e.cfg.RiskConfirmationTimeout.Milliseconds(),
	}
}

func (e *Engine) reducedParameters(s Subject) (model.CommandParameters, string, bool) {
	if lev := s.Parameters.Primary.Leverage; lev != nil && *lev > e.cfg.RiskLeverageThreshold {
		return model.CommandParameters{Primary: model.PrimaryParameters{Leverage: model.Float(e.cfg.RiskLeverageThreshold)}},
			fmt.Sprintf("lower leverage to %sx", strconv.FormatFloat(e.cfg.RiskLeverageThreshold, 'f', -1, 64)), true
	}
	if v := e.amountValue(s); v > 0 {
		half := strconv.FormatFloat(v/2, 'f', -1, 64)
		return model.CommandParameters{Primary: model.PrimaryParameters{Amount: half}},
			fmt.Sprintf("halve the amount to %s", half), true
	}
	return model.CommandParameters{}, "", false
}
