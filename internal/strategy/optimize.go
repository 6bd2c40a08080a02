package strategy

import (
	"fmt"
	"math"
	"sort"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/risk"
)

type AdjustmentType string

const (
	AdjustAmount   AdjustmentType = "amount"
	AdjustRisk     AdjustmentType = "risk"
	AdjustDuration AdjustmentType = "duration"
	AdjustLeverage AdjustmentType = "leverage"
)

// Adjustment is a change to the criteria that would make a strategy fit.
type Adjustment struct {
	Type        AdjustmentType `json:"type"`
	Current     string         `json:"current"`
	Required    string         `json:"required"`
	Delta       float64        `json:"delta"`
	Description string         `json:"description"`
}

func SuggestAdjustments(s Info, c Criteria) []Adjustment {
	out := []Adjustment{}
	if c.Amount > 0 && c.Amount < s.MinAmount {
		out = append(out, Adjustment{
			Type:        AdjustAmount,
			Current:     formatUSD(c.Amount),
			Required:    formatUSD(s.MinAmount),
			Delta:       s.MinAmount - c.Amount,
			Description: fmt.Sprintf("add %s to reach the %s minimum", formatUSD(s.MinAmount-c.Amount), formatUSD(s.MinAmount)),
		})
	}
	if c.Amount > 0 && s.MaxAmount > 0 && c.Amount > s.MaxAmount {
		out = append(out, Adjustment{
			Type:        AdjustAmount,
			Current:     formatUSD(c.Amount),
			Required:    formatUSD(s.MaxAmount),
			Delta:       s.MaxAmount - c.Amount,
			Description: fmt.Sprintf("reduce the amount to at most %s", formatUSD(s.MaxAmount)),
		})
	}
	if c.RiskTolerance != "" && s.Risk.Ordinal() > c.RiskTolerance.Ordinal() {
		out = append(out, Adjustment{
			Type:        AdjustRisk,
			Current:     string(c.RiskTolerance),
			Required:    string(s.Risk),
			Delta:       float64(s.Risk.Ordinal() - c.RiskTolerance.Ordinal()),
			Description: fmt.Sprintf("accept %s risk instead of %s", s.Risk, c.RiskTolerance),
		})
	}
	if s.DurationDays > 0 && c.DurationDays > 0 && c.DurationDays < s.DurationDays {
		out = append(out, Adjustment{
			Type:        AdjustDuration,
			Current:     fmt.Sprintf("%d days", c.DurationDays),
			Required:    fmt.Sprintf("%d days", s.DurationDays),
			Delta:       float64(s.DurationDays - c.DurationDays),
			Description: fmt.Sprintf("commit funds for at least %d days", s.DurationDays),
		})
	}
	if s.UsesLeverage && !c.AllowLeverage {
		out = append(out, Adjustment{
			Type:        AdjustLeverage,
			Current:     "1.0x",
			Required:    fmt.Sprintf("%.1fx", s.MaxLeverage),
			Delta:       s.MaxLeverage - 1,
			Description: fmt.Sprintf("allow leverage up to %.1fx", s.MaxLeverage),
		})
	}
	return out
}

func formatUSD(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

type Holding struct {
	StrategyID string  `json:"strategy_id" yaml:"strategy_id"`
	Amount     float64 `json:"amount" yaml:"amount"`
}

type SuggestionType string

const (
	SuggestYieldIncrease   SuggestionType = "yield_increase"
	SuggestRiskReduction   SuggestionType = "risk_reduction"
	SuggestDiversification SuggestionType = "diversification"
	SuggestGasOptimization SuggestionType = "gas_optimization"
)

var suggestionOrder = map[SuggestionType]int{
	SuggestRiskReduction:   0,
	SuggestYieldIncrease:   1,
	SuggestDiversification: 2,
	SuggestGasOptimization: 3,
}

type Suggestion struct {
	Type            SuggestionType `json:"type"`
	StrategyID      string         `json:"strategy_id,omitempty"`
	Alternative     string         `json:"alternative,omitempty"`
	Protocol        string         `json:"protocol,omitempty"`
	Description     string         `json:"description"`
	EstimatedImpact float64        `json:"estimated_impact"`
}

const (
	yieldIncreaseRatio   = 1.2
	concentrationLimit   = 0.6
	gasOptimizationLimit = 500000
)

// Optimize reviews current holdings and returns suggestions ranked by
// estimated impact.
func (m *Matcher) Optimize(holdings []Holding, tolerance risk.Level) (out []Suggestion, err error) {
	defer clierr.Recover(clierr.KindStrategyMatching, &err)

	if tolerance == "" {
		tolerance = risk.Medium
	}
	if tolerance.Ordinal() < 0 {
		return nil, clierr.Domain(clierr.KindStrategyMatching, ReasonInvalidCriteria, fmt.Sprintf("unknown risk tolerance %q", tolerance))
	}
	held := make([]Info, 0, len(holdings))
	total := 0.0
	for _, h := range holdings {
		if h.Amount < 0 || math.IsNaN(h.Amount) {
			return nil, clierr.Domain(clierr.KindStrategyMatching, ReasonInvalidCriteria, fmt.Sprintf("holding %s has a negative amount", h.StrategyID))
		}
		s, err := m.Get(h.StrategyID)
		if err != nil {
			return nil, err
		}
		held = append(held, s)
		total += h.Amount
	}
	out = []Suggestion{}
	if total == 0 {
		return out, nil
	}

	exposure := map[string]float64{}
	for i, h := range holdings {
		s := held[i]
		share := h.Amount / total

		if alt, ok := m.betterYield(s, tolerance); ok {
			gain := (alt.APY - s.APY) / math.Max(s.APY, 1)
			out = append(out, Suggestion{
				Type:            SuggestYieldIncrease,
				StrategyID:      s.ID,
				Alternative:     alt.ID,
				Description:     fmt.Sprintf("%s earns %.1f%% APY versus %.1f%% in %s", alt.Name, alt.APY, s.APY, s.Name),
				EstimatedImpact: impact(gain * share),
			})
		}
		if s.Risk.Ordinal() > tolerance.Ordinal() {
			diff := float64(s.Risk.Ordinal() - tolerance.Ordinal())
			sug := Suggestion{
				Type:            SuggestRiskReduction,
				StrategyID:      s.ID,
				Description:     fmt.Sprintf("%s is %s risk, above your %s tolerance", s.Name, s.Risk, tolerance),
				EstimatedImpact: impact(0.25*diff + 0.5*share),
			}
			if alt, ok := m.saferAlternative(s, tolerance); ok {
				sug.Alternative = alt.ID
			}
			out = append(out, sug)
		}
		if gas := s.maxStepGas(); gas > gasOptimizationLimit {
			out = append(out, Suggestion{
				Type:            SuggestGasOptimization,
				StrategyID:      s.ID,
				Description:     fmt.Sprintf("%s has a step estimated at %d gas; batch or rebalance less often", s.Name, gas),
				EstimatedImpact: impact(0.1 + 0.4*math.Min(1, float64(gas-gasOptimizationLimit)/gasOptimizationLimit)),
			})
		}
		for _, p := range s.Protocols {
			exposure[p] += h.Amount / float64(len(s.Protocols))
		}
	}

	protocols := make([]string, 0, len(exposure))
	for p := range exposure {
		protocols = append(protocols, p)
	}
	sort.Strings(protocols)
	for _, p := range protocols {
		share := exposure[p] / total
		if share <= concentrationLimit {
			continue
		}
		out = append(out, Suggestion{
			Type:            SuggestDiversification,
			Protocol:        p,
			Description:     fmt.Sprintf("%.0f%% of holdings sit on %s; spread exposure across protocols", share*100, p),
			EstimatedImpact: impact(share),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.EstimatedImpact != b.EstimatedImpact {
			return a.EstimatedImpact > b.EstimatedImpact
		}
		if a.Type != b.Type {
			return suggestionOrder[a.Type] < suggestionOrder[b.Type]
		}
		if a.StrategyID != b.StrategyID {
			return a.StrategyID < b.StrategyID
		}
		return a.Protocol < b.Protocol
	})
	return out, nil
}

func impact(v float64) float64 {
	return math.Round(math.Min(1, math.Max(0, v))*1e4) / 1e4
}

// betterYield finds the highest-APY strategy within tolerance paying at
// least 20% more than s.
func (m *Matcher) betterYield(s Info, tolerance risk.Level) (Info, bool) {
	var best Info
	found := false
	for _, alt := range m.strategies {
		if alt.ID == s.ID || alt.Risk.Ordinal() > tolerance.Ordinal() {
			continue
		}
		if alt.APY < s.APY*yieldIncreaseRatio {
			continue
		}
		if !found || alt.APY > best.APY || (alt.APY == best.APY && alt.ID < best.ID) {
			best, found = alt, true
		}
	}
	return best, found
}

// saferAlternative picks the highest-APY strategy within tolerance that
// shares a token with s.
func (m *Matcher) saferAlternative(s Info, tolerance risk.Level) (Info, bool) {
	var best Info
	found := false
	for _, alt := range m.strategies {
		if alt.ID == s.ID || alt.Risk.Ordinal() > tolerance.Ordinal() || !sharesToken(s, alt) {
			continue
		}
		if !found || alt.APY > best.APY || (alt.APY == best.APY && alt.ID < best.ID) {
			best, found = alt, true
		}
	}
	return best, found
}

func sharesToken(a, b Info) bool {
	for _, t := range a.Tokens {
		if containsFold(b.Tokens, t) {
			return true
		}
	}
	return false
}
