package risk

import (
	"fmt"
	"math"
	"strings"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
)

type TimeHorizon string

const (
	HorizonShort  TimeHorizon = "short"
	HorizonMedium TimeHorizon = "medium"
	HorizonLong   TimeHorizon = "long"
)

type Capacity struct {
	PortfolioValue float64 `yaml:"portfolio_value" json:"portfolio_value"`
	MaxLossPct     float64 `yaml:"max_loss_pct" json:"max_loss_pct,omitempty"`
}

type Preferences struct {
	PreferredProtocols []string `yaml:"preferred_protocols" json:"preferred_protocols,omitempty"`
	ExcludedProtocols  []string `yaml:"excluded_protocols" json:"excluded_protocols,omitempty"`
	AllowLeverage      bool     `yaml:"allow_leverage" json:"allow_leverage"`
	PreferStablecoins  bool     `yaml:"prefer_stablecoins" json:"prefer_stablecoins"`
}

// Questionnaire is the structured input a profile is built from. Tolerance
// may be a level name or free text.
type Questionnaire struct {
	Tolerance   string      `yaml:"tolerance" json:"tolerance"`
	Experience  string      `yaml:"experience" json:"experience"`
	TimeHorizon TimeHorizon `yaml:"time_horizon" json:"time_horizon"`
	Capacity    Capacity    `yaml:"capacity" json:"capacity"`
	Preferences Preferences `yaml:"preferences" json:"preferences"`
}

type Profile struct {
	Tolerance           Level          `json:"tolerance"`
	ToleranceConfidence float64        `json:"tolerance_confidence"`
	Experience          Experience     `json:"experience"`
	TimeHorizon         TimeHorizon    `json:"time_horizon"`
	MaxLeverage         float64        `json:"max_leverage"`
	MaxPositionPct      float64        `json:"max_position_pct"`
	PortfolioValue      float64        `json:"portfolio_value,omitempty"`
	AllowedOperations   []model.Intent `json:"allowed_operations"`
	Preferences         Preferences    `json:"preferences"`
	Notes               []string       `json:"notes,omitempty"`
}

var maxLeverageByTolerance = map[Level]float64{
	VeryLow:  1,
	Low:      1.5,
	Medium:   3,
	High:     5,
	VeryHigh: 10,
}

var maxPositionByTolerance = map[Level]float64{
	VeryLow:  0.1,
	Low:      0.2,
	Medium:   0.3,
	High:     0.5,
	VeryHigh: 0.8,
}

// Operations unlocked at each experience level; each level includes the
// ones before it.
var operationsByExperience = [][]model.Intent{
	{
		model.IntentLend, model.IntentWithdraw, model.IntentRepay, model.IntentSwap,
		model.IntentStake, model.IntentUnstake, model.IntentPortfolioStatus,
	},
	{model.IntentBorrow, model.IntentAddLiquidity, model.IntentRemoveLiquidity},
	{model.IntentOpenPosition, model.IntentClosePosition, model.IntentArbitrage},
	{model.IntentCrossProtocolArbitrage},
}

// BuildProfile derives limits from a questionnaire.
func BuildProfile(q Questionnaire) (p Profile, err error) {
	defer clierr.Recover(clierr.KindRiskAnalysis, &err)

	exp := Beginner
	if strings.TrimSpace(q.Experience) != "" {
		parsed, ok := ParseExperience(q.Experience)
		if !ok {
			return Profile{}, clierr.Domain(clierr.KindRiskAnalysis, ReasonInvalidInput,
				fmt.Sprintf("unknown experience level %q (want beginner, intermediate, advanced or expert)", q.Experience))
		}
		exp = parsed
	}
	horizon := q.TimeHorizon
	switch horizon {
	case "":
		horizon = HorizonMedium
	case HorizonShort, HorizonMedium, HorizonLong:
	default:
		return Profile{}, clierr.Domain(clierr.KindRiskAnalysis, ReasonInvalidInput,
			fmt.Sprintf("unknown time horizon %q (want short, medium or long)", q.TimeHorizon))
	}
	if q.Capacity.PortfolioValue < 0 || q.Capacity.MaxLossPct < 0 || q.Capacity.MaxLossPct > 100 {
		return Profile{}, clierr.Domain(clierr.KindRiskAnalysis, ReasonInvalidInput, "capacity values are out of range")
	}

	tol := ToleranceResult{Level: Medium, Confidence: 0.3, Defaulted: true}
	if strings.TrimSpace(q.Tolerance) != "" {
		tol, err = InterpretTolerance(q.Tolerance)
		if err != nil {
			return Profile{}, err
		}
	}

	p = Profile{
		Tolerance:           tol.Level,
		ToleranceConfidence: tol.Confidence,
		Experience:          exp,
		TimeHorizon:         horizon,
		PortfolioValue:      q.Capacity.PortfolioValue,
		Preferences:         q.Preferences,
	}
	if tol.Defaulted {
		p.Notes = append(p.Notes, "risk tolerance not recognised; assuming medium")
	}
	if horizon == HorizonShort && p.Tolerance.Ordinal() > Medium.Ordinal() {
		p.Tolerance = Medium
		p.Notes = append(p.Notes, "short time horizon caps tolerance at medium")
	}
	if q.Capacity.MaxLossPct > 0 && q.Capacity.MaxLossPct < 10 && p.Tolerance.Ordinal() > Low.Ordinal() {
		p.Tolerance = Low
		p.Notes = append(p.Notes, "maximum acceptable loss below 10% caps tolerance at low")
	}

	p.MaxLeverage = maxLeverageByTolerance[p.Tolerance]
	if exp == Beginner {
		p.MaxLeverage = math.Min(p.MaxLeverage, 2)
	}
	if !q.Preferences.AllowLeverage {
		p.MaxLeverage = 1
	}
	p.MaxPositionPct = maxPositionByTolerance[p.Tolerance]
	for i := 0; i <= exp.ordinal(); i++ {
		p.AllowedOperations = append(p.AllowedOperations, operationsByExperience[i]...)
	}
	return p, nil
}

func (p Profile) allows(intent model.Intent) bool {
	for _, op := range p.AllowedOperations {
		if op == intent {
			return true
		}
	}
	return false
}

type Compatibility struct {
	Compatible bool       `json:"compatible"`
	Issues     []string   `json:"issues,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
	Assessment Assessment `json:"assessment"`
}

// CheckCompatibility compares a proposed operation against a profile's
// tolerance, capacity and experience.
func (p *Profiler) CheckCompatibility(profile Profile, in Input) (res Compatibility, err error) {
	defer clierr.Recover(clierr.KindRiskAnalysis, &err)

	if in.Experience == "" {
		in.Experience = profile.Experience
	}
	if in.PortfolioValue == 0 {
		in.PortfolioValue = profile.PortfolioValue
	}
	assessment, err := p.Assess(in)
	if err != nil {
		return Compatibility{}, err
	}
	res.Assessment = assessment

	if assessment.Level.Ordinal() > profile.Tolerance.Ordinal() {
		res.Issues = append(res.Issues, fmt.Sprintf("operation risk %s exceeds %s tolerance", assessment.Level, profile.Tolerance))
	}
	lev := math.Max(in.Leverage, 1)
	if lev > profile.MaxLeverage {
		res.Issues = append(res.Issues, fmt.Sprintf("%.1fx leverage exceeds the profile maximum of %.1fx", lev, profile.MaxLeverage))
	}
	if profile.PortfolioValue > 0 && profile.MaxPositionPct > 0 {
		exposure := in.Amount * lev / profile.PortfolioValue
		switch {
		case exposure > profile.MaxPositionPct:
			res.Issues = append(res.Issues, fmt.Sprintf("exposure of %.0f%% exceeds the %.0f%% position limit", exposure*100, profile.MaxPositionPct*100))
		case exposure > profile.MaxPositionPct*0.8:
			res.Warnings = append(res.Warnings, fmt.Sprintf("exposure of %.0f%% is close to the %.0f%% position limit", exposure*100, profile.MaxPositionPct*100))
		}
	}
	if !profile.allows(in.Intent) {
		res.Issues = append(res.Issues, fmt.Sprintf("%s is not recommended at %s experience", in.Intent, profile.Experience))
	}
	for _, excluded := range profile.Preferences.ExcludedProtocols {
		if in.Protocol != "" && strings.EqualFold(excluded, in.Protocol) {
			res.Issues = append(res.Issues, fmt.Sprintf("protocol %s is excluded by preference", in.Protocol))
		}
	}
	res.Warnings = append(res.Warnings, assessment.Warnings...)
	res.Compatible = len(res.Issues) == 0
	return res, nil
}
