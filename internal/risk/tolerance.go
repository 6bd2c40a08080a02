package risk

import (
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
)

type ToleranceResult struct {
	Level      Level   `json:"level"`
	Confidence float64 `json:"confidence"`
	Matched    string  `json:"matched,omitempty"`
	Defaulted  bool    `json:"defaulted,omitempty"`
}

type toleranceRule struct {
	pattern *regexp.Regexp
	level   Level
}

func keyword(phrase string, level Level) toleranceRule {
	return toleranceRule{pattern: regexp.MustCompile(`\b` + phrase + `\b`), level: level}
}

// Longer phrases first so "very aggressive" is not read as "aggressive".
var directTolerance = []toleranceRule{
	keyword("very conservative", VeryLow),
	keyword("very low", VeryLow),
	keyword("minimal risk", VeryLow),
	keyword("no risk", VeryLow),
	keyword("ultra safe", VeryLow),
	keyword("very aggressive", VeryHigh),
	keyword("very high", VeryHigh),
	keyword("maximum risk", VeryHigh),
	keyword("degen", VeryHigh),
	keyword("conservative", Low),
	keyword("low risk", Low),
	keyword("cautious", Low),
	keyword("careful", Low),
	keyword("safe", Low),
	keyword("moderate", Medium),
	keyword("balanced", Medium),
	keyword("medium", Medium),
	keyword("average", Medium),
	keyword("aggressive", High),
	keyword("high risk", High),
	keyword("risky", High),
}

var contextualTolerance = []toleranceRule{
	{pattern: regexp.MustCompile(`(can'?t|cannot|can not) afford to lose|need (this|the) money`), level: VeryLow},
	{pattern: regexp.MustCompile(`preserve (my )?capital|protect (my )?(capital|savings)|steady income`), level: Low},
	{pattern: regexp.MustCompile(`some risk|bit of risk|ok(ay)? with (some )?volatility`), level: Medium},
	{pattern: regexp.MustCompile(`high returns?|maximi[sz]e (my )?(returns|yield|gains)`), level: High},
	{pattern: regexp.MustCompile(`\byolo\b|all in|to the moon`), level: VeryHigh},
}

// InterpretTolerance reads a risk tolerance from free text: the direct
// keyword table first, then contextual phrases. Text matching neither
// defaults to medium with low confidence.
func InterpretTolerance(text string) (res ToleranceResult, err error) {
	defer clierr.Recover(clierr.KindRiskAnalysis, &err)

	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.ReplaceAll(norm, "’", "'")
	if norm == "" {
		return ToleranceResult{}, clierr.Domain(clierr.KindRiskAnalysis, ReasonInvalidInput, "risk tolerance text is empty")
	}
	if lvl, ok := ParseLevel(norm); ok {
		return ToleranceResult{Level: lvl, Confidence: 1.0, Matched: string(lvl)}, nil
	}
	for _, rule := range directTolerance {
		if m := rule.pattern.FindString(norm); m != "" {
			return ToleranceResult{Level: rule.level, Confidence: 0.9, Matched: m}, nil
		}
	}
	for _, rule := range contextualTolerance {
		if m := rule.pattern.FindString(norm); m != "" {
			return ToleranceResult{Level: rule.level, Confidence: 0.7, Matched: m}, nil
		}
	}
	return ToleranceResult{Level: Medium, Confidence: 0.3, Defaulted: true}, nil
}
