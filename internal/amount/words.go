package amount

import (
	"regexp"
	"strconv"
	"strings"
)

var smallNumbers = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var scaleWords = map[string]float64{
	"thousand": 1e3,
	"million":  1e6,
	"billion":  1e9,
}

// parseNatural accumulates written numerals: "hundred" multiplies the running
// group, larger scales flush the group into the total. A scale word with no
// group before it counts as one ("hundred" is 100). Any token that is not a
// number word, a plain number or "and" rejects the input.
func parseNatural(_ *Parser, input string, _ *Context) (Result, bool) {
	tokens := strings.FieldsFunc(input, func(r rune) bool { return r == ' ' || r == '-' })
	if len(tokens) == 0 {
		return Result{}, false
	}
	total, current := 0.0, 0.0
	words := 0
	for _, tok := range tokens {
		if v, ok := smallNumbers[tok]; ok {
			current += v
			words++
			continue
		}
		if tok == "hundred" {
			if current == 0 {
				current = 1
			}
			current *= 100
			words++
			continue
		}
		if scale, ok := scaleWords[tok]; ok {
			if current == 0 {
				current = 1
			}
			total += current * scale
			current = 0
			words++
			continue
		}
		if tok == "and" {
			continue
		}
		if v, err := strconv.ParseFloat(tok, 64); err == nil {
			current += v
			continue
		}
		return Result{}, false
	}
	if words == 0 {
		return Result{}, false
	}
	return Result{Value: total + current, Confidence: 0.8}, true
}

type cannedExpression struct {
	pattern *regexp.Regexp
	value   float64
}

var cannedExpressions = []cannedExpression{
	{pattern: regexp.MustCompile(`\ba thousand\b`), value: 1000},
	{pattern: regexp.MustCompile(`\bfew hundred\b`), value: 300},
	{pattern: regexp.MustCompile(`\bseveral hundred\b`), value: 500},
	{pattern: regexp.MustCompile(`\bcouple(?: of)? hundred\b`), value: 200},
}

var approximatePattern = regexp.MustCompile(`^(?:around|about|roughly|approximately|~)\s*(.+)$`)

func parseExpression(p *Parser, input string, ctx *Context) (Result, bool) {
	for _, expr := range cannedExpressions {
		if expr.pattern.MatchString(input) {
			return estimate(expr.value), true
		}
	}
	m := approximatePattern.FindStringSubmatch(input)
	if m == nil {
		return Result{}, false
	}
	rest := strings.TrimSpace(m[1])
	for _, parse := range []func(*Parser, string, *Context) (Result, bool){parseExact, parseUnit, parseNatural} {
		if r, ok := parse(p, rest, ctx); ok {
			if r.Exact.IsZero() {
				return estimate(r.Value), true
			}
			est := estimate(r.Exact.InexactFloat64())
			est.Exact = r.Exact
			return est, true
		}
	}
	return Result{}, false
}

func estimate(v float64) Result {
	return Result{
		Value:      v,
		Unit:       "~",
		Confidence: 0.7,
		Alternatives: []Alternative{
			{Value: v * 0.8, Description: "20% lower estimate", Confidence: 0.5},
			{Value: v * 1.2, Description: "20% higher estimate", Confidence: 0.5},
		},
	}
}
