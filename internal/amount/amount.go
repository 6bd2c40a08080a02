package amount

import (
	"fmt"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Method string

const (
	MethodExact      Method = "exact"
	MethodUnit       Method = "unit"
	MethodPercentage Method = "percentage"
	MethodRelative   Method = "relative"
	MethodNatural    Method = "natural_language"
	MethodExpression Method = "expression"
)

const (
	ReasonEmpty      = "AMOUNT_EMPTY"
	ReasonFailed     = "AMOUNT_PARSE_FAILED"
	ReasonOutOfRange = "AMOUNT_OUT_OF_RANGE"
)

type Config struct {
	MinAmount            float64 `yaml:"min_amount"`
	MaxAmount            float64 `yaml:"max_amount"`
	DefaultDecimals      int32   `yaml:"default_decimals"`
	AllowPercentages     bool    `yaml:"allow_percentages"`
	AllowRelativeAmounts bool    `yaml:"allow_relative_amounts"`
}

func DefaultConfig() Config {
	return Config{
		MinAmount:            0.000001,
		MaxAmount:            1e15,
		DefaultDecimals:      6,
		AllowPercentages:     true,
		AllowRelativeAmounts: true,
	}
}

// Context carries the base amounts percentages and relative terms resolve against.
type Context struct {
	UserBalance    *decimal.Decimal
	PortfolioValue *decimal.Decimal
	PositionSize   *decimal.Decimal
	Currency       string
}

// ContextFor derives a parsing context for token from caller account state.
func ContextFor(pc *model.ParsingContext, token string) *Context {
	if pc == nil {
		return nil
	}
	ctx := &Context{}
	if token != "" {
		if bal, ok := pc.Balance(token); ok {
			ctx.UserBalance = &bal
		} else if pc.HasBalances() {
			zero := decimal.Zero
			ctx.UserBalance = &zero
		}
	}
	if v := pc.PortfolioValue(); v.IsPositive() {
		ctx.PortfolioValue = &v
	}
	if size, ok := pc.PositionSize(token); ok {
		ctx.PositionSize = &size
	}
	return ctx
}

type Alternative struct {
	Value       float64 `json:"value"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Result carries the parsed amount. Exact is the full-precision value that
// commands are built from; Value is its float view and Formatted a truncated
// rendering for display.
type Result struct {
	Exact        decimal.Decimal `json:"exact"`
	Value        float64         `json:"value"`
	Formatted    string          `json:"formatted"`
	Unit         string          `json:"unit,omitempty"`
	Method       Method          `json:"method"`
	Confidence   float64         `json:"confidence"`
	Original     string          `json:"original"`
	Alternatives []Alternative   `json:"alternatives,omitempty"`
}

type strategy struct {
	method Method
	parse  func(p *Parser, input string, ctx *Context) (Result, bool)
}

// Parser tries each strategy in order; the first result inside the configured
// range wins. It holds no mutable state and is safe for concurrent use.
type Parser struct {
	cfg        Config
	log        *zap.Logger
	strategies []strategy
}

type Option func(*Parser)

func WithLogger(log *zap.Logger) Option {
	return func(p *Parser) {
		if log != nil {
			p.log = log
		}
	}
}

func New(cfg Config, opts ...Option) *Parser {
	def := DefaultConfig()
	if cfg.MaxAmount <= 0 {
		cfg.MaxAmount = def.MaxAmount
	}
	if cfg.MinAmount < 0 || cfg.MinAmount > cfg.MaxAmount {
		cfg.MinAmount = def.MinAmount
	}
	if cfg.DefaultDecimals <= 0 {
		cfg.DefaultDecimals = def.DefaultDecimals
	}
	p := &Parser{
		cfg: cfg,
		log: zap.NewNop(),
		strategies: []strategy{
			{method: MethodExact, parse: parseExact},
			{method: MethodUnit, parse: parseUnit},
			{method: MethodPercentage, parse: parsePercentage},
			{method: MethodRelative, parse: parseRelative},
			{method: MethodNatural, parse: parseNatural},
			{method: MethodExpression, parse: parseExpression},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parser) Config() Config { return p.cfg }

// Parse converts input into a numeric amount.
func (p *Parser) Parse(input string, ctx *Context) (res Result, err error) {
	defer clierr.Recover(clierr.KindAmountParsing, &err)

	norm := preprocess(input)
	if norm == "" {
		return Result{}, clierr.Domain(clierr.KindAmountParsing, ReasonEmpty, "amount is empty").
			WithDetail("suggestions", p.suggestions(ctx))
	}

	outOfRange := false
	for _, s := range p.strategies {
		r, ok := s.parse(p, norm, ctx)
		if !ok {
			continue
		}
		if r.Exact.IsZero() {
			r.Exact = decimal.NewFromFloat(r.Value)
		}
		r.Value = r.Exact.InexactFloat64()
		if !p.inRange(r.Value) {
			outOfRange = true
			p.log.Debug("amount outside range, trying next strategy",
				zap.String("method", string(s.method)),
				zap.Float64("value", r.Value))
			continue
		}
		r.Method = s.method
		r.Original = input
		r.Formatted = r.Exact.Truncate(p.cfg.DefaultDecimals).String()
		r.Alternatives = p.keepInRange(r.Alternatives)
		return r, nil
	}

	if outOfRange {
		return Result{}, clierr.Domain(clierr.KindAmountParsing, ReasonOutOfRange,
			fmt.Sprintf("amount %q is outside the allowed range [%s, %s]", input,
				FormatAmount(p.cfg.MinAmount, p.cfg.DefaultDecimals), FormatAmount(p.cfg.MaxAmount, 0))).
			WithDetail("input", input).
			WithDetail("suggestions", p.suggestions(ctx))
	}
	return Result{}, clierr.Domain(clierr.KindAmountParsing, ReasonFailed, fmt.Sprintf("could not parse amount %q", input)).
		WithDetail("input", input).
		WithDetail("suggestions", p.suggestions(ctx))
}

// FormatAmount renders value truncated to decimals without trailing zeros.
// Truncation never displays more than the value holds.
func FormatAmount(value float64, decimals int32) string {
	return decimal.NewFromFloat(value).Truncate(decimals).String()
}

func (p *Parser) inRange(v float64) bool {
	return v >= p.cfg.MinAmount && v <= p.cfg.MaxAmount
}

func (p *Parser) keepInRange(alts []Alternative) []Alternative {
	if len(alts) == 0 {
		return nil
	}
	out := make([]Alternative, 0, len(alts))
	for _, a := range alts {
		if p.inRange(a.Value) {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (p *Parser) suggestions(ctx *Context) []string {
	out := []string{
		"use an exact number such as 100 or 2.5",
		"use a unit suffix such as 10k or 1.5m",
	}
	if ctx != nil && (ctx.UserBalance != nil || ctx.PortfolioValue != nil || ctx.PositionSize != nil) {
		if p.cfg.AllowPercentages {
			out = append(out, "use a percentage such as 50%")
		}
		if p.cfg.AllowRelativeAmounts {
			out = append(out, "use a relative amount such as half or all")
		}
	}
	return out
}

var (
	collapseSpaces = regexp.MustCompile(`\s+`)
	exactPattern   = regexp.MustCompile(`^\d+(\.\d+)?$`)
	unitPattern    = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([kmbt])?$`)
	percentPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(?:%|percent)(?:\s+of\b.*)?$`)
)

func preprocess(input string) string {
	v := strings.ToLower(strings.TrimSpace(input))
	v = strings.ReplaceAll(v, ",", "")
	v = strings.TrimPrefix(v, "$")
	return collapseSpaces.ReplaceAllString(strings.TrimSpace(v), " ")
}

func parseExact(_ *Parser, input string, _ *Context) (Result, bool) {
	if !exactPattern.MatchString(input) {
		return Result{}, false
	}
	v, err := decimal.NewFromString(input)
	if err != nil {
		return Result{}, false
	}
	return Result{Exact: v, Confidence: 1.0}, true
}

// unitExponents maps a suffix to its power of ten.
var unitExponents = map[string]int32{
	"k": 3,
	"m": 6,
	"b": 9,
	"t": 12,
}

func parseUnit(_ *Parser, input string, _ *Context) (Result, bool) {
	m := unitPattern.FindStringSubmatch(input)
	if m == nil {
		return Result{}, false
	}
	v, err := decimal.NewFromString(m[1])
	if err != nil {
		return Result{}, false
	}
	if exp, ok := unitExponents[m[2]]; ok {
		v = v.Shift(exp)
	}
	return Result{Exact: v, Unit: m[2], Confidence: 0.95}, true
}

type base struct {
	name  string
	value *decimal.Decimal
}

func bases(ctx *Context) []base {
	if ctx == nil {
		return nil
	}
	all := []base{
		{name: "balance", value: ctx.UserBalance},
		{name: "portfolio value", value: ctx.PortfolioValue},
		{name: "position size", value: ctx.PositionSize},
	}
	out := make([]base, 0, len(all))
	for _, b := range all {
		if b.value != nil {
			out = append(out, b)
		}
	}
	return out
}

func parsePercentage(p *Parser, input string, ctx *Context) (Result, bool) {
	if !p.cfg.AllowPercentages {
		return Result{}, false
	}
	m := percentPattern.FindStringSubmatch(input)
	if m == nil {
		return Result{}, false
	}
	pct, err := decimal.NewFromString(m[1])
	if err != nil || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return Result{}, false
	}
	available := bases(ctx)
	if len(available) == 0 {
		return Result{}, false
	}
	res := Result{
		Exact:      available[0].value.Mul(pct).Shift(-2),
		Unit:       "%",
		Confidence: 0.9,
	}
	for _, b := range available[1:] {
		res.Alternatives = append(res.Alternatives, Alternative{
			Value:       b.value.Mul(pct).Shift(-2).InexactFloat64(),
			Description: fmt.Sprintf("%s%% of %s", m[1], b.name),
			Confidence:  0.7,
		})
	}
	return res, true
}

type relativeTerm struct {
	pattern  *regexp.Regexp
	keyword  string
	fraction decimal.Decimal
}

func newRelativeTerm(keyword, fraction string) relativeTerm {
	return relativeTerm{
		pattern:  regexp.MustCompile(`\b` + keyword + `\b`),
		keyword:  keyword,
		fraction: decimal.RequireFromString(fraction),
	}
}

// The keyword that appears first in the input wins; ties go to table order.
var relativeTerms = []relativeTerm{
	newRelativeTerm("all", "1"),
	newRelativeTerm("everything", "1"),
	newRelativeTerm("entire", "1"),
	newRelativeTerm("whole", "1"),
	newRelativeTerm("complete", "1"),
	newRelativeTerm("half", "0.5"),
	newRelativeTerm("quarter", "0.25"),
	newRelativeTerm("third", "0.333"),
	newRelativeTerm("most", "0.8"),
	newRelativeTerm("majority", "0.6"),
	newRelativeTerm("some", "0.3"),
	newRelativeTerm("little", "0.1"),
	newRelativeTerm("small", "0.1"),
}

func parseRelative(p *Parser, input string, ctx *Context) (Result, bool) {
	if !p.cfg.AllowRelativeAmounts || ctx == nil {
		return Result{}, false
	}
	var match *relativeTerm
	at := -1
	for i := range relativeTerms {
		loc := relativeTerms[i].pattern.FindStringIndex(input)
		if loc == nil {
			continue
		}
		if at < 0 || loc[0] < at {
			match, at = &relativeTerms[i], loc[0]
		}
	}
	if match == nil {
		return Result{}, false
	}
	baseValue, ok := relativeBase(input, ctx)
	if !ok {
		return Result{}, false
	}
	return Result{Exact: baseValue.Mul(match.fraction), Unit: match.keyword, Confidence: 0.85}, true
}

func relativeBase(input string, ctx *Context) (decimal.Decimal, bool) {
	switch {
	case strings.Contains(input, "portfolio") && ctx.PortfolioValue != nil:
		return *ctx.PortfolioValue, true
	case strings.Contains(input, "position") && ctx.PositionSize != nil:
		return *ctx.PositionSize, true
	case ctx.UserBalance != nil:
		return *ctx.UserBalance, true
	case ctx.PortfolioValue != nil:
		return *ctx.PortfolioValue, true
	case ctx.PositionSize != nil:
		return *ctx.PositionSize, true
	}
	return decimal.Decimal{}, false
}
