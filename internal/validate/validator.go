package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ggonzalez94/defi-intent/internal/asset"
	"github.com/ggonzalez94/defi-intent/internal/disambig"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/id"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/policy"
	"github.com/ggonzalez94/defi-intent/internal/registry"
	"go.uber.org/zap"
)

// Finding codes.
const (
	CodeMissingParameter       = "MISSING_PARAMETER"
	CodeParameterInferred      = "PARAMETER_INFERRED"
	CodeInvalidType            = "INVALID_TYPE"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeTokenNormalized        = "TOKEN_NORMALIZED"
	CodeUnknownProtocol        = "UNKNOWN_PROTOCOL"
	CodeUnsupportedProtocol    = "PROTOCOL_UNSUPPORTED"
	CodeInvalidAddress         = "INVALID_ADDRESS"
	CodeOutOfRange             = "OUT_OF_RANGE"
	CodeInvalidFormat          = "INVALID_FORMAT"
	CodeInvalidValue           = "INVALID_VALUE"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeHighBalanceUsage       = "HIGH_BALANCE_USAGE"
	CodeInsufficientCollateral = "INSUFFICIENT_COLLATERAL"
	CodeHighUtilization        = "HIGH_UTILIZATION"
	CodeSameToken              = "SAME_TOKEN"
	CodeHighPriceImpact        = "HIGH_PRICE_IMPACT"
	CodeIlliquidToken          = "ILLIQUID_TOKEN"
	CodeDisambiguationFailed   = "DISAMBIGUATION_FAILED"
	CodeValidationError        = "VALIDATION_ERROR"
)

type Input struct {
	Intent     model.Intent
	Parameters model.CommandParameters
	// Template overrides the built-in template for Intent.
	Template *Template
	Context  *model.ParsingContext
	Entities []model.FinancialEntity
	Text     string
	Resolved []model.AmbiguityType
}

type Result struct {
	Errors                 []model.CommandValidationError `json:"errors"`
	Warnings               []model.CommandValidationError `json:"warnings"`
	IsValid                bool                           `json:"is_valid"`
	RequiresDisambiguation bool                           `json:"requires_disambiguation"`
	DisambiguationOptions  *model.DisambiguationOptions   `json:"disambiguation_options,omitempty"`
	Suggestions            []string                       `json:"suggestions,omitempty"`
	// Parameters holds the input with inferred values and canonical token,
	// protocol and address spellings applied.
	Parameters model.CommandParameters `json:"parameters"`
}

// Status summarizes the findings. Info-only findings count as valid.
func (r Result) Status() model.ValidationStatus {
	if !r.IsValid {
		return model.ValidationError
	}
	for _, w := range r.Warnings {
		if w.Severity == model.SeverityWarning {
			return model.ValidationWarning
		}
	}
	return model.ValidationValid
}

func (r *Result) add(f model.CommandValidationError) {
	if f.Severity == model.SeverityError {
		r.Errors = append(r.Errors, f)
		return
	}
	r.Warnings = append(r.Warnings, f)
}

func (r Result) has(code string) bool {
	for _, f := range append(append([]model.CommandValidationError(nil), r.Errors...), r.Warnings...) {
		if f.Code == code {
			return true
		}
	}
	return false
}

type Validator struct {
	rules     policy.Rules
	log       *zap.Logger
	assets    *asset.Resolver
	registry  *registry.Registry
	engine    *disambig.Engine
	templates []Template
}

type Option func(*Validator)

func WithLogger(log *zap.Logger) Option {
	return func(v *Validator) {
		if log != nil {
			v.log = log
		}
	}
}

// WithDisambiguation attaches the ambiguity check stage.
func WithDisambiguation(e *disambig.Engine) Option {
	return func(v *Validator) { v.engine = e }
}

func WithTemplates(templates []Template) Option {
	return func(v *Validator) { v.templates = append([]Template(nil), templates...) }
}

func New(assets *asset.Resolver, reg *registry.Registry, rules policy.Rules, opts ...Option) *Validator {
	if reg == nil {
		reg = registry.Default()
	}
	v := &Validator{
		rules:     rules,
		log:       zap.NewNop(),
		assets:    assets,
		registry:  reg,
		templates: DefaultTemplates(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Template returns the template registered for intent.
func (v *Validator) Template(intent model.Intent) (Template, bool) {
	for _, t := range v.templates {
		if t.Intent == intent {
			return t, true
		}
	}
	return Template{}, false
}

// Validate runs every stage and accumulates findings. It never fails: an
// unexpected panic becomes a single VALIDATION_ERROR finding.
func (v *Validator) Validate(in Input) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("validation panicked", zap.Any("panic", r))
			res = Result{
				Errors: []model.CommandValidationError{{
					Code:     CodeValidationError,
					Message:  fmt.Sprintf("validation failed unexpectedly: %v", r),
					Severity: model.SeverityError,
				}},
				Warnings:   []model.CommandValidationError{},
				Parameters: in.Parameters,
			}
		}
	}()

	res = Result{
		Errors:     []model.CommandValidationError{},
		Warnings:   []model.CommandValidationError{},
		Parameters: in.Parameters,
	}
	tmpl, ok := v.Template(in.Intent)
	if in.Template != nil {
		tmpl, ok = *in.Template, true
	}
	if ok {
		v.checkRequired(&res, in, tmpl)
		for _, rule := range tmpl.Rules {
			v.checkRule(&res, in, rule)
		}
	}
	v.checkContext(&res, in)
	v.checkBusiness(&res, in)
	v.checkAmbiguity(&res, in)
	res.Suggestions = v.suggestions(res, in)
	res.IsValid = len(res.Errors) == 0

	v.log.Debug("parameters validated",
		zap.String("intent", string(in.Intent)),
		zap.Int("errors", len(res.Errors)),
		zap.Int("warnings", len(res.Warnings)),
		zap.Bool("requires_disambiguation", res.RequiresDisambiguation))
	return res
}

func (v *Validator) checkRequired(res *Result, in Input, tmpl Template) {
	for _, field := range tmpl.Required {
		if _, ok := res.Parameters.Field(field); ok {
			continue
		}
		if value, source, ok := v.infer(field, in); ok {
			res.Parameters.SetPrimary(field, value)
			res.add(model.CommandValidationError{
				Field:    field,
				Code:     CodeParameterInferred,
				Message:  fmt.Sprintf("%s set to %s from %s", field, value, source),
				Severity: model.SeverityInfo,
			})
			continue
		}
		res.add(model.CommandValidationError{
			Field:      field,
			Code:       CodeMissingParameter,
			Message:    fmt.Sprintf("%s is required to %s", field, humanIntent(in.Intent)),
			Severity:   model.SeverityError,
			Suggestion: missingSuggestion(in.Intent, field, protocolNames(v.registry.Viable(in.Intent))),
		})
	}
}

// infer fills protocol from the most used viable venue in the user's
// positions and token from the largest balance.
func (v *Validator) infer(field string, in Input) (string, string, bool) {
	if in.Context == nil {
		return "", "", false
	}
	switch field {
	case "protocol":
		counts := map[string]int{}
		best, bestCount := "", 0
		for _, pos := range in.Context.Positions {
			p, ok := v.registry.Lookup(pos.Protocol)
			if !ok || !p.Supports(in.Intent) {
				continue
			}
			counts[p.Name]++
			if counts[p.Name] > bestCount {
				best, bestCount = p.Name, counts[p.Name]
			}
		}
		return best, "your positions", best != ""
	case "token":
		tokens := make([]string, 0, len(in.Context.Balances))
		for token := range in.Context.Balances {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		best := ""
		for _, token := range tokens {
			bal := in.Context.Balances[token]
			if !bal.IsPositive() {
				continue
			}
			if best == "" || bal.GreaterThan(in.Context.Balances[best]) {
				best = token
			}
		}
		return strings.ToUpper(best), "your largest balance", best != ""
	}
	return "", "", false
}

func (v *Validator) checkRule(res *Result, in Input, rule Rule) {
	value, ok := res.Parameters.Field(rule.Field)
	if !ok {
		return
	}
	if !v.checkType(res, in, rule, value) {
		return
	}
	// checkType may have canonicalized the value.
	value, _ = res.Parameters.Field(rule.Field)
	if rule.Custom != nil {
		if msg := rule.Custom(value, res.Parameters); msg != "" {
			res.add(model.CommandValidationError{Field: rule.Field, Code: CodeInvalidValue, Message: msg, Severity: model.SeverityError})
			return
		}
	}
	v.checkConstraints(res, rule, value)
}

func (v *Validator) checkType(res *Result, in Input, rule Rule, value any) bool {
	invalid := func(code, msg, suggestion string) bool {
		res.add(model.CommandValidationError{
			Field: rule.Field, Code: code, Message: msg, Severity: model.SeverityError, Suggestion: suggestion,
		})
		return false
	}
	switch rule.Type {
	case TypeNumber:
		if _, ok := toFloat(value); !ok {
			return invalid(CodeInvalidType, fmt.Sprintf("%s must be a number", rule.Field), "")
		}
	case TypeBoolean:
		switch b := value.(type) {
		case bool:
		case string:
			if _, err := strconv.ParseBool(b); err != nil {
				return invalid(CodeInvalidType, fmt.Sprintf("%s must be true or false", rule.Field), "")
			}
		default:
			return invalid(CodeInvalidType, fmt.Sprintf("%s must be true or false", rule.Field), "")
		}
	case TypeString:
		if s, ok := value.(string); !ok || strings.TrimSpace(s) == "" {
			return invalid(CodeInvalidType, fmt.Sprintf("%s must be text", rule.Field), "")
		}
	case TypeToken:
		s, _ := value.(string)
		if v.assets == nil {
			return true
		}
		resolved, err := v.assets.Resolve(s)
		if err != nil {
			return invalid(CodeInvalidToken, fmt.Sprintf("unknown token %q", s), firstSuggestion(err))
		}
		if resolved.Asset.Symbol != s {
			res.Parameters.SetPrimary(rule.Field, resolved.Asset.Symbol)
			if resolved.MatchType != asset.MatchExact {
				res.add(model.CommandValidationError{
					Field:    rule.Field,
					Code:     CodeTokenNormalized,
					Message:  fmt.Sprintf("interpreted %q as %s", s, resolved.Asset.Symbol),
					Severity: model.SeverityInfo,
				})
			}
		}
	case TypeProtocol:
		s, _ := value.(string)
		p, err := v.registry.Resolve(s)
		if err != nil {
			return invalid(CodeUnknownProtocol, fmt.Sprintf("unknown protocol %q", s), firstSuggestion(err))
		}
		if in.Intent != "" && in.Intent != model.IntentUnknown && !p.Supports(in.Intent) {
			return invalid(CodeUnsupportedProtocol,
				fmt.Sprintf("%s does not support %s", p.DisplayName, humanIntent(in.Intent)),
				missingSuggestion(in.Intent, "protocol", protocolNames(v.registry.Viable(in.Intent))))
		}
		res.Parameters.SetPrimary(rule.Field, p.Name)
	case TypeAddress:
		s, _ := value.(string)
		if !id.IsAddress(s) {
			return invalid(CodeInvalidAddress, fmt.Sprintf("%s is not a valid address", rule.Field),
				"use a 0x-prefixed 20-byte hex address or a bech32 address")
		}
		normalized := id.NormalizeAddress(s)
		switch rule.Field {
		case "recipient":
			res.Parameters.Optional.Recipient = normalized
		case "referrer":
			res.Parameters.Optional.Referrer = normalized
		}
	}
	return true
}

func (v *Validator) checkConstraints(res *Result, rule Rule, value any) {
	fail := func(code, msg string) {
		res.add(model.CommandValidationError{Field: rule.Field, Code: code, Message: msg, Severity: model.SeverityError})
	}
	if n, ok := toFloat(value); ok && rule.Type == TypeNumber {
		if rule.Min != nil && (n < *rule.Min || (rule.MinExclusive && n == *rule.Min)) {
			if rule.MinExclusive {
				fail(CodeOutOfRange, fmt.Sprintf("%s must be greater than %s", rule.Field, formatFloat(*rule.Min)))
			} else {
				fail(CodeOutOfRange, fmt.Sprintf("%s must be at least %s", rule.Field, formatFloat(*rule.Min)))
			}
			return
		}
		if rule.Max != nil && n > *rule.Max {
			fail(CodeOutOfRange, fmt.Sprintf("%s must be at most %s", rule.Field, formatFloat(*rule.Max)))
			return
		}
	}
	s, isString := value.(string)
	if rule.Pattern != nil && isString && !rule.Pattern.MatchString(s) {
		fail(CodeInvalidFormat, fmt.Sprintf("%s has an invalid format", rule.Field))
		return
	}
	if len(rule.Enum) > 0 && isString {
		for _, allowed := range rule.Enum {
			if strings.EqualFold(allowed, s) {
				return
			}
		}
		fail(CodeInvalidValue, fmt.Sprintf("%s must be one of %s", rule.Field, strings.Join(rule.Enum, ", ")))
	}
}

func (v *Validator) checkContext(res *Result, in Input) {
	if in.Context == nil || in.Context.UserAddress == "" {
		return
	}
	if !id.IsAddress(in.Context.UserAddress) {
		res.add(model.CommandValidationError{
			Field:    "user_address",
			Code:     CodeInvalidAddress,
			Message:  "context user address is not a valid address",
			Severity: model.SeverityWarning,
		})
	}
}

func (v *Validator) checkAmbiguity(res *Result, in Input) {
	if v.engine == nil {
		return
	}
	opts, err := v.engine.Generate(disambig.Subject{
		Intent:     in.Intent,
		Entities:   in.Entities,
		Input:      in.Text,
		Parameters: res.Parameters,
		Context:    in.Context,
		Resolved:   in.Resolved,
	})
	if err != nil {
		res.add(model.CommandValidationError{
			Code:     CodeDisambiguationFailed,
			Message:  err.Error(),
			Severity: model.SeverityError,
		})
		return
	}
	if opts != nil {
		res.RequiresDisambiguation = true
		res.DisambiguationOptions = opts
	}
}

func (v *Validator) suggestions(res Result, in Input) []string {
	out := []string{}
	p := res.Parameters.Primary
	if p.Protocol == "" {
		if names := protocolNames(v.registry.Viable(in.Intent)); len(names) > 0 {
			out = append(out, fmt.Sprintf("protocols that can %s: %s", humanIntent(in.Intent), joinNames(names)))
		}
	}
	if res.has(CodeHighBalanceUsage) || res.has(CodeInsufficientBalance) {
		out = append(out, "keep part of your balance liquid to cover gas and price moves")
	}
	if in.Intent == model.IntentBorrow && p.Leverage != nil && *p.Leverage > v.rules.HighLeverage {
		out = append(out, fmt.Sprintf("reduce leverage to %sx or lower to lower liquidation risk", formatFloat(v.rules.HighLeverage)))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		d, err := id.ParseDecimal(n)
		if err != nil {
			return 0, false
		}
		return d.InexactFloat64(), true
	}
	return 0, false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func humanIntent(intent model.Intent) string {
	if intent == "" || intent == model.IntentUnknown {
		return "continue"
	}
	return strings.ReplaceAll(string(intent), "_", " ")
}

func protocolNames(protocols []registry.Protocol) []string {
	out := make([]string, 0, len(protocols))
	for _, p := range protocols {
		out = append(out, p.Name)
	}
	return out
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}

func firstSuggestion(err error) string {
	e, ok := clierr.As(err)
	if !ok {
		return ""
	}
	if list, ok := e.Details["suggestions"].([]string); ok && len(list) > 0 {
		return list[0]
	}
	return ""
}
