package disambig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-intent/internal/amount"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/registry"
	"go.uber.org/zap"
)

const (
	ReasonInvalidOption = "INVALID_OPTION"
	ReasonNoOptions     = "NO_OPTIONS"
)

// Option ids with fixed meaning across questions.
const (
	OptionConfirm   = "confirm"
	OptionReduce    = "reduce"
	OptionCancel    = "cancel"
	OptionFromToken = "from_token"
	OptionToToken   = "to_token"
)

type Config struct {
	RiskLeverageThreshold   float64       `yaml:"risk_leverage_threshold"`
	RiskAmountThreshold     float64       `yaml:"risk_amount_threshold"`
	MaxProtocolOptions      int           `yaml:"max_protocol_options"`
	DefaultTimeout          time.Duration `yaml:"default_timeout"`
	UnclearIntentTimeout    time.Duration `yaml:"unclear_intent_timeout"`
	RiskConfirmationTimeout time.Duration `yaml:"risk_confirmation_timeout"`
}

func DefaultConfig() Config {
	return Config{
		RiskLeverageThreshold:   5,
		RiskAmountThreshold:     50000,
		MaxProtocolOptions:      4,
		DefaultTimeout:          30 * time.Second,
		UnclearIntentTimeout:    45 * time.Second,
		RiskConfirmationTimeout: 60 * time.Second,
	}
}

// Subject is everything ambiguity detection looks at. Resolved lists the
// ambiguity types already answered in this exchange; they are not asked again.
type Subject struct {
	Intent     model.Intent
	Entities   []model.FinancialEntity
	Input      string
	Parameters model.CommandParameters
	Context    *model.ParsingContext
	Resolved   []model.AmbiguityType
}

func (s Subject) resolved(t model.AmbiguityType) bool {
	for _, r := range s.Resolved {
		if r == t {
			return true
		}
	}
	return false
}

type rule struct {
	typ      model.AmbiguityType
	priority int
	detect   func(e *Engine, s Subject) bool
	generate func(e *Engine, s Subject) model.DisambiguationOptions
}

// Engine detects ambiguities and turns the most important one into a
// single clarification question. It never runs timers; TimeoutMS on the
// generated options is advisory.
type Engine struct {
	cfg      Config
	log      *zap.Logger
	registry *registry.Registry
	amounts  *amount.Parser
	rules    []rule
}

type Option func(*Engine)

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithAmountParser normalizes amount options through p instead of echoing
// the raw entity text.
func WithAmountParser(p *amount.Parser) Option {
	return func(e *Engine) { e.amounts = p }
}

func New(reg *registry.Registry, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.RiskLeverageThreshold <= 0 {
		cfg.RiskLeverageThreshold = def.RiskLeverageThreshold
	}
	if cfg.RiskAmountThreshold <= 0 {
		cfg.RiskAmountThreshold = def.RiskAmountThreshold
	}
	if cfg.MaxProtocolOptions <= 0 {
		cfg.MaxProtocolOptions = def.MaxProtocolOptions
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.UnclearIntentTimeout <= 0 {
		cfg.UnclearIntentTimeout = def.UnclearIntentTimeout
	}
	if cfg.RiskConfirmationTimeout <= 0 {
		cfg.RiskConfirmationTimeout = def.RiskConfirmationTimeout
	}
	if reg == nil {
		reg = registry.Default()
	}
	e := &Engine{cfg: cfg, log: zap.NewNop(), registry: reg}
	// Highest priority first; equal priorities keep this order.
	e.rules = []rule{
		{typ: model.AmbiguityUnclearIntent, priority: 10, detect: detectUnclearIntent, generate: generateUnclearIntent},
		{typ: model.AmbiguityTokenDirection, priority: 9, detect: detectTokenDirection, generate: generateTokenDirection},
		{typ: model.AmbiguityMissingProtocol, priority: 8, detect: detectMissingProtocol, generate: generateProtocolOptions},
		{typ: model.AmbiguityMultipleAmounts, priority: 7, detect: detectMultipleAmounts, generate: generateMultipleAmounts},
		{typ: model.AmbiguityParameterConflict, priority: 7, detect: detectParameterConflict, generate: generateParameterConflict},
		{typ: model.AmbiguityProtocolChoice, priority: 6, detect: detectProtocolChoice, generate: generateProtocolOptions},
		{typ: model.AmbiguityRiskConfirmation, priority: 5, detect: detectRiskConfirmation, generate: generateRiskConfirmation},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Priority returns the fixed priority of an ambiguity type, or 0.
func (e *Engine) Priority(t model.AmbiguityType) int {
	for _, r := range e.rules {
		if r.typ == t {
			return r.priority
		}
	}
	return 0
}

// Detect lists unresolved ambiguities, highest priority first.
func (e *Engine) Detect(s Subject) []model.AmbiguityType {
	out := []model.AmbiguityType{}
	for _, r := range e.rules {
		if s.resolved(r.typ) {
			continue
		}
		if r.detect(e, s) {
			out = append(out, r.typ)
		}
	}
	return out
}

// Generate builds the clarification for the single highest-priority
// ambiguity. It returns nil when the subject is unambiguous.
func (e *Engine) Generate(s Subject) (opts *model.DisambiguationOptions, err error) {
	defer clierr.Recover(clierr.KindDisambiguation, &err)

	for _, r := range e.rules {
		if s.resolved(r.typ) || !r.detect(e, s) {
			continue
		}
		generated := r.generate(e, s)
		if len(generated.Options) == 0 {
			return nil, clierr.Domain(clierr.KindDisambiguation, ReasonNoOptions,
				fmt.Sprintf("no options could be generated for %s", r.typ))
		}
		generated.Type = r.typ
		generated.DefaultOption = generated.Options[0].ID
		if generated.TimeoutMS == 0 {
			generated.TimeoutMS = e.cfg.DefaultTimeout.Milliseconds()
		}
		e.log.Debug("clarification generated",
			zap.String("type", string(r.typ)),
			zap.Int("priority", r.priority),
			zap.Int("options", len(generated.Options)))
		return &generated, nil
	}
	return nil, nil
}

// Resolve merges the selected option's parameters over original.
func (e *Engine) Resolve(original model.CommandParameters, selectedID string, options model.DisambiguationOptions) (out model.CommandParameters, err error) {
	defer clierr.Recover(clierr.KindDisambiguation, &err)

	opt, ok := options.Find(strings.TrimSpace(selectedID))
	if !ok {
		valid := make([]string, 0, len(options.Options))
		for _, o := range options.Options {
			valid = append(valid, o.ID)
		}
		return model.CommandParameters{}, clierr.Domain(clierr.KindDisambiguation, ReasonInvalidOption,
			fmt.Sprintf("option %q is not one of the offered choices", selectedID)).
			WithDetail("valid_options", valid)
	}
	return original.Merge(opt.Parameters), nil
}

// formatAmount normalizes an amount entity for use as an option value.
func (e *Engine) formatAmount(raw string, s Subject, token string) string {
	if e.amounts == nil {
		return raw
	}
	res, err := e.amounts.Parse(raw, amount.ContextFor(s.Context, token))
	if err != nil {
		return raw
	}
	return res.Exact.String()
}

func (e *Engine) amountValue(s Subject) float64 {
	if s.Parameters.Primary.Amount == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s.Parameters.Primary.Amount, 64)
	if err != nil {
		return 0
	}
	return v
}

func distinctTexts(entities []model.FinancialEntity) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, e := range entities {
		text := strings.TrimSpace(e.Text())
		key := strings.ToLower(text)
		if text == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, text)
	}
	return out
}
