package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/risk"
	"go.uber.org/zap"
)

const (
	ReasonInvalidCriteria = "INVALID_CRITERIA"
	ReasonNotFound        = "STRATEGY_NOT_FOUND"
)

const (
	weightAmount   = 0.25
	weightRisk     = 0.30
	weightProtocol = 0.20
	weightAPY      = 0.15
	weightLeverage = 0.10

	neutralFit = 0.7
)

type Config struct {
	MinMatchScore            float64 `yaml:"min_match_score"`
	MaxResults               int     `yaml:"max_results"`
	EnableDynamicAdjustments bool    `yaml:"enable_dynamic_adjustments"`
	PreferPopularStrategies  bool    `yaml:"prefer_popular_strategies"`
	RiskAdjustmentFactor     float64 `yaml:"risk_adjustment_factor"`
}

func DefaultConfig() Config {
	return Config{
		MinMatchScore:           0.5,
		MaxResults:              5,
		PreferPopularStrategies: true,
		RiskAdjustmentFactor:    1.0,
	}
}

// Criteria describe what the caller is looking for. Zero values mean "no
// preference" and score neutrally.
type Criteria struct {
	Amount             float64    `json:"amount,omitempty"`
	RiskTolerance      risk.Level `json:"risk_tolerance,omitempty"`
	PreferredProtocols []string   `json:"preferred_protocols,omitempty"`
	ExcludedProtocols  []string   `json:"excluded_protocols,omitempty"`
	MinAPY             float64    `json:"min_apy,omitempty"`
	AllowLeverage      bool       `json:"allow_leverage"`
	DurationDays       int        `json:"duration_days,omitempty"`
}

type Breakdown struct {
	Amount   float64 `json:"amount"`
	Risk     float64 `json:"risk"`
	Protocol float64 `json:"protocol"`
	APY      float64 `json:"apy"`
	Leverage float64 `json:"leverage"`
}

type MatchResult struct {
	Strategy    Info         `json:"strategy"`
	Score       float64      `json:"score"`
	Breakdown   Breakdown    `json:"breakdown"`
	Reasons     []string     `json:"reasons,omitempty"`
	Adjustments []Adjustment `json:"adjustments,omitempty"`
}

// Matcher scores catalog strategies against criteria. The catalog is fixed
// at construction.
type Matcher struct {
	cfg        Config
	log        *zap.Logger
	strategies []Info
	byID       map[string]int
}

type Option func(*Matcher)

func WithLogger(log *zap.Logger) Option {
	return func(m *Matcher) {
		if log != nil {
			m.log = log
		}
	}
}

// New builds a matcher over the embedded catalog.
func New(cfg Config, opts ...Option) (*Matcher, error) {
	strategies, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	return NewWithCatalog(cfg, strategies, opts...), nil
}

func NewWithCatalog(cfg Config, strategies []Info, opts ...Option) *Matcher {
	def := DefaultConfig()
	if cfg.MinMatchScore < 0 || cfg.MinMatchScore > 1 {
		cfg.MinMatchScore = def.MinMatchScore
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.RiskAdjustmentFactor <= 0 {
		cfg.RiskAdjustmentFactor = def.RiskAdjustmentFactor
	}
	m := &Matcher{
		cfg:        cfg,
		log:        zap.NewNop(),
		strategies: append([]Info(nil), strategies...),
		byID:       make(map[string]int, len(strategies)),
	}
	for i, s := range m.strategies {
		m.byID[s.ID] = i
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Matcher) All() []Info {
	return append([]Info(nil), m.strategies...)
}

func (m *Matcher) Get(id string) (Info, error) {
	i, ok := m.byID[strings.TrimSpace(id)]
	if !ok {
		e := clierr.Domain(clierr.KindStrategyMatching, ReasonNotFound, fmt.Sprintf("unknown strategy %q", id))
		e.Code = clierr.CodeNotFound
		return Info{}, e
	}
	return m.strategies[i], nil
}

// Match returns strategies scoring at least MinMatchScore, best first.
func (m *Matcher) Match(c Criteria) (out []MatchResult, err error) {
	defer clierr.Recover(clierr.KindStrategyMatching, &err)

	if err := validateCriteria(c); err != nil {
		return nil, err
	}
	results := []MatchResult{}
	for _, s := range m.strategies {
		res := m.score(s, c)
		if res.Score < m.cfg.MinMatchScore {
			m.log.Debug("strategy below threshold", zap.String("strategy", s.ID), zap.Float64("score", res.Score))
			continue
		}
		if m.cfg.EnableDynamicAdjustments {
			res.Adjustments = SuggestAdjustments(s, c)
		}
		results = append(results, res)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Strategy.ID < results[j].Strategy.ID
	})
	if len(results) > m.cfg.MaxResults {
		results = results[:m.cfg.MaxResults]
	}
	return results, nil
}

func validateCriteria(c Criteria) error {
	if c.Amount < 0 || math.IsNaN(c.Amount) {
		return clierr.Domain(clierr.KindStrategyMatching, ReasonInvalidCriteria, "amount must be non-negative")
	}
	if c.RiskTolerance != "" && c.RiskTolerance.Ordinal() < 0 {
		return clierr.Domain(clierr.KindStrategyMatching, ReasonInvalidCriteria, fmt.Sprintf("unknown risk tolerance %q", c.RiskTolerance))
	}
	if c.MinAPY < 0 {
		return clierr.Domain(clierr.KindStrategyMatching, ReasonInvalidCriteria, "min apy must be non-negative")
	}
	return nil
}

func (m *Matcher) score(s Info, c Criteria) MatchResult {
	b := Breakdown{
		Amount:   amountFit(s, c.Amount),
		Risk:     riskFit(s.Risk, c.RiskTolerance),
		Protocol: protocolFit(s.Protocols, c.PreferredProtocols, c.ExcludedProtocols),
		APY:      apyFit(s.APY, c.MinAPY),
		Leverage: leverageFit(s, c.AllowLeverage),
	}
	score := b.Amount*weightAmount + b.Risk*weightRisk + b.Protocol*weightProtocol + b.APY*weightAPY + b.Leverage*weightLeverage
	if s.Risk.Ordinal() >= risk.High.Ordinal() {
		score *= m.cfg.RiskAdjustmentFactor
	}
	if m.cfg.PreferPopularStrategies {
		score *= 1 + s.Popularity*0.1
	}
	score = math.Min(score, 1)
	return MatchResult{
		Strategy:  s,
		Score:     math.Round(score*1e4) / 1e4,
		Breakdown: b,
		Reasons:   reasons(s, c, b),
	}
}

// amountFit: 0 below the minimum, 0.5 above the maximum, 1.0 inside
// [2*min, 0.8*max], 0.8 elsewhere in range.
func amountFit(s Info, amount float64) float64 {
	if amount <= 0 {
		return neutralFit
	}
	if amount < s.MinAmount {
		return 0
	}
	if s.MaxAmount > 0 && amount > s.MaxAmount {
		return 0.5
	}
	upper := math.Inf(1)
	if s.MaxAmount > 0 {
		upper = 0.8 * s.MaxAmount
	}
	if amount >= 2*s.MinAmount && amount <= upper {
		return 1.0
	}
	return 0.8
}

func riskFit(strategyRisk, tolerance risk.Level) float64 {
	if tolerance == "" {
		return neutralFit
	}
	switch {
	case strategyRisk.Ordinal() > tolerance.Ordinal():
		return 0
	case strategyRisk == tolerance:
		return 1.0
	default:
		return 0.8
	}
}

// protocolFit is 0 when an excluded protocol is involved, otherwise the
// Jaccard overlap between the strategy's protocols and the preferred set.
func protocolFit(protocols, preferred, excluded []string) float64 {
	for _, p := range protocols {
		if containsFold(excluded, p) {
			return 0
		}
	}
	if len(preferred) == 0 {
		return neutralFit
	}
	union := map[string]struct{}{}
	inter := 0
	for _, p := range protocols {
		union[strings.ToLower(p)] = struct{}{}
		if containsFold(preferred, p) {
			inter++
		}
	}
	for _, p := range preferred {
		union[strings.ToLower(p)] = struct{}{}
	}
	return float64(inter) / float64(len(union))
}

// apyFit starts at 0.5 when the strategy just meets minAPY, gains up to
// +0.5 for the excess and loses up to 0.5 for a shortfall.
func apyFit(apy, minAPY float64) float64 {
	if minAPY <= 0 {
		return 1.0
	}
	if apy >= minAPY {
		return math.Min(1, 0.5+0.5*(apy-minAPY)/math.Max(minAPY, 1))
	}
	return math.Max(0, 0.5-0.5*(minAPY-apy)/minAPY)
}

func leverageFit(s Info, allow bool) float64 {
	if s.UsesLeverage && !allow {
		return 0
	}
	return 1.0
}

func reasons(s Info, c Criteria, b Breakdown) []string {
	out := []string{}
	if b.Risk == 1.0 {
		out = append(out, fmt.Sprintf("matches %s risk tolerance", c.RiskTolerance))
	}
	if b.Risk == 0 {
		out = append(out, fmt.Sprintf("%s risk exceeds tolerance", s.Risk))
	}
	if b.Amount == 1.0 {
		out = append(out, "amount is in the optimal range")
	}
	if b.Amount == 0 {
		out = append(out, fmt.Sprintf("amount is below the %.0f minimum", s.MinAmount))
	}
	if c.MinAPY > 0 && s.APY >= c.MinAPY {
		out = append(out, fmt.Sprintf("%.1f%% APY meets the %.1f%% target", s.APY, c.MinAPY))
	}
	if b.Protocol == 0 && len(c.ExcludedProtocols) > 0 {
		out = append(out, "uses an excluded protocol")
	}
	if b.Leverage == 0 {
		out = append(out, "requires leverage")
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
