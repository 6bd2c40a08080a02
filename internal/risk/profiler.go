package risk

import (
	"fmt"
	"math"
	"strings"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"go.uber.org/zap"
)

const ReasonInvalidInput = "INVALID_RISK_INPUT"

type FactorType string

const (
	FactorProtocol      FactorType = "protocol"
	FactorOperation     FactorType = "operation"
	FactorLeverage      FactorType = "leverage"
	FactorConcentration FactorType = "concentration"
	FactorLiquidity     FactorType = "liquidity"
)

type Factor struct {
	Type        FactorType `json:"type"`
	Level       Level      `json:"level"`
	Impact      float64    `json:"impact"`
	Description string     `json:"description"`
	Mitigation  string     `json:"mitigation,omitempty"`
}

// Input describes one proposed operation. PortfolioValue of zero disables
// the concentration factor.
type Input struct {
	Intent         model.Intent `json:"intent"`
	Protocol       string       `json:"protocol,omitempty"`
	Token          string       `json:"token,omitempty"`
	Amount         float64      `json:"amount"`
	Leverage       float64      `json:"leverage,omitempty"`
	PortfolioValue float64      `json:"portfolio_value,omitempty"`
	Experience     Experience   `json:"experience,omitempty"`
}

type Assessment struct {
	Level           Level    `json:"level"`
	Score           float64  `json:"score"`
	Factors         []Factor `json:"factors"`
	Recommendations []string `json:"recommendations,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

type Config struct {
	ProtocolRisk        map[string]Level       `yaml:"protocol_risk"`
	OperationRisk       map[model.Intent]Level `yaml:"operation_risk"`
	LiquidityTiers      map[string]int         `yaml:"liquidity_tiers"`
	LeverageBoostAbove  float64                `yaml:"leverage_boost_above"`
	HighLeverageWarning float64                `yaml:"high_leverage_warning"`
	LargeAmountWarning  float64                `yaml:"large_amount_warning"`
}

func DefaultConfig() Config {
	return Config{
		ProtocolRisk: map[string]Level{
			"yei-finance": Low,
			"takara":      Medium,
			"silo":        Low,
			"dragonswap":  Low,
			"symphony":    Medium,
			"astroport":   Low,
			"citrex":      High,
		},
		OperationRisk: map[model.Intent]Level{
			model.IntentWithdraw:               VeryLow,
			model.IntentRepay:                  VeryLow,
			model.IntentPortfolioStatus:        VeryLow,
			model.IntentLend:                   Low,
			model.IntentSwap:                   Low,
			model.IntentRemoveLiquidity:        Low,
			model.IntentClosePosition:          Low,
			model.IntentStake:                  Low,
			model.IntentUnstake:                Low,
			model.IntentBorrow:                 Medium,
			model.IntentAddLiquidity:           Medium,
			model.IntentOpenPosition:           High,
			model.IntentArbitrage:              High,
			model.IntentCrossProtocolArbitrage: VeryHigh,
		},
		LiquidityTiers: map[string]int{
			"yei-finance": 1,
			"silo":        1,
			"dragonswap":  1,
			"astroport":   1,
			"takara":      2,
			"symphony":    2,
			"citrex":      3,
		},
		LeverageBoostAbove:  3,
		HighLeverageWarning: 5,
		LargeAmountWarning:  100000,
	}
}

// Profiler scores operations. Its tables are copied at construction and
// never written afterwards, so one instance serves concurrent callers.
type Profiler struct {
	cfg Config
	log *zap.Logger
}

type Option func(*Profiler)

func WithLogger(log *zap.Logger) Option {
	return func(p *Profiler) {
		if log != nil {
			p.log = log
		}
	}
}

// New merges cfg over the defaults; table entries in cfg override or extend
// the built-in ones.
func New(cfg Config, opts ...Option) *Profiler {
	def := DefaultConfig()
	merged := Config{
		ProtocolRisk:        copyTable(def.ProtocolRisk, cfg.ProtocolRisk),
		OperationRisk:       copyTable(def.OperationRisk, cfg.OperationRisk),
		LiquidityTiers:      copyTable(def.LiquidityTiers, cfg.LiquidityTiers),
		LeverageBoostAbove:  pick(cfg.LeverageBoostAbove, def.LeverageBoostAbove),
		HighLeverageWarning: pick(cfg.HighLeverageWarning, def.HighLeverageWarning),
		LargeAmountWarning:  pick(cfg.LargeAmountWarning, def.LargeAmountWarning),
	}
	p := &Profiler{cfg: merged, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func copyTable[K comparable, V any](base, over map[K]V) map[K]V {
	out := make(map[K]V, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func pick(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

// Assess blends protocol, operation, leverage, concentration and liquidity
// factors into one score.
func (p *Profiler) Assess(in Input) (out Assessment, err error) {
	defer clierr.Recover(clierr.KindRiskAnalysis, &err)

	if math.IsNaN(in.Amount) || in.Amount < 0 {
		return Assessment{}, clierr.Domain(clierr.KindRiskAnalysis, ReasonInvalidInput, "amount must be a non-negative number")
	}
	if math.IsNaN(in.Leverage) || in.Leverage < 0 {
		return Assessment{}, clierr.Domain(clierr.KindRiskAnalysis, ReasonInvalidInput, "leverage must be a non-negative number")
	}
	if in.PortfolioValue < 0 {
		return Assessment{}, clierr.Domain(clierr.KindRiskAnalysis, ReasonInvalidInput, "portfolio value must be non-negative")
	}

	protocol := strings.ToLower(strings.TrimSpace(in.Protocol))
	factors := []Factor{p.protocolFactor(protocol), p.operationFactor(in.Intent)}

	if f, ok := concentrationFactor(in.Amount, in.PortfolioValue); ok {
		factors = append(factors, f)
	}
	factors = append(factors, p.liquidityFactor(protocol, in.Amount))

	// Leverage above 1x is reported as a factor. Its weight can pull the
	// mean below the unleveraged score, so the larger of the two is kept.
	score := weightedScore(factors)
	if in.Leverage > 1 {
		factors = append(factors, leverageFactor(in.Leverage))
		score = math.Max(score, weightedScore(factors))
	}
	if in.Leverage > p.cfg.LeverageBoostAbove {
		score *= 1.2
	}
	if in.Experience == Beginner {
		score *= 1.1
	}
	score = math.Min(score, 1.0)

	out = Assessment{
		Level:   levelForScore(score),
		Score:   math.Round(score*1e4) / 1e4,
		Factors: factors,
	}
	out.Recommendations, out.Warnings = p.advice(in, out)
	p.log.Debug("risk assessed",
		zap.String("intent", string(in.Intent)),
		zap.String("level", string(out.Level)),
		zap.Float64("score", out.Score))
	return out, nil
}

func weightedScore(factors []Factor) float64 {
	sum, weights := 0.0, 0.0
	for _, f := range factors {
		sum += f.Level.Score() * f.Impact
		weights += f.Impact
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func (p *Profiler) protocolFactor(protocol string) Factor {
	level, ok := p.cfg.ProtocolRisk[protocol]
	if !ok {
		level = Medium
	}
	name := protocol
	if name == "" {
		name = "unspecified protocol"
	}
	f := Factor{
		Type:        FactorProtocol,
		Level:       level,
		Impact:      0.3,
		Description: fmt.Sprintf("%s carries %s smart-contract risk", name, strings.ReplaceAll(string(level), "_", " ")),
	}
	if !ok {
		f.Description = fmt.Sprintf("%s has no risk rating; assuming medium", name)
	}
	if level.Ordinal() >= High.Ordinal() {
		f.Mitigation = "limit exposure to this protocol or split across audited venues"
	}
	return f
}

func (p *Profiler) operationFactor(intent model.Intent) Factor {
	level, ok := p.cfg.OperationRisk[intent]
	if !ok {
		level = Medium
	}
	f := Factor{
		Type:        FactorOperation,
		Level:       level,
		Impact:      0.25,
		Description: fmt.Sprintf("%s operations are %s risk", intent, strings.ReplaceAll(string(level), "_", " ")),
	}
	if level.Ordinal() >= High.Ordinal() {
		f.Mitigation = "start with a smaller test transaction"
	}
	return f
}

func leverageFactor(leverage float64) Factor {
	level := VeryLow
	switch {
	case leverage <= 1:
	case leverage <= 2:
		level = Low
	case leverage <= 5:
		level = Medium
	case leverage <= 10:
		level = High
	default:
		level = VeryHigh
	}
	f := Factor{
		Type:        FactorLeverage,
		Level:       level,
		Impact:      0.6,
		Description: fmt.Sprintf("%.1fx leverage", math.Max(leverage, 1)),
	}
	if level.Ordinal() >= Medium.Ordinal() {
		f.Mitigation = "reduce leverage to lower liquidation risk"
	}
	return f
}

func concentrationFactor(amount, portfolio float64) (Factor, bool) {
	if portfolio <= 0 {
		return Factor{}, false
	}
	ratio := amount / portfolio
	switch {
	case ratio > 0.5:
		return Factor{
			Type:        FactorConcentration,
			Level:       High,
			Impact:      0.8,
			Description: fmt.Sprintf("operation is %.0f%% of the portfolio", ratio*100),
			Mitigation:  "diversify across positions; keep single operations under 20% of the portfolio",
		}, true
	case ratio > 0.2:
		return Factor{
			Type:        FactorConcentration,
			Level:       Medium,
			Impact:      0.4,
			Description: fmt.Sprintf("operation is %.0f%% of the portfolio", ratio*100),
		}, true
	}
	return Factor{}, false
}

func (p *Profiler) liquidityFactor(protocol string, amount float64) Factor {
	tier, ok := p.cfg.LiquidityTiers[protocol]
	if !ok {
		tier = 3
	}
	level := Low
	switch tier {
	case 1:
		if amount > 1_000_000 {
			level = Medium
		}
	case 2:
		switch {
		case amount > 250_000:
			level = High
		case amount > 50_000:
			level = Medium
		}
	default:
		switch {
		case amount > 50_000:
			level = High
		case amount > 10_000:
			level = Medium
		}
	}
	f := Factor{
		Type:        FactorLiquidity,
		Level:       level,
		Impact:      0.3,
		Description: fmt.Sprintf("tier %d liquidity for this size", tier),
	}
	if level.Ordinal() >= High.Ordinal() {
		f.Mitigation = "split the order to limit slippage"
	}
	return f
}

func (p *Profiler) advice(in Input, a Assessment) (recs, warnings []string) {
	for _, f := range a.Factors {
		if f.Level.Ordinal() >= High.Ordinal() && f.Mitigation != "" {
			recs = append(recs, f.Mitigation)
		}
		if f.Level == VeryHigh {
			warnings = append(warnings, "very high "+string(f.Type)+" risk: "+f.Description)
		}
	}
	if in.Leverage > p.cfg.HighLeverageWarning {
		warnings = append(warnings, fmt.Sprintf("leverage above %.0fx sharply increases liquidation risk", p.cfg.HighLeverageWarning))
	}
	if in.Amount > p.cfg.LargeAmountWarning {
		warnings = append(warnings, "large transaction size; consider splitting it into smaller transactions")
	}
	if len(recs) == 0 && a.Level.Ordinal() <= Low.Ordinal() {
		recs = append(recs, "risk is within normal bounds for this operation")
	}
	return recs, warnings
}
