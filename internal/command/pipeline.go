package command

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-intent/internal/amount"
	"github.com/ggonzalez94/defi-intent/internal/asset"
	"github.com/ggonzalez94/defi-intent/internal/disambig"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/id"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/policy"
	"github.com/ggonzalez94/defi-intent/internal/registry"
	"github.com/ggonzalez94/defi-intent/internal/risk"
	"github.com/ggonzalez94/defi-intent/internal/validate"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonValidationFailed = "VALIDATION_FAILED"
	ReasonCancelled        = "CANCELLED"
	ReasonExpired          = "CLARIFICATION_EXPIRED"
)

type Config struct {
	Amount           amount.Config
	Assets           asset.Config
	Risk             risk.Config
	Disambiguation   disambig.Config
	Policy           policy.Rules
	Protocols        []string
	BatchConcurrency int
}

func DefaultConfig() Config {
	return Config{
		Amount:           amount.DefaultConfig(),
		Assets:           asset.DefaultConfig(),
		Risk:             risk.DefaultConfig(),
		Disambiguation:   disambig.DefaultConfig(),
		Policy:           policy.DefaultRules(),
		BatchConcurrency: 4,
	}
}

// Pipeline turns classified requests into executable commands or a single
// clarification question. Every component it holds is read-only after New.
type Pipeline struct {
	log        *zap.Logger
	now        func() time.Time
	amounts    *amount.Parser
	assets     *asset.Resolver
	registry   *registry.Registry
	validator  *validate.Validator
	engine     *disambig.Engine
	profiler   *risk.Profiler
	batchLimit int
}

type Option func(*Pipeline)

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func New(cfg Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{log: zap.NewNop(), now: time.Now, batchLimit: cfg.BatchConcurrency}
	for _, opt := range opts {
		opt(p)
	}
	if p.batchLimit <= 0 {
		p.batchLimit = 4
	}

	assets, err := asset.New(cfg.Assets, asset.WithLogger(p.log.Named("assets")))
	if err != nil {
		return nil, err
	}
	reg := registry.Default()
	if len(cfg.Protocols) > 0 {
		reg = reg.Only(cfg.Protocols)
	}
	p.assets = assets
	p.registry = reg
	p.amounts = amount.New(cfg.Amount, amount.WithLogger(p.log.Named("amount")))
	p.profiler = risk.New(cfg.Risk, risk.WithLogger(p.log.Named("risk")))
	p.engine = disambig.New(reg, cfg.Disambiguation,
		disambig.WithLogger(p.log.Named("disambig")),
		disambig.WithAmountParser(p.amounts))
	p.validator = validate.New(assets, reg, cfg.Policy,
		validate.WithLogger(p.log.Named("validate")),
		validate.WithDisambiguation(p.engine))
	return p, nil
}

func (p *Pipeline) Registry() *registry.Registry { return p.registry }

// Process extracts parameters from req, validates them and either returns
// the next clarification or a new command.
func (p *Pipeline) Process(ctx context.Context, req Request) (out Outcome, err error) {
	defer clierr.Recover(clierr.KindCommandProcessing, &err)

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if req.Intent == "" {
		req.Intent = model.IntentUnknown
	}
	ex, err := p.extract(req)
	if err != nil {
		return Outcome{}, err
	}
	return p.advance(req, ex.params, nil, ex.amountConfidence)
}

// Resolve answers pending with the option id. The answered ambiguity is not
// asked again; the result may still be another clarification.
func (p *Pipeline) Resolve(ctx context.Context, pending Pending, optionID string) (out Outcome, err error) {
	defer clierr.Recover(clierr.KindCommandProcessing, &err)

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	optionID = strings.TrimSpace(optionID)
	if !pending.CreatedAt.IsZero() && pending.Options.TimeoutMS > 0 && p.now().After(pending.ExpiresAt()) {
		e := clierr.Domain(clierr.KindDisambiguation, ReasonExpired, "clarification has expired; submit the request again")
		e.Code = clierr.CodeStale
		return Outcome{}, e.WithDetail("pending_id", pending.ID)
	}
	if optionID == disambig.OptionCancel {
		return Outcome{}, clierr.Domain(clierr.KindCommandBuilding, ReasonCancelled, "operation cancelled").
			WithDetail("pending_id", pending.ID)
	}
	params, err := p.engine.Resolve(pending.Parameters, optionID, pending.Options)
	if err != nil {
		return Outcome{}, err
	}

	req := pending.Request
	confidence := pending.amountConfidence()
	if opt, _ := pending.Options.Find(optionID); opt.Intent != "" && opt.Intent != req.Intent {
		req.Intent = opt.Intent
		ex, err := p.extract(req)
		if err != nil {
			return Outcome{}, err
		}
		params = ex.params.Merge(opt.Parameters)
		confidence = ex.amountConfidence
	}
	resolved := append(append([]model.AmbiguityType(nil), pending.Resolved...), pending.Options.Type)
	p.log.Debug("clarification answered",
		zap.String("pending_id", pending.ID),
		zap.String("type", string(pending.Options.Type)),
		zap.String("option", optionID))
	return p.advance(req, params, resolved, confidence)
}

// ProcessBatch runs requests concurrently against the shared components.
// A failing request is reported in its Outcome; only cancellation of ctx
// fails the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, reqs []Request) ([]Outcome, error) {
	out := make([]Outcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchLimit)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			o, err := p.Process(gctx, req)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				o = Outcome{Error: errorBody(err)}
			}
			out[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) advance(req Request, params model.CommandParameters, resolved []model.AmbiguityType, amountConfidence float64) (Outcome, error) {
	res := p.validator.Validate(validate.Input{
		Intent:     req.Intent,
		Parameters: params,
		Context:    req.Context,
		Entities:   req.Entities,
		Text:       req.Input,
		Resolved:   resolved,
	})
	if res.RequiresDisambiguation {
		pending := &Pending{
			ID:               id.NewPendingID(),
			Request:          req,
			Parameters:       res.Parameters,
			Resolved:         resolved,
			Options:          *res.DisambiguationOptions,
			CreatedAt:        p.now().UTC(),
			AmountConfidence: amountConfidence,
		}
		return Outcome{Clarification: res.DisambiguationOptions, Pending: pending, Validation: &res}, nil
	}
	if !res.IsValid {
		return Outcome{Validation: &res}, clierr.Domain(clierr.KindParameterValidation, ReasonValidationFailed, summarize(res.Errors)).
			WithDetail("errors", res.Errors).
			WithDetail("suggestions", res.Suggestions)
	}
	cmd, assessment, err := p.build(req, res, resolved, amountConfidence)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Command: &cmd, Validation: &res, Risk: &assessment}, nil
}

func (p *Pipeline) build(req Request, res validate.Result, resolved []model.AmbiguityType, amountConfidence float64) (model.ExecutableCommand, risk.Assessment, error) {
	primary := res.Parameters.Primary
	amt := 0.0
	if primary.Amount != "" {
		v, err := strconv.ParseFloat(primary.Amount, 64)
		if err != nil {
			return model.ExecutableCommand{}, risk.Assessment{}, clierr.Domain(clierr.KindCommandBuilding, "INVALID_AMOUNT",
				fmt.Sprintf("amount %q is not numeric", primary.Amount))
		}
		amt = v
	}
	token := primary.Token
	if token == "" {
		token = primary.FromToken
	}
	in := risk.Input{
		Intent:         req.Intent,
		Protocol:       primary.Protocol,
		Token:          token,
		Amount:         amt,
		PortfolioValue: req.Context.PortfolioValue().InexactFloat64(),
		Experience:     req.Experience,
	}
	if primary.Leverage != nil {
		in.Leverage = *primary.Leverage
	}
	assessment, err := p.profiler.Assess(in)
	if err != nil {
		return model.ExecutableCommand{}, risk.Assessment{}, err
	}

	level := assessment.Level.Model()
	cmd := model.ExecutableCommand{
		ID:         id.NewCommandID(),
		Intent:     req.Intent,
		Action:     action(req.Intent, primary.Protocol),
		Parameters: res.Parameters,
		Metadata: model.CommandMetadata{
			OriginalInput: req.Input,
			CreatedAt:     p.now().UTC(),
			Confidence:    confidence(req.Entities, amountConfidence),
			RiskScore:     assessment.Score,
			RiskWarnings:  assessment.Warnings,
			Warnings:      res.Warnings,
			Resolved:      resolved,
		},
		ValidationStatus:     res.Status(),
		ConfirmationRequired: level == model.RiskHigh,
		RiskLevel:            level,
	}
	if gas := res.Parameters.Optional.GasLimit; gas != nil {
		cmd.EstimatedGas = model.Uint64(*gas)
	} else if gas, ok := registry.EstimateGas(req.Intent); ok {
		cmd.EstimatedGas = model.Uint64(gas)
	}
	p.log.Info("command created",
		zap.String("id", cmd.ID),
		zap.String("action", cmd.Action),
		zap.String("risk_level", string(level)),
		zap.Bool("confirmation_required", cmd.ConfirmationRequired))
	return cmd, assessment, nil
}

func action(intent model.Intent, protocol string) string {
	if protocol == "" {
		return string(intent)
	}
	return protocol + "." + string(intent)
}

func summarize(errs []model.CommandValidationError) string {
	if len(errs) == 0 {
		return "parameters failed validation"
	}
	if len(errs) == 1 {
		return errs[0].Message
	}
	return fmt.Sprintf("%s (and %d more)", errs[0].Message, len(errs)-1)
}

func errorBody(err error) *model.ErrorBody {
	body := &model.ErrorBody{
		Code:    clierr.ExitCode(err),
		Type:    clierr.TypeName(err),
		Message: err.Error(),
	}
	if e, ok := clierr.As(err); ok {
		body.Reason = e.Reason
		body.Details = e.Details
	}
	return body
}

func roundTo(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
