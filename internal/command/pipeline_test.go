package command

import (
	"context"
	"testing"
	"time"

	"github.com/ggonzalez94/defi-intent/internal/disambig"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/id"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/validate"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newPipeline(t *testing.T) (*Pipeline, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p, err := New(DefaultConfig(), WithLogger(zaptest.NewLogger(t)), WithClock(c.now))
	require.NoError(t, err)
	return p, c
}

func ent(typ model.EntityType, value string) model.FinancialEntity {
	return model.FinancialEntity{Type: typ, Value: value}
}

func withBalances(kv ...string) *model.ParsingContext {
	ctx := &model.ParsingContext{Balances: map[string]decimal.Decimal{}}
	for i := 0; i+1 < len(kv); i += 2 {
		ctx.Balances[kv[i]] = decimal.RequireFromString(kv[i+1])
	}
	return ctx
}

func TestProcessBuildsCommand(t *testing.T) {
	p, c := newPipeline(t)
	out, err := p.Process(context.Background(), Request{
		Intent: model.IntentLend,
		Input:  "lend 100 usdc on yei",
		Entities: []model.FinancialEntity{
			{Type: model.EntityAmount, Value: "100", Confidence: 0.9},
			{Type: model.EntityToken, Value: "usdc", Confidence: 0.95},
			{Type: model.EntityProtocol, Value: "yei", Confidence: 0.9},
		},
		Context: withBalances("USDC", "1000"),
	})
	require.NoError(t, err)
	require.Nil(t, out.Clarification)
	require.NotNil(t, out.Command)

	cmd := out.Command
	require.True(t, id.IsCommandID(cmd.ID))
	require.Equal(t, "yei-finance.lend", cmd.Action)
	require.Equal(t, "USDC", cmd.Parameters.Primary.Token)
	require.Equal(t, "yei-finance", cmd.Parameters.Primary.Protocol)
	require.Equal(t, "100", cmd.Parameters.Primary.Amount)
	require.Equal(t, model.ValidationValid, cmd.ValidationStatus)
	require.Equal(t, model.RiskLow, cmd.RiskLevel)
	require.False(t, cmd.ConfirmationRequired)
	require.NotNil(t, cmd.EstimatedGas)
	require.Equal(t, c.t, cmd.Metadata.CreatedAt)
	require.InDelta(t, 0.9167, cmd.Metadata.Confidence, 1e-4)
	require.Equal(t, out.Risk.Score, cmd.Metadata.RiskScore)
}

func TestProcessPercentageAmount(t *testing.T) {
	p, _ := newPipeline(t)
	out, err := p.Process(context.Background(), Request{
		Intent:   model.IntentLend,
		Entities: []model.FinancialEntity{ent(model.EntityAmount, "50%"), ent(model.EntityToken, "usdc"), ent(model.EntityProtocol, "takara")},
		Context:  withBalances("USDC", "1000"),
	})
	require.NoError(t, err)
	require.Equal(t, "500", out.Command.Parameters.Primary.Amount)
	require.Equal(t, 0.9, out.Command.Metadata.Confidence)
}

func TestProcessLendAllKeepsFullBalancePrecision(t *testing.T) {
	p, _ := newPipeline(t)
	out, err := p.Process(context.Background(), Request{
		Intent:   model.IntentLend,
		Entities: []model.FinancialEntity{ent(model.EntityAmount, "all"), ent(model.EntityToken, "usdc"), ent(model.EntityProtocol, "yei")},
		Context:  withBalances("USDC", "1.2345675"),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Command)
	require.Equal(t, "1.2345675", out.Command.Parameters.Primary.Amount)
	require.Empty(t, out.Validation.Errors)
	require.Contains(t, codesOf(out.Validation.Warnings), validate.CodeHighBalanceUsage)
}

func codesOf(findings []model.CommandValidationError) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Code)
	}
	return out
}

func TestDerivedComesOnlyFromQuote(t *testing.T) {
	p, _ := newPipeline(t)
	quote := &model.DerivedParameters{OutputAmount: "48.7", PriceImpact: model.Float(7)}
	out, err := p.Process(context.Background(), Request{
		Intent: model.IntentSwap,
		Entities: []model.FinancialEntity{
			ent(model.EntityAmount, "100"), ent(model.EntityToken, "SEI"), ent(model.EntityToken, "USDC"), ent(model.EntityProtocol, "dragonswap"),
		},
		Context: withBalances("SEI", "500"),
		Quote:   quote,
	})
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(*quote, out.Command.Parameters.Derived))
	require.Equal(t, model.ValidationWarning, out.Command.ValidationStatus)
	require.Equal(t, validate.CodeHighPriceImpact, out.Command.Metadata.Warnings[0].Code)

	out, err = p.Process(context.Background(), Request{
		Intent: model.IntentSwap,
		Entities: []model.FinancialEntity{
			ent(model.EntityAmount, "100"), ent(model.EntityToken, "SEI"), ent(model.EntityToken, "USDC"), ent(model.EntityProtocol, "dragonswap"),
		},
	})
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(model.DerivedParameters{}, out.Command.Parameters.Derived))
}

func TestSwapDirectionThenProtocol(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()
	out, err := p.Process(ctx, Request{
		Intent:   model.IntentSwap,
		Input:    "swap 100 sei",
		Entities: []model.FinancialEntity{ent(model.EntityAmount, "100"), ent(model.EntityToken, "SEI")},
		Context:  withBalances("SEI", "500"),
	})
	require.NoError(t, err)
	require.Nil(t, out.Command)
	require.Equal(t, model.AmbiguityTokenDirection, out.Clarification.Type)
	require.True(t, id.IsPendingID(out.Pending.ID))

	out, err = p.Resolve(ctx, *out.Pending, disambig.OptionFromToken)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityMissingProtocol, out.Clarification.Type)
	require.Equal(t, "SEI", out.Pending.Parameters.Primary.FromToken)
	require.Equal(t, []model.AmbiguityType{model.AmbiguityTokenDirection}, out.Pending.Resolved)

	// Nothing says what to buy, so the last answer leaves a blocking error.
	out, err = p.Resolve(ctx, *out.Pending, "dragonswap")
	require.Error(t, err)
	require.True(t, clierr.IsKind(err, clierr.KindParameterValidation))
	require.True(t, clierr.HasReason(err, ReasonValidationFailed))
	require.NotNil(t, out.Validation)
	require.Equal(t, "to_token", out.Validation.Errors[0].Field)
}

func TestUnclearIntentResolution(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()
	out, err := p.Process(ctx, Request{
		Intent:   model.IntentUnknown,
		Input:    "put 100 usdc to work",
		Entities: []model.FinancialEntity{ent(model.EntityAmount, "100"), ent(model.EntityToken, "usdc")},
	})
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityUnclearIntent, out.Clarification.Type)

	out, err = p.Resolve(ctx, *out.Pending, string(model.IntentLend))
	require.NoError(t, err)
	require.Equal(t, model.IntentLend, out.Pending.Request.Intent)
	require.Equal(t, model.AmbiguityMissingProtocol, out.Clarification.Type)

	out, err = p.Resolve(ctx, *out.Pending, "takara")
	require.NoError(t, err)
	require.NotNil(t, out.Command)
	require.Equal(t, "takara.lend", out.Command.Action)
	require.Equal(t, []model.AmbiguityType{model.AmbiguityUnclearIntent, model.AmbiguityMissingProtocol}, out.Command.Metadata.Resolved)
}

func TestRiskConfirmation(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()
	req := Request{
		Intent: model.IntentOpenPosition,
		Entities: []model.FinancialEntity{
			ent(model.EntityAmount, "100"), ent(model.EntityToken, "SEI"),
			ent(model.EntityProtocol, "citrex"), ent(model.EntityLeverage, "10x"),
		},
	}
	out, err := p.Process(ctx, req)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityRiskConfirmation, out.Clarification.Type)
	pending := *out.Pending

	_, err = p.Resolve(ctx, pending, disambig.OptionCancel)
	require.Error(t, err)
	require.True(t, clierr.IsKind(err, clierr.KindCommandProcessing))
	require.True(t, clierr.HasReason(err, ReasonCancelled))

	out, err = p.Resolve(ctx, pending, disambig.OptionConfirm)
	require.NoError(t, err)
	require.Equal(t, model.RiskHigh, out.Command.RiskLevel)
	require.True(t, out.Command.ConfirmationRequired)
	require.Equal(t, 10.0, *out.Command.Parameters.Primary.Leverage)

	out, err = p.Resolve(ctx, pending, disambig.OptionReduce)
	require.NoError(t, err)
	require.Equal(t, 5.0, *out.Command.Parameters.Primary.Leverage)
}

func TestBorrowCollateralFailure(t *testing.T) {
	p, _ := newPipeline(t)
	out, err := p.Process(context.Background(), Request{
		Intent:   model.IntentBorrow,
		Entities: []model.FinancialEntity{ent(model.EntityAmount, "800"), ent(model.EntityToken, "USDC"), ent(model.EntityProtocol, "yei")},
		Context: &model.ParsingContext{Positions: []model.Position{
			{Protocol: "yei-finance", Type: model.PositionLending, Value: decimal.NewFromInt(1000)},
		}},
	})
	require.Error(t, err)
	require.Equal(t, int(clierr.CodeValidation), clierr.ExitCode(err))
	require.Len(t, out.Validation.Errors, 1)
	require.Equal(t, validate.CodeInsufficientCollateral, out.Validation.Errors[0].Code)
	require.Equal(t, "750.00", out.Validation.Errors[0].Suggestion)
}

func TestResolveErrors(t *testing.T) {
	p, c := newPipeline(t)
	ctx := context.Background()
	out, err := p.Process(ctx, Request{
		Intent:   model.IntentLend,
		Entities: []model.FinancialEntity{ent(model.EntityAmount, "100"), ent(model.EntityToken, "USDC")},
	})
	require.NoError(t, err)
	pending := *out.Pending
	require.Equal(t, c.t.Add(30*time.Second), pending.ExpiresAt())

	_, err = p.Resolve(ctx, pending, "aave")
	require.True(t, clierr.HasReason(err, disambig.ReasonInvalidOption))

	c.t = c.t.Add(31 * time.Second)
	_, err = p.Resolve(ctx, pending, "takara")
	require.Error(t, err)
	require.Equal(t, int(clierr.CodeStale), clierr.ExitCode(err))
}

func TestProcessRejectsBadEntities(t *testing.T) {
	p, _ := newPipeline(t)
	_, err := p.Process(context.Background(), Request{
		Intent:   model.IntentLend,
		Entities: []model.FinancialEntity{ent(model.EntityAmount, "a heap of"), ent(model.EntityToken, "USDC")},
	})
	require.True(t, clierr.IsKind(err, clierr.KindAmountParsing))

	_, err = p.Process(context.Background(), Request{
		Intent:   model.IntentOpenPosition,
		Entities: []model.FinancialEntity{ent(model.EntityLeverage, "lots")},
	})
	require.True(t, clierr.HasReason(err, ReasonInvalidEntity))
}

func TestProcessBatch(t *testing.T) {
	p, _ := newPipeline(t)
	reqs := []Request{
		{Intent: model.IntentLend, Entities: []model.FinancialEntity{ent(model.EntityAmount, "100"), ent(model.EntityToken, "USDC"), ent(model.EntityProtocol, "yei")}},
		{Intent: model.IntentLend, Entities: []model.FinancialEntity{ent(model.EntityAmount, "a heap of"), ent(model.EntityToken, "USDC")}},
		{Intent: model.IntentSwap, Entities: []model.FinancialEntity{ent(model.EntityAmount, "5"), ent(model.EntityToken, "SEI")}},
	}
	outs, err := p.ProcessBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, outs, 3)
	require.NotNil(t, outs[0].Command)
	require.NotNil(t, outs[1].Error)
	require.Equal(t, "usage_error", outs[1].Error.Type)
	require.Equal(t, "AMOUNT_PARSE_FAILED", outs[1].Error.Reason)
	require.Equal(t, model.AmbiguityTokenDirection, outs[2].Clarification.Type)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.ProcessBatch(cancelled, reqs)
	require.ErrorIs(t, err, context.Canceled)
}
