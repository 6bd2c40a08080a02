package amount

import (
	"testing"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	return New(DefaultConfig(), WithLogger(zaptest.NewLogger(t)))
}

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestParseStrategies(t *testing.T) {
	p := newParser(t)
	ctx := &Context{UserBalance: dec("1000"), PortfolioValue: dec("4000"), PositionSize: dec("200")}

	cases := []struct {
		input      string
		value      float64
		method     Method
		confidence float64
		unit       string
	}{
		{input: "100", value: 100, method: MethodExact, confidence: 1.0},
		{input: "$1,250.5", value: 1250.5, method: MethodExact, confidence: 1.0},
		{input: "1.5k", value: 1500, method: MethodUnit, confidence: 0.95, unit: "k"},
		{input: "2 M", value: 2e6, method: MethodUnit, confidence: 0.95, unit: "m"},
		{input: "50%", value: 500, method: MethodPercentage, confidence: 0.9, unit: "%"},
		{input: "25 percent of my balance", value: 250, method: MethodPercentage, confidence: 0.9, unit: "%"},
		{input: "half", value: 500, method: MethodRelative, confidence: 0.85, unit: "half"},
		{input: "half of my portfolio", value: 2000, method: MethodRelative, confidence: 0.85, unit: "half"},
		{input: "a small amount", value: 100, method: MethodRelative, confidence: 0.85, unit: "small"},
		{input: "half of all my balance", value: 500, method: MethodRelative, confidence: 0.85, unit: "half"},
		{input: "all of the other half", value: 1000, method: MethodRelative, confidence: 0.85, unit: "all"},
		{input: "twenty-five thousand", value: 25000, method: MethodNatural, confidence: 0.8},
		{input: "three hundred and five", value: 305, method: MethodNatural, confidence: 0.8},
		{input: "hundred", value: 100, method: MethodNatural, confidence: 0.8},
		{input: "thousand", value: 1000, method: MethodNatural, confidence: 0.8},
		{input: "a thousand", value: 1000, method: MethodExpression, confidence: 0.7, unit: "~"},
		{input: "a few hundred", value: 300, method: MethodExpression, confidence: 0.7, unit: "~"},
		{input: "around 500", value: 500, method: MethodExpression, confidence: 0.7, unit: "~"},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			res, err := p.Parse(tc.input, ctx)
			require.NoError(t, err)
			require.InDelta(t, tc.value, res.Value, 1e-9)
			require.Equal(t, tc.method, res.Method)
			require.Equal(t, tc.confidence, res.Confidence)
			require.Equal(t, tc.unit, res.Unit)
			require.Equal(t, tc.input, res.Original)
		})
	}
}

func TestPercentageOfBalance(t *testing.T) {
	res, err := newParser(t).Parse("50%", &Context{UserBalance: dec("1000")})
	require.NoError(t, err)
	require.Equal(t, 500.0, res.Value)
	require.Equal(t, 0.9, res.Confidence)
	require.Equal(t, "%", res.Unit)
	require.Empty(t, res.Alternatives)
}

func TestPercentageAlternativesUseOtherBases(t *testing.T) {
	res, err := newParser(t).Parse("10%", &Context{UserBalance: dec("1000"), PortfolioValue: dec("5000")})
	require.NoError(t, err)
	require.Equal(t, 100.0, res.Value)
	require.Len(t, res.Alternatives, 1)
	require.Equal(t, 500.0, res.Alternatives[0].Value)
}

func TestExpressionAlternatives(t *testing.T) {
	res, err := newParser(t).Parse("several hundred", nil)
	require.NoError(t, err)
	require.Equal(t, 500.0, res.Value)
	require.Len(t, res.Alternatives, 2)
	require.InDelta(t, 400, res.Alternatives[0].Value, 1e-9)
	require.InDelta(t, 600, res.Alternatives[1].Value, 1e-9)
}

func TestParseFailures(t *testing.T) {
	p := newParser(t)

	_, err := p.Parse("banana", nil)
	require.Error(t, err)
	require.True(t, clierr.HasReason(err, ReasonFailed))
	e, ok := clierr.As(err)
	require.True(t, ok)
	require.Equal(t, clierr.KindAmountParsing, e.Kind)
	require.NotEmpty(t, e.Details["suggestions"])

	_, err = p.Parse("0", nil)
	require.True(t, clierr.HasReason(err, ReasonOutOfRange))

	_, err = p.Parse("150%", &Context{UserBalance: dec("100")})
	require.True(t, clierr.HasReason(err, ReasonFailed))

	_, err = p.Parse("half", nil)
	require.Error(t, err)

	_, err = p.Parse("   ", nil)
	require.True(t, clierr.HasReason(err, ReasonEmpty))
}

func TestDisabledStrategies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowPercentages = false
	cfg.AllowRelativeAmounts = false
	p := New(cfg)
	ctx := &Context{UserBalance: dec("100")}

	_, err := p.Parse("50%", ctx)
	require.Error(t, err)
	_, err = p.Parse("all", ctx)
	require.Error(t, err)
}

func TestRangeAlwaysHolds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinAmount = 1
	cfg.MaxAmount = 10000
	p := New(cfg)
	ctx := &Context{UserBalance: dec("50000"), PortfolioValue: dec("10")}

	inputs := []string{"0.5", "5", "20k", "50%", "all", "half", "ten thousand", "twenty thousand", "a thousand", "about 9000", "several hundred"}
	for _, input := range inputs {
		res, err := p.Parse(input, ctx)
		if err != nil {
			continue
		}
		require.GreaterOrEqual(t, res.Value, cfg.MinAmount, input)
		require.LessOrEqual(t, res.Value, cfg.MaxAmount, input)
		for _, alt := range res.Alternatives {
			require.GreaterOrEqual(t, alt.Value, cfg.MinAmount, input)
			require.LessOrEqual(t, alt.Value, cfg.MaxAmount, input)
		}
	}
}

func TestFormatRoundTrip(t *testing.T) {
	p := newParser(t)
	ctx := &Context{UserBalance: dec("1234.5678")}
	inputs := []string{"42", "0.000001", "0.0000015", "1.2345675", "3.5k", "1.2345675k", "33%", "third", "nineteen", "couple hundred"}
	for _, input := range inputs {
		first, err := p.Parse(input, ctx)
		require.NoError(t, err, input)
		second, err := p.Parse(first.Exact.String(), ctx)
		require.NoError(t, err, input)
		require.True(t, first.Exact.Equal(second.Exact), "%s: %s != %s", input, first.Exact, second.Exact)
		require.Equal(t, MethodExact, second.Method)
	}
}

func TestExactKeepsFullPrecision(t *testing.T) {
	p := newParser(t)

	res, err := p.Parse("all", &Context{UserBalance: dec("1.2345675")})
	require.NoError(t, err)
	require.Equal(t, "1.2345675", res.Exact.String())
	require.Equal(t, "1.234567", res.Formatted)

	res, err = p.Parse("everything", &Context{UserBalance: dec("0.123456789012345678")})
	require.NoError(t, err)
	require.Equal(t, "0.123456789012345678", res.Exact.String())

	_, err = p.Parse("50%", &Context{UserBalance: dec("0.000000000000000003")})
	require.Error(t, err)

	res, err = p.Parse("0.0000015", nil)
	require.NoError(t, err)
	require.Equal(t, "0.0000015", res.Exact.String())
	require.Equal(t, "0.000001", res.Formatted)
}

func TestFormatAmountTruncates(t *testing.T) {
	require.Equal(t, "1.234567", FormatAmount(1.2345675, 6))
	require.Equal(t, "0.000001", FormatAmount(0.0000019, 6))
	require.Equal(t, "42", FormatAmount(42, 6))
}

func TestConfidenceOrdering(t *testing.T) {
	p := newParser(t)
	ctx := &Context{UserBalance: dec("2000")}
	inputs := []string{"1000", "1k", "50%", "half", "one thousand", "a thousand"}
	prev := 1.1
	for _, input := range inputs {
		res, err := p.Parse(input, ctx)
		require.NoError(t, err, input)
		require.InDelta(t, 1000, res.Value, 1e-9, input)
		require.Less(t, res.Confidence, prev, input)
		prev = res.Confidence
	}
}

func TestContextFor(t *testing.T) {
	pc := &model.ParsingContext{
		Balances:  map[string]decimal.Decimal{"USDC": decimal.NewFromInt(300)},
		Positions: []model.Position{{Protocol: "yei-finance", Type: model.PositionLending, Token: "USDC", Value: decimal.NewFromInt(700)}},
	}
	ctx := ContextFor(pc, "usdc")
	require.NotNil(t, ctx.UserBalance)
	require.True(t, ctx.UserBalance.Equal(decimal.NewFromInt(300)))
	require.True(t, ctx.PortfolioValue.Equal(decimal.NewFromInt(700)))
	require.True(t, ctx.PositionSize.Equal(decimal.NewFromInt(700)))

	missing := ContextFor(pc, "SEI")
	require.NotNil(t, missing.UserBalance)
	require.True(t, missing.UserBalance.IsZero())
	require.Nil(t, ContextFor(nil, "SEI"))
}
