package disambig

import (
	"testing"

	"github.com/ggonzalez94/defi-intent/internal/amount"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/registry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(registry.Default(), Config{}, opts...)
}

func entity(typ model.EntityType, value string) model.FinancialEntity {
	return model.FinancialEntity{Type: typ, Value: value, Confidence: 0.9}
}

func optionIDs(opts *model.DisambiguationOptions) []string {
	out := []string{}
	for _, o := range opts.Options {
		out = append(out, o.ID)
	}
	return out
}

func TestSwapWithOneTokenAsksDirection(t *testing.T) {
	e := newEngine(t)
	s := Subject{
		Intent:   model.IntentSwap,
		Input:    "swap 100 sei",
		Entities: []model.FinancialEntity{entity(model.EntityAmount, "100"), entity(model.EntityToken, "sei")},
	}
	require.Equal(t, []model.AmbiguityType{model.AmbiguityTokenDirection, model.AmbiguityMissingProtocol}, e.Detect(s))

	opts, err := e.Generate(s)
	require.NoError(t, err)
	require.NotNil(t, opts)
	require.Equal(t, model.AmbiguityTokenDirection, opts.Type)
	require.Equal(t, []string{OptionFromToken, OptionToToken}, optionIDs(opts))
	require.Equal(t, OptionFromToken, opts.DefaultOption)
	require.EqualValues(t, 30000, opts.TimeoutMS)

	merged, err := e.Resolve(s.Parameters, OptionToToken, *opts)
	require.NoError(t, err)
	require.Equal(t, "SEI", merged.Primary.ToToken)
	require.Empty(t, merged.Primary.FromToken)
	require.Equal(t, "100", merged.Primary.Amount)
}

func TestResolvedTypesAreNotAskedAgain(t *testing.T) {
	e := newEngine(t)
	s := Subject{
		Intent:     model.IntentSwap,
		Entities:   []model.FinancialEntity{entity(model.EntityAmount, "100"), entity(model.EntityToken, "SEI")},
		Parameters: model.CommandParameters{Primary: model.PrimaryParameters{FromToken: "SEI", Amount: "100"}},
		Resolved:   []model.AmbiguityType{model.AmbiguityTokenDirection},
	}
	opts, err := e.Generate(s)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityMissingProtocol, opts.Type)
	require.Equal(t, []string{"dragonswap", "symphony", "astroport"}, optionIDs(opts))

	s.Parameters.Primary.Protocol = "dragonswap"
	opts, err = e.Generate(s)
	require.NoError(t, err)
	require.Nil(t, opts)
}

func TestUnclearIntentGuessesFromKeywords(t *testing.T) {
	e := newEngine(t)
	opts, err := e.Generate(Subject{Intent: model.IntentUnknown, Input: "I want to stake my SEI somewhere"})
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityUnclearIntent, opts.Type)
	require.Equal(t, []string{"stake", "lend", "swap", "borrow"}, optionIDs(opts))
	require.Equal(t, model.IntentStake, opts.Options[0].Intent)
	require.Equal(t, 0.7, opts.Options[0].Confidence)
	require.Equal(t, 0.4, opts.Options[1].Confidence)
	require.EqualValues(t, 45000, opts.TimeoutMS)
}

func TestMissingProtocolPrefersSingleHistoryVenue(t *testing.T) {
	e := newEngine(t)
	s := Subject{
		Intent:     model.IntentLend,
		Parameters: model.CommandParameters{Primary: model.PrimaryParameters{Token: "USDC", Amount: "100"}},
	}
	opts, err := e.Generate(s)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityMissingProtocol, opts.Type)
	require.Equal(t, []string{"yei-finance", "takara"}, optionIDs(opts))

	s.Context = &model.ParsingContext{Positions: []model.Position{{Protocol: "Takara", Type: model.PositionLending}}}
	opts, err = e.Generate(s)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityMissingProtocol, opts.Type)
	require.Equal(t, []string{"takara", "yei-finance"}, optionIDs(opts))
	require.Equal(t, "takara", opts.Options[0].Parameters.Primary.Protocol)
}

func TestProtocolChoiceFromHistory(t *testing.T) {
	e := newEngine(t)
	s := Subject{
		Intent:     model.IntentSwap,
		Parameters: model.CommandParameters{Primary: model.PrimaryParameters{FromToken: "SEI", ToToken: "USDC", Amount: "10"}},
		Context: &model.ParsingContext{Positions: []model.Position{
			{Protocol: "dragonswap", Type: model.PositionLiquidity},
			{Protocol: "astroport", Type: model.PositionLiquidity},
			{Protocol: "astroport", Type: model.PositionLiquidity},
		}},
	}
	require.Equal(t, []model.AmbiguityType{model.AmbiguityProtocolChoice}, e.Detect(s))

	opts, err := e.Generate(s)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityProtocolChoice, opts.Type)
	require.Equal(t, []string{"astroport", "dragonswap"}, optionIDs(opts))
	require.Equal(t, 0.67, opts.Options[0].Confidence)
	require.Equal(t, 0.33, opts.Options[1].Confidence)
}

func TestMultipleAmountsUseParser(t *testing.T) {
	e := newEngine(t, WithAmountParser(amount.New(amount.DefaultConfig())))
	s := Subject{
		Intent: model.IntentLend,
		Entities: []model.FinancialEntity{
			entity(model.EntityAmount, "100"),
			entity(model.EntityAmount, "1k"),
			entity(model.EntityAmount, "100"),
		},
		Parameters: model.CommandParameters{Primary: model.PrimaryParameters{Token: "USDC", Protocol: "yei-finance"}},
	}
	opts, err := e.Generate(s)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityMultipleAmounts, opts.Type)
	require.Len(t, opts.Options, 2)
	require.Equal(t, "100", opts.Options[0].Parameters.Primary.Amount)
	require.Equal(t, "1000", opts.Options[1].Parameters.Primary.Amount)

	// Repeating the same amount is not an ambiguity.
	s.Entities = s.Entities[:1]
	s.Parameters.Primary.Amount = "100"
	opts, err = e.Generate(s)
	require.NoError(t, err)
	require.Nil(t, opts)
}

func TestLeverageConflictBeforeRiskConfirmation(t *testing.T) {
	e := newEngine(t)
	s := Subject{
		Intent:   model.IntentOpenPosition,
		Entities: []model.FinancialEntity{entity(model.EntityLeverage, "3x"), entity(model.EntityLeverage, "5x")},
		Parameters: model.CommandParameters{Primary: model.PrimaryParameters{
			Token: "SEI", Amount: "100", Protocol: "citrex",
		}},
	}
	require.Equal(t, []model.AmbiguityType{model.AmbiguityParameterConflict, model.AmbiguityRiskConfirmation}, e.Detect(s))

	opts, err := e.Generate(s)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityParameterConflict, opts.Type)
	require.Equal(t, []string{"leverage_3", "leverage_5"}, optionIDs(opts))
	require.Equal(t, 5.0, *opts.Options[1].Parameters.Primary.Leverage)
}

func TestRiskConfirmationOffersReduction(t *testing.T) {
	e := newEngine(t)
	s := Subject{
		Intent: model.IntentOpenPosition,
		Parameters: model.CommandParameters{Primary: model.PrimaryParameters{
			Token: "SEI", Amount: "100", Protocol: "citrex", Leverage: model.Float(10),
		}},
	}
	opts, err := e.Generate(s)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityRiskConfirmation, opts.Type)
	require.Equal(t, []string{OptionConfirm, OptionReduce, OptionCancel}, optionIDs(opts))
	require.EqualValues(t, 60000, opts.TimeoutMS)
	require.Contains(t, opts.Question, "10x leverage")

	merged, err := e.Resolve(s.Parameters, OptionReduce, *opts)
	require.NoError(t, err)
	require.Equal(t, 5.0, *merged.Primary.Leverage)
	require.Equal(t, "100", merged.Primary.Amount)

	merged, err = e.Resolve(s.Parameters, OptionConfirm, *opts)
	require.NoError(t, err)
	require.Equal(t, s.Parameters, merged)
}

func TestRiskConfirmationHalvesLargeAmounts(t *testing.T) {
	e := newEngine(t)
	s := Subject{
		Intent:     model.IntentLend,
		Parameters: model.CommandParameters{Primary: model.PrimaryParameters{Token: "USDC", Amount: "60000", Protocol: "yei-finance"}},
	}
	opts, err := e.Generate(s)
	require.NoError(t, err)
	require.Equal(t, model.AmbiguityRiskConfirmation, opts.Type)
	reduce, ok := opts.Find(OptionReduce)
	require.True(t, ok)
	require.Equal(t, "30000", reduce.Parameters.Primary.Amount)
}

func TestResolveRejectsUnknownOption(t *testing.T) {
	e := newEngine(t)
	opts := model.DisambiguationOptions{Options: []model.DisambiguationOption{{ID: "a"}, {ID: "b"}}}
	_, err := e.Resolve(model.CommandParameters{}, "c", opts)
	require.Error(t, err)
	require.True(t, clierr.IsKind(err, clierr.KindDisambiguation))
	require.True(t, clierr.HasReason(err, ReasonInvalidOption))
	cerr, ok := clierr.As(err)
	require.True(t, ok)
	require.Equal(t, []string{"a", "b"}, cerr.Details["valid_options"])
}

func TestPriorities(t *testing.T) {
	e := newEngine(t)
	require.Equal(t, 10, e.Priority(model.AmbiguityUnclearIntent))
	require.Equal(t, 7, e.Priority(model.AmbiguityMultipleAmounts))
	require.Equal(t, 7, e.Priority(model.AmbiguityParameterConflict))
	require.Equal(t, 5, e.Priority(model.AmbiguityRiskConfirmation))
	require.Equal(t, 0, e.Priority("nope"))
}
