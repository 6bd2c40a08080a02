package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

func TestMergeOverridesOnlyPresentFields(t *testing.T) {
	orig := CommandParameters{
		Primary: PrimaryParameters{
			Amount:   "100",
			Token:    "SEI",
			Leverage: Float(2),
		},
		Optional: OptionalParameters{Recipient: "0x00000000000000000000000000000000000000aa"},
		Derived:  DerivedParameters{PriceImpact: Float(1.2)},
	}
	over := CommandParameters{
		Primary: PrimaryParameters{FromToken: "SEI", Leverage: Float(3)},
	}

	got := orig.Merge(over)
	want := orig
	want.Primary.FromToken = "SEI"
	want.Primary.Leverage = Float(3)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
	if *orig.Primary.Leverage != 2 {
		t.Fatalf("merge mutated the original leverage: %v", *orig.Primary.Leverage)
	}
}

func TestFieldPriority(t *testing.T) {
	p := CommandParameters{
		Primary: PrimaryParameters{Amount: "5"},
		Derived: DerivedParameters{PriceImpact: Float(7)},
	}
	if v, ok := p.Field("amount"); !ok || v != "5" {
		t.Fatalf("unexpected amount field: %v %v", v, ok)
	}
	if v, ok := p.Field("price_impact"); !ok || v.(float64) != 7 {
		t.Fatalf("unexpected price impact: %v %v", v, ok)
	}
	if _, ok := p.Field("token"); ok {
		t.Fatal("expected absent token")
	}
	if _, ok := p.Field("nonsense"); ok {
		t.Fatal("expected unknown field to be absent")
	}
}

func TestParseIntent(t *testing.T) {
	if got, ok := ParseIntent("Add-Liquidity"); !ok || got != IntentAddLiquidity {
		t.Fatalf("unexpected intent: %s %v", got, ok)
	}
	if got, ok := ParseIntent("teleport"); ok || got != IntentUnknown {
		t.Fatalf("expected unknown intent, got %s", got)
	}
}

func TestParsingContextPortfolioValue(t *testing.T) {
	ctx := &ParsingContext{
		Balances:  map[string]decimal.Decimal{"SEI": decimal.NewFromInt(100), "USDC": decimal.NewFromInt(50)},
		Prices:    map[string]decimal.Decimal{"sei": decimal.RequireFromString("0.5")},
		Positions: []Position{{Protocol: "yei-finance", Type: PositionLending, Token: "USDC", Value: decimal.NewFromInt(200)}},
	}
	if got := ctx.PortfolioValue(); !got.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("unexpected portfolio value: %s", got)
	}
	if bal, ok := ctx.Balance("usdc"); !ok || !bal.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected balance: %s %v", bal, ok)
	}
	if size, ok := ctx.PositionSize("USDC"); !ok || !size.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected position size: %s", size)
	}
}
